package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/petal-labs/scenarioflow/graph"
	"github.com/petal-labs/scenarioflow/loader"
)

// NewValidateCmd creates the "validate" subcommand.
func NewValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a scenario or launch file without playing it",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}

	cmd.Flags().String("format", "text", "Output format: text | json")
	cmd.Flags().Bool("strict", false, "Treat warnings as errors")

	return cmd
}

func runValidate(cmd *cobra.Command, args []string) error {
	filePath := args[0]
	format, _ := cmd.Flags().GetString("format")
	strict, _ := cmd.Flags().GetBool("strict")
	out := cmd.OutOrStdout()

	data, err := os.ReadFile(filePath) // #nosec G304 -- user-supplied path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return exitError(exitFileNotFound, "file not found: %s", filePath)
		}
		return fmt.Errorf("reading file: %w", err)
	}

	kind, err := loader.DetectSchema(data, filePath)
	if err != nil {
		return exitError(exitWrongSchema, "%v", err)
	}

	var diags []graph.Diagnostic
	switch kind {
	case loader.SchemaKindScenario:
		diags = validateScenario(data, filePath)
	case loader.SchemaKindLaunch:
		diags = validateLaunch(filePath)
	default:
		return exitError(exitWrongSchema, "unknown schema kind %q", kind)
	}

	printValidateDiagnostics(out, diags, format)

	hasErrs := graph.HasErrors(diags)
	hasWarns := len(graph.Warnings(diags)) > 0
	if hasErrs || (strict && hasWarns) {
		return exitError(exitValidation, "validation failed")
	}
	return nil
}

// validateScenario decodes a scenario definition and runs every check,
// including check expression analysis.
func validateScenario(data []byte, filePath string) []graph.Diagnostic {
	def, err := loader.DecodeDefinition(data, filePath)
	if err != nil {
		return []graph.Diagnostic{{
			Code:     "SC-000",
			Severity: graph.SeverityError,
			Message:  fmt.Sprintf("Failed to parse scenario: %v", err),
		}}
	}
	return loader.Validate(def)
}

// validateLaunch checks that a launch file parses and that the scenario it
// names exists and validates in its library.
func validateLaunch(filePath string) []graph.Diagnostic {
	launch, err := loader.LoadLaunch(filePath)
	if err != nil {
		return []graph.Diagnostic{{
			Code:     "SC-000",
			Severity: graph.SeverityError,
			Message:  fmt.Sprintf("Failed to load launch parameters: %v", err),
		}}
	}

	dir := launch.Library
	if dir == "" {
		dir = filepath.Dir(filePath)
	} else if !filepath.IsAbs(dir) {
		dir = filepath.Join(filepath.Dir(filePath), dir)
	}
	def, err := loader.NewLibrary(dir, nil).Definition(launch.Scenario)
	if err == nil {
		return loader.Validate(def)
	}

	var diagErr *loader.DiagnosticError
	if errors.As(err, &diagErr) {
		return diagErr.Diagnostics
	}
	return []graph.Diagnostic{{
		Code:     "SC-000",
		Severity: graph.SeverityError,
		Message:  fmt.Sprintf("Scenario %q: %v", launch.Scenario, err),
		Path:     "scenario",
	}}
}

// printValidateDiagnostics writes diagnostics to the writer in the requested
// format, followed by a summary line (for text format).
func printValidateDiagnostics(w io.Writer, diags []graph.Diagnostic, format string) {
	if format == "json" {
		printDiagnosticsJSON(w, diags)
		return
	}
	printDiagnosticsText(w, diags)
}

// printDiagnosticsText writes diagnostics as formatted text lines followed by
// a summary. Used by both the validate and run commands.
func printDiagnosticsText(w io.Writer, diags []graph.Diagnostic) {
	for _, d := range diags {
		sev := strings.ToUpper(d.Severity)
		if d.Path != "" {
			fmt.Fprintf(w, "%s [%s]: %s (at %s)\n", sev, d.Code, d.Message, d.Path)
		} else {
			fmt.Fprintf(w, "%s [%s]: %s\n", sev, d.Code, d.Message)
		}
	}

	errs := graph.Errors(diags)
	warns := graph.Warnings(diags)

	switch {
	case len(errs) == 0 && len(warns) == 0:
		fmt.Fprintln(w, "Valid!")
	case len(errs) == 0:
		fmt.Fprintf(w, "\nValid! (%d %s)\n", len(warns), pluralize("warning", len(warns)))
	default:
		fmt.Fprintf(w, "\n%d %s, %d %s\n",
			len(errs), pluralize("error", len(errs)),
			len(warns), pluralize("warning", len(warns)))
	}
}

func printDiagnosticsJSON(w io.Writer, diags []graph.Diagnostic) {
	// Output an empty array rather than null when there are no diagnostics.
	if diags == nil {
		diags = []graph.Diagnostic{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(diags)
}

// pluralize returns the singular or plural form of a word based on count.
func pluralize(word string, count int) string {
	if count == 1 {
		return word
	}
	return word + "s"
}
