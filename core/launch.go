package core

import (
	"fmt"
	"strings"
)

// LaunchParameters configures one top-level scenario run. Sub-players share
// their parent's parameters by reference.
type LaunchParameters struct {
	Scenario     string `json:"scenario" yaml:"scenario"`
	UseNetwork   bool   `json:"useNetwork" yaml:"useNetwork"`
	UseLog       bool   `json:"useLog" yaml:"useLog"`
	IdentityHash Hash   `json:"identityHash" yaml:"identityHash"`
}

// DefaultLaunchParameters returns an anonymous, networked, silent run with
// role filtering disabled.
func DefaultLaunchParameters() *LaunchParameters {
	return &LaunchParameters{UseNetwork: true}
}

// Anonymous reports whether the run has no scenario identifier.
func (p *LaunchParameters) Anonymous() bool {
	return p.Scenario == ""
}

// Filtered reports whether role filtering is enabled for the run.
func (p *LaunchParameters) Filtered() bool {
	return p.IdentityHash != 0
}

// StatusString renders the parameters for log lines.
func (p *LaunchParameters) StatusString() string {
	var b strings.Builder
	if p.Anonymous() {
		b.WriteString("identifier:anonymous")
	} else {
		fmt.Fprintf(&b, "identifier:%s", p.Scenario)
	}
	fmt.Fprintf(&b, " useNet:%t", p.UseNetwork)
	if p.Filtered() {
		fmt.Fprintf(&b, " identityHash:%d", p.IdentityHash)
	}
	fmt.Fprintf(&b, " useLog:%t", p.UseLog)
	return b.String()
}
