package nodes

import (
	"github.com/petal-labs/scenarioflow/core"
	"github.com/petal-labs/scenarioflow/graph"
	"github.com/petal-labs/scenarioflow/nodes/expr"
	"github.com/petal-labs/scenarioflow/runtime"
	"github.com/petal-labs/scenarioflow/variables"
)

// Component type names, matching the registry.
const (
	TypeMessage     = "message"
	TypeHostMessage = "host_message"
	TypeSetVariable = "set_variable"
	TypeSignal      = "signal"
	TypeCheck       = "check"
	TypeNote        = "note"
)

// Message is a text published when its node fires.
type Message struct {
	Text    string `json:"text"`
	Channel string `json:"channel,omitempty"`
}

func (m *Message) ComponentType() string { return TypeMessage }

func (m *Message) CloneComponent() variables.Overridable {
	c := *m
	return &c
}

func (m *Message) Fields() []variables.Field {
	return []variables.Field{
		variables.FieldOf("text", variables.TypeString, &m.Text),
		variables.FieldOf("channel", variables.TypeString, &m.Channel),
	}
}

// HostMessage is a Message only fired by host players.
type HostMessage struct {
	Message
}

func (m *HostMessage) ComponentType() string { return TypeHostMessage }
func (m *HostMessage) HostOnly()             {}

func (m *HostMessage) CloneComponent() variables.Overridable {
	c := *m
	return &c
}

// SetVariable writes Value into the nested tier of the firing context.
type SetVariable struct {
	Name  string          `json:"name"`
	Value variables.Value `json:"-"`
}

func (s *SetVariable) ComponentType() string { return TypeSetVariable }

func (s *SetVariable) CloneComponent() variables.Overridable {
	c := *s
	return &c
}

func (s *SetVariable) Fields() []variables.Field {
	return []variables.Field{variables.TypedField("value", &s.Value)}
}

func (s *SetVariable) Apply(ec *runtime.ExecutionContext, node graph.FlowNode) {
	if err := ec.Variables().Insert(s.Name, s.Value, variables.Nested); err != nil {
		ec.Logger().Error("nodes: set variable", "node", node.Hash(), "name", s.Name, "error", err)
		return
	}
	ec.Publish(runtime.NewEvent(runtime.EventVariableSet, "").
		WithNode(node.Hash(), runtime.NodeKind(node)).
		WithPayload("name", s.Name).
		WithPayload("type", s.Value.Type.String()).
		WithPayload("value", s.Value.Object))
}

// Signal is satisfied by a signal event carrying Name.
type Signal struct {
	Name string `json:"name"`
}

// NewSignalEvent returns the event that satisfies Signal{Name: name}.
func NewSignalEvent(name string) runtime.Event {
	return runtime.NewEvent(runtime.EventSignal, "").WithPayload("name", name)
}

func (s *Signal) ComponentType() string { return TypeSignal }

func (s *Signal) CloneComponent() variables.Overridable {
	c := *s
	return &c
}

func (s *Signal) Fields() []variables.Field {
	return []variables.Field{variables.FieldOf("name", variables.TypeString, &s.Name)}
}

func (s *Signal) Watch(*runtime.ExecutionContext) (func(runtime.Event) bool, bool) {
	name := s.Name
	return func(e runtime.Event) bool {
		if e.Kind != runtime.EventSignal {
			return false
		}
		got, _ := e.Payload["name"].(string)
		return got == name
	}, false
}

// Check is satisfied once its expression holds over the run's variables.
// It is evaluated when the node activates and again after every variable
// written by the same run.
type Check struct {
	Expression string `json:"expression"`
	compiled   expr.Expr
}

// NewCheck compiles src into a check.
func NewCheck(src string) (*Check, error) {
	e, err := expr.Parse(src)
	if err != nil {
		return nil, err
	}
	return &Check{Expression: src, compiled: e}, nil
}

func (c *Check) ComponentType() string { return TypeCheck }

func (c *Check) Watch(ec *runtime.ExecutionContext) (func(runtime.Event) bool, bool) {
	snapshot := make(map[string]any)
	for name, v := range ec.Variables().GetAll() {
		snapshot[name] = v.Object
	}
	var runID string
	if p := ec.Player(); p != nil {
		runID = p.RunID()
	}
	logger := ec.Logger()

	eval := func() bool {
		ok, err := expr.EvalBool(c.compiled, expr.MapResolver(snapshot))
		if err != nil {
			logger.Debug("nodes: check not satisfied", "expression", c.Expression, "error", err)
			return false
		}
		return ok
	}
	return func(e runtime.Event) bool {
		if e.Kind != runtime.EventVariableSet || e.RunID != runID {
			return false
		}
		name, _ := e.Payload["name"].(string)
		snapshot[name] = e.Payload["value"]
		return eval()
	}, eval()
}

// Note is an authoring annotation ignored by the player.
type Note struct {
	Text string `json:"text,omitempty"`
}

func (n *Note) ComponentType() string { return TypeNote }
func (n *Note) IgnoredByPlayer()      {}

var (
	_ variables.Overridable = (*Message)(nil)
	_ variables.Overridable = (*HostMessage)(nil)
	_ variables.Overridable = (*SetVariable)(nil)
	_ variables.Overridable = (*Signal)(nil)
	_ core.HostOnly         = (*HostMessage)(nil)
	_ core.Ignored          = (*Note)(nil)
	_ Applier               = (*SetVariable)(nil)
	_ Matcher               = (*Signal)(nil)
	_ Matcher               = (*Check)(nil)
)

