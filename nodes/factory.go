package nodes

import (
	"errors"
	"fmt"

	"github.com/petal-labs/scenarioflow/core"
	"github.com/petal-labs/scenarioflow/graph"
	"github.com/petal-labs/scenarioflow/variables"
)

// Factory errors
var (
	ErrUnknownNodeType      = errors.New("nodes: unknown node type")
	ErrUnknownComponentType = errors.New("nodes: unknown component type")
	ErrInvalidConfig        = errors.New("nodes: invalid config")
)

// Build instantiates a node from its definition. It satisfies
// graph.NodeFactory.
func Build(def graph.NodeDef) (graph.FlowNode, error) {
	components := make([]core.Component, 0, len(def.Components))
	for i, cd := range def.Components {
		c, err := BuildComponent(cd)
		if err != nil {
			return nil, fmt.Errorf("component %d: %w", i, err)
		}
		components = append(components, c)
	}

	hash := def.Hash()
	activation := core.ParseActivationType(def.Activation)

	switch def.Type {
	case graph.NodeTypeStart:
		return NewStart(hash, components...), nil
	case graph.NodeTypeEnd:
		return NewEnd(hash, activation, components...), nil
	case KindAction:
		return NewAction(hash, activation, components...), nil
	case KindCondition:
		return NewCondition(hash, activation, components...), nil
	case KindDelay:
		d, err := configDuration(def.Config, "duration")
		if err != nil {
			return nil, err
		}
		return NewDelay(hash, activation, d, components...), nil
	case KindModule:
		scenario, err := configString(def.Config, "scenario")
		if err != nil {
			return nil, err
		}
		return NewModule(hash, activation, scenario, components...), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownNodeType, def.Type)
}

// BuildComponent instantiates a component from its definition.
func BuildComponent(def graph.ComponentDef) (core.Component, error) {
	switch def.Type {
	case TypeMessage, TypeHostMessage:
		text, err := configString(def.Fields, "text")
		if err != nil {
			return nil, err
		}
		channel, err := optionalString(def.Fields, "channel")
		if err != nil {
			return nil, err
		}
		msg := Message{Text: text, Channel: channel}
		if def.Type == TypeHostMessage {
			return &HostMessage{Message: msg}, nil
		}
		return &msg, nil

	case TypeSetVariable:
		name, err := configString(def.Fields, "name")
		if err != nil {
			return nil, err
		}
		typ, err := configString(def.Fields, "type")
		if err != nil {
			return nil, err
		}
		v, err := variables.ParseValue(typ, def.Fields["value"])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		return &SetVariable{Name: name, Value: v}, nil

	case TypeSignal:
		name, err := configString(def.Fields, "name")
		if err != nil {
			return nil, err
		}
		return &Signal{Name: name}, nil

	case TypeCheck:
		src, err := configString(def.Fields, "expression")
		if err != nil {
			return nil, err
		}
		c, err := NewCheck(src)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		return c, nil

	case TypeNote:
		text, err := optionalString(def.Fields, "text")
		if err != nil {
			return nil, err
		}
		return &Note{Text: text}, nil

	case "use_or":
		return core.UseOr{}, nil
	case "role_reset":
		return core.RoleReset{}, nil
	case "role_include":
		return core.RoleInclude{Identity: identity(def.Identity)}, nil
	case "role_exclude":
		return core.RoleExclude{Identity: identity(def.Identity)}, nil
	case "role_node_include":
		return core.RoleNodeInclude{Identity: identity(def.Identity)}, nil
	case "role_node_exclude":
		return core.RoleNodeExclude{Identity: identity(def.Identity)}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownComponentType, def.Type)
}

func identity(name string) *core.Identity {
	if name == "" {
		return nil
	}
	return core.NewIdentity(name)
}
