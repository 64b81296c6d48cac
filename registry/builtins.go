package registry

// registerBuiltins registers the built-in scenario node and component types.
// Called once by Global() during singleton initialization.
func registerBuiltins(r *Registry) {
	r.RegisterNode(NodeTypeDef{
		Type:        "start",
		Category:    "flow",
		DisplayName: "Start",
		Description: "Entry point of a scenario; activated when the scenario is played",
	})
	r.RegisterNode(NodeTypeDef{
		Type:        "end",
		Category:    "flow",
		DisplayName: "End",
		Description: "The scenario finishes once every end node has completed",
	})
	r.RegisterNode(NodeTypeDef{
		Type:        "action",
		Category:    "action",
		DisplayName: "Action",
		Description: "Fires its components on the event bus when activated and completes immediately",
	})
	r.RegisterNode(NodeTypeDef{
		Type:        "condition",
		Category:    "condition",
		DisplayName: "Condition",
		Description: "Completes once every one of its condition components has been satisfied",
	})
	r.RegisterNode(NodeTypeDef{
		Type:        "delay",
		Category:    "control",
		DisplayName: "Delay",
		Description: "Completes after a fixed duration",
		Config: []FieldDef{
			{Name: "duration", Type: "duration", Required: true},
		},
	})
	r.RegisterNode(NodeTypeDef{
		Type:        "module",
		Category:    "control",
		DisplayName: "Scenario Module",
		Description: "Plays another scenario in a sub-player and completes when it stops",
		Config: []FieldDef{
			{Name: "scenario", Type: "string", Required: true},
		},
	})

	r.RegisterComponent(ComponentTypeDef{
		Type:        "message",
		Kind:        "action",
		DisplayName: "Message",
		Description: "Publishes a text message",
		Fields: []FieldDef{
			{Name: "text", Type: "string", Required: true, Bindable: true},
			{Name: "channel", Type: "string", Bindable: true},
		},
	})
	r.RegisterComponent(ComponentTypeDef{
		Type:        "host_message",
		Kind:        "action",
		DisplayName: "Host Message",
		Description: "Publishes a text message from host players only",
		Fields: []FieldDef{
			{Name: "text", Type: "string", Required: true, Bindable: true},
			{Name: "channel", Type: "string", Bindable: true},
		},
	})
	r.RegisterComponent(ComponentTypeDef{
		Type:        "set_variable",
		Kind:        "action",
		DisplayName: "Set Variable",
		Description: "Writes a value into the nested variable tier of the run",
		Fields: []FieldDef{
			{Name: "name", Type: "string", Required: true},
			{Name: "type", Type: "string", Required: true},
			{Name: "value", Type: "object", Bindable: true},
		},
	})
	r.RegisterComponent(ComponentTypeDef{
		Type:        "signal",
		Kind:        "condition",
		DisplayName: "Signal",
		Description: "Satisfied when a signal with the given name is published",
		Fields: []FieldDef{
			{Name: "name", Type: "string", Required: true, Bindable: true},
		},
	})
	r.RegisterComponent(ComponentTypeDef{
		Type:        "check",
		Kind:        "condition",
		DisplayName: "Check",
		Description: "Satisfied once an expression over the scenario variables holds",
		Fields: []FieldDef{
			{Name: "expression", Type: "string", Required: true},
		},
	})
	r.RegisterComponent(ComponentTypeDef{
		Type:        "note",
		Kind:        "marker",
		DisplayName: "Note",
		Description: "Authoring note; ignored by the player",
		Fields: []FieldDef{
			{Name: "text", Type: "string"},
		},
	})
	r.RegisterComponent(ComponentTypeDef{
		Type:        "use_or",
		Kind:        "marker",
		DisplayName: "Use OR",
		Description: "Switches the node to OR join semantics",
	})
	for _, role := range []struct{ typ, name, desc string }{
		{"role_include", "Role Include", "Opens a filter session that only admits the identity"},
		{"role_exclude", "Role Exclude", "Opens a filter session that rejects the identity"},
		{"role_node_include", "Role Node Include", "Admits only the identity on this node"},
		{"role_node_exclude", "Role Node Exclude", "Rejects the identity on this node"},
	} {
		r.RegisterComponent(ComponentTypeDef{
			Type:        role.typ,
			Kind:        "marker",
			DisplayName: role.name,
			Description: role.desc,
			Identity:    true,
		})
	}
	r.RegisterComponent(ComponentTypeDef{
		Type:        "role_reset",
		Kind:        "marker",
		DisplayName: "Role Reset",
		Description: "Closes the filter session the node belongs to",
	})
}
