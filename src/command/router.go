package command

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"market-platform/src/obbject"
)

// StandardHandler serves a command bound to a standard model.
type StandardHandler func(ctx context.Context, cc *CommandContext, pc ProviderChoices, sp StandardParams, ep ExtraParams) (*obbject.OBBject, error)

// CustomHandler serves a command outside the standard-model contract. params
// pass through unchanged.
type CustomHandler func(ctx context.Context, cc *CommandContext, params map[string]any) (any, error)

// Param declares one parameter of a custom command.
type Param struct {
	Name        string
	Type        reflect.Type
	Default     any
	Required    bool
	Description string
}

// CommandOptions configures a command.
type CommandOptions struct {
	Name        string
	Model       string
	Description string
	Examples    []string
	Methods     []string
	NoValidate  bool
	Params      []Param
	Response    reflect.Type
}

// Command is one registered leaf of the router tree.
type Command struct {
	Path     string
	Options  CommandOptions
	standard StandardHandler
	custom   CustomHandler
}

// Router is a node of the command tree.
type Router struct {
	prefix   string
	commands []*Command
	children []*Router
}

// -----------------------------------------------------------------------------

// NewRouter returns an empty router mounted at prefix.
func NewRouter(prefix string) *Router {
	return &Router{prefix: cleanPrefix(prefix)}
}

func cleanPrefix(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return "/" + p
}

// -----------------------------------------------------------------------------

// Prefix returns the router's own path segment.
func (r *Router) Prefix() string { return r.prefix }

// -----------------------------------------------------------------------------

// IncludeRouter mounts child below r.
func (r *Router) IncludeRouter(child *Router) {
	if child == nil || child == r {
		panic("command: invalid child router")
	}
	r.children = append(r.children, child)
}

// -----------------------------------------------------------------------------

// Command registers handler under opts.Name. handler must be a StandardHandler
// (opts.Model set) or a CustomHandler; any other shape panics at startup.
func (r *Router) Command(opts CommandOptions, handler any) *Command {
	name := strings.Trim(opts.Name, "/")
	if name == "" {
		panic("command: name is required")
	}
	opts.Name = name
	if len(opts.Methods) == 0 {
		opts.Methods = []string{"GET"}
	}

	cmd := &Command{Path: "/" + name, Options: opts}
	switch h := handler.(type) {
	case StandardHandler:
		cmd.standard = h
	case func(context.Context, *CommandContext, ProviderChoices, StandardParams, ExtraParams) (*obbject.OBBject, error):
		cmd.standard = h
	case CustomHandler:
		cmd.custom = h
	case func(context.Context, *CommandContext, map[string]any) (any, error):
		cmd.custom = h
	default:
		panic(fmt.Sprintf("command %q: unsupported handler type %T", name, handler))
	}

	if cmd.standard != nil && opts.Model == "" {
		panic(fmt.Sprintf("command %q: standard handler without a model", name))
	}
	if cmd.custom != nil && opts.Model != "" {
		panic(fmt.Sprintf("command %q: model %q needs a standard handler", name, opts.Model))
	}
	for _, c := range r.commands {
		if c.Options.Name == name {
			panic(fmt.Sprintf("command %q registered twice under %q", name, r.prefix))
		}
	}
	r.commands = append(r.commands, cmd)
	return cmd
}

// -----------------------------------------------------------------------------

// Commands flattens the tree into logical path → command. Conflicting paths
// fail.
func (r *Router) Commands() (map[string]*Command, error) {
	out := make(map[string]*Command)
	if err := r.collect("", out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Router) collect(base string, out map[string]*Command) error {
	prefix := base + r.prefix
	for _, c := range r.commands {
		path := prefix + "/" + c.Options.Name
		if _, dup := out[path]; dup {
			return fmt.Errorf("command path %q registered twice", path)
		}
		bound := *c
		bound.Path = path
		out[path] = &bound
	}
	for _, child := range r.children {
		if err := child.collect(prefix, out); err != nil {
			return err
		}
	}
	return nil
}

// -----------------------------------------------------------------------------

// Paths returns the sorted logical paths of the tree.
func (r *Router) Paths() ([]string, error) {
	cmds, err := r.Commands()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(cmds))
	for p := range cmds {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// -----------------------------------------------------------------------------

// IsStandard reports whether the command is bound to a standard model.
func (c *Command) IsStandard() bool { return c.standard != nil }

// Model returns the standard model name, or "".
func (c *Command) Model() string { return c.Options.Model }
