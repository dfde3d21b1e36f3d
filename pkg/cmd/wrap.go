package cmd

import "context"

// Wrapped replaces a command's Run while keeping its identity.
type Wrapped struct {
	Inner   Command
	RunFunc func(ctx context.Context, inv *Invocation) error
}

func (w *Wrapped) Name() string        { return w.Inner.Name() }
func (w *Wrapped) Description() string { return w.Inner.Description() }

func (w *Wrapped) Run(ctx context.Context, inv *Invocation) error {
	if w.RunFunc != nil {
		return w.RunFunc(ctx, inv)
	}
	return w.Inner.Run(ctx, inv)
}

// Wrap returns a command that runs run instead of c.Run.
func Wrap(c Command, run func(ctx context.Context, inv *Invocation) error) Command {
	return &Wrapped{Inner: c, RunFunc: run}
}

// Func adapts a function to Command.
type Func struct {
	CmdName string
	Desc    string
	Fn      func(ctx context.Context, inv *Invocation) error
}

func (f Func) Name() string        { return f.CmdName }
func (f Func) Description() string { return f.Desc }

func (f Func) Run(ctx context.Context, inv *Invocation) error {
	return f.Fn(ctx, inv)
}
