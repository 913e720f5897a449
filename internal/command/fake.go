package command

import (
	"context"
	"sync"
)

// Fake records the commands it is asked to run. Handler, when set, decides
// the outcome of each command; otherwise every command succeeds.
type Fake struct {
	Handler func(ctx context.Context, cmd Cmd) (Result, error)

	mu    sync.Mutex
	calls []Cmd
}

// Run records cmd and calls Handler.
func (f *Fake) Run(ctx context.Context, cmd Cmd) (Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	f.mu.Unlock()

	if f.Handler == nil {
		return Result{}, nil
	}
	return f.Handler(ctx, cmd)
}

// Calls returns the recorded commands.
func (f *Fake) Calls() []Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Cmd(nil), f.calls...)
}

// Names returns the program name of every recorded command.
func (f *Fake) Names() []string {
	var names []string
	for _, c := range f.Calls() {
		names = append(names, c.Name)
	}
	return names
}
