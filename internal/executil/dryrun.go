package executil

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
)

// DryRunner records commands instead of running them.
type DryRunner struct {
	Log zerolog.Logger
	Out io.Writer // optional; receives one line per command

	mu   sync.Mutex
	cmds []Cmd
}

func (d *DryRunner) Run(ctx context.Context, c Cmd) error {
	d.Log.Info().Str("cmd", c.String()).Msg("dry run: skipping command")
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cmds = append(d.cmds, c)
	if d.Out != nil {
		fmt.Fprintln(d.Out, c.String())
	}
	return ctx.Err()
}

// Commands returns a copy of the recorded commands in call order.
func (d *DryRunner) Commands() []Cmd {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Cmd, len(d.cmds))
	copy(out, d.cmds)
	return out
}
