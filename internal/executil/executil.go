// Package executil runs the external tools the pipeline drives.
package executil

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Cmd describes one external command.
type Cmd struct {
	Path   string
	Args   []string
	Env    map[string]string // additional env vars
	Dir    string            // working directory
	Stream bool              // if true, stdout/err lines go to the logger
}

// String renders the command the way a shell would accept it.
func (c Cmd) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, quote(c.Path))
	for _, a := range c.Args {
		parts = append(parts, quote(a))
	}
	return strings.Join(parts, " ")
}

// Runner executes commands.
type Runner interface {
	Run(ctx context.Context, c Cmd) error
}

// FuncRunner adapts a function to Runner.
type FuncRunner func(ctx context.Context, c Cmd) error

func (f FuncRunner) Run(ctx context.Context, c Cmd) error { return f(ctx, c) }

// ExitError reports a command that ran and exited non-zero.
type ExitError struct {
	Cmd  string
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with code %d", e.Cmd, e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode extracts the exit code carried by err, if any.
func ExitCode(err error) (int, bool) {
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code, true
	}
	return 0, false
}

// ExecRunner runs commands as child processes.
type ExecRunner struct {
	Log    zerolog.Logger
	Stdout io.Writer // defaults to os.Stdout when Stream is false
	Stderr io.Writer // defaults to os.Stderr when Stream is false
}

func (r *ExecRunner) Run(ctx context.Context, c Cmd) error {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	if c.Dir != "" {
		cmd.Dir = c.Dir
	}
	// inherit environment
	cmd.Env = os.Environ()
	for _, k := range sortedKeys(c.Env) {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, c.Env[k]))
	}
	r.Log.Debug().Str("cmd", c.String()).Msg("exec")

	var err error
	if c.Stream {
		err = r.runStreaming(cmd, c.Path)
	} else {
		cmd.Stdout = orDefault(r.Stdout, os.Stdout)
		cmd.Stderr = orDefault(r.Stderr, os.Stderr)
		err = cmd.Run()
	}
	if err == nil {
		return nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return &ExitError{Cmd: c.Path, Code: ee.ExitCode(), Err: err}
	}
	return fmt.Errorf("run %s: %w", c.Path, err)
}

func (r *ExecRunner) runStreaming(cmd *exec.Cmd, name string) error {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); stream(r.Log, name, "stdout", stdout) }()
	go func() { defer wg.Done(); stream(r.Log, name, "stderr", stderr) }()
	// all reads must finish before Wait closes the pipes
	wg.Wait()
	return cmd.Wait()
}

// maxLine bounds one logged chunk of child output.
const maxLine = 1024 * 1024

// stream logs r line by line until EOF. Progress bars redraw with \r, so that
// ends a line too. Output past an overlong line is discarded, but the pipe is
// always drained so the child never blocks on a full pipe.
func stream(log zerolog.Logger, name, prefix string, r io.Reader) {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), maxLine)
	s.Split(scanLinesOrCR)
	for s.Scan() {
		if len(s.Bytes()) == 0 {
			continue
		}
		log.Info().Str("tool", name).Str("stream", prefix).Msg(s.Text())
	}
	if err := s.Err(); err != nil {
		log.Warn().Err(err).Str("tool", name).Str("stream", prefix).Msg("output no longer logged")
		_, _ = io.Copy(io.Discard, r)
	}
}

// scanLinesOrCR is bufio.ScanLines with \r accepted as a line end.
func scanLinesOrCR(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func orDefault(w, def io.Writer) io.Writer {
	if w == nil {
		return def
	}
	return w
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

const shellSafe = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-_./:=,@%+"

func quote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.Trim(s, shellSafe) == "" {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
