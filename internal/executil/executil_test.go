package executil

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestCmdString(t *testing.T) {
	c := Cmd{Path: "lm_eval", Args: []string{"--tasks=hellaswag,mmlu", "--output_path=/opt/ml/model/", "a b", "it's", ""}}
	want := `lm_eval --tasks=hellaswag,mmlu --output_path=/opt/ml/model/ 'a b' 'it'\''s' ''`
	if got := c.String(); got != want {
		t.Fatalf("String() = %s\nwant %s", got, want)
	}
}

func TestExecRunner_Success(t *testing.T) {
	requireShell(t)
	var out bytes.Buffer
	r := &ExecRunner{Log: zerolog.Nop(), Stdout: &out, Stderr: io.Discard}
	err := r.Run(context.Background(), Cmd{Path: "sh", Args: []string{"-c", "echo $EVALPREP_TEST_VAR"}, Env: map[string]string{"EVALPREP_TEST_VAR": "hello"}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if strings.TrimSpace(out.String()) != "hello" {
		t.Fatalf("stdout = %q", out.String())
	}
}

func TestExecRunner_ExitCode(t *testing.T) {
	requireShell(t)
	r := &ExecRunner{Log: zerolog.Nop(), Stdout: io.Discard, Stderr: io.Discard}
	err := r.Run(context.Background(), Cmd{Path: "sh", Args: []string{"-c", "exit 3"}})
	if err == nil {
		t.Fatalf("expected error")
	}
	code, ok := ExitCode(err)
	if !ok || code != 3 {
		t.Fatalf("ExitCode = %d,%v want 3,true (err=%v)", code, ok, err)
	}
	var ee *exec.ExitError
	if !errors.As(err, &ee) {
		t.Fatalf("expected wrapped *exec.ExitError")
	}
}

func TestExecRunner_Streaming(t *testing.T) {
	requireShell(t)
	var buf bytes.Buffer
	r := &ExecRunner{Log: zerolog.New(zerolog.SyncWriter(&buf))}
	err := r.Run(context.Background(), Cmd{Path: "sh", Args: []string{"-c", "echo out-line; echo err-line 1>&2"}, Stream: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	logs := buf.String()
	if !strings.Contains(logs, "out-line") || !strings.Contains(logs, "err-line") {
		t.Fatalf("streamed lines missing: %q", logs)
	}
	if !strings.Contains(logs, `"stream":"stderr"`) {
		t.Fatalf("stderr not tagged: %q", logs)
	}
}

func TestExecRunner_StreamingOverlongLineDrains(t *testing.T) {
	requireShell(t)
	if _, err := exec.LookPath("head"); err != nil {
		t.Skip("head not available")
	}
	var buf bytes.Buffer
	r := &ExecRunner{Log: zerolog.New(zerolog.SyncWriter(&buf))}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	script := "head -c 2500000 /dev/zero | tr '\\0' x; echo; echo after 1>&2; exit 0"
	if err := r.Run(ctx, Cmd{Path: "sh", Args: []string{"-c", script}, Stream: true}); err != nil {
		t.Fatalf("run: %v", err)
	}
	logs := buf.String()
	if !strings.Contains(logs, "output no longer logged") {
		t.Fatalf("expected a warning for the overlong line: %.200q", logs)
	}
	if !strings.Contains(logs, "after") {
		t.Fatalf("stderr stopped streaming: %.200q", logs)
	}
}

func TestExecRunner_StreamingSplitsCarriageReturns(t *testing.T) {
	requireShell(t)
	var buf bytes.Buffer
	r := &ExecRunner{Log: zerolog.New(zerolog.SyncWriter(&buf))}
	err := r.Run(context.Background(), Cmd{Path: "sh", Args: []string{"-c", `printf '10%%\r50%%\r100%%\r\ndone\n'`}, Stream: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 log lines, got %d: %q", len(lines), buf.String())
	}
	for i, want := range []string{"10%", "50%", "100%", "done"} {
		if !strings.Contains(lines[i], `"message":"`+want+`"`) {
			t.Fatalf("line %d = %q, want message %q", i, lines[i], want)
		}
	}
}

func TestScanLinesOrCR(t *testing.T) {
	cases := []struct {
		in    string
		atEOF bool
		adv   int
		tok   string
	}{
		{"abc\ndef", false, 4, "abc"},
		{"abc\rdef", false, 4, "abc"},
		{"\ndef", false, 1, ""},
		{"abc", false, 0, ""},
		{"abc", true, 3, "abc"},
	}
	for _, c := range cases {
		adv, tok, err := scanLinesOrCR([]byte(c.in), c.atEOF)
		if err != nil || adv != c.adv || string(tok) != c.tok {
			t.Fatalf("scanLinesOrCR(%q, %v) = %d,%q,%v want %d,%q", c.in, c.atEOF, adv, tok, err, c.adv, c.tok)
		}
	}
}

func TestExecRunner_MissingBinary(t *testing.T) {
	r := &ExecRunner{Log: zerolog.Nop()}
	err := r.Run(context.Background(), Cmd{Path: "definitely-not-a-real-binary-12345"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if _, ok := ExitCode(err); ok {
		t.Fatalf("missing binary must not look like an exit code")
	}
}

func TestDryRunner(t *testing.T) {
	var out bytes.Buffer
	d := &DryRunner{Log: zerolog.Nop(), Out: &out}
	_ = d.Run(context.Background(), Cmd{Path: "s5cmd", Args: []string{"sync", "s3://b/m/*", "/tmp/model"}})
	_ = d.Run(context.Background(), Cmd{Path: "lm_eval"})
	cmds := d.Commands()
	if len(cmds) != 2 || cmds[0].Path != "s5cmd" || cmds[1].Path != "lm_eval" {
		t.Fatalf("unexpected commands: %+v", cmds)
	}
	if !strings.Contains(out.String(), "'s3://b/m/*'") {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestFuncRunner(t *testing.T) {
	var got Cmd
	r := FuncRunner(func(ctx context.Context, c Cmd) error { got = c; return nil })
	_ = r.Run(context.Background(), Cmd{Path: "x"})
	if got.Path != "x" {
		t.Fatalf("FuncRunner did not forward")
	}
}
