package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveStep(t *testing.T) {
	r := New()
	r.ObserveStep("acquire", "succeeded", 2*time.Second)
	r.ObserveStep("acquire", "succeeded", time.Second)
	r.ObserveStep("evaluate", "failed", time.Minute)
	if got := testutil.ToFloat64(r.stepsTotal.WithLabelValues("acquire", "succeeded")); got != 2 {
		t.Fatalf("acquire succeeded = %v", got)
	}
	if got := testutil.ToFloat64(r.stepsTotal.WithLabelValues("evaluate", "failed")); got != 1 {
		t.Fatalf("evaluate failed = %v", got)
	}
}

func TestEvalExitCode(t *testing.T) {
	r := New()
	if got := testutil.ToFloat64(r.evalExitCode); got != -1 {
		t.Fatalf("initial exit code = %v", got)
	}
	r.SetEvalExitCode(3)
	if got := testutil.ToFloat64(r.evalExitCode); got != 3 {
		t.Fatalf("exit code = %v", got)
	}
}

func TestWriteTextfile(t *testing.T) {
	r := New()
	r.ObserveUpload("succeeded")
	p := filepath.Join(t.TempDir(), "evalprep.prom")
	if err := r.WriteTextfile(p); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	b, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `evalprep_upload_total{status="succeeded"} 1`) {
		t.Fatalf("upload counter missing from textfile:\n%s", b)
	}
}

func TestPush(t *testing.T) {
	var gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotPath = req.URL.Path
		b, _ := io.ReadAll(req.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	r := New()
	r.SetEvalExitCode(0)
	if err := r.Push(context.Background(), srv.URL, "nightly-eval"); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if gotPath != "/metrics/job/nightly-eval" {
		t.Fatalf("path = %q", gotPath)
	}
	if len(gotBody) == 0 {
		t.Fatalf("empty push body")
	}
}
