package pipeline

import (
	"sync"
	"time"

	"evalprep/pkg/types"
)

// Step names, in execution order.
const (
	StepValidate = "validate"
	StepLogin    = "login"
	StepAcquire  = "acquire"
	StepMerge    = "merge"
	StepEvaluate = "evaluate"
)

var stepOrder = []string{StepValidate, StepLogin, StepAcquire, StepMerge, StepEvaluate}

// Tracker folds pipeline events into a JobStatus snapshot. It is safe for
// concurrent use and is what the status server reads from.
type Tracker struct {
	mu     sync.Mutex
	now    func() time.Time
	status types.JobStatus
	index  map[string]int
	done   bool
}

// NewTracker returns a Tracker with every step pending.
func NewTracker() *Tracker {
	t := &Tracker{now: time.Now, index: make(map[string]int, len(stepOrder))}
	t.status.State = types.StatePending
	for i, name := range stepOrder {
		t.status.Steps = append(t.status.Steps, types.StepStatus{Name: name, State: types.StatePending})
		t.index[name] = i
	}
	return t
}

func (t *Tracker) Publish(e Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	switch e.Name {
	case EventRunStart:
		t.status.State = types.StateRunning
		t.status.StartedUnix = now.Unix()
		t.status.ModelID = fieldString(e, "model_id")
		t.status.Tasks = splitCSV(fieldString(e, "tasks"))
		t.status.Email = fieldString(e, "email")
	case EventStepStart:
		if s := t.step(e.Step); s != nil {
			s.State = types.StateRunning
			s.StartedUnix = now.Unix()
		}
		t.status.CurrentStep = e.Step
	case EventStepDone, EventStepFailed:
		if s := t.step(e.Step); s != nil {
			s.State = types.StateSucceeded
			if e.Name == EventStepFailed {
				s.State = types.StateFailed
				s.Error = fieldString(e, "error")
				t.status.Error = s.Error
			}
			if d, ok := e.Fields["duration"].(time.Duration); ok {
				s.DurationMS = d.Milliseconds()
			}
		}
		if p := fieldString(e, "model_path"); p != "" {
			t.status.ModelPath = p
		}
		t.status.CurrentStep = ""
	case EventStepSkipped:
		if s := t.step(e.Step); s != nil {
			s.State = types.StateSkipped
		}
		if p := fieldString(e, "model_path"); p != "" {
			t.status.ModelPath = p
		}
	case EventUploadStart:
		t.status.Upload = &types.UploadStatus{RepoID: fieldString(e, "repo_id"), State: types.StateRunning}
	case EventUploadDone:
		if t.status.Upload == nil {
			t.status.Upload = &types.UploadStatus{RepoID: fieldString(e, "repo_id")}
		}
		t.status.Upload.URL = fieldString(e, "url")
		if msg := fieldString(e, "error"); msg != "" {
			t.status.Upload.State = types.StateFailed
			t.status.Upload.Error = msg
		} else {
			t.status.Upload.State = types.StateSucceeded
		}
	case EventRunDone:
		t.done = true
		t.status.FinishedUnix = now.Unix()
		t.status.CurrentStep = ""
		if msg := fieldString(e, "error"); msg != "" {
			t.status.State = types.StateFailed
			t.status.Error = msg
		} else {
			t.status.State = types.StateSucceeded
		}
	}
}

// Status returns a copy of the current snapshot.
func (t *Tracker) Status() types.JobStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.status
	out.Steps = append([]types.StepStatus(nil), t.status.Steps...)
	out.Tasks = append([]string(nil), t.status.Tasks...)
	if t.status.Upload != nil {
		u := *t.status.Upload
		out.Upload = &u
	}
	return out
}

// Finished reports whether the run has completed.
func (t *Tracker) Finished() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

func (t *Tracker) step(name string) *types.StepStatus {
	i, ok := t.index[name]
	if !ok {
		return nil
	}
	return &t.status.Steps[i]
}

func fieldString(e Event, key string) string {
	if e.Fields == nil {
		return ""
	}
	switch v := e.Fields[key].(type) {
	case string:
		return v
	case error:
		if v != nil {
			return v.Error()
		}
	}
	return ""
}
