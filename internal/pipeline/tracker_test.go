package pipeline

import (
	"errors"
	"testing"
	"time"

	"evalprep/pkg/types"
)

func fixedTracker(t *testing.T) *Tracker {
	t.Helper()
	tr := NewTracker()
	ts := time.Unix(1700000000, 0)
	tr.now = func() time.Time { return ts }
	return tr
}

func TestTracker_InitialState(t *testing.T) {
	tr := NewTracker()
	st := tr.Status()
	if st.State != types.StatePending {
		t.Fatalf("state = %q", st.State)
	}
	if len(st.Steps) != len(stepOrder) {
		t.Fatalf("steps = %d", len(st.Steps))
	}
	for i, s := range st.Steps {
		if s.Name != stepOrder[i] || s.State != types.StatePending {
			t.Fatalf("step %d = %+v", i, s)
		}
	}
	if tr.Finished() {
		t.Fatalf("fresh tracker reports finished")
	}
}

func TestTracker_FoldsRun(t *testing.T) {
	tr := fixedTracker(t)
	tr.Publish(Event{Name: EventRunStart, Fields: map[string]any{"model_id": "s3://b/m", "tasks": "mmlu, arc", "email": "a@b.c"}})
	tr.Publish(Event{Name: EventStepStart, Step: StepAcquire})
	if st := tr.Status(); st.CurrentStep != StepAcquire || st.State != types.StateRunning {
		t.Fatalf("running status = %+v", st)
	}
	tr.Publish(Event{Name: EventStepDone, Step: StepAcquire, Fields: map[string]any{"duration": 1500 * time.Millisecond, "model_path": "/tmp/model"}})
	tr.Publish(Event{Name: EventStepSkipped, Step: StepMerge})
	tr.Publish(Event{Name: EventStepStart, Step: StepEvaluate})
	tr.Publish(Event{Name: EventStepFailed, Step: StepEvaluate, Fields: map[string]any{"error": "evaluation failed with exit code 1"}})
	tr.Publish(Event{Name: EventRunDone, Fields: map[string]any{"error": "evaluate: evaluation failed with exit code 1"}})

	st := tr.Status()
	if st.ModelID != "s3://b/m" || st.ModelPath != "/tmp/model" || st.Email != "a@b.c" {
		t.Fatalf("identity fields: %+v", st)
	}
	if len(st.Tasks) != 2 || st.Tasks[0] != "mmlu" || st.Tasks[1] != "arc" {
		t.Fatalf("tasks = %v", st.Tasks)
	}
	acq := st.Steps[tr.index[StepAcquire]]
	if acq.State != types.StateSucceeded || acq.DurationMS != 1500 || acq.StartedUnix != 1700000000 {
		t.Fatalf("acquire = %+v", acq)
	}
	if m := st.Steps[tr.index[StepMerge]]; m.State != types.StateSkipped {
		t.Fatalf("merge = %+v", m)
	}
	if e := st.Steps[tr.index[StepEvaluate]]; e.State != types.StateFailed || e.Error == "" {
		t.Fatalf("evaluate = %+v", e)
	}
	if st.State != types.StateFailed || st.FinishedUnix != 1700000000 || !tr.Finished() {
		t.Fatalf("final = %+v", st)
	}
}

func TestTracker_Upload(t *testing.T) {
	tr := fixedTracker(t)
	tr.Publish(Event{Name: EventUploadStart, Fields: map[string]any{"repo_id": "org/m"}})
	if u := tr.Status().Upload; u == nil || u.State != types.StateRunning || u.RepoID != "org/m" {
		t.Fatalf("upload = %+v", u)
	}
	tr.Publish(Event{Name: EventUploadDone, Fields: map[string]any{"repo_id": "org/m", "error": errors.New("boom")}})
	u := tr.Status().Upload
	if u.State != types.StateFailed || u.Error != "boom" {
		t.Fatalf("upload = %+v", u)
	}
}

func TestTracker_StatusIsCopy(t *testing.T) {
	tr := fixedTracker(t)
	tr.Publish(Event{Name: EventUploadStart, Fields: map[string]any{"repo_id": "org/m"}})
	st := tr.Status()
	st.Steps[0].State = "mutated"
	st.Upload.State = "mutated"
	again := tr.Status()
	if again.Steps[0].State != types.StatePending || again.Upload.State != types.StateRunning {
		t.Fatalf("snapshot aliases tracker state: %+v", again)
	}
}

func TestTracker_UnknownStepIgnored(t *testing.T) {
	tr := fixedTracker(t)
	tr.Publish(Event{Name: EventStepDone, Step: "nope"})
	for _, s := range tr.Status().Steps {
		if s.State != types.StatePending {
			t.Fatalf("unexpected change: %+v", s)
		}
	}
}
