package delta

import (
	"strings"
	"testing"
	"time"
)

func makeSnapshot(tasks map[string]string) Snapshot {
	s := NewSnapshot(time.Now())
	for id, state := range tasks {
		s.TaskStates[id] = state
	}
	return s
}

func TestComputeDelta_NoChangesYieldsEmpty(t *testing.T) {
	a := makeSnapshot(map[string]string{"T1": "chatting", "T2": "ready"})
	b := makeSnapshot(map[string]string{"T1": "chatting", "T2": "ready"})

	changes := ComputeDelta(a, b)
	if len(changes) != 0 {
		t.Fatalf("expected no changes, got %+v", changes)
	}
}

func TestComputeDelta_DetectsTaskStateChange(t *testing.T) {
	a := makeSnapshot(map[string]string{"T1": "chatting"})
	b := makeSnapshot(map[string]string{"T1": "ready"})

	changes := ComputeDelta(a, b)
	if len(changes) != 1 {
		t.Fatalf("expected 1 change, got %d", len(changes))
	}
	c := changes[0]
	if c.Kind != ChangeTaskStateChanged || c.TaskID != "T1" || c.From != "chatting" || c.To != "ready" {
		t.Fatalf("unexpected change: %+v", c)
	}
}

func TestComputeDelta_DetectsAddedAndRemovedTasks(t *testing.T) {
	a := makeSnapshot(map[string]string{"T1": "chatting"})
	b := makeSnapshot(map[string]string{"T2": "ready"})

	changes := ComputeDelta(a, b)
	var sawAdded, sawRemoved bool
	for _, c := range changes {
		if c.Kind == ChangeTaskAdded && c.TaskID == "T2" {
			sawAdded = true
		}
		if c.Kind == ChangeTaskRemoved && c.TaskID == "T1" {
			sawRemoved = true
		}
	}
	if !sawAdded || !sawRemoved {
		t.Fatalf("expected both added and removed changes, got %+v", changes)
	}
}

func TestComputeDelta_DetectsModelHealthAndMergeStopCounts(t *testing.T) {
	a := NewSnapshot(time.Now())
	a.ModelHealth["claude"] = ModelHealthy
	a.MergeCount = 2
	a.StopCount = 1

	b := NewSnapshot(time.Now())
	b.ModelHealth["claude"] = ModelCooldown
	b.MergeCount = 5
	b.StopCount = 3

	changes := ComputeDelta(a, b)
	var sawHealth, sawMerges, sawStops bool
	for _, c := range changes {
		switch c.Kind {
		case ChangeModelHealthChanged:
			sawHealth = c.Model == "claude" && c.FromHealth == ModelHealthy && c.ToHealth == ModelCooldown
		case ChangeNewMerges:
			sawMerges = c.Count == 3
		case ChangeNewStops:
			sawStops = c.Count == 2
		}
	}
	if !sawHealth || !sawMerges || !sawStops {
		t.Fatalf("expected health+merge+stop changes, got %+v", changes)
	}
}

func TestComputeDelta_DetectsPipelineStartAndComplete(t *testing.T) {
	a := NewSnapshot(time.Now())
	a.ActivePipelines = []string{"T1"}
	b := NewSnapshot(time.Now())
	b.ActivePipelines = []string{"T2"}

	changes := ComputeDelta(a, b)
	var sawStarted, sawCompleted bool
	for _, c := range changes {
		if c.Kind == ChangePipelineStarted && c.TaskID == "T2" {
			sawStarted = true
		}
		if c.Kind == ChangePipelineCompleted && c.TaskID == "T1" {
			sawCompleted = true
		}
	}
	if !sawStarted || !sawCompleted {
		t.Fatalf("expected pipeline start+complete changes, got %+v", changes)
	}
}

func TestApplySuppression_DropsIdleToIdleContextGen(t *testing.T) {
	changes := []Change{
		{Kind: ChangeContextGenStatusChanged, From: "idle", To: "idle"},
		{Kind: ChangeTaskAdded, TaskID: "T1", To: "ready"},
	}
	filtered := ApplySuppression(changes, DefaultSuppressionPolicy())
	if len(filtered) != 1 || filtered[0].Kind != ChangeTaskAdded {
		t.Fatalf("expected only the task-added change to survive, got %+v", filtered)
	}
}

func TestShouldEmit_HighPriorityAlwaysEmits(t *testing.T) {
	policy := DefaultSuppressionPolicy()
	now := time.Now()
	last := now.Add(-time.Second)

	changes := []Change{{Kind: ChangeNewStops, Count: 1}}
	if !ShouldEmit(&last, now, policy, changes) {
		t.Fatal("expected high-priority change to bypass rate limiting")
	}
}

func TestShouldEmit_SuppressesEmptyAndRateLimits(t *testing.T) {
	policy := DefaultSuppressionPolicy()
	now := time.Now()

	if ShouldEmit(nil, now, policy, nil) {
		t.Fatal("expected empty changes with suppress_empty to not emit")
	}

	changes := []Change{{Kind: ChangeTaskAdded, TaskID: "T1"}}
	last := now.Add(-5 * time.Second)
	if ShouldEmit(&last, now, policy, changes) {
		t.Fatal("expected rate limit to suppress a report fired too soon after the last")
	}

	last = now.Add(-time.Hour)
	if !ShouldEmit(&last, now, policy, changes) {
		t.Fatal("expected report to emit once the interval has elapsed")
	}
}

func TestReporter_FirstTickEmitsOnlyIfNonEmpty(t *testing.T) {
	now := time.Now()

	r := NewReporter(DefaultSuppressionPolicy())
	empty := NewSnapshot(now)
	if report := r.ProcessTick(empty, now); report != nil {
		t.Fatalf("expected no report on an empty first tick, got %+v", report)
	}

	r2 := NewReporter(DefaultSuppressionPolicy())
	nonEmpty := makeSnapshot(map[string]string{"T1": "chatting"})
	report := r2.ProcessTick(nonEmpty, now)
	if report == nil {
		t.Fatal("expected a report on a non-empty first tick")
	}
	if report.Summary.TaskChanges != 1 {
		t.Fatalf("expected 1 task change on first tick, got %d", report.Summary.TaskChanges)
	}
}

func TestReporter_SuppressionRateTracksRatio(t *testing.T) {
	r := NewReporter(DefaultSuppressionPolicy())
	now := time.Now()

	r.ProcessTick(makeSnapshot(map[string]string{"T1": "chatting"}), now)
	// Immediately following tick with no changes gets suppressed.
	r.ProcessTick(makeSnapshot(map[string]string{"T1": "chatting"}), now.Add(time.Second))

	rate := r.SuppressionRate()
	if rate <= 0 || rate >= 1 {
		t.Fatalf("expected suppression rate strictly between 0 and 1, got %f", rate)
	}
}

func TestRender_EmptyChangesRendersNoChanges(t *testing.T) {
	report := Report{TickNumber: 3}
	out := Render(report)
	if !strings.Contains(out, "(no changes)") {
		t.Fatalf("expected \"(no changes)\" in render output, got %q", out)
	}
}
