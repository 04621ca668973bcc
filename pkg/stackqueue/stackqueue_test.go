package stackqueue

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestClassifyFailure(t *testing.T) {
	cases := map[string]FailureClass{
		"merge conflict while applying patch":        FailureRestackConflict,
		"trunk is out of date, needs sync":           FailureTrunkOutdated,
		"branch tracking has diverged from parent":   FailureTrackingDivergence,
		"authentication failed: invalid token":       FailureAuthFailure,
		"connection timeout talking to remote":       FailureTransientError,
		"go test ./... failed":                       FailureVerifyFailure,
		"the dog ate my stack":                       FailureUnknown,
	}
	for reason, want := range cases {
		if got := ClassifyFailure(reason); got != want {
			t.Errorf("ClassifyFailure(%q) = %s, want %s", reason, got, want)
		}
	}
}

func TestFailureClass_IsRespawnable(t *testing.T) {
	if !FailureRestackConflict.IsRespawnable() {
		t.Fatal("restack conflicts should be respawnable")
	}
	if FailureAuthFailure.IsRespawnable() {
		t.Fatal("auth failures should not be respawnable")
	}
	if FailureUnknown.IsRespawnable() {
		t.Fatal("unknown failures should not be respawnable")
	}
}

func TestQueue_EnqueueDedupsIdenticalOperation(t *testing.T) {
	q := NewQueue(nil)
	now := time.Now().UTC()
	op := Operation{Kind: OpRestack, Branch: "task/a"}

	_, added := q.Enqueue("repo-1", op, 0, now)
	if !added {
		t.Fatal("expected first enqueue to succeed")
	}
	_, added = q.Enqueue("repo-1", op, 0, now)
	if added {
		t.Fatal("expected duplicate enqueue to be deduplicated")
	}
	if q.Len() != 1 {
		t.Fatalf("expected queue length 1, got %d", q.Len())
	}
}

func TestQueue_PopOrdersByPriorityThenAge(t *testing.T) {
	q := NewQueue(nil)
	now := time.Now().UTC()

	q.Enqueue("repo-1", Operation{Kind: OpSync}, 0, now)
	q.Enqueue("repo-1", Operation{Kind: OpRestack, Branch: "b"}, 5, now.Add(time.Second))
	q.Enqueue("repo-1", Operation{Kind: OpRestack, Branch: "c"}, 5, now)

	first, ok := q.Pop()
	if !ok || first.Operation.Branch != "c" {
		t.Fatalf("expected the older same-priority operation first, got %+v", first)
	}
	second, ok := q.Pop()
	if !ok || second.Operation.Branch != "b" {
		t.Fatalf("expected the other priority-5 operation second, got %+v", second)
	}
	third, ok := q.Pop()
	if !ok || third.Operation.Kind != OpSync {
		t.Fatalf("expected the lowest-priority operation last, got %+v", third)
	}
	if q.Len() != 0 {
		t.Fatalf("expected queue drained, got len %d", q.Len())
	}
}

func TestQueue_EnqueueAfterPopIsNotDeduplicated(t *testing.T) {
	q := NewQueue(nil)
	now := time.Now().UTC()
	op := Operation{Kind: OpSync}

	q.Enqueue("repo-1", op, 0, now)
	q.Pop()
	_, added := q.Enqueue("repo-1", op, 0, now)
	if !added {
		t.Fatal("expected re-enqueue after pop to succeed")
	}
}

type fakeExecutor struct {
	result OperationResult
	err    error
}

func (f fakeExecutor) Execute(_ context.Context, _ string, _ Operation) (OperationResult, error) {
	return f.result, f.err
}

func TestQueue_ExecuteReturnsExecutorResult(t *testing.T) {
	q := NewQueue(nil)
	exec := fakeExecutor{result: OperationResult{Kind: ResultSuccess}}
	res, err := q.Execute(context.Background(), exec, "/repo", Operation{Kind: OpSync})
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != ResultSuccess {
		t.Fatalf("expected success, got %s", res.Kind)
	}
}

func TestQueue_ExecutePropagatesExecutorError(t *testing.T) {
	q := NewQueue(nil)
	exec := fakeExecutor{err: errors.New("boom")}
	_, err := q.Execute(context.Background(), exec, "/repo", Operation{Kind: OpSync})
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestRetryState_RecordFailureExhaustsAfterMaxAttempts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetries = 2
	now := time.Now().UTC()
	rs := NewRetryState(cfg, now)

	if ok := rs.RecordFailure(now.Add(time.Minute), "still failing"); !ok {
		t.Fatal("expected retry 2 to still be allowed")
	}
	if ok := rs.RecordFailure(now.Add(2*time.Minute), "still failing"); ok {
		t.Fatal("expected retry budget to be exhausted")
	}
	if !rs.IsExhausted() {
		t.Fatal("expected IsExhausted to report true")
	}
}

func TestRespawnState_EligibleOnlyForRespawnableClassAfterCooldown(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Now().UTC()

	respawnable := NewRespawnState(cfg, "t1", "restack conflict detected", now)
	if respawnable.IsEligible(now) {
		t.Fatal("expected not eligible before cooldown elapses")
	}
	if !respawnable.IsEligible(now.Add(cfg.RespawnCooldown)) {
		t.Fatal("expected eligible once cooldown elapses")
	}

	notRespawnable := NewRespawnState(cfg, "t2", "authentication failed", now)
	if notRespawnable.IsEligible(now.Add(time.Hour)) {
		t.Fatal("auth failures should never be respawn-eligible")
	}
}

func TestDetectTrackingDivergence(t *testing.T) {
	expected := map[string]string{
		"task/a": "main",
		"task/b": "task/a",
		"task/c": "",
	}
	actual := map[string]string{
		"task/a": "main",
		"task/b": "main",
		"task/c": "task/a",
	}

	got := DetectTrackingDivergence(expected, actual)
	if len(got) != 2 {
		t.Fatalf("expected 2 divergent branches, got %d: %+v", len(got), got)
	}

	byBranch := map[string]BranchTrackingInfo{}
	for _, info := range got {
		byBranch[info.Branch] = info
	}

	b, ok := byBranch["task/b"]
	if !ok || !b.NeedsTrack {
		t.Fatalf("expected task/b to need tracking, got %+v", b)
	}
	c, ok := byBranch["task/c"]
	if !ok || !c.NeedsUntrack {
		t.Fatalf("expected task/c to need untracking, got %+v", c)
	}
}
