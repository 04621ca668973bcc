// Package stackqueue is the single authority for stack-tool mutations: a
// serialized operation queue, conflict-aware retry with exponential
// backoff, a distributed lock so only one othalad instance drives a given
// repo's stack at a time, and STOPPED-task auto-respawn for recoverable
// failure classes.
package stackqueue

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/othala-run/othala/pkg/metrics"
)

// Config tunes retry/backoff/respawn behavior.
type Config struct {
	MaxRetries           int
	InitialBackoff       time.Duration
	MaxBackoff           time.Duration
	BackoffMultiplier    float64
	SyncInterval         time.Duration
	AutoRespawnEnabled   bool
	MaxRespawnAttempts   int
	RespawnCooldown      time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:         5,
		InitialBackoff:     5 * time.Second,
		MaxBackoff:         5 * time.Minute,
		BackoffMultiplier:  2.0,
		SyncInterval:       60 * time.Second,
		AutoRespawnEnabled: true,
		MaxRespawnAttempts: 3,
		RespawnCooldown:    2 * time.Minute,
	}
}

func (c Config) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialBackoff
	b.MaxInterval = c.MaxBackoff
	b.Multiplier = c.BackoffMultiplier
	b.RandomizationFactor = 0 // deterministic NextRetryAt, matching graphite_agent.rs's plain (backoff * multiplier).min(max)
	b.MaxElapsedTime = 0      // caller tracks attempt count, not elapsed wall time
	return b
}

// OperationKind is the closed set of stack mutations the queue serializes.
type OperationKind string

const (
	OpSync      OperationKind = "sync"
	OpRestack   OperationKind = "restack"
	OpTrack     OperationKind = "track"
	OpUntrack   OperationKind = "untrack"
	OpSubmit    OperationKind = "submit"
	OpReconcile OperationKind = "reconcile"
)

// Operation is a single requested stack mutation.
type Operation struct {
	Kind   OperationKind
	Branch string
	Parent string // Track only
	TaskID string // Submit only
}

func (o Operation) dedupKey(repoID string) string {
	switch o.Kind {
	case OpRestack, OpTrack, OpUntrack:
		return fmt.Sprintf("%s|%s|%s", repoID, o.Kind, o.Branch)
	case OpSubmit:
		return fmt.Sprintf("%s|%s|%s", repoID, o.Kind, o.TaskID)
	default:
		return fmt.Sprintf("%s|%s", repoID, o.Kind)
	}
}

func (o Operation) String() string {
	switch o.Kind {
	case OpRestack:
		return "restack:" + o.Branch
	case OpTrack:
		return fmt.Sprintf("track:%s→%s", o.Branch, o.Parent)
	case OpUntrack:
		return "untrack:" + o.Branch
	case OpSubmit:
		return "submit:" + o.TaskID
	default:
		return string(o.Kind)
	}
}

// QueuedOperation is an Operation with queue bookkeeping.
type QueuedOperation struct {
	ID         uint64
	Operation  Operation
	RepoID     string
	EnqueuedAt time.Time
	Priority   int // higher runs first
}

// ResultKind classifies the outcome of executing a queued operation.
type ResultKind string

const (
	ResultSuccess            ResultKind = "success"
	ResultConflict           ResultKind = "conflict"
	ResultAuthFailure        ResultKind = "auth_failure"
	ResultTrunkOutdated      ResultKind = "trunk_outdated"
	ResultTrackingDivergence ResultKind = "tracking_divergence"
	ResultRetryable          ResultKind = "retryable"
	ResultFatal              ResultKind = "fatal"
)

// OperationResult is the outcome of one execution attempt.
type OperationResult struct {
	Kind    ResultKind
	Details string
}

func (r OperationResult) IsRecoverable() bool {
	switch r.Kind {
	case ResultConflict, ResultTrunkOutdated, ResultTrackingDivergence, ResultRetryable:
		return true
	default:
		return false
	}
}

// FailureClass buckets a failure reason string so auto-respawn policy can
// decide whether retrying a STOPPED task is worth attempting.
type FailureClass string

const (
	FailureRestackConflict    FailureClass = "restack_conflict"
	FailureTrunkOutdated      FailureClass = "trunk_outdated"
	FailureTrackingDivergence FailureClass = "tracking_divergence"
	FailureTransientError     FailureClass = "transient_error"
	FailureVerifyFailure      FailureClass = "verify_failure"
	FailureAuthFailure        FailureClass = "auth_failure"
	FailureUnknown            FailureClass = "unknown"
)

// IsRespawnable reports whether tasks that failed for this reason are worth
// automatically retrying. Auth failures and unclassified reasons are not:
// both need a human to look, not another attempt.
func (f FailureClass) IsRespawnable() bool {
	switch f {
	case FailureRestackConflict, FailureTrunkOutdated, FailureTrackingDivergence, FailureTransientError, FailureVerifyFailure:
		return true
	default:
		return false
	}
}

// ClassifyFailure buckets a free-text failure reason into a FailureClass by
// substring matching, checked in order from most to least specific.
func ClassifyFailure(reason string) FailureClass {
	lower := strings.ToLower(reason)

	switch {
	case containsAny(lower, "conflict", "merge conflict", "restack", "could not apply"):
		return FailureRestackConflict
	case containsAny(lower, "trunk", "out of date", "stack sync", "fast-forward"):
		return FailureTrunkOutdated
	case containsAny(lower, "tracking", "diverge", "track branch", "untrack"):
		return FailureTrackingDivergence
	case containsAny(lower, "auth", "token", "authenticate", "permission"):
		return FailureAuthFailure
	case containsAny(lower, "timeout", "network", "connection", "retry", "temporary"):
		return FailureTransientError
	case containsAny(lower, "verify", "test", "go vet", "go test"):
		return FailureVerifyFailure
	default:
		return FailureUnknown
	}
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// RetryState tracks exponential-backoff retry bookkeeping for one queued
// operation.
type RetryState struct {
	Attempts    int
	MaxAttempts int
	LastAttempt time.Time
	NextRetryAt time.Time
	LastError   string

	backoff *backoff.ExponentialBackOff
}

func NewRetryState(cfg Config, now time.Time) *RetryState {
	b := cfg.newBackoff()
	first := b.NextBackOff()
	return &RetryState{
		Attempts:    1,
		MaxAttempts: cfg.MaxRetries,
		LastAttempt: now,
		NextRetryAt: now.Add(first),
		backoff:     b,
	}
}

// RecordFailure advances the retry state after a failed attempt, returning
// false once the attempt budget is exhausted.
func (r *RetryState) RecordFailure(now time.Time, errMsg string) bool {
	r.Attempts++
	r.LastAttempt = now
	r.LastError = errMsg
	if r.Attempts > r.MaxAttempts {
		return false
	}
	r.NextRetryAt = now.Add(r.backoff.NextBackOff())
	return true
}

func (r *RetryState) IsReady(now time.Time) bool    { return !now.Before(r.NextRetryAt) }
func (r *RetryState) IsExhausted() bool             { return r.Attempts > r.MaxAttempts }

// RespawnState tracks auto-respawn eligibility for one STOPPED task.
type RespawnState struct {
	TaskID        string
	Attempts      int
	MaxAttempts   int
	LastAttempt   time.Time
	NextAttemptAt time.Time
	FailureClass  FailureClass
	LastReason    string

	cfg Config
}

func NewRespawnState(cfg Config, taskID, reason string, now time.Time) *RespawnState {
	return &RespawnState{
		TaskID:        taskID,
		Attempts:      1,
		MaxAttempts:   cfg.MaxRespawnAttempts,
		LastAttempt:   now,
		NextAttemptAt: now.Add(cfg.RespawnCooldown),
		FailureClass:  ClassifyFailure(reason),
		LastReason:    reason,
		cfg:           cfg,
	}
}

func (r *RespawnState) IsEligible(now time.Time) bool {
	return r.FailureClass.IsRespawnable() && r.Attempts <= r.MaxAttempts && !now.Before(r.NextAttemptAt)
}

func (r *RespawnState) RecordAttempt(now time.Time) {
	r.Attempts++
	r.LastAttempt = now
	backoffSecs := float64(r.cfg.RespawnCooldown) * pow(r.cfg.BackoffMultiplier, r.Attempts-1)
	d := time.Duration(backoffSecs)
	if max := r.cfg.MaxBackoff; d > max {
		d = max
	}
	r.NextAttemptAt = now.Add(d)
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// Executor runs a single stack operation against a repo's worktree.
type Executor interface {
	Execute(ctx context.Context, repoPath string, op Operation) (OperationResult, error)
}

// Queue serializes stack operations per repo, deduplicating by (repo,
// operation identity) so the same restack/track/submit request enqueued
// twice in a row collapses into one.
type Queue struct {
	mu      sync.Mutex
	nextID  uint64
	items   []QueuedOperation
	seen    map[string]bool
	breaker *gobreaker.CircuitBreaker[OperationResult]
	metrics *metrics.Registry
}

// NewQueue builds a Queue. reg may be nil, in which case the queue skips
// metrics instrumentation entirely.
func NewQueue(reg *metrics.Registry) *Queue {
	return &Queue{
		seen:    make(map[string]bool),
		metrics: reg,
		breaker: gobreaker.NewCircuitBreaker[OperationResult](gobreaker.Settings{
			Name:        "stackqueue",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// Enqueue adds an operation unless an identical one is already queued for
// this repo. Returns false when deduplicated.
func (q *Queue) Enqueue(repoID string, op Operation, priority int, at time.Time) (QueuedOperation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := op.dedupKey(repoID)
	if q.seen[key] {
		return QueuedOperation{}, false
	}
	q.nextID++
	qo := QueuedOperation{ID: q.nextID, Operation: op, RepoID: repoID, EnqueuedAt: at, Priority: priority}
	q.items = append(q.items, qo)
	q.seen[key] = true
	if q.metrics != nil {
		depth := 0
		for _, item := range q.items {
			if item.RepoID == repoID {
				depth++
			}
		}
		q.metrics.QueueDepth.WithLabelValues(repoID).Set(float64(depth))
	}
	return qo, true
}

// Pop removes and returns the highest-priority, oldest-enqueued operation.
func (q *Queue) Pop() (QueuedOperation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return QueuedOperation{}, false
	}
	sort.SliceStable(q.items, func(i, j int) bool {
		if q.items[i].Priority != q.items[j].Priority {
			return q.items[i].Priority > q.items[j].Priority
		}
		return q.items[i].EnqueuedAt.Before(q.items[j].EnqueuedAt)
	})
	qo := q.items[0]
	q.items = q.items[1:]
	delete(q.seen, qo.Operation.dedupKey(qo.RepoID))
	if q.metrics != nil {
		depth := 0
		for _, item := range q.items {
			if item.RepoID == qo.RepoID {
				depth++
			}
		}
		q.metrics.QueueDepth.WithLabelValues(qo.RepoID).Set(float64(depth))
	}
	return qo, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Execute runs op through the circuit breaker and classifies transport-level
// errors (the executor itself failing to run, as opposed to it returning a
// domain OperationResult) as Fatal.
func (q *Queue) Execute(ctx context.Context, exec Executor, repoPath string, op Operation) (OperationResult, error) {
	res, err := q.breaker.Execute(func() (OperationResult, error) {
		return exec.Execute(ctx, repoPath, op)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			res = OperationResult{Kind: ResultRetryable, Details: err.Error()}
			if q.metrics != nil {
				q.metrics.QueueOperations.WithLabelValues(string(op.Kind), string(res.Kind)).Inc()
			}
			return res, nil
		}
		res = OperationResult{Kind: ResultFatal, Details: err.Error()}
		if q.metrics != nil {
			q.metrics.QueueOperations.WithLabelValues(string(op.Kind), string(res.Kind)).Inc()
		}
		return res, err
	}
	if q.metrics != nil {
		q.metrics.QueueOperations.WithLabelValues(string(op.Kind), string(res.Kind)).Inc()
	}
	return res, nil
}

// RepoLock is a Redis SETNX-backed distributed advisory lock so exactly one
// othalad instance drives a given repo's stack at a time.
type RepoLock struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRepoLock(client *redis.Client, ttl time.Duration) *RepoLock {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RepoLock{client: client, ttl: ttl}
}

func (l *RepoLock) lockKey(repoID string) string {
	return "othala:stacklock:" + repoID
}

// Acquire attempts to take the lock for repoID, returning false if another
// holder already has it.
func (l *RepoLock) Acquire(ctx context.Context, repoID, holder string) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.lockKey(repoID), holder, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("stackqueue: acquire lock for %s: %w", repoID, err)
	}
	return ok, nil
}

// Release drops the lock only if holder still owns it.
func (l *RepoLock) Release(ctx context.Context, repoID, holder string) error {
	current, err := l.client.Get(ctx, l.lockKey(repoID)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stackqueue: read lock for %s: %w", repoID, err)
	}
	if current != holder {
		return nil
	}
	if err := l.client.Del(ctx, l.lockKey(repoID)).Err(); err != nil {
		return fmt.Errorf("stackqueue: release lock for %s: %w", repoID, err)
	}
	return nil
}

// BranchTrackingInfo reports one branch's tracking-parent divergence from
// what the task DAG expects.
type BranchTrackingInfo struct {
	Branch         string
	ExpectedParent string
	ActualParent   string
	NeedsTrack     bool
	NeedsUntrack   bool
}

// DetectTrackingDivergence compares the expected parent (from the task
// dependency graph) against the stack tool's actual tracking state and
// reports every branch that's out of sync. NeedsTrack is set whenever an
// expected parent exists (untracked, or tracked under the wrong parent);
// NeedsUntrack is set when no parent is expected but one is tracked.
func DetectTrackingDivergence(expected map[string]string, actual map[string]string) []BranchTrackingInfo {
	var out []BranchTrackingInfo
	branches := make([]string, 0, len(expected))
	for b := range expected {
		branches = append(branches, b)
	}
	sort.Strings(branches)

	for _, branch := range branches {
		exp := expected[branch]
		act := actual[branch]
		if exp == act {
			continue
		}
		out = append(out, BranchTrackingInfo{
			Branch:         branch,
			ExpectedParent: exp,
			ActualParent:   act,
			NeedsTrack:     exp != "",
			NeedsUntrack:   exp == "" && act != "",
		})
	}
	return out
}
