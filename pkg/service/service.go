// Package service is the transactional facade spec.md §4.8 describes:
// every mutating operation on a task goes through here so that the store
// write, the event-log mirror, the state-machine transition, and the
// notification dispatch happen as one serialized unit. Runtime tick
// handlers and the HTTP/CLI surface are the only callers; neither mutates
// tasks through pkg/store or pkg/eventlog directly (the HTTP /health route
// only calls the store's health check).
package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/othala-run/othala/pkg/depgraph"
	"github.com/othala-run/othala/pkg/eventbus"
	"github.com/othala-run/othala/pkg/eventlog"
	"github.com/othala-run/othala/pkg/lifecyclegate"
	"github.com/othala-run/othala/pkg/metrics"
	"github.com/othala-run/othala/pkg/notify"
	"github.com/othala-run/othala/pkg/reviewgate"
	"github.com/othala-run/othala/pkg/scheduler"
	"github.com/othala-run/othala/pkg/statemachine"
	"github.com/othala-run/othala/pkg/store"
	"github.com/othala-run/othala/pkg/task"
)

// Store is the subset of *store.Store the service depends on, narrowed so
// tests can substitute an in-memory fake without a Postgres container.
type Store interface {
	UpsertTask(ctx context.Context, t task.Task) error
	LoadTask(ctx context.Context, id string) (task.Task, error)
	ListTasks(ctx context.Context) ([]task.Task, error)
	ListTasksByState(ctx context.Context, state task.State) ([]task.Task, error)
	AppendEvent(ctx context.Context, e task.Event) error
	ListEventsForTask(ctx context.Context, taskID string) ([]task.Event, error)
	ListGlobalEvents(ctx context.Context) ([]task.Event, error)
	UpsertApproval(ctx context.Context, a task.Approval) error
	ListApprovalsForTask(ctx context.Context, taskID string) ([]task.Approval, error)
	FinishOpenAgentRuns(ctx context.Context, taskID string, status task.AgentRunStatus, reason string, exitCode *int, endedAt time.Time) error
}

// EventLog is the subset of *eventlog.JSONLEventLog the service depends on.
type EventLog interface {
	EnsureLayout() error
	AppendBoth(event task.Event) error
}

var _ Store = (*store.Store)(nil)
var _ EventLog = (*eventlog.JSONLEventLog)(nil)

// Service is the transactional facade. All exported methods are safe for
// concurrent use; mutating calls are serialized by mu per spec.md §5.
type Service struct {
	mu         sync.Mutex
	store      Store
	eventLog   EventLog
	dispatcher *notify.Dispatcher
	bus        *eventbus.Bus
	metrics    *metrics.Registry
}

// New builds a Service with no notification dispatcher, event bus, or
// metrics registry.
func New(s Store, l EventLog) *Service {
	return &Service{store: s, eventLog: l}
}

// NewWithNotifier builds a Service that dispatches notifications through d,
// fans every recorded event out to bus (a disabled bus's Publish calls are
// no-ops, so callers can always pass a non-nil Bus here), and records
// transition counts against reg if reg is non-nil.
func NewWithNotifier(s Store, l EventLog, d *notify.Dispatcher, bus *eventbus.Bus, reg *metrics.Registry) *Service {
	return &Service{store: s, eventLog: l, dispatcher: d, bus: bus, metrics: reg}
}

// Bootstrap prepares durable storage for first use: migrations are the
// caller's responsibility via store.Store.Migrate (run once at process
// start, outside the per-call mutex), this only lays out the event log
// directory structure.
func (s *Service) Bootstrap() error {
	return s.eventLog.EnsureLayout()
}

// CreateTask durably records a new task and its creation event.
func (s *Service) CreateTask(ctx context.Context, t task.Task, createdEvent task.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.UpsertTask(ctx, t); err != nil {
		return fmt.Errorf("service: create task %s: %w", t.ID, err)
	}
	return s.recordEventLocked(ctx, createdEvent)
}

// ListTasks returns every task regardless of state.
func (s *Service) ListTasks(ctx context.Context) ([]task.Task, error) {
	return s.store.ListTasks(ctx)
}

// ListTasksByState returns every task currently in state.
func (s *Service) ListTasksByState(ctx context.Context, state task.State) ([]task.Task, error) {
	return s.store.ListTasksByState(ctx, state)
}

// Task loads one task by id, or store.ErrTaskNotFound.
func (s *Service) Task(ctx context.Context, id string) (task.Task, error) {
	return s.store.LoadTask(ctx, id)
}

// RecordEvent appends event to the store and event log and dispatches any
// whitelisted notification — the single choke point every mutating
// operation in this package funnels through.
func (s *Service) RecordEvent(ctx context.Context, event task.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordEventLocked(ctx, event)
}

func (s *Service) recordEventLocked(ctx context.Context, event task.Event) error {
	if err := s.store.AppendEvent(ctx, event); err != nil {
		return fmt.Errorf("service: append event %s: %w", event.ID, err)
	}
	if err := s.eventLog.AppendBoth(event); err != nil {
		return fmt.Errorf("service: mirror event %s: %w", event.ID, err)
	}
	if s.dispatcher != nil {
		// Best-effort: a notification sink failing must never roll back the
		// event that already committed to durable storage.
		_ = s.dispatcher.DispatchEvent(event)
	}
	if s.bus != nil && event.RepoID != nil {
		_ = s.bus.PublishEvent(*event.RepoID, event)
	}
	return nil
}

// TaskEvents returns every event recorded against taskID, in (at, id) order.
func (s *Service) TaskEvents(ctx context.Context, taskID string) ([]task.Event, error) {
	return s.store.ListEventsForTask(ctx, taskID)
}

// GlobalEvents returns every event recorded across all tasks and repos.
func (s *Service) GlobalEvents(ctx context.Context) ([]task.Event, error) {
	return s.store.ListGlobalEvents(ctx)
}

// RecordApproval upserts a reviewer's verdict for a task.
func (s *Service) RecordApproval(ctx context.Context, a task.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.UpsertApproval(ctx, a); err != nil {
		return fmt.Errorf("service: record approval for %s: %w", a.TaskID, err)
	}
	return nil
}

// TaskApprovals returns every approval recorded against taskID.
func (s *Service) TaskApprovals(ctx context.Context, taskID string) ([]task.Approval, error) {
	return s.store.ListApprovalsForTask(ctx, taskID)
}

// TaskReviewComputation bundles a requirement with its current evaluation.
type TaskReviewComputation struct {
	Requirement reviewgate.Requirement
	Evaluation  reviewgate.Evaluation
}

// EvaluateTaskReviews evaluates the approvals on file for taskID against an
// already-computed requirement.
func (s *Service) EvaluateTaskReviews(ctx context.Context, taskID string, requirement reviewgate.Requirement) (reviewgate.Evaluation, error) {
	approvals, err := s.store.ListApprovalsForTask(ctx, taskID)
	if err != nil {
		return reviewgate.Evaluation{}, fmt.Errorf("service: list approvals for %s: %w", taskID, err)
	}
	return reviewgate.EvaluateGate(requirement, approvals), nil
}

// ComputeTaskReviewFromConfig derives the review requirement from cfg and
// availability, then evaluates it against approvals on file.
func (s *Service) ComputeTaskReviewFromConfig(ctx context.Context, taskID string, cfg reviewgate.Config, availability reviewgate.Availability) (TaskReviewComputation, error) {
	requirement := reviewgate.ComputeRequirement(cfg, availability)
	evaluation, err := s.EvaluateTaskReviews(ctx, taskID, requirement)
	if err != nil {
		return TaskReviewComputation{}, err
	}
	return TaskReviewComputation{Requirement: requirement, Evaluation: evaluation}, nil
}

// RecomputeTaskReviewStatus refreshes taskID's persisted ReviewStatus fields
// from a fresh requirement/evaluation computation and returns both the
// updated task and the computation used.
func (s *Service) RecomputeTaskReviewStatus(ctx context.Context, taskID string, cfg reviewgate.Config, availability reviewgate.Availability, at time.Time) (task.Task, TaskReviewComputation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recomputeTaskReviewStatusLocked(ctx, taskID, cfg, availability, at)
}

func (s *Service) recomputeTaskReviewStatusLocked(ctx context.Context, taskID string, cfg reviewgate.Config, availability reviewgate.Availability, at time.Time) (task.Task, TaskReviewComputation, error) {
	t, err := s.store.LoadTask(ctx, taskID)
	if err != nil {
		return task.Task{}, TaskReviewComputation{}, fmt.Errorf("service: recompute review status: %w", err)
	}

	computation, err := s.ComputeTaskReviewFromConfig(ctx, taskID, cfg, availability)
	if err != nil {
		return task.Task{}, TaskReviewComputation{}, err
	}

	t.ReviewStatus.RequiredModels = computation.Requirement.Required
	t.ReviewStatus.ApprovalsRequired = computation.Requirement.ApprovalsRequired
	t.ReviewStatus.ApprovalsReceived = computation.Evaluation.ApprovalsReceived
	t.ReviewStatus.Unanimous = computation.Requirement.Unanimous
	t.ReviewStatus.CapacityState = capacityState(computation.Requirement.Capacity)
	t.UpdatedAt = at

	if err := s.store.UpsertTask(ctx, t); err != nil {
		return task.Task{}, TaskReviewComputation{}, fmt.Errorf("service: upsert task %s: %w", taskID, err)
	}
	return t, computation, nil
}

func capacityState(c reviewgate.Capacity) task.ReviewCapacityState {
	if c == reviewgate.CapacityNeedsHuman {
		return task.CapacityNeedsHuman
	}
	return task.CapacitySufficient
}

const needsHumanReviewCapacityReason = "review capacity insufficient for required approvals"

// RequestReviewOutcome is the result of RequestReview.
type RequestReviewOutcome struct {
	Task        task.Task
	Computation TaskReviewComputation
}

// RequestReview recomputes the review requirement, emits ReviewRequested,
// and demotes the task to NeedsHuman if the recomputed requirement can't be
// satisfied while the task sits in REVIEWING.
func (s *Service) RequestReview(ctx context.Context, taskID string, cfg reviewgate.Config, availability reviewgate.Availability, at time.Time) (RequestReviewOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, computation, err := s.recomputeTaskReviewStatusLocked(ctx, taskID, cfg, availability, at)
	if err != nil {
		return RequestReviewOutcome{}, err
	}

	if err := s.recordEventLocked(ctx, task.Event{
		ID:     task.NewID(),
		TaskID: &t.ID,
		RepoID: &t.RepoID,
		At:     at,
		Kind:   task.EventKind{Tag: task.EventReviewRequested, RequiredModels: computation.Requirement.Required},
	}); err != nil {
		return RequestReviewOutcome{}, err
	}

	if computation.Evaluation.NeedsHuman && t.State == task.StateReviewing {
		if err := s.demoteToNeedsHumanLocked(ctx, &t, needsHumanReviewCapacityReason, at); err != nil {
			return RequestReviewOutcome{}, err
		}
	}

	return RequestReviewOutcome{Task: t, Computation: computation}, nil
}

// CompleteReviewOutcome is the result of CompleteReview.
type CompleteReviewOutcome struct {
	Task        task.Task
	Computation TaskReviewComputation
}

// CompleteReview records one reviewer's verdict, recomputes the review
// requirement, and demotes to NeedsHuman under the same rule RequestReview
// applies.
func (s *Service) CompleteReview(ctx context.Context, taskID string, reviewer task.ModelKind, output task.ReviewOutput, cfg reviewgate.Config, availability reviewgate.Availability, at time.Time) (CompleteReviewOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.store.LoadTask(ctx, taskID)
	if err != nil {
		return CompleteReviewOutcome{}, fmt.Errorf("service: complete review: %w", err)
	}

	if err := s.store.UpsertApproval(ctx, task.Approval{
		TaskID:   t.ID,
		Reviewer: reviewer,
		Verdict:  output.Verdict,
		IssuedAt: at,
	}); err != nil {
		return CompleteReviewOutcome{}, fmt.Errorf("service: record approval for %s: %w", t.ID, err)
	}

	if err := s.recordEventLocked(ctx, task.Event{
		ID:     task.NewID(),
		TaskID: &t.ID,
		RepoID: &t.RepoID,
		At:     at,
		Kind:   task.EventKind{Tag: task.EventReviewCompleted, Reviewer: reviewer, Output: output},
	}); err != nil {
		return CompleteReviewOutcome{}, err
	}

	updated, computation, err := s.recomputeTaskReviewStatusLocked(ctx, taskID, cfg, availability, at)
	if err != nil {
		return CompleteReviewOutcome{}, err
	}

	if computation.Evaluation.NeedsHuman && updated.State == task.StateReviewing {
		if err := s.demoteToNeedsHumanLocked(ctx, &updated, needsHumanReviewCapacityReason, at); err != nil {
			return CompleteReviewOutcome{}, err
		}
	}

	return CompleteReviewOutcome{Task: updated, Computation: computation}, nil
}

func (s *Service) demoteToNeedsHumanLocked(ctx context.Context, t *task.Task, reason string, at time.Time) error {
	if err := s.applyTransitionWithStateEventLocked(ctx, t, task.StateNeedsHuman, at); err != nil {
		return err
	}
	return s.recordEventLocked(ctx, task.Event{
		ID:     task.NewID(),
		TaskID: &t.ID,
		RepoID: &t.RepoID,
		At:     at,
		Kind:   task.EventKind{Tag: task.EventNeedsHuman, Reason: reason},
	})
}

// TransitionTaskState applies a validated state-machine transition and
// records its TaskStateChanged event.
func (s *Service) TransitionTaskState(ctx context.Context, taskID string, to task.State, at time.Time) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.store.LoadTask(ctx, taskID)
	if err != nil {
		return task.Task{}, fmt.Errorf("service: transition task state: %w", err)
	}
	if err := s.applyTransitionWithStateEventLocked(ctx, &t, to, at); err != nil {
		return task.Task{}, err
	}
	return t, nil
}

func (s *Service) applyTransitionWithStateEventLocked(ctx context.Context, t *task.Task, to task.State, at time.Time) error {
	transition, err := statemachine.Apply(t, to, at)
	if err != nil {
		return fmt.Errorf("service: apply transition for %s: %w", t.ID, err)
	}
	if s.metrics != nil {
		s.metrics.TaskTransitions.WithLabelValues(string(transition.From), string(transition.To)).Inc()
	}
	if err := s.store.UpsertTask(ctx, *t); err != nil {
		return fmt.Errorf("service: upsert task %s: %w", t.ID, err)
	}
	return s.recordEventLocked(ctx, task.Event{
		ID:     task.NewID(),
		TaskID: &t.ID,
		RepoID: &t.RepoID,
		At:     at,
		Kind:   task.EventKind{Tag: task.EventTaskStateChanged, From: transition.From, To: transition.To},
	})
}

// MarkTaskDraftPrOpen records that a draft pull request was opened for
// taskID and moves it to DRAFT_PR_OPEN if it isn't already there. A second
// call for an already-open PR only updates the stored PR reference and
// still emits a fresh DraftPrCreated event (idempotent at the state-machine
// level, not at the event level).
func (s *Service) MarkTaskDraftPrOpen(ctx context.Context, taskID string, prNumber uint64, prURL string, at time.Time) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.store.LoadTask(ctx, taskID)
	if err != nil {
		return task.Task{}, fmt.Errorf("service: mark draft pr open: %w", err)
	}

	t.PR = &task.PullRequestRef{Number: prNumber, URL: prURL, Draft: true}

	if t.State != task.StateDraftPROpen {
		if err := s.applyTransitionWithStateEventLocked(ctx, &t, task.StateDraftPROpen, at); err != nil {
			return task.Task{}, err
		}
	} else {
		t.UpdatedAt = at
		if err := s.store.UpsertTask(ctx, t); err != nil {
			return task.Task{}, fmt.Errorf("service: upsert task %s: %w", t.ID, err)
		}
	}

	if err := s.recordEventLocked(ctx, task.Event{
		ID:     task.NewID(),
		TaskID: &t.ID,
		RepoID: &t.RepoID,
		At:     at,
		Kind:   task.EventKind{Tag: task.EventDraftPrCreated, Number: prNumber, URL: prURL},
	}); err != nil {
		return task.Task{}, err
	}

	return t, nil
}

// SetTaskBranch persists the stack branch name resolved for a task during
// initialization. No event is recorded: the branch name is runtime
// bookkeeping, not a domain event in its own right.
func (s *Service) SetTaskBranch(ctx context.Context, taskID, branch string, at time.Time) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.store.LoadTask(ctx, taskID)
	if err != nil {
		return task.Task{}, fmt.Errorf("service: set task branch: %w", err)
	}
	t.BranchName = &branch
	t.UpdatedAt = at
	if err := s.store.UpsertTask(ctx, t); err != nil {
		return task.Task{}, fmt.Errorf("service: upsert task %s: %w", t.ID, err)
	}
	return t, nil
}

// FinishOpenAgentRuns marks every still-running agent process recorded for
// taskID as finished, e.g. because the task just (re)entered INITIALIZING
// and any agent process from a previous attempt is no longer authoritative.
func (s *Service) FinishOpenAgentRuns(ctx context.Context, taskID string, status task.AgentRunStatus, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.FinishOpenAgentRuns(ctx, taskID, status, reason, nil, at)
}

// CompleteQuickVerify records the outcome of a quick-verify run and, if the
// task is still in VERIFYING_QUICK, advances it to REVIEWING on success or
// back to RUNNING on failure.
func (s *Service) CompleteQuickVerify(ctx context.Context, taskID string, success bool, failureSummary string, at time.Time) (task.Task, error) {
	return s.completeVerify(ctx, taskID, task.VerifyQuick, success, failureSummary, task.StateVerifyingQuick, task.StateReviewing, task.StateRunning, at)
}

// CompleteFullVerify records the outcome of a full-verify run and, if the
// task is still in VERIFYING_FULL, advances it to successState on success or
// failureState on failure — both caller-supplied since full verify runs
// from more than one predecessor state per spec.md §4.9.
func (s *Service) CompleteFullVerify(ctx context.Context, taskID string, success bool, failureSummary string, successState, failureState task.State, at time.Time) (task.Task, error) {
	return s.completeVerify(ctx, taskID, task.VerifyFull, success, failureSummary, task.StateVerifyingFull, successState, failureState, at)
}

func (s *Service) completeVerify(ctx context.Context, taskID string, tier task.VerifyTier, success bool, failureSummary string, expectedState, successState, failureState task.State, at time.Time) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.store.LoadTask(ctx, taskID)
	if err != nil {
		return task.Task{}, fmt.Errorf("service: complete verify: %w", err)
	}

	if success {
		t.VerifyStatus = task.PassedVerifyStatus(tier)
	} else {
		if failureSummary == "" {
			failureSummary = fmt.Sprintf("verify.%s failed", tier)
		}
		t.VerifyStatus = task.FailedVerifyStatus(tier, failureSummary)
	}
	t.UpdatedAt = at
	if err := s.store.UpsertTask(ctx, t); err != nil {
		return task.Task{}, fmt.Errorf("service: upsert task %s: %w", t.ID, err)
	}

	if err := s.recordEventLocked(ctx, task.Event{
		ID:     task.NewID(),
		TaskID: &t.ID,
		RepoID: &t.RepoID,
		At:     at,
		Kind:   task.EventKind{Tag: task.EventVerifyCompleted, Tier: tier, Success: success},
	}); err != nil {
		return task.Task{}, err
	}

	if t.State == expectedState {
		target := failureState
		if success {
			target = successState
		}
		if err := s.applyTransitionWithStateEventLocked(ctx, &t, target, at); err != nil {
			return task.Task{}, err
		}
	}

	return t, nil
}

// CompleteRestack records a restack's outcome: on conflict, it emits
// RestackConflict and (if still RESTACKING) moves the task to
// RESTACK_CONFLICT; on success it emits RestackCompleted and moves the task
// to VERIFYING_QUICK.
func (s *Service) CompleteRestack(ctx context.Context, taskID string, conflict bool, at time.Time) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.store.LoadTask(ctx, taskID)
	if err != nil {
		return task.Task{}, fmt.Errorf("service: complete restack: %w", err)
	}

	if conflict {
		if err := s.recordEventLocked(ctx, task.Event{
			ID: task.NewID(), TaskID: &t.ID, RepoID: &t.RepoID, At: at,
			Kind: task.EventKind{Tag: task.EventRestackConflict},
		}); err != nil {
			return task.Task{}, err
		}
		if t.State == task.StateRestacking {
			if err := s.applyTransitionWithStateEventLocked(ctx, &t, task.StateRestackConflict, at); err != nil {
				return task.Task{}, err
			}
		}
		return t, nil
	}

	if err := s.recordEventLocked(ctx, task.Event{
		ID: task.NewID(), TaskID: &t.ID, RepoID: &t.RepoID, At: at,
		Kind: task.EventKind{Tag: task.EventRestackCompleted},
	}); err != nil {
		return task.Task{}, err
	}
	if t.State == task.StateRestacking {
		if err := s.applyTransitionWithStateEventLocked(ctx, &t, task.StateVerifyingQuick, at); err != nil {
			return task.Task{}, err
		}
	}
	return t, nil
}

// StartRestack moves taskID to RESTACKING (if not already there) and emits
// RestackStarted.
func (s *Service) StartRestack(ctx context.Context, taskID string, at time.Time) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.store.LoadTask(ctx, taskID)
	if err != nil {
		return task.Task{}, fmt.Errorf("service: start restack: %w", err)
	}
	if t.State != task.StateRestacking {
		if err := s.applyTransitionWithStateEventLocked(ctx, &t, task.StateRestacking, at); err != nil {
			return task.Task{}, err
		}
	}
	if err := s.recordEventLocked(ctx, task.Event{
		ID: task.NewID(), TaskID: &t.ID, RepoID: &t.RepoID, At: at,
		Kind: task.EventKind{Tag: task.EventRestackStarted},
	}); err != nil {
		return task.Task{}, err
	}
	return t, nil
}

// StartVerify moves taskID to the VERIFYING_{QUICK,FULL} state matching
// tier (if not already there), marks VerifyStatus running, and emits
// VerifyRequested.
func (s *Service) StartVerify(ctx context.Context, taskID string, tier task.VerifyTier, at time.Time) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.store.LoadTask(ctx, taskID)
	if err != nil {
		return task.Task{}, fmt.Errorf("service: start verify: %w", err)
	}

	target := task.StateVerifyingQuick
	if tier == task.VerifyFull {
		target = task.StateVerifyingFull
	}
	if t.State != target {
		if err := s.applyTransitionWithStateEventLocked(ctx, &t, target, at); err != nil {
			return task.Task{}, err
		}
	}

	t.VerifyStatus = task.RunningVerifyStatus(tier)
	t.UpdatedAt = at
	if err := s.store.UpsertTask(ctx, t); err != nil {
		return task.Task{}, fmt.Errorf("service: upsert task %s: %w", t.ID, err)
	}

	if err := s.recordEventLocked(ctx, task.Event{
		ID: task.NewID(), TaskID: &t.ID, RepoID: &t.RepoID, At: at,
		Kind: task.EventKind{Tag: task.EventVerifyRequested, Tier: tier},
	}); err != nil {
		return task.Task{}, err
	}
	return t, nil
}

// StartSubmit moves taskID to SUBMITTING (if not already there) and emits
// SubmitStarted with mode.
func (s *Service) StartSubmit(ctx context.Context, taskID string, mode task.SubmitMode, at time.Time) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.store.LoadTask(ctx, taskID)
	if err != nil {
		return task.Task{}, fmt.Errorf("service: start submit: %w", err)
	}
	if t.State != task.StateSubmitting {
		if err := s.applyTransitionWithStateEventLocked(ctx, &t, task.StateSubmitting, at); err != nil {
			return task.Task{}, err
		}
	}
	if err := s.recordEventLocked(ctx, task.Event{
		ID: task.NewID(), TaskID: &t.ID, RepoID: &t.RepoID, At: at,
		Kind: task.EventKind{Tag: task.EventSubmitStarted, Mode: mode},
	}); err != nil {
		return task.Task{}, err
	}
	return t, nil
}

// MarkNeedsHuman forces taskID to NEEDS_HUMAN (if not already there) and
// records the reason, defaulting an empty/blank reason to a generic one.
func (s *Service) MarkNeedsHuman(ctx context.Context, taskID string, reason string, at time.Time) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.store.LoadTask(ctx, taskID)
	if err != nil {
		return task.Task{}, fmt.Errorf("service: mark needs human: %w", err)
	}
	if t.State != task.StateNeedsHuman {
		if err := s.applyTransitionWithStateEventLocked(ctx, &t, task.StateNeedsHuman, at); err != nil {
			return task.Task{}, err
		}
	}

	normalized := trimOrDefault(reason, "manual intervention required")
	if err := s.recordEventLocked(ctx, task.Event{
		ID: task.NewID(), TaskID: &t.ID, RepoID: &t.RepoID, At: at,
		Kind: task.EventKind{Tag: task.EventNeedsHuman, Reason: normalized},
	}); err != nil {
		return task.Task{}, err
	}
	return t, nil
}

func trimOrDefault(s, def string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return def
	}
	return trimmed
}

// CompleteSubmit records the outcome of a submit attempt: on success it
// emits SubmitCompleted and (if still SUBMITTING) moves the task to
// AWAITING_MERGE; on failure it emits an Error event and moves the task to
// FAILED.
func (s *Service) CompleteSubmit(ctx context.Context, taskID string, success bool, failureMessage string, at time.Time) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.store.LoadTask(ctx, taskID)
	if err != nil {
		return task.Task{}, fmt.Errorf("service: complete submit: %w", err)
	}

	if success {
		if err := s.recordEventLocked(ctx, task.Event{
			ID: task.NewID(), TaskID: &t.ID, RepoID: &t.RepoID, At: at,
			Kind: task.EventKind{Tag: task.EventSubmitCompleted},
		}); err != nil {
			return task.Task{}, err
		}
		if t.State == task.StateSubmitting {
			if err := s.applyTransitionWithStateEventLocked(ctx, &t, task.StateAwaitingMerge, at); err != nil {
				return task.Task{}, err
			}
		}
		return t, nil
	}

	if failureMessage == "" {
		failureMessage = "stack tool submit failed"
	}
	if err := s.recordEventLocked(ctx, task.Event{
		ID: task.NewID(), TaskID: &t.ID, RepoID: &t.RepoID, At: at,
		Kind: task.EventKind{Tag: task.EventError, Code: "submit_failed", Message: failureMessage},
	}); err != nil {
		return task.Task{}, err
	}
	if t.State == task.StateSubmitting {
		if err := s.applyTransitionWithStateEventLocked(ctx, &t, task.StateFailed, at); err != nil {
			return task.Task{}, err
		}
	}
	return t, nil
}

// PromoteTaskOutcome is the result of PromoteTaskAfterReview.
type PromoteTaskOutcome struct {
	Task       task.Task
	ReadyGate  lifecyclegate.ReadyGate
	AutoSubmit lifecyclegate.AutoSubmitDecision
}

// PromoteTaskAfterReview evaluates the ready gate for taskID and, if ready,
// flips any draft PR to ready-for-review, moves the task to READY, emits
// ReadyReached, and (if the submit policy allows it) immediately starts a
// SUBMITTING transition with the decided mode.
func (s *Service) PromoteTaskAfterReview(ctx context.Context, taskID string, readyInput lifecyclegate.ReadyGateInput, submitPolicy lifecyclegate.SubmitPolicy, at time.Time) (PromoteTaskOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.store.LoadTask(ctx, taskID)
	if err != nil {
		return PromoteTaskOutcome{}, fmt.Errorf("service: promote task after review: %w", err)
	}

	readyGate := lifecyclegate.EvaluateReadyGate(readyInput)
	autoSubmit := lifecyclegate.DecideAutoSubmit(submitPolicy, readyGate)

	if !readyGate.Ready {
		return PromoteTaskOutcome{Task: t, ReadyGate: readyGate, AutoSubmit: autoSubmit}, nil
	}

	if t.PR != nil && t.PR.Draft {
		t.PR.Draft = false
		t.UpdatedAt = at
		if err := s.store.UpsertTask(ctx, t); err != nil {
			return PromoteTaskOutcome{}, fmt.Errorf("service: upsert task %s: %w", t.ID, err)
		}
	}

	if t.State != task.StateReady {
		if err := s.applyTransitionWithStateEventLocked(ctx, &t, task.StateReady, at); err != nil {
			return PromoteTaskOutcome{}, err
		}
	}

	if err := s.recordEventLocked(ctx, task.Event{
		ID: task.NewID(), TaskID: &t.ID, RepoID: &t.RepoID, At: at,
		Kind: task.EventKind{Tag: task.EventReadyReached},
	}); err != nil {
		return PromoteTaskOutcome{}, err
	}

	if autoSubmit.ShouldSubmit {
		if err := s.applyTransitionWithStateEventLocked(ctx, &t, task.StateSubmitting, at); err != nil {
			return PromoteTaskOutcome{}, err
		}
		if err := s.recordEventLocked(ctx, task.Event{
			ID: task.NewID(), TaskID: &t.ID, RepoID: &t.RepoID, At: at,
			Kind: task.EventKind{Tag: task.EventSubmitStarted, Mode: *autoSubmit.Mode},
		}); err != nil {
			return PromoteTaskOutcome{}, err
		}
	}

	return PromoteTaskOutcome{Task: t, ReadyGate: readyGate, AutoSubmit: autoSubmit}, nil
}

// RestackTargetsForParentUpdate returns every task id that must restack
// because parentTaskID's branch head moved, walking the effective
// (explicit ∪ inferred) dependency graph over every task on file.
func (s *Service) RestackTargetsForParentUpdate(ctx context.Context, parentTaskID string, inferred []depgraph.InferredDependency) ([]string, error) {
	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: restack targets for parent update: %w", err)
	}
	graph := depgraph.Build(tasks, inferred)
	return depgraph.RestackDescendantsForParentHeadUpdate(graph, parentTaskID), nil
}

// RestackTargetsForEvent is RestackTargetsForParentUpdate gated on whether
// taskID's event kind actually represents a parent branch head moving.
func (s *Service) RestackTargetsForEvent(ctx context.Context, taskID string, kind task.EventKindTag, inferred []depgraph.InferredDependency) ([]string, error) {
	parentTaskID, ok := depgraph.ParentHeadUpdateTrigger(taskID, kind)
	if !ok {
		return nil, nil
	}
	return s.RestackTargetsForParentUpdate(ctx, parentTaskID, inferred)
}

// Schedule delegates to the configured admission scheduler.
func (s *Service) Schedule(sched scheduler.Scheduler, input scheduler.Input) scheduler.Decision {
	return sched.Plan(input)
}
