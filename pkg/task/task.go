// Package task defines Othala's core data model: the Task entity, its
// lifecycle state, the append-only Event record, reviewer Approvals, and
// AgentRun bookkeeping. Types here are pure data — no persistence, no I/O.
package task

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewID returns a fresh opaque identifier suitable for a Task or Event id.
// Pure components (state machine, gates, scheduler) never call this — only
// callers at the service/CLI boundary mint new ids, keeping the core
// deterministic and easy to test.
func NewID() string {
	return uuid.NewString()
}

// State is the tagged variant a Task's lifecycle occupies. See statemachine
// for the transition relation between these.
type State string

const (
	StateInitializing    State = "INITIALIZING"
	StateDraftPROpen     State = "DRAFT_PR_OPEN"
	StateRunning         State = "RUNNING"
	StateRestacking      State = "RESTACKING"
	StateRestackConflict State = "RESTACK_CONFLICT"
	StateVerifyingQuick  State = "VERIFYING_QUICK"
	StateVerifyingFull   State = "VERIFYING_FULL"
	StateReviewing       State = "REVIEWING"
	StateReady           State = "READY"
	StateSubmitting      State = "SUBMITTING"
	StateAwaitingMerge   State = "AWAITING_MERGE"
	StateMerged          State = "MERGED"
	StateNeedsHuman      State = "NEEDS_HUMAN"
	StateFailed          State = "FAILED"
)

// Terminal reports whether a state is one the task never leaves.
func (s State) Terminal() bool {
	return s == StateMerged || s == StateFailed
}

// Role tags the kind of contribution a task makes.
type Role string

const (
	RoleGeneral  Role = "general"
	RoleReviewer Role = "reviewer"
)

// Type tags the kind of work a task represents.
type Type string

const (
	TypeFeature  Type = "feature"
	TypeBugfix   Type = "bugfix"
	TypeChore    Type = "chore"
	TypeRefactor Type = "refactor"
)

// ModelKind is the closed set of agent model backends the core recognizes.
// The model-registry catalog itself (pricing, routing, health) is external;
// this enum only exists so the core can tag tasks/reviewers/approvals.
type ModelKind string

const (
	ModelClaude ModelKind = "claude"
	ModelCodex  ModelKind = "codex"
	ModelGemini ModelKind = "gemini"
)

// SubmitMode controls whether a task's branch is submitted alone or as part
// of its stack.
type SubmitMode string

const (
	SubmitSingle SubmitMode = "single"
	SubmitStack  SubmitMode = "stack"
)

// VerifyTier is the scope of a verification run.
type VerifyTier string

const (
	VerifyQuick VerifyTier = "quick"
	VerifyFull  VerifyTier = "full"
)

// VerifyStatusKind tags the shape of VerifyStatus.
type VerifyStatusKind string

const (
	VerifyStatusNotRun  VerifyStatusKind = "not_run"
	VerifyStatusRunning VerifyStatusKind = "running"
	VerifyStatusPassed  VerifyStatusKind = "passed"
	VerifyStatusFailed  VerifyStatusKind = "failed"
)

// VerifyStatus is the tagged variant of a task's verification outcome.
type VerifyStatus struct {
	Kind    VerifyStatusKind `json:"kind"`
	Tier    VerifyTier       `json:"tier,omitempty"`
	Summary string           `json:"summary,omitempty"`
}

// NotRunVerifyStatus is the zero/initial verify status.
func NotRunVerifyStatus() VerifyStatus {
	return VerifyStatus{Kind: VerifyStatusNotRun}
}

// RunningVerifyStatus reports a verification tier in progress.
func RunningVerifyStatus(tier VerifyTier) VerifyStatus {
	return VerifyStatus{Kind: VerifyStatusRunning, Tier: tier}
}

// PassedVerifyStatus reports a verification tier that passed.
func PassedVerifyStatus(tier VerifyTier) VerifyStatus {
	return VerifyStatus{Kind: VerifyStatusPassed, Tier: tier}
}

// FailedVerifyStatus reports a verification tier that failed, with a summary.
func FailedVerifyStatus(tier VerifyTier, summary string) VerifyStatus {
	return VerifyStatus{Kind: VerifyStatusFailed, Tier: tier, Summary: summary}
}

// ReviewCapacityState reports whether enough reviewers are available.
type ReviewCapacityState string

const (
	CapacitySufficient ReviewCapacityState = "sufficient"
	CapacityNeedsHuman ReviewCapacityState = "needs_human"
)

// ReviewStatus tracks a task's review requirement and progress.
type ReviewStatus struct {
	RequiredModels    []ModelKind         `json:"required_models"`
	ApprovalsReceived int                 `json:"approvals_received"`
	ApprovalsRequired int                 `json:"approvals_required"`
	Unanimous         bool                `json:"unanimous"`
	CapacityState     ReviewCapacityState `json:"capacity_state"`
}

// PullRequestRef identifies the VCS-hosted pull/merge request for a task.
type PullRequestRef struct {
	Number uint64 `json:"number"`
	URL    string `json:"url"`
	Draft  bool   `json:"draft"`
}

// Task is one unit of agent work on one repository.
type Task struct {
	ID             string          `json:"id"`
	RepoID         string          `json:"repo_id"`
	Title          string          `json:"title"`
	State          State           `json:"state"`
	Role           Role            `json:"role"`
	Type           Type            `json:"type"`
	PreferredModel *ModelKind      `json:"preferred_model,omitempty"`
	DependsOn      []string        `json:"depends_on"`
	SubmitMode     SubmitMode      `json:"submit_mode"`
	BranchName     *string         `json:"branch_name,omitempty"`
	WorktreePath   string          `json:"worktree_path"`
	PR             *PullRequestRef `json:"pr,omitempty"`
	VerifyStatus   VerifyStatus    `json:"verify_status"`
	ReviewStatus   ReviewStatus    `json:"review_status"`
	PatchReady     bool            `json:"patch_ready"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Clone returns a deep-enough copy of the task for safe mutation by callers
// that must not alias the original (e.g. service read-modify-write steps).
func (t Task) Clone() Task {
	out := t
	out.DependsOn = append([]string(nil), t.DependsOn...)
	out.ReviewStatus.RequiredModels = append([]ModelKind(nil), t.ReviewStatus.RequiredModels...)
	if t.PreferredModel != nil {
		m := *t.PreferredModel
		out.PreferredModel = &m
	}
	if t.BranchName != nil {
		b := *t.BranchName
		out.BranchName = &b
	}
	if t.PR != nil {
		pr := *t.PR
		out.PR = &pr
	}
	return out
}

// NormalizeTitle produces a stack-branch-safe label from free text: lower
// case, non-alphanumerics collapsed to single hyphens, edges trimmed, capped
// at 48 characters so branch names stay reasonable.
func NormalizeTitle(title string) string {
	lower := strings.ToLower(strings.TrimSpace(title))
	var b strings.Builder
	lastWasHyphen := false
	for _, r := range lower {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastWasHyphen = false
		default:
			if !lastWasHyphen && b.Len() > 0 {
				b.WriteByte('-')
				lastWasHyphen = true
			}
		}
	}
	out := strings.Trim(b.String(), "-")
	if len(out) > 48 {
		out = strings.Trim(out[:48], "-")
	}
	if out == "" {
		out = "task"
	}
	return out
}

// EventKindTag is the closed set of event kind discriminators.
type EventKindTag string

const (
	EventTaskCreated      EventKindTag = "TaskCreated"
	EventTaskStateChanged EventKindTag = "TaskStateChanged"
	EventDraftPrCreated   EventKindTag = "DraftPrCreated"
	EventVerifyRequested  EventKindTag = "VerifyRequested"
	EventVerifyCompleted  EventKindTag = "VerifyCompleted"
	EventRestackStarted   EventKindTag = "RestackStarted"
	EventRestackCompleted EventKindTag = "RestackCompleted"
	EventRestackConflict  EventKindTag = "RestackConflict"
	EventReviewRequested  EventKindTag = "ReviewRequested"
	EventReviewCompleted  EventKindTag = "ReviewCompleted"
	EventSubmitStarted    EventKindTag = "SubmitStarted"
	EventSubmitCompleted  EventKindTag = "SubmitCompleted"
	EventReadyReached     EventKindTag = "ReadyReached"
	EventNeedsHuman       EventKindTag = "NeedsHuman"
	EventError            EventKindTag = "Error"
)

// ReviewVerdict is a reviewer's verdict on a task.
type ReviewVerdict string

const (
	VerdictApprove       ReviewVerdict = "approve"
	VerdictRequestChange ReviewVerdict = "request_changes"
	VerdictComment       ReviewVerdict = "comment"
)

// GraphiteHygieneReport is a reviewer's assessment of stack hygiene
// (tracked branches, clean rebase state, no stray commits) — the ready
// gate requires Ok before a task can promote out of REVIEWING.
type GraphiteHygieneReport struct {
	Ok    bool   `json:"ok"`
	Notes string `json:"notes,omitempty"`
}

// TestAssessment is a reviewer's judgment on whether the change carries
// adequate test coverage.
type TestAssessment struct {
	Ok    bool   `json:"ok"`
	Notes string `json:"notes,omitempty"`
}

// ReviewOutput is what a reviewer produced for a ReviewCompleted event.
type ReviewOutput struct {
	Verdict         ReviewVerdict          `json:"verdict"`
	Summary         string                 `json:"summary,omitempty"`
	Issues          []string               `json:"issues,omitempty"`
	RiskFlags       []string               `json:"risk_flags,omitempty"`
	GraphiteHygiene GraphiteHygieneReport  `json:"graphite_hygiene"`
	TestAssessment  TestAssessment         `json:"test_assessment"`
}

// EventKind is the closed, tagged payload for an Event. Only the fields
// grouped under Tag's kind carry meaning; the others stay at their zero
// values.
type EventKind struct {
	Tag EventKindTag `json:"type"`

	// TaskStateChanged
	From State `json:"from,omitempty"`
	To   State `json:"to,omitempty"`

	// DraftPrCreated
	Number uint64 `json:"number,omitempty"`
	URL    string `json:"url,omitempty"`

	// VerifyRequested / VerifyCompleted
	Tier    VerifyTier `json:"tier,omitempty"`
	Success bool       `json:"success,omitempty"`

	// ReviewRequested
	RequiredModels []ModelKind `json:"required_models,omitempty"`

	// ReviewCompleted
	Reviewer ModelKind    `json:"reviewer,omitempty"`
	Output   ReviewOutput `json:"output,omitempty"`

	// SubmitStarted
	Mode SubmitMode `json:"mode,omitempty"`

	// NeedsHuman
	Reason string `json:"reason,omitempty"`

	// Error
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Event is an immutable record of something that happened to a task or repo.
type Event struct {
	ID     string    `json:"id"`
	TaskID *string   `json:"task_id,omitempty"`
	RepoID *string   `json:"repo_id,omitempty"`
	At     time.Time `json:"at"`
	Kind   EventKind `json:"kind"`
}

// Approval is a reviewer's recorded verdict. A second approval from the same
// reviewer replaces the first (upsert by task+reviewer).
type Approval struct {
	TaskID   string        `json:"task_id"`
	Reviewer ModelKind     `json:"reviewer"`
	Verdict  ReviewVerdict `json:"verdict"`
	IssuedAt time.Time     `json:"issued_at"`
}

// AgentRunStatus is the lifecycle of a spawned agent subprocess.
type AgentRunStatus string

const (
	AgentRunRunning AgentRunStatus = "running"
	AgentRunExited  AgentRunStatus = "exited"
	AgentRunKilled  AgentRunStatus = "killed"
)

// AgentRun records one subprocess spawn for a task.
type AgentRun struct {
	ID        string         `json:"id"`
	TaskID    string         `json:"task_id"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   *time.Time     `json:"ended_at,omitempty"`
	Status    AgentRunStatus `json:"status"`
	ExitCode  *int           `json:"exit_code,omitempty"`
	Reason    string         `json:"reason,omitempty"`
}
