// Package delta computes compact, change-only operator reports between
// consecutive ticks instead of dumping full system state every time: a
// snapshot is diffed against the previous one, noisy or repeated changes are
// suppressed, and the result is rendered as a short human-readable report.
package delta

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ModelHealthState mirrors a model's current availability.
type ModelHealthState string

const (
	ModelHealthy  ModelHealthState = "healthy"
	ModelCooldown ModelHealthState = "cooldown"
	ModelDisabled ModelHealthState = "disabled"
)

// Snapshot is a lightweight view of system state at a point in time.
type Snapshot struct {
	At                time.Time
	TaskStates        map[string]string
	ModelHealth       map[string]ModelHealthState
	ContextGenStatus  string
	QAStates          map[string]string
	ActivePipelines   []string
	GenerationCount   uint64
	MergeCount        uint64
	StopCount         uint64
}

// NewSnapshot returns an empty snapshot with initialized maps, the baseline
// a reporter compares its first real snapshot against.
func NewSnapshot(at time.Time) Snapshot {
	return Snapshot{
		At:               at,
		TaskStates:       map[string]string{},
		ModelHealth:      map[string]ModelHealthState{},
		ContextGenStatus: "idle",
		QAStates:         map[string]string{},
	}
}

// ChangeKind is the closed set of change types a delta can contain.
type ChangeKind string

const (
	ChangeTaskStateChanged        ChangeKind = "task_state_changed"
	ChangeTaskAdded               ChangeKind = "task_added"
	ChangeTaskRemoved             ChangeKind = "task_removed"
	ChangeModelHealthChanged      ChangeKind = "model_health_changed"
	ChangeContextGenStatusChanged ChangeKind = "context_gen_status_changed"
	ChangeQAStateChanged          ChangeKind = "qa_state_changed"
	ChangeNewMerges               ChangeKind = "new_merges"
	ChangeNewStops                ChangeKind = "new_stops"
	ChangePipelineStarted         ChangeKind = "pipeline_started"
	ChangePipelineCompleted       ChangeKind = "pipeline_completed"
)

// Change is a single detected difference between two snapshots. Only the
// fields relevant to Kind are populated.
type Change struct {
	Kind      ChangeKind
	TaskID    string
	Model     string
	From      string
	To        string
	FromHealth ModelHealthState
	ToHealth   ModelHealthState
	Count     uint64
}

// ComputeDelta returns every change between prev and curr, in a stable,
// deterministic order (task changes, then model health, then context-gen,
// then QA, then pipeline starts/stops, then merge/stop counters).
func ComputeDelta(prev, curr Snapshot) []Change {
	var changes []Change

	for _, taskID := range sortedKeys(curr.TaskStates) {
		newState := curr.TaskStates[taskID]
		if oldState, ok := prev.TaskStates[taskID]; ok {
			if oldState != newState {
				changes = append(changes, Change{Kind: ChangeTaskStateChanged, TaskID: taskID, From: oldState, To: newState})
			}
		} else {
			changes = append(changes, Change{Kind: ChangeTaskAdded, TaskID: taskID, To: newState})
		}
	}

	for _, taskID := range sortedKeys(prev.TaskStates) {
		if _, ok := curr.TaskStates[taskID]; !ok {
			changes = append(changes, Change{Kind: ChangeTaskRemoved, TaskID: taskID, From: prev.TaskStates[taskID]})
		}
	}

	for _, model := range sortedKeys(curr.ModelHealth) {
		newHealth := curr.ModelHealth[model]
		if oldHealth, ok := prev.ModelHealth[model]; ok && oldHealth != newHealth {
			changes = append(changes, Change{Kind: ChangeModelHealthChanged, Model: model, FromHealth: oldHealth, ToHealth: newHealth})
		}
	}

	if prev.ContextGenStatus != curr.ContextGenStatus {
		changes = append(changes, Change{Kind: ChangeContextGenStatusChanged, From: prev.ContextGenStatus, To: curr.ContextGenStatus})
	}

	for _, taskID := range sortedKeys(curr.QAStates) {
		newState := curr.QAStates[taskID]
		if oldState, ok := prev.QAStates[taskID]; ok && oldState != newState {
			changes = append(changes, Change{Kind: ChangeQAStateChanged, TaskID: taskID, From: oldState, To: newState})
		}
	}

	prevPipelines := toSet(prev.ActivePipelines)
	currPipelines := toSet(curr.ActivePipelines)
	for _, id := range sortedSetKeys(currPipelines) {
		if !prevPipelines[id] {
			changes = append(changes, Change{Kind: ChangePipelineStarted, TaskID: id})
		}
	}
	for _, id := range sortedSetKeys(prevPipelines) {
		if !currPipelines[id] {
			changes = append(changes, Change{Kind: ChangePipelineCompleted, TaskID: id})
		}
	}

	if curr.MergeCount > prev.MergeCount {
		changes = append(changes, Change{Kind: ChangeNewMerges, Count: curr.MergeCount - prev.MergeCount})
	}
	if curr.StopCount > prev.StopCount {
		changes = append(changes, Change{Kind: ChangeNewStops, Count: curr.StopCount - prev.StopCount})
	}

	return changes
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}
	return set
}

func sortedSetKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SuppressionPolicy governs which changes get filtered out of a report and
// how often non-empty reports may be emitted.
type SuppressionPolicy struct {
	SuppressEmpty             bool
	SuppressContextIdleRepeat bool
	MinReportInterval         time.Duration
}

func DefaultSuppressionPolicy() SuppressionPolicy {
	return SuppressionPolicy{
		SuppressEmpty:             true,
		SuppressContextIdleRepeat: true,
		MinReportInterval:         30 * time.Second,
	}
}

// ApplySuppression filters out changes the policy deems too noisy to
// surface — currently just idle-to-idle context-gen status churn.
func ApplySuppression(changes []Change, policy SuppressionPolicy) []Change {
	filtered := make([]Change, 0, len(changes))
	for _, c := range changes {
		if policy.SuppressContextIdleRepeat && c.Kind == ChangeContextGenStatusChanged && c.From == "idle" && c.To == "idle" {
			continue
		}
		filtered = append(filtered, c)
	}
	return filtered
}

// highPriorityKinds bypass both the empty-change and rate-limit suppression
// checks — an operator should never miss a stop, a model going unhealthy, or
// a task disappearing, no matter how recently the last report fired.
var highPriorityKinds = map[ChangeKind]bool{
	ChangeNewStops:          true,
	ChangeModelHealthChanged: true,
	ChangeTaskRemoved:        true,
}

// ShouldEmit decides whether a report should be surfaced now, given when the
// last one fired and what changed.
func ShouldEmit(lastReportAt *time.Time, now time.Time, policy SuppressionPolicy, changes []Change) bool {
	for _, c := range changes {
		if highPriorityKinds[c.Kind] {
			return true
		}
	}

	if policy.SuppressEmpty && len(changes) == 0 {
		return false
	}

	if lastReportAt == nil {
		return true
	}
	return now.Sub(*lastReportAt) >= policy.MinReportInterval
}

// Summary is the aggregate counts section of a Report.
type Summary struct {
	TotalChanges int
	TaskChanges  int
	ModelChanges int
	QAChanges    int
	NewMerges    uint64
	NewStops     uint64
}

// Report is a single delta-based operator report for one tick.
type Report struct {
	GeneratedAt time.Time
	TickNumber  uint64
	Changes     []Change
	Summary     Summary
	Suppressed  bool
}

// BuildReport diffs prev against curr, applies suppression, and assembles
// the resulting report with its summary counts.
func BuildReport(prev, curr Snapshot, tickNumber uint64, policy SuppressionPolicy, now time.Time) Report {
	raw := ComputeDelta(prev, curr)
	changes := ApplySuppression(raw, policy)
	suppressed := policy.SuppressEmpty && len(changes) == 0 && len(raw) > 0

	var taskChanges, modelChanges, qaChanges int
	var newMerges, newStops uint64
	for _, c := range changes {
		switch c.Kind {
		case ChangeTaskStateChanged, ChangeTaskAdded, ChangeTaskRemoved:
			taskChanges++
		case ChangeModelHealthChanged:
			modelChanges++
		case ChangeQAStateChanged:
			qaChanges++
		case ChangeNewMerges:
			newMerges += c.Count
		case ChangeNewStops:
			newStops += c.Count
		}
	}

	return Report{
		GeneratedAt: now,
		TickNumber:  tickNumber,
		Changes:     changes,
		Summary: Summary{
			TotalChanges: len(changes),
			TaskChanges:  taskChanges,
			ModelChanges: modelChanges,
			QAChanges:    qaChanges,
			NewMerges:    newMerges,
			NewStops:     newStops,
		},
		Suppressed: suppressed,
	}
}

const (
	colorReset   = "\x1b[0m"
	colorRed     = "\x1b[31m"
	colorGreen   = "\x1b[32m"
	colorYellow  = "\x1b[33m"
	colorBlue    = "\x1b[34m"
	colorMagenta = "\x1b[35m"
	colorCyan    = "\x1b[36m"
	colorGray    = "\x1b[90m"
)

func stateColor(state string) string {
	switch state {
	case "merged", "ready":
		return colorGreen
	case "stopped":
		return colorRed
	case "chatting":
		return colorBlue
	case "submitting", "awaiting_merge":
		return colorYellow
	default:
		return colorReset
	}
}

// Render produces a human-readable rendering of a report, colored for a
// terminal operator view.
func Render(r Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s── Operator Report (tick #%d) ──%s\n", colorMagenta, r.TickNumber, colorReset)

	if len(r.Changes) == 0 {
		fmt.Fprintf(&b, "  %s(no changes)%s\n", colorGray, colorReset)
		return b.String()
	}

	fmt.Fprintf(&b, "  %d change(s): %d task, %d model, %d QA", r.Summary.TotalChanges, r.Summary.TaskChanges, r.Summary.ModelChanges, r.Summary.QAChanges)
	if r.Summary.NewMerges > 0 {
		fmt.Fprintf(&b, ", %d merge(s)", r.Summary.NewMerges)
	}
	if r.Summary.NewStops > 0 {
		fmt.Fprintf(&b, ", %d stop(s)", r.Summary.NewStops)
	}
	b.WriteByte('\n')

	for _, c := range r.Changes {
		switch c.Kind {
		case ChangeTaskStateChanged:
			fmt.Fprintf(&b, "  %s→%s%s  %s → %s\n", stateColor(c.To), c.TaskID, colorReset, c.From, c.To)
		case ChangeTaskAdded:
			fmt.Fprintf(&b, "  %s+ %s%s  (%s)\n", colorGreen, c.TaskID, colorReset, c.To)
		case ChangeTaskRemoved:
			fmt.Fprintf(&b, "  %s- %s%s  (was %s)\n", colorRed, c.TaskID, colorReset, c.From)
		case ChangeModelHealthChanged:
			fmt.Fprintf(&b, "  %s⚕ %s%s  %s → %s\n", colorYellow, c.Model, colorReset, c.FromHealth, c.ToHealth)
		case ChangeContextGenStatusChanged:
			fmt.Fprintf(&b, "  %s◉ context-gen%s  %s → %s\n", colorMagenta, colorReset, c.From, c.To)
		case ChangeQAStateChanged:
			fmt.Fprintf(&b, "  %s✓ QA/%s%s  %s → %s\n", colorCyan, c.TaskID, colorReset, c.From, c.To)
		case ChangeNewMerges:
			fmt.Fprintf(&b, "  %s✓ %d task(s) merged%s\n", colorGreen, c.Count, colorReset)
		case ChangeNewStops:
			fmt.Fprintf(&b, "  %s■ %d task(s) stopped%s\n", colorRed, c.Count, colorReset)
		case ChangePipelineStarted:
			fmt.Fprintf(&b, "  %s▶ pipeline started%s  %s\n", colorYellow, colorReset, c.TaskID)
		case ChangePipelineCompleted:
			fmt.Fprintf(&b, "  %s■ pipeline done%s  %s\n", colorGreen, colorReset, c.TaskID)
		}
	}

	return b.String()
}

// Reporter maintains cross-tick state for delta reporting: the previous
// snapshot, the last time a report was emitted, and running counters.
type Reporter struct {
	Policy                  SuppressionPolicy
	previousSnapshot        *Snapshot
	lastReportAt            *time.Time
	tickCount               uint64
	totalReportsEmitted     uint64
	totalReportsSuppressed  uint64
}

func NewReporter(policy SuppressionPolicy) *Reporter {
	return &Reporter{Policy: policy}
}

// ProcessTick folds in a new snapshot and returns a report if one should be
// emitted. The very first tick is compared against an empty baseline and
// only emitted if it already has task state to show.
func (r *Reporter) ProcessTick(snapshot Snapshot, now time.Time) *Report {
	r.tickCount++

	var report *Report
	if r.previousSnapshot != nil {
		built := BuildReport(*r.previousSnapshot, snapshot, r.tickCount, r.Policy, now)
		if ShouldEmit(r.lastReportAt, now, r.Policy, built.Changes) {
			r.lastReportAt = &now
			r.totalReportsEmitted++
			report = &built
		} else {
			r.totalReportsSuppressed++
		}
	} else if len(snapshot.TaskStates) > 0 {
		empty := NewSnapshot(now)
		built := BuildReport(empty, snapshot, r.tickCount, r.Policy, now)
		r.lastReportAt = &now
		r.totalReportsEmitted++
		report = &built
	} else {
		r.totalReportsSuppressed++
	}

	r.previousSnapshot = &snapshot
	return report
}

// SuppressionRate is the fraction of processed ticks whose report was
// suppressed, for operator-facing metrics.
func (r *Reporter) SuppressionRate() float64 {
	total := r.totalReportsEmitted + r.totalReportsSuppressed
	if total == 0 {
		return 0
	}
	return float64(r.totalReportsSuppressed) / float64(total)
}
