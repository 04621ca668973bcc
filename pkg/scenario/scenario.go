// Package scenario tests the orchestrator itself — not a single repo's
// build/test/lint pipeline, but the task-creation → agent-spawn → verify →
// submit → merge lifecycle — against a lightweight simulated task model,
// with deterministic chaos fault injection and a soak-test mode for
// long-running stability checks.
package scenario

import (
	"fmt"
	"strings"
	"time"
)

// Scenario is a declarative orchestration test case: an ordered list of
// steps executed against a fresh Runner.
type Scenario struct {
	Name        string
	Description string
	Steps       []Step
	Timeout     time.Duration
	Tags        []string
	Critical    bool
}

func defaultTimeout() time.Duration { return 10 * time.Minute }

// StepKind is the closed set of actions a Step may perform.
type StepKind string

const (
	StepCreateTask        StepKind = "create_task"
	StepExpectState       StepKind = "expect_state"
	StepCompleteAgent     StepKind = "complete_agent"
	StepSimulateVerify    StepKind = "simulate_verify"
	StepSimulateQA        StepKind = "simulate_qa"
	StepInjectChaos       StepKind = "inject_chaos"
	StepClearChaos        StepKind = "clear_chaos"
	StepWaitTicks         StepKind = "wait_ticks"
	StepAssertMetric      StepKind = "assert_metric"
	StepAssertNoStuckTasks StepKind = "assert_no_stuck_tasks"
	StepSimulateMerge     StepKind = "simulate_merge"
	StepAssertTaskCount   StepKind = "assert_task_count"
	StepLog               StepKind = "log"
)

// CompareOp is a metric-assertion comparison operator.
type CompareOp string

const (
	OpEq  CompareOp = "eq"
	OpGt  CompareOp = "gt"
	OpGte CompareOp = "gte"
	OpLt  CompareOp = "lt"
	OpLte CompareOp = "lte"
)

func (op CompareOp) Evaluate(lhs, rhs float64) bool {
	switch op {
	case OpEq:
		diff := lhs - rhs
		return diff > -1e-9 && diff < 1e-9
	case OpGt:
		return lhs > rhs
	case OpGte:
		return lhs >= rhs
	case OpLt:
		return lhs < rhs
	case OpLte:
		return lhs <= rhs
	default:
		return false
	}
}

// Step is a single scenario step. Only the fields relevant to Kind are
// populated.
type Step struct {
	Kind StepKind

	TaskID         string
	Description    string
	ExpectedState  string
	Success        bool
	Model          string
	QAPassed       bool
	FailedTests    []string
	Fault          ChaosFault
	WaitCount      uint64
	Metric         string
	Op             CompareOp
	Value          float64
	MaxUnchanged   uint64
	ExpectedCount  int
	Message        string
}

// ChaosFaultKind is the closed set of faults a scenario can inject.
type ChaosFaultKind string

const (
	FaultAgentCrash        ChaosFaultKind = "agent_crash"
	FaultGraphiteFailure   ChaosFaultKind = "graphite_failure"
	FaultContextGenFailure ChaosFaultKind = "context_gen_failure"
	FaultModelHealthDrop   ChaosFaultKind = "model_health_drop"
	FaultNetworkOutage     ChaosFaultKind = "network_outage"
	FaultDiskFull          ChaosFaultKind = "disk_full"
	FaultAgentHang         ChaosFaultKind = "agent_hang"
)

// ChaosFault is one active fault, optionally targeting a specific task or
// model.
type ChaosFault struct {
	Kind      ChaosFaultKind
	TaskID    string
	Model     string
	Operation string
}

func (f ChaosFault) Label() string { return string(f.Kind) }

// ChaosPolicy tracks which faults are currently active.
type ChaosPolicy struct {
	ActiveFaults           []ChaosFault
	RandomFaultProbability float64
	MaxConcurrentFaults    int
}

func DefaultChaosPolicy() ChaosPolicy {
	return ChaosPolicy{MaxConcurrentFaults: 3}
}

// Inject adds a fault to the active set, returning false if the policy is
// already at its concurrency limit.
func (p *ChaosPolicy) Inject(fault ChaosFault) bool {
	if len(p.ActiveFaults) >= p.MaxConcurrentFaults {
		return false
	}
	p.ActiveFaults = append(p.ActiveFaults, fault)
	return true
}

func (p *ChaosPolicy) Clear() {
	p.ActiveFaults = nil
}

func (p *ChaosPolicy) HasFault(kind ChaosFaultKind) bool {
	for _, f := range p.ActiveFaults {
		if f.Kind == kind {
			return true
		}
	}
	return false
}

// FaultForTask returns the first active fault targeting taskID, if any.
func (p *ChaosPolicy) FaultForTask(taskID string) (ChaosFault, bool) {
	for _, f := range p.ActiveFaults {
		if (f.Kind == FaultAgentCrash || f.Kind == FaultAgentHang) && f.TaskID == taskID {
			return f, true
		}
	}
	return ChaosFault{}, false
}

// ProgressionConfig tunes how many ticks a simulated task spends in each
// state before auto-progressing to the next, and is the Go module's
// resolution of an otherwise-undocumented reference behavior: the thresholds
// below (5/2/3/4) match the reference's hardcoded values but are exposed
// here as overridable fields rather than inlined constants.
type ProgressionConfig struct {
	ChattingToReady          uint64
	ReadyToSubmitting        uint64
	SubmittingToAwaitingMerge uint64
	AwaitingMergeToMerged    uint64
}

func DefaultProgressionConfig() ProgressionConfig {
	return ProgressionConfig{
		ChattingToReady:           5,
		ReadyToSubmitting:         2,
		SubmittingToAwaitingMerge: 3,
		AwaitingMergeToMerged:     4,
	}
}

// SimulatedTask is a lightweight stand-in for a real task, used only for
// scenario execution — not backed by pkg/task/pkg/statemachine.
type SimulatedTask struct {
	TaskID        string
	Description   string
	State         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	TicksInState  uint64
	Transitions   []StateTransitionRecord
}

// StateTransitionRecord records one simulated state transition.
type StateTransitionRecord struct {
	From   string
	To     string
	AtTick uint64
	Reason string
}

func NewSimulatedTask(taskID, description string, now time.Time) *SimulatedTask {
	return &SimulatedTask{
		TaskID:      taskID,
		Description: description,
		State:       "CHATTING",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (t *SimulatedTask) Transition(to string, tick uint64, reason string, now time.Time) {
	t.Transitions = append(t.Transitions, StateTransitionRecord{From: t.State, To: to, AtTick: tick, Reason: reason})
	t.State = to
	t.TicksInState = 0
	t.UpdatedAt = now
}

func (t *SimulatedTask) Tick() { t.TicksInState++ }

func (t *SimulatedTask) IsTerminal() bool { return t.State == "MERGED" || t.State == "STOPPED" }

// Metrics is the set of system-level counters tracked during execution.
type Metrics struct {
	TotalTicks        uint64
	TasksCreated      uint64
	TasksMerged       uint64
	TasksStopped      uint64
	AgentSpawns       uint64
	AgentCompletions  uint64
	VerifyRuns        uint64
	QARuns            uint64
	ChaosInjections   uint64
	StuckDetections   uint64
	StateTransitions  uint64
}

// Get looks up a metric by name for StepAssertMetric, returning false for
// an unrecognized name.
func (m Metrics) Get(name string) (float64, bool) {
	switch name {
	case "total_ticks":
		return float64(m.TotalTicks), true
	case "tasks_created":
		return float64(m.TasksCreated), true
	case "tasks_merged":
		return float64(m.TasksMerged), true
	case "tasks_stopped":
		return float64(m.TasksStopped), true
	case "agent_spawns":
		return float64(m.AgentSpawns), true
	case "agent_completions":
		return float64(m.AgentCompletions), true
	case "verify_runs":
		return float64(m.VerifyRuns), true
	case "qa_runs":
		return float64(m.QARuns), true
	case "chaos_injections":
		return float64(m.ChaosInjections), true
	case "stuck_detections":
		return float64(m.StuckDetections), true
	case "state_transitions":
		return float64(m.StateTransitions), true
	default:
		return 0, false
	}
}

// StepResult is the outcome of one executed step.
type StepResult struct {
	StepIndex int
	Action    StepKind
	Passed    bool
	Detail    string
}

// Result is the outcome of running one scenario.
type Result struct {
	ScenarioName string
	Passed       bool
	StepResults  []StepResult
	Metrics      Metrics
	StartedAt    time.Time
	EndedAt      time.Time
	Duration     time.Duration
	Error        string
}

// SuiteResult aggregates the outcome of running a set of scenarios.
type SuiteResult struct {
	Total    int
	Passed   int
	Failed   int
	Skipped  int
	Results  []Result
	Started  time.Time
	Ended    time.Time
	Duration time.Duration
}

func (s SuiteResult) Summary() string {
	status := "PASS"
	if s.Failed > 0 {
		status = "FAIL"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "E2E Orchestration Suite: %s (%d/%d passed, %d failed, %d skipped) [%.1fs]\n",
		status, s.Passed, s.Total, s.Failed, s.Skipped, s.Duration.Seconds())
	for _, r := range s.Results {
		mark := "✓"
		if !r.Passed {
			mark = "✗"
		}
		fmt.Fprintf(&b, "  %s %s [%.1fs]\n", mark, r.ScenarioName, r.Duration.Seconds())
		if r.Error != "" {
			fmt.Fprintf(&b, "    %s\n", r.Error)
		}
	}
	return b.String()
}

// Runner executes scenarios against a simulated system state.
type Runner struct {
	Tasks        map[string]*SimulatedTask
	Chaos        ChaosPolicy
	Metrics      Metrics
	CurrentTick  uint64
	Log          []string
	Progression  ProgressionConfig

	now func() time.Time
}

// NewRunner constructs a Runner. now supplies the current time for every
// timestamped event (a fixed clock in tests, time.Now in production).
func NewRunner(now func() time.Time) *Runner {
	return &Runner{
		Tasks:       map[string]*SimulatedTask{},
		Chaos:       DefaultChaosPolicy(),
		Progression: DefaultProgressionConfig(),
		now:         now,
	}
}

func (r *Runner) Reset() {
	r.Tasks = map[string]*SimulatedTask{}
	r.Chaos.Clear()
	r.Metrics = Metrics{}
	r.CurrentTick = 0
	r.Log = nil
}

// RunScenario resets the runner and executes every step of scenario in
// order, stopping early if the scenario's timeout elapses.
func (r *Runner) RunScenario(s Scenario) Result {
	r.Reset()
	started := r.now()
	timeout := s.Timeout
	if timeout == 0 {
		timeout = defaultTimeout()
	}

	var stepResults []StepResult
	passed := true
	var errMsg string

	for i, step := range s.Steps {
		result := r.executeStep(i, step)
		if !result.Passed {
			passed = false
			if errMsg == "" {
				errMsg = fmt.Sprintf("Step %d (%s) failed: %s", i, result.Action, result.Detail)
			}
		}
		stepResults = append(stepResults, result)

		if r.now().Sub(started) > timeout {
			passed = false
			errMsg = fmt.Sprintf("Scenario timed out after %s (limit: %s)", r.now().Sub(started), timeout)
			break
		}
	}

	ended := r.now()
	return Result{
		ScenarioName: s.Name,
		Passed:       passed,
		StepResults:  stepResults,
		Metrics:      r.Metrics,
		StartedAt:    started,
		EndedAt:      ended,
		Duration:     ended.Sub(started),
		Error:        errMsg,
	}
}

// RunSuite executes every scenario in scenarios independently, aggregating
// pass/fail counts.
func (r *Runner) RunSuite(scenarios []Scenario) SuiteResult {
	started := r.now()
	var results []Result
	var passed, failed int

	for _, s := range scenarios {
		result := r.RunScenario(s)
		if result.Passed {
			passed++
		} else {
			failed++
		}
		results = append(results, result)
	}

	ended := r.now()
	return SuiteResult{
		Total:    len(scenarios),
		Passed:   passed,
		Failed:   failed,
		Results:  results,
		Started:  started,
		Ended:    ended,
		Duration: ended.Sub(started),
	}
}

func (r *Runner) executeStep(index int, step Step) StepResult {
	now := r.now()
	switch step.Kind {
	case StepCreateTask:
		task := NewSimulatedTask(step.TaskID, step.Description, now)
		r.Tasks[step.TaskID] = task
		r.Metrics.TasksCreated++
		r.logf("Created task %s", step.TaskID)
		return StepResult{index, step.Kind, true, fmt.Sprintf("Created task %s", step.TaskID)}

	case StepExpectState:
		task, ok := r.Tasks[step.TaskID]
		if !ok {
			return StepResult{index, step.Kind, false, fmt.Sprintf("Task %s not found", step.TaskID)}
		}
		if task.State == step.ExpectedState {
			return StepResult{index, step.Kind, true, fmt.Sprintf("Task %s is in %s as expected", step.TaskID, step.ExpectedState)}
		}
		return StepResult{index, step.Kind, false, fmt.Sprintf("Task %s expected %s but was %s", step.TaskID, step.ExpectedState, task.State)}

	case StepCompleteAgent:
		r.Metrics.AgentSpawns++
		r.Metrics.AgentCompletions++
		if fault, ok := r.Chaos.FaultForTask(step.TaskID); ok {
			r.logf("Chaos: %s for task %s", fault.Label(), step.TaskID)
			if task, ok := r.Tasks[step.TaskID]; ok {
				task.Transition("CHATTING", r.CurrentTick, "chaos: "+fault.Label(), now)
				r.Metrics.StateTransitions++
			}
			return StepResult{index, step.Kind, true, fmt.Sprintf("Agent for %s intercepted by chaos: %s", step.TaskID, fault.Label())}
		}
		task, ok := r.Tasks[step.TaskID]
		if !ok {
			return StepResult{index, step.Kind, false, fmt.Sprintf("Task %s not found", step.TaskID)}
		}
		if step.Success {
			task.Transition("READY", r.CurrentTick, fmt.Sprintf("agent %s completed", step.Model), now)
		} else {
			task.Transition("CHATTING", r.CurrentTick, fmt.Sprintf("agent %s failed, retrying", step.Model), now)
		}
		r.Metrics.StateTransitions++
		return StepResult{index, step.Kind, true, fmt.Sprintf("Agent %s for task %s: success=%v", step.Model, step.TaskID, step.Success)}

	case StepSimulateVerify:
		r.Metrics.VerifyRuns++
		task, ok := r.Tasks[step.TaskID]
		if !ok {
			return StepResult{index, step.Kind, false, fmt.Sprintf("Task %s not found", step.TaskID)}
		}
		if step.Success {
			task.Transition("SUBMITTING", r.CurrentTick, "verify passed", now)
		} else {
			task.Transition("CHATTING", r.CurrentTick, "verify failed", now)
		}
		r.Metrics.StateTransitions++
		return StepResult{index, step.Kind, true, fmt.Sprintf("Verify for %s: success=%v", step.TaskID, step.Success)}

	case StepSimulateQA:
		r.Metrics.QARuns++
		task, ok := r.Tasks[step.TaskID]
		if !ok {
			return StepResult{index, step.Kind, false, fmt.Sprintf("Task %s not found", step.TaskID)}
		}
		if step.QAPassed {
			r.logf("QA passed for %s", step.TaskID)
		} else {
			task.Transition("CHATTING", r.CurrentTick, fmt.Sprintf("QA failed: %d test(s)", len(step.FailedTests)), now)
			r.Metrics.StateTransitions++
		}
		return StepResult{index, step.Kind, true, fmt.Sprintf("QA for %s: passed=%v, failed_tests=%v", step.TaskID, step.QAPassed, step.FailedTests)}

	case StepInjectChaos:
		injected := r.Chaos.Inject(step.Fault)
		r.Metrics.ChaosInjections++
		r.logf("Chaos injected: %s", step.Fault.Label())
		if injected {
			return StepResult{index, step.Kind, true, fmt.Sprintf("Injected chaos: %s", step.Fault.Label())}
		}
		return StepResult{index, step.Kind, false, fmt.Sprintf("Failed to inject chaos: %s (max concurrent reached)", step.Fault.Label())}

	case StepClearChaos:
		count := len(r.Chaos.ActiveFaults)
		r.Chaos.Clear()
		r.logf("Cleared %d chaos faults", count)
		return StepResult{index, step.Kind, true, fmt.Sprintf("Cleared %d active faults", count)}

	case StepWaitTicks:
		for i := uint64(0); i < step.WaitCount; i++ {
			r.CurrentTick++
			r.Metrics.TotalTicks++
			for _, task := range r.Tasks {
				task.Tick()
			}
			r.simulateTickProgression(r.CurrentTick, now.Add(time.Duration(r.CurrentTick)*time.Second))
		}
		return StepResult{index, step.Kind, true, fmt.Sprintf("Waited %d ticks (now at tick %d)", step.WaitCount, r.CurrentTick)}

	case StepAssertMetric:
		actual, ok := r.Metrics.Get(step.Metric)
		if !ok {
			return StepResult{index, step.Kind, false, fmt.Sprintf("Unknown metric: %s", step.Metric)}
		}
		passed := step.Op.Evaluate(actual, step.Value)
		status := "ok"
		if !passed {
			status = "FAILED"
		}
		return StepResult{index, step.Kind, passed, fmt.Sprintf("Metric '%s': %v %s %v => %s", step.Metric, actual, step.Op, step.Value, status)}

	case StepAssertNoStuckTasks:
		var stuck []string
		for _, task := range r.Tasks {
			if !task.IsTerminal() && task.TicksInState >= step.MaxUnchanged {
				stuck = append(stuck, fmt.Sprintf("%s(%s, %d ticks)", task.TaskID, task.State, task.TicksInState))
			}
		}
		if len(stuck) == 0 {
			return StepResult{index, step.Kind, true, fmt.Sprintf("No tasks stuck for >= %d ticks", step.MaxUnchanged)}
		}
		return StepResult{index, step.Kind, false, fmt.Sprintf("%d task(s) stuck: %s", len(stuck), strings.Join(stuck, ", "))}

	case StepSimulateMerge:
		task, ok := r.Tasks[step.TaskID]
		if !ok {
			return StepResult{index, step.Kind, false, fmt.Sprintf("Task %s not found", step.TaskID)}
		}
		task.Transition("MERGED", r.CurrentTick, "PR merged", now)
		r.Metrics.TasksMerged++
		r.Metrics.StateTransitions++
		return StepResult{index, step.Kind, true, fmt.Sprintf("Merged task %s", step.TaskID)}

	case StepAssertTaskCount:
		actual := len(r.Tasks)
		passed := actual == step.ExpectedCount
		return StepResult{index, step.Kind, passed, fmt.Sprintf("Task count: %d (expected %d)", actual, step.ExpectedCount)}

	case StepLog:
		r.logf("%s", step.Message)
		return StepResult{index, step.Kind, true, step.Message}

	default:
		return StepResult{index, step.Kind, false, fmt.Sprintf("unknown step kind %q", step.Kind)}
	}
}

func (r *Runner) logf(format string, args ...any) {
	r.Log = append(r.Log, fmt.Sprintf("[tick %d] %s", r.CurrentTick, fmt.Sprintf(format, args...)))
}

// simulateTickProgression is a simplified model of what the real
// runtime.Engine.Tick does: move each non-chaos-targeted task forward once
// it has spent long enough in its current state.
func (r *Runner) simulateTickProgression(tick uint64, now time.Time) {
	for taskID, task := range r.Tasks {
		if _, ok := r.Chaos.FaultForTask(taskID); ok {
			continue
		}
		var next string
		switch task.State {
		case "CHATTING":
			if task.TicksInState >= r.Progression.ChattingToReady {
				next = "READY"
			}
		case "READY":
			if task.TicksInState >= r.Progression.ReadyToSubmitting {
				next = "SUBMITTING"
			}
		case "SUBMITTING":
			if task.TicksInState >= r.Progression.SubmittingToAwaitingMerge {
				next = "AWAITING_MERGE"
			}
		case "AWAITING_MERGE":
			if task.TicksInState >= r.Progression.AwaitingMergeToMerged {
				next = "MERGED"
			}
		}
		if next == "" {
			continue
		}
		reason := fmt.Sprintf("auto-progress after %d ticks", task.TicksInState)
		task.Transition(next, tick, reason, now)
		r.Metrics.StateTransitions++
		if next == "MERGED" {
			r.Metrics.TasksMerged++
		}
	}
}

// SoakConfig tunes a long-running soak test.
type SoakConfig struct {
	TotalTicks          uint64
	StuckThresholdTicks uint64
	MaxErrorRatePct     float64
	EnableChaos         bool
	ChaosProbability    float64
	ReportIntervalTicks uint64
}

func DefaultSoakConfig() SoakConfig {
	return SoakConfig{
		TotalTicks:          1000,
		StuckThresholdTicks: 50,
		MaxErrorRatePct:     20.0,
		ChaosProbability:    0.05,
		ReportIntervalTicks: 100,
	}
}

// StuckTaskInfo describes a task detected as stuck during a soak run.
type StuckTaskInfo struct {
	TaskID         string
	State          string
	TicksInState   uint64
	DetectedAtTick uint64
}

// SoakProgressReport is a periodic snapshot emitted during a soak run.
type SoakProgressReport struct {
	Tick          uint64
	ActiveTasks   int
	TerminalTasks int
	StuckTasks    int
	ChaosActive   bool
}

// SoakResult is the outcome of a soak test.
type SoakResult struct {
	Passed           bool
	TotalTicks       uint64
	StuckTasks       []StuckTaskInfo
	ErrorRatePct     float64
	ChaosEvents      uint64
	ProgressReports  []SoakProgressReport
	Duration         time.Duration
	Error            string
}

func (s SoakResult) Summary() string {
	status := "PASS"
	if !s.Passed {
		status = "FAIL"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Soak Test: %s (%d ticks, %.1f%% error rate, %d stuck tasks) [%.1fs]\n",
		status, s.TotalTicks, s.ErrorRatePct, len(s.StuckTasks), s.Duration.Seconds())
	if len(s.StuckTasks) > 0 {
		b.WriteString("  Stuck tasks:\n")
		for _, st := range s.StuckTasks {
			fmt.Fprintf(&b, "    - %s in %s for %d ticks (detected at tick %d)\n", st.TaskID, st.State, st.TicksInState, st.DetectedAtTick)
		}
	}
	if s.Error != "" {
		fmt.Fprintf(&b, "  Error: %s\n", s.Error)
	}
	return b.String()
}

// RunSoak simulates TotalTicks ticks of autonomous progression starting
// from initialTasks, recording a deterministic chaos event every 20th tick
// (offset 7, matching the reference's fixed tick%20==7 schedule) when
// enabled, and flags the run as failed if any task gets stuck or the
// stopped-task rate exceeds the configured bound. A chaos event only
// increments ChaosEvents and Metrics.ChaosInjections; no fault is added to
// the chaos policy, so task progression is unaffected by it.
func (r *Runner) RunSoak(cfg SoakConfig, initialTasks []struct{ ID, Description string }) SoakResult {
	r.Reset()
	start := r.now()
	now := start

	for _, it := range initialTasks {
		r.Tasks[it.ID] = NewSimulatedTask(it.ID, it.Description, now)
		r.Metrics.TasksCreated++
	}

	var stuckTasks []StuckTaskInfo
	var progressReports []SoakProgressReport
	var chaosEvents uint64
	seenStuck := map[string]bool{}

	for tick := uint64(0); tick < cfg.TotalTicks; tick++ {
		r.CurrentTick = tick
		for _, task := range r.Tasks {
			task.Tick()
		}
		r.Metrics.TotalTicks = tick + 1

		for _, task := range r.Tasks {
			if !task.IsTerminal() && task.TicksInState >= cfg.StuckThresholdTicks && !seenStuck[task.TaskID] {
				seenStuck[task.TaskID] = true
				stuckTasks = append(stuckTasks, StuckTaskInfo{
					TaskID: task.TaskID, State: task.State, TicksInState: task.TicksInState, DetectedAtTick: tick,
				})
				r.Metrics.StuckDetections++
			}
		}

		r.simulateTickProgression(tick, now.Add(time.Duration(tick)*time.Second))

		if cfg.EnableChaos && tick%20 == 7 {
			chaosEvents++
			r.Metrics.ChaosInjections++
		}

		if cfg.ReportIntervalTicks > 0 && tick%cfg.ReportIntervalTicks == 0 {
			var active, terminal, stuck int
			for _, task := range r.Tasks {
				if task.IsTerminal() {
					terminal++
				} else {
					active++
					if task.TicksInState >= cfg.StuckThresholdTicks {
						stuck++
					}
				}
			}
			progressReports = append(progressReports, SoakProgressReport{
				Tick: tick, ActiveTasks: active, TerminalTasks: terminal, StuckTasks: stuck, ChaosActive: cfg.EnableChaos,
			})
		}
	}

	total := float64(len(r.Tasks))
	var stopped float64
	for _, task := range r.Tasks {
		if task.State == "STOPPED" {
			stopped++
		}
	}
	errorRate := 0.0
	if total > 0 {
		errorRate = (stopped / total) * 100.0
	}

	duration := r.now().Sub(start)
	passed := len(stuckTasks) == 0 && errorRate <= cfg.MaxErrorRatePct

	var errMsg string
	switch {
	case len(stuckTasks) > 0:
		errMsg = fmt.Sprintf("%d stuck task(s) detected", len(stuckTasks))
	case errorRate > cfg.MaxErrorRatePct:
		errMsg = fmt.Sprintf("Error rate %.1f%% exceeds max %.1f%%", errorRate, cfg.MaxErrorRatePct)
	}

	return SoakResult{
		Passed:          passed,
		TotalTicks:      cfg.TotalTicks,
		StuckTasks:      stuckTasks,
		ErrorRatePct:    errorRate,
		ChaosEvents:     chaosEvents,
		ProgressReports: progressReports,
		Duration:        duration,
		Error:           errMsg,
	}
}

// BuiltinScenarios returns the standard suite of orchestration scenarios
// exercised by the e2e tests.
func BuiltinScenarios() []Scenario {
	return []Scenario{
		scenarioHappyPath(),
		scenarioAgentFailureRetry(),
		scenarioChaosAgentCrash(),
	}
}

func scenarioHappyPath() Scenario {
	return Scenario{
		Name:        "happy_path",
		Description: "Full lifecycle: create -> agent complete -> verify -> submit -> merge",
		Steps: []Step{
			{Kind: StepCreateTask, TaskID: "T1", Description: "Implement feature X"},
			{Kind: StepExpectState, TaskID: "T1", ExpectedState: "CHATTING"},
			{Kind: StepCompleteAgent, TaskID: "T1", Success: true, Model: "claude"},
			{Kind: StepExpectState, TaskID: "T1", ExpectedState: "READY"},
			{Kind: StepSimulateVerify, TaskID: "T1", Success: true},
			{Kind: StepExpectState, TaskID: "T1", ExpectedState: "SUBMITTING"},
			{Kind: StepSimulateMerge, TaskID: "T1"},
			{Kind: StepExpectState, TaskID: "T1", ExpectedState: "MERGED"},
			{Kind: StepAssertMetric, Metric: "tasks_created", Op: OpEq, Value: 1},
			{Kind: StepAssertMetric, Metric: "tasks_merged", Op: OpEq, Value: 1},
		},
	}
}

func scenarioAgentFailureRetry() Scenario {
	return Scenario{
		Name:        "agent_failure_retry",
		Description: "Agent fails once, retries, then succeeds",
		Steps: []Step{
			{Kind: StepCreateTask, TaskID: "T1", Description: "Fix flaky test"},
			{Kind: StepCompleteAgent, TaskID: "T1", Success: false, Model: "claude"},
			{Kind: StepExpectState, TaskID: "T1", ExpectedState: "CHATTING"},
			{Kind: StepCompleteAgent, TaskID: "T1", Success: true, Model: "claude"},
			{Kind: StepExpectState, TaskID: "T1", ExpectedState: "READY"},
			{Kind: StepAssertMetric, Metric: "agent_completions", Op: OpEq, Value: 2},
		},
	}
}

func scenarioChaosAgentCrash() Scenario {
	return Scenario{
		Name:        "chaos_agent_crash",
		Description: "Agent crash fault routes a task back to CHATTING instead of failing the run",
		Steps: []Step{
			{Kind: StepCreateTask, TaskID: "T1", Description: "Refactor auth"},
			{Kind: StepInjectChaos, Fault: ChaosFault{Kind: FaultAgentCrash, TaskID: "T1"}},
			{Kind: StepCompleteAgent, TaskID: "T1", Success: true, Model: "claude"},
			{Kind: StepExpectState, TaskID: "T1", ExpectedState: "CHATTING"},
			{Kind: StepClearChaos},
			{Kind: StepCompleteAgent, TaskID: "T1", Success: true, Model: "claude"},
			{Kind: StepExpectState, TaskID: "T1", ExpectedState: "READY"},
		},
	}
}
