package scenario

import (
	"testing"
	"time"
)

func fixedClock(start time.Time) func() time.Time {
	t := start
	return func() time.Time {
		t = t.Add(time.Millisecond)
		return t
	}
}

func TestRunner_HappyPathScenarioPasses(t *testing.T) {
	r := NewRunner(fixedClock(time.Unix(0, 0)))
	result := r.RunScenario(scenarioHappyPath())
	if !result.Passed {
		t.Fatalf("expected happy path to pass, error: %s, steps: %+v", result.Error, result.StepResults)
	}
	if result.Metrics.TasksMerged != 1 {
		t.Fatalf("expected 1 merged task, got %d", result.Metrics.TasksMerged)
	}
}

func TestRunner_AgentFailureRetryScenarioPasses(t *testing.T) {
	r := NewRunner(fixedClock(time.Unix(0, 0)))
	result := r.RunScenario(scenarioAgentFailureRetry())
	if !result.Passed {
		t.Fatalf("expected retry scenario to pass, error: %s", result.Error)
	}
}

func TestRunner_ChaosAgentCrashInterceptsCompletion(t *testing.T) {
	r := NewRunner(fixedClock(time.Unix(0, 0)))
	result := r.RunScenario(scenarioChaosAgentCrash())
	if !result.Passed {
		t.Fatalf("expected chaos scenario to pass, error: %s, steps: %+v", result.Error, result.StepResults)
	}
}

func TestRunner_ExpectStateFailsOnMismatch(t *testing.T) {
	r := NewRunner(fixedClock(time.Unix(0, 0)))
	s := Scenario{
		Name: "mismatch",
		Steps: []Step{
			{Kind: StepCreateTask, TaskID: "T1"},
			{Kind: StepExpectState, TaskID: "T1", ExpectedState: "READY"},
		},
	}
	result := r.RunScenario(s)
	if result.Passed {
		t.Fatal("expected scenario to fail on state mismatch")
	}
}

func TestRunner_WaitTicksDrivesAutonomousProgression(t *testing.T) {
	r := NewRunner(fixedClock(time.Unix(0, 0)))
	s := Scenario{
		Name: "progression",
		Steps: []Step{
			{Kind: StepCreateTask, TaskID: "T1"},
			{Kind: StepWaitTicks, WaitCount: 6},
			{Kind: StepExpectState, TaskID: "T1", ExpectedState: "READY"},
		},
	}
	result := r.RunScenario(s)
	if !result.Passed {
		t.Fatalf("expected task to auto-progress to READY after 6 ticks, error: %s", result.Error)
	}
}

func TestRunner_AssertNoStuckTasksCatchesStagnantTask(t *testing.T) {
	r := NewRunner(fixedClock(time.Unix(0, 0)))
	s := Scenario{
		Name: "stuck",
		Steps: []Step{
			{Kind: StepCreateTask, TaskID: "T1"},
			{Kind: StepInjectChaos, Fault: ChaosFault{Kind: FaultAgentHang, TaskID: "T1"}},
			{Kind: StepWaitTicks, WaitCount: 10},
			{Kind: StepAssertNoStuckTasks, MaxUnchanged: 5},
		},
	}
	result := r.RunScenario(s)
	if result.Passed {
		t.Fatal("expected stuck-task assertion to fail for a hung task")
	}
}

func TestRunner_AssertTaskCount(t *testing.T) {
	r := NewRunner(fixedClock(time.Unix(0, 0)))
	s := Scenario{
		Name: "count",
		Steps: []Step{
			{Kind: StepCreateTask, TaskID: "T1"},
			{Kind: StepCreateTask, TaskID: "T2"},
			{Kind: StepAssertTaskCount, ExpectedCount: 2},
		},
	}
	result := r.RunScenario(s)
	if !result.Passed {
		t.Fatalf("expected task count assertion to pass, error: %s", result.Error)
	}
}

func TestRunner_RunSuiteAggregatesResults(t *testing.T) {
	r := NewRunner(fixedClock(time.Unix(0, 0)))
	suite := r.RunSuite(BuiltinScenarios())
	if suite.Total != len(BuiltinScenarios()) {
		t.Fatalf("expected %d total scenarios, got %d", len(BuiltinScenarios()), suite.Total)
	}
	if suite.Failed != 0 {
		t.Fatalf("expected all builtin scenarios to pass, got %d failures: %+v", suite.Failed, suite.Results)
	}
}

func TestCompareOp_Evaluate(t *testing.T) {
	cases := []struct {
		op       CompareOp
		lhs, rhs float64
		want     bool
	}{
		{OpEq, 1.0, 1.0, true},
		{OpEq, 1.0, 2.0, false},
		{OpGt, 2.0, 1.0, true},
		{OpGte, 1.0, 1.0, true},
		{OpLt, 1.0, 2.0, true},
		{OpLte, 1.0, 1.0, true},
	}
	for _, c := range cases {
		if got := c.op.Evaluate(c.lhs, c.rhs); got != c.want {
			t.Errorf("%s.Evaluate(%v, %v) = %v, want %v", c.op, c.lhs, c.rhs, got, c.want)
		}
	}
}

func TestChaosPolicy_InjectRespectsMaxConcurrent(t *testing.T) {
	p := ChaosPolicy{MaxConcurrentFaults: 1}
	if !p.Inject(ChaosFault{Kind: FaultNetworkOutage}) {
		t.Fatal("expected first injection to succeed")
	}
	if p.Inject(ChaosFault{Kind: FaultDiskFull}) {
		t.Fatal("expected second injection to be rejected at the concurrency limit")
	}
}

func TestRunSoak_DetectsStuckTaskAndFailsRun(t *testing.T) {
	r := NewRunner(fixedClock(time.Unix(0, 0)))
	r.Progression.ChattingToReady = 1000 // never auto-progresses within this run

	cfg := DefaultSoakConfig()
	cfg.TotalTicks = 60
	cfg.StuckThresholdTicks = 50

	result := r.RunSoak(cfg, []struct{ ID, Description string }{{ID: "T1"}})
	if result.Passed {
		t.Fatal("expected a task parked in CHATTING past the stuck threshold to fail the run")
	}
	if len(result.StuckTasks) != 1 || result.StuckTasks[0].TaskID != "T1" {
		t.Fatalf("expected T1 to be flagged stuck, got %+v", result.StuckTasks)
	}
}

func TestRunSoak_HealthyRunPasses(t *testing.T) {
	r := NewRunner(fixedClock(time.Unix(0, 0)))
	cfg := DefaultSoakConfig()
	cfg.TotalTicks = 30
	cfg.StuckThresholdTicks = 50

	result := r.RunSoak(cfg, []struct{ ID, Description string }{{ID: "T1"}})
	if !result.Passed {
		t.Fatalf("expected a short, chaos-free soak run to pass, error: %s", result.Error)
	}
	if len(result.StuckTasks) != 0 {
		t.Fatalf("expected no stuck tasks, got %+v", result.StuckTasks)
	}
}
