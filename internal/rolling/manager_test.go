package rolling

import (
	"context"
	"fmt"
	"testing"

	"github.com/swarmguard/wavecoord/internal/config"
	"github.com/swarmguard/wavecoord/internal/ports"
	"github.com/swarmguard/wavecoord/internal/stealing"
	"github.com/swarmguard/wavecoord/internal/wavetypes"
)

type fakeSink struct{ updates []string }

func (f *fakeSink) UpdateTaskAssignment(ctx context.Context, taskID, newTeam string) error {
	f.updates = append(f.updates, taskID+"->"+newTeam)
	return nil
}

func (f *fakeSink) RollbackTransfer(ctx context.Context, taskID, originalTeam string) error {
	return nil
}

type fakeApproval struct{}

func (fakeApproval) NotifyTeamOfTransfer(ctx context.Context, req ports.TransferRequest) (bool, error) {
	return true, nil
}

func mkTask(id, team string, deps ...string) *wavetypes.Task {
	return &wavetypes.Task{ID: id, Title: id, Team: team, DependsOn: deps, EstimatedEffort: 1}
}

func testConfig() config.Configuration {
	cfg := config.Default()
	cfg.UpdateIntervalMS = 60000 // avoid ticks firing during the test
	return cfg
}

func TestInitializeThenProcessTaskStateChange(t *testing.T) {
	m := New(testConfig(), Deps{})
	ctx := context.Background()

	tasks := []*wavetypes.Task{
		mkTask("T001", "alpha"),
		mkTask("T002", "beta", "T001"),
	}
	caps := map[string]*wavetypes.TeamCapacity{
		"alpha": {TeamID: "alpha", MaxConcurrentTasks: 2},
		"beta":  {TeamID: "beta", MaxConcurrentTasks: 2},
	}

	if err := m.Initialize(ctx, "plan-1", tasks, caps); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer m.Shutdown(ctx)

	if m.CurrentState() != Ready {
		t.Fatalf("expected Ready, got %v", m.CurrentState())
	}

	v0 := m.GetState(ctx).CoordinationVersion

	if _, err := m.ProcessTaskStateChange(ctx, "T001", wavetypes.InProgress); err != nil {
		t.Fatalf("transition to InProgress: %v", err)
	}
	ready, err := m.ProcessTaskStateChange(ctx, "T001", wavetypes.Completed)
	if err != nil {
		t.Fatalf("transition to Completed: %v", err)
	}
	if len(ready) != 1 || ready[0] != "T002" {
		t.Fatalf("expected [T002] newly ready, got %v", ready)
	}

	v1 := m.GetState(ctx).CoordinationVersion
	if v1 <= v0 {
		t.Fatalf("expected coordinationVersion to strictly increase, got %d -> %d", v0, v1)
	}
}

func TestProcessTaskStateChangeNoOpOnCurrentState(t *testing.T) {
	m := New(testConfig(), Deps{})
	ctx := context.Background()
	tasks := []*wavetypes.Task{mkTask("T001", "alpha")}
	caps := map[string]*wavetypes.TeamCapacity{"alpha": {TeamID: "alpha", MaxConcurrentTasks: 1}}

	if err := m.Initialize(ctx, "plan-1", tasks, caps); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer m.Shutdown(ctx)

	v0 := m.GetState(ctx).CoordinationVersion
	ready, err := m.ProcessTaskStateChange(ctx, "T001", wavetypes.Ready)
	if err != nil {
		t.Fatalf("no-op transition: %v", err)
	}
	if len(ready) != 0 {
		t.Fatalf("expected empty ready set, got %v", ready)
	}
	v1 := m.GetState(ctx).CoordinationVersion
	if v1 != v0 {
		t.Fatalf("expected no version bump, got %d -> %d", v0, v1)
	}
}

func TestShutdownEmitsEvent(t *testing.T) {
	m := New(testConfig(), Deps{})
	ctx := context.Background()
	if err := m.Initialize(ctx, "plan-1", nil, nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	history := m.EventHistory()
	if len(history) == 0 || history[len(history)-1].Event != "frontier_shutdown" {
		t.Fatalf("expected frontier_shutdown as final event, got %+v", history)
	}
}

func TestApplyOptimizationDelayTask(t *testing.T) {
	m := New(testConfig(), Deps{})
	ctx := context.Background()
	tasks := []*wavetypes.Task{mkTask("T001", "alpha"), mkTask("T002", "alpha")}
	caps := map[string]*wavetypes.TeamCapacity{"alpha": {TeamID: "alpha", MaxConcurrentTasks: 5}}
	if err := m.Initialize(ctx, "plan-1", tasks, caps); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer m.Shutdown(ctx)

	m.mu.Lock()
	boundary := m.frontierState.Boundaries[0]
	sourceWave := boundary.Wave
	taskID := boundary.Tasks[0]
	m.frontierState.Optimizations = append(m.frontierState.Optimizations, &wavetypes.Optimization{
		ID: "opt-delay", Action: wavetypes.DelayTask, Target: taskID,
	})
	m.mu.Unlock()

	applied, err := m.ApplyOptimization(ctx, "opt-delay")
	if err != nil {
		t.Fatalf("ApplyOptimization: %v", err)
	}
	if !applied {
		t.Fatal("expected DelayTask optimization to apply")
	}

	state := m.GetState(ctx)
	found := false
	for _, b := range state.Boundaries {
		if b.Wave != sourceWave+1 {
			continue
		}
		for _, tid := range b.Tasks {
			if tid == taskID {
				found = true
			}
		}
	}
	if !found {
		t.Fatalf("expected %q moved to wave %d, got %+v", taskID, sourceWave+1, state.Boundaries)
	}
}

func TestApplyOptimizationReassignTask(t *testing.T) {
	m := New(testConfig(), Deps{})
	ctx := context.Background()
	tasks := []*wavetypes.Task{mkTask("T001", "alpha")}
	caps := map[string]*wavetypes.TeamCapacity{
		"alpha": {TeamID: "alpha", MaxConcurrentTasks: 2},
		"beta":  {TeamID: "beta", MaxConcurrentTasks: 2},
	}
	if err := m.Initialize(ctx, "plan-1", tasks, caps); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer m.Shutdown(ctx)

	m.mu.Lock()
	m.frontierState.Optimizations = append(m.frontierState.Optimizations, &wavetypes.Optimization{
		ID: "opt-reassign", Action: wavetypes.ReassignTask, Target: "T001->beta",
	})
	m.mu.Unlock()

	applied, err := m.ApplyOptimization(ctx, "opt-reassign")
	if err != nil {
		t.Fatalf("ApplyOptimization: %v", err)
	}
	if !applied {
		t.Fatal("expected ReassignTask optimization to apply")
	}

	state := m.GetState(ctx)
	if state.Nodes["T001"].Team != "beta" {
		t.Fatalf("expected T001 reassigned to beta, got %+v", state.Nodes["T001"])
	}
	if state.Capacities["beta"].CurrentLoad != 1 {
		t.Fatalf("expected beta load incremented, got %+v", state.Capacities["beta"])
	}
}

func TestApplyOptimizationReassignTaskRejectsSkillMismatch(t *testing.T) {
	m := New(testConfig(), Deps{})
	ctx := context.Background()
	tasks := []*wavetypes.Task{mkTask("T001", "alpha")}
	caps := map[string]*wavetypes.TeamCapacity{
		"alpha": {TeamID: "alpha", MaxConcurrentTasks: 2},
		"beta":  {TeamID: "beta", MaxConcurrentTasks: 2},
	}
	if err := m.Initialize(ctx, "plan-1", tasks, caps); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer m.Shutdown(ctx)

	m.SetTeamProfiles(nil, map[string][]wavetypes.TaskRequirement{
		"T001": {{SkillID: "go", MinimumProficiency: 0.8, Importance: 1}},
	})

	m.mu.Lock()
	m.frontierState.Optimizations = append(m.frontierState.Optimizations, &wavetypes.Optimization{
		ID: "opt-reassign", Action: wavetypes.ReassignTask, Target: "T001->beta",
	})
	m.mu.Unlock()

	applied, err := m.ApplyOptimization(ctx, "opt-reassign")
	if err != nil {
		t.Fatalf("ApplyOptimization: %v", err)
	}
	if applied {
		t.Fatal("expected skill-mismatched reassign to be rejected")
	}
	if m.GetState(ctx).Nodes["T001"].Team != "alpha" {
		t.Fatal("expected T001 to remain on alpha after rejected reassign")
	}
}

func TestApplyOptimizationSplitWave(t *testing.T) {
	m := New(testConfig(), Deps{})
	ctx := context.Background()
	tasks := []*wavetypes.Task{mkTask("T001", "alpha"), mkTask("T002", "alpha")}
	caps := map[string]*wavetypes.TeamCapacity{"alpha": {TeamID: "alpha", MaxConcurrentTasks: 5}}
	if err := m.Initialize(ctx, "plan-1", tasks, caps); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer m.Shutdown(ctx)

	m.mu.Lock()
	boundary := m.frontierState.Boundaries[0]
	wave := boundary.Wave
	m.frontierState.Optimizations = append(m.frontierState.Optimizations, &wavetypes.Optimization{
		ID: "opt-split", Action: wavetypes.SplitWave, Target: fmt.Sprintf("%d", wave),
	})
	m.mu.Unlock()

	applied, err := m.ApplyOptimization(ctx, "opt-split")
	if err != nil {
		t.Fatalf("ApplyOptimization: %v", err)
	}
	if !applied {
		t.Fatal("expected SplitWave optimization to apply")
	}

	state := m.GetState(ctx)
	var kept, moved *wavetypes.WaveBoundary
	for _, b := range state.Boundaries {
		if b.Wave == wave {
			kept = b
		}
		if b.Wave == wave+1 {
			moved = b
		}
	}
	if kept == nil || moved == nil || len(kept.Tasks) != 1 || len(moved.Tasks) != 1 {
		t.Fatalf("expected a 1/1 split across waves %d and %d, got %+v", wave, wave+1, state.Boundaries)
	}
}

func TestApplyOptimizationMergeWaves(t *testing.T) {
	m := New(testConfig(), Deps{})
	ctx := context.Background()
	tasks := []*wavetypes.Task{mkTask("T001", "alpha"), mkTask("T002", "beta", "T001")}
	caps := map[string]*wavetypes.TeamCapacity{
		"alpha": {TeamID: "alpha", MaxConcurrentTasks: 5},
		"beta":  {TeamID: "beta", MaxConcurrentTasks: 5},
	}
	if err := m.Initialize(ctx, "plan-1", tasks, caps); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer m.Shutdown(ctx)

	if _, err := m.ProcessTaskStateChange(ctx, "T001", wavetypes.InProgress); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if _, err := m.ProcessTaskStateChange(ctx, "T001", wavetypes.Completed); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := m.RecalculateBoundaries(ctx); err != nil {
		t.Fatalf("RecalculateBoundaries: %v", err)
	}

	m.mu.Lock()
	if len(m.frontierState.Boundaries) < 2 {
		m.mu.Unlock()
		t.Skip("expected at least two boundaries for a merge scenario")
	}
	waveA := m.frontierState.Boundaries[0].Wave
	waveB := m.frontierState.Boundaries[1].Wave
	m.frontierState.Optimizations = append(m.frontierState.Optimizations, &wavetypes.Optimization{
		ID: "opt-merge", Action: wavetypes.MergeWaves, Target: fmt.Sprintf("%d,%d", waveA, waveB),
	})
	m.mu.Unlock()

	applied, err := m.ApplyOptimization(ctx, "opt-merge")
	if err != nil {
		t.Fatalf("ApplyOptimization: %v", err)
	}
	if !applied {
		t.Fatal("expected MergeWaves optimization to apply")
	}

	state := m.GetState(ctx)
	for _, b := range state.Boundaries {
		if b.Wave == waveB {
			t.Fatalf("expected wave %d to be absorbed into wave %d, still present: %+v", waveB, waveA, b)
		}
	}
}

func TestRunWorkStealingRebalancesBottleneckTeam(t *testing.T) {
	sink := &fakeSink{}
	engine := stealing.New(sink, fakeApproval{}, nil)
	m := New(testConfig(), Deps{Stealing: engine})
	ctx := context.Background()

	tasks := []*wavetypes.Task{mkTask("T001", "alpha"), mkTask("T002", "alpha")}
	caps := map[string]*wavetypes.TeamCapacity{
		"alpha": {TeamID: "alpha", MaxConcurrentTasks: 2, CurrentLoad: 2},
		"beta":  {TeamID: "beta", MaxConcurrentTasks: 4, CurrentLoad: 0},
	}
	if err := m.Initialize(ctx, "plan-1", tasks, caps); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer m.Shutdown(ctx)

	m.mu.Lock()
	m.frontierState.Metrics.BottleneckTeams = []string{"alpha"}
	m.mu.Unlock()

	m.mu.Lock()
	m.runWorkStealingLocked(ctx)
	m.mu.Unlock()

	if len(sink.updates) == 0 {
		t.Skip("no work-stealing candidate cleared the minimum-benefit floor for this fixture")
	}
}

func TestGetStateReturnsDeepCopy(t *testing.T) {
	m := New(testConfig(), Deps{})
	ctx := context.Background()
	tasks := []*wavetypes.Task{mkTask("T001", "alpha")}
	caps := map[string]*wavetypes.TeamCapacity{"alpha": {TeamID: "alpha", MaxConcurrentTasks: 1}}
	if err := m.Initialize(ctx, "plan-1", tasks, caps); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer m.Shutdown(ctx)

	s1 := m.GetState(ctx)
	s1.Boundaries = append(s1.Boundaries, &wavetypes.WaveBoundary{Wave: 99})
	s2 := m.GetState(ctx)
	for _, b := range s2.Boundaries {
		if b.Wave == 99 {
			t.Fatal("mutation of a returned clone leaked into manager state")
		}
	}
}
