package depgraph

import (
	"testing"

	"github.com/swarmguard/wavecoord/internal/wavetypes"
)

func mkTask(id, team string, critical bool, deps ...string) *wavetypes.Task {
	return &wavetypes.Task{
		ID:              id,
		Title:           id,
		Team:            team,
		DependsOn:       deps,
		Critical:        critical,
		EstimatedEffort: 1,
	}
}

func TestHappyPathProgression(t *testing.T) {
	tasks := []*wavetypes.Task{
		mkTask("T001", "alpha", true),
		mkTask("T002", "beta", true, "T001"),
		mkTask("T003", "alpha", false),
		mkTask("T004", "beta", false, "T001", "T003"),
		mkTask("T005", "alpha", false, "T002", "T004"),
	}
	tr, err := New(tasks)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for _, s := range []wavetypes.TaskState{wavetypes.InProgress, wavetypes.Completed} {
		if err := tr.Transition("T001", s); err != nil {
			t.Fatalf("transition T001 -> %s: %v", s, err)
		}
	}
	ready, err := tr.ReadyAfterCompletion("T001")
	if err != nil {
		t.Fatalf("ReadyAfterCompletion: %v", err)
	}
	if len(ready) != 1 || ready[0] != "T002" {
		t.Fatalf("expected [T002], got %v", ready)
	}

	for _, s := range []wavetypes.TaskState{wavetypes.InProgress, wavetypes.Completed} {
		if err := tr.Transition("T003", s); err != nil {
			t.Fatalf("transition T003 -> %s: %v", s, err)
		}
	}
	ready, _ = tr.ReadyAfterCompletion("T003")
	if len(ready) != 1 || ready[0] != "T004" {
		t.Fatalf("expected [T004], got %v", ready)
	}

	tr.Transition("T002", wavetypes.Ready)
	tr.Transition("T002", wavetypes.InProgress)
	tr.Transition("T002", wavetypes.Completed)
	tr.Transition("T004", wavetypes.Ready)
	tr.Transition("T004", wavetypes.InProgress)
	tr.Transition("T004", wavetypes.Completed)
	ready, _ = tr.ReadyAfterCompletion("T004")
	if len(ready) != 1 || ready[0] != "T005" {
		t.Fatalf("expected [T005], got %v", ready)
	}
}

func TestCycleDetection(t *testing.T) {
	tasks := []*wavetypes.Task{
		mkTask("A", "alpha", false, "C"),
		mkTask("B", "alpha", false, "A"),
		mkTask("C", "alpha", false, "B"),
	}
	_, err := New(tasks)
	if err == nil {
		t.Fatal("expected DependencyViolation for cycle")
	}
	cerr, ok := err.(*wavetypes.CoordinatorError)
	if !ok || cerr.Code != wavetypes.DependencyViolation {
		t.Fatalf("expected DependencyViolation, got %v", err)
	}
}

func TestUnknownDependencyTarget(t *testing.T) {
	tasks := []*wavetypes.Task{mkTask("A", "alpha", false, "ghost")}
	_, err := New(tasks)
	if err == nil {
		t.Fatal("expected DependencyViolation for missing target")
	}
}

func TestEmptyTaskList(t *testing.T) {
	tr, err := New(nil)
	if err != nil {
		t.Fatalf("New(nil): %v", err)
	}
	if len(tr.Ready()) != 0 {
		t.Fatalf("expected no ready tasks, got %v", tr.Ready())
	}
}

func TestSingleTaskIsReady(t *testing.T) {
	tr, err := New([]*wavetypes.Task{mkTask("T001", "alpha", false)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ready := tr.Ready()
	if len(ready) != 1 || ready[0] != "T001" {
		t.Fatalf("expected [T001], got %v", ready)
	}
}

func TestBlockingFactorDiamond(t *testing.T) {
	// A -> B, A -> C, B -> D, C -> D : A's forward closure is {B, C, D} = 3.
	tasks := []*wavetypes.Task{
		mkTask("A", "alpha", false),
		mkTask("B", "alpha", false, "A"),
		mkTask("C", "alpha", false, "A"),
		mkTask("D", "alpha", false, "B", "C"),
	}
	tr, err := New(tasks)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	node, ok := tr.Node("A")
	if !ok {
		t.Fatal("missing node A")
	}
	if node.BlockingFactor != 3 {
		t.Fatalf("expected blocking factor 3, got %d", node.BlockingFactor)
	}
}

func TestIllegalTransitionRejected(t *testing.T) {
	tr, err := New([]*wavetypes.Task{mkTask("A", "alpha", false)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// A starts Ready (no deps); Ready -> Completed is illegal.
	if err := tr.Transition("A", wavetypes.Completed); err == nil {
		t.Fatal("expected illegal transition error")
	}
}

func TestNoOpOnCurrentState(t *testing.T) {
	tr, err := New([]*wavetypes.Task{mkTask("A", "alpha", false)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := tr.Transition("A", wavetypes.Ready); err != nil {
		t.Fatalf("transitioning to current state should be a no-op, got %v", err)
	}
}
