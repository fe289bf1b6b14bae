package stealing

import (
	"context"
	"testing"

	"github.com/swarmguard/wavecoord/internal/ports"
	"github.com/swarmguard/wavecoord/internal/teammatch"
)

type fakeAssignments struct {
	updates      []string
	failUpdate   bool
	rollbacks    int
}

func (f *fakeAssignments) UpdateTaskAssignment(ctx context.Context, taskID, newTeam string) error {
	if f.failUpdate {
		return context.DeadlineExceeded
	}
	f.updates = append(f.updates, taskID+"->"+newTeam)
	return nil
}

func (f *fakeAssignments) RollbackTransfer(ctx context.Context, taskID, originalTeam string) error {
	f.rollbacks++
	return nil
}

type fakeApproval struct{ approve bool }

func (f fakeApproval) NotifyTeamOfTransfer(ctx context.Context, req ports.TransferRequest) (bool, error) {
	return f.approve, nil
}

func TestApplyTransferHappyPath(t *testing.T) {
	assignments := &fakeAssignments{}
	eng := New(assignments, fakeApproval{approve: true}, nil)

	req := TransferRequest{
		TaskID:   "T1",
		FromTeam: "alpha",
		ToTeam:   "beta",
		Candidate: teammatch.Candidate{ExpectedBenefit: 0.9, TransferCost: 0.1, DependencyRisk: 0.1},
	}
	outcome := eng.Claim(context.Background(), req)
	if !outcome.Success {
		t.Fatalf("expected success, got %+v", outcome)
	}
	if eng.HistoryLength("T1") != 1 {
		t.Fatalf("expected history length 1, got %d", eng.HistoryLength("T1"))
	}
}

func TestApplyTransferRollsBackOnFailure(t *testing.T) {
	assignments := &fakeAssignments{failUpdate: true}
	eng := New(assignments, fakeApproval{approve: true}, nil)

	req := TransferRequest{TaskID: "T1", FromTeam: "alpha", ToTeam: "beta"}
	outcome := eng.Claim(context.Background(), req)
	if outcome.Success {
		t.Fatal("expected failure")
	}
	if assignments.rollbacks != 1 {
		t.Fatalf("expected 1 rollback, got %d", assignments.rollbacks)
	}
}

func TestCriticalTaskBlockedOutsideEmergency(t *testing.T) {
	assignments := &fakeAssignments{}
	eng := New(assignments, fakeApproval{approve: true}, nil)

	req := TransferRequest{TaskID: "T1", FromTeam: "alpha", ToTeam: "beta", Critical: true}
	outcome := eng.Claim(context.Background(), req)
	if outcome.Success {
		t.Fatal("expected critical task transfer to be blocked outside emergency")
	}
}

func TestConcurrentClaimFailsFast(t *testing.T) {
	assignments := &fakeAssignments{}
	eng := New(assignments, fakeApproval{approve: true}, nil)
	eng.mu.Lock()
	eng.locks["T1"] = taskLock{lockID: "held"}
	eng.mu.Unlock()

	outcome := eng.Claim(context.Background(), TransferRequest{TaskID: "T1", FromTeam: "alpha", ToTeam: "beta"})
	if outcome.Success {
		t.Fatal("expected concurrent claim to fail")
	}
}

func TestRevalidateRejectsSkillMismatch(t *testing.T) {
	assignments := &fakeAssignments{}
	eng := New(assignments, fakeApproval{approve: true}, nil)

	req := TransferRequest{
		TaskID:        "T1",
		FromTeam:      "alpha",
		ToTeam:        "beta",
		MinSkillMatch: 0.5,
		Candidate:     teammatch.Candidate{SkillMatch: 0.2, ExpectedBenefit: 0.9, TransferCost: 0.1},
	}
	outcome := eng.Claim(context.Background(), req)
	if outcome.Success {
		t.Fatal("expected skill mismatch to block transfer")
	}
}

func TestRevalidateRejectsDestinationCapacity(t *testing.T) {
	assignments := &fakeAssignments{}
	eng := New(assignments, fakeApproval{approve: true}, nil)

	req := TransferRequest{
		TaskID:         "T1",
		FromTeam:       "alpha",
		ToTeam:         "beta",
		ToTeamCapacity: 3,
		ToTeamLoad:     3,
		Candidate:      teammatch.Candidate{ExpectedBenefit: 0.9, TransferCost: 0.1},
	}
	outcome := eng.Claim(context.Background(), req)
	if outcome.Success {
		t.Fatal("expected destination-at-capacity to block transfer")
	}
}

func TestCoordinateOrdersEmergencyFirst(t *testing.T) {
	assignments := &fakeAssignments{}
	eng := New(assignments, fakeApproval{approve: true}, nil)

	reqs := []TransferRequest{
		{TaskID: "T1", FromTeam: "a", ToTeam: "b", OverallThroughputGain: 0.9},
		{TaskID: "T2", FromTeam: "a", ToTeam: "b", Emergency: true, OverallThroughputGain: 0.1},
	}
	result, err := eng.Coordinate(context.Background(), reqs)
	if err != nil {
		t.Fatalf("Coordinate: %v", err)
	}
	if len(result.Applied) != 2 {
		t.Fatalf("expected 2 applied, got %d", len(result.Applied))
	}
	if result.Applied[0].TaskID != "T2" {
		t.Fatalf("expected emergency T2 first, got %+v", result.Applied[0])
	}
}
