package loadbalance

import (
	"testing"

	"github.com/swarmguard/wavecoord/internal/teammatch"
	"github.com/swarmguard/wavecoord/internal/wavetypes"
)

func TestComputeMetricsBottleneck(t *testing.T) {
	caps := map[string]*wavetypes.TeamCapacity{
		"alpha": {TeamID: "alpha", MaxConcurrentTasks: 2, CurrentLoad: 2},
		"beta":  {TeamID: "beta", MaxConcurrentTasks: 4, CurrentLoad: 1},
	}
	m := ComputeMetrics(caps, DefaultThresholds())
	if len(m.BottleneckTeams) != 1 || m.BottleneckTeams[0] != "alpha" {
		t.Fatalf("expected alpha as bottleneck, got %v", m.BottleneckTeams)
	}
}

func TestIsEmergency(t *testing.T) {
	th := DefaultThresholds()
	if !IsEmergency(0.96, false, th) {
		t.Fatal("expected emergency at 0.96 utilization")
	}
	if !IsEmergency(0.90, true, th) {
		t.Fatal("expected emergency at 0.90 with critical tasks")
	}
	if IsEmergency(0.90, false, th) {
		t.Fatal("did not expect emergency at 0.90 without critical tasks")
	}
}

func TestReactiveRecommendationsCapped(t *testing.T) {
	ranked := []RankedCandidate{
		{
			Task: TaskWithContext{Task: &wavetypes.Task{ID: "T1"}, FromTeam: "alpha"},
			Candidates: []teammatch.Candidate{
				{TeamID: "beta", ExpectedBenefit: 0.9, TransferCost: 0.1},
			},
		},
		{
			Task: TaskWithContext{Task: &wavetypes.Task{ID: "T2"}, FromTeam: "alpha"},
			Candidates: []teammatch.Candidate{
				{TeamID: "gamma", ExpectedBenefit: 0.5, TransferCost: 0.1},
			},
		},
	}
	recs := ReactiveRecommendations(ranked, nil, 0.1, 1)
	if len(recs) != 1 {
		t.Fatalf("expected 1 capped recommendation, got %d", len(recs))
	}
	if recs[0].TaskID != "T1" {
		t.Fatalf("expected highest-benefit T1 first, got %v", recs[0])
	}
}
