package teammatch

import (
	"testing"

	"github.com/swarmguard/wavecoord/internal/wavetypes"
)

func TestSkillScoreNoRequirements(t *testing.T) {
	if got := SkillScore(nil, nil); got != 1.0 {
		t.Fatalf("expected 1.0 for no requirements, got %v", got)
	}
}

func TestSkillScoreHardBlock(t *testing.T) {
	reqs := []wavetypes.TaskRequirement{{SkillID: "go", MinimumProficiency: 0.5, Importance: 1}}
	got := SkillScore(reqs, map[string]wavetypes.TeamSkill{})
	if got != 0 {
		t.Fatalf("expected hard block 0, got %v", got)
	}
}

func TestSkillScoreWeightedMean(t *testing.T) {
	reqs := []wavetypes.TaskRequirement{
		{SkillID: "go", MinimumProficiency: 0.3, Importance: 2},
		{SkillID: "rust", MinimumProficiency: 0.2, Importance: 1},
	}
	skills := map[string]wavetypes.TeamSkill{
		"go":   {SkillID: "go", Proficiency: 0.8, Availability: 1.0},
		"rust": {SkillID: "rust", Proficiency: 0.5, Availability: 1.0},
	}
	got := SkillScore(reqs, skills)
	// go contributes (0.8-0.3)*1*2=1.0, rust contributes (0.5-0.2)*1*1=0.3
	// total importance 3 -> (1.0+0.3)/3
	want := (1.0 + 0.3) / 3
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestFindBestMatchesDiscardsLowSkill(t *testing.T) {
	task := TaskContext{
		Task:         &wavetypes.Task{ID: "T1", Critical: false},
		Requirements: []wavetypes.TaskRequirement{{SkillID: "go", MinimumProficiency: 0.9, Importance: 1}},
	}
	teams := []TeamContext{
		{
			TeamID:   "beta",
			Skills:   map[string]wavetypes.TeamSkill{"go": {SkillID: "go", Proficiency: 0.91, Availability: 0.1}},
			Capacity: &wavetypes.TeamCapacity{TeamID: "beta", MaxConcurrentTasks: 5, CurrentLoad: 1},
		},
	}
	candidates := FindBestMatches(task, teams, "", 5, DefaultOptions())
	if len(candidates) != 0 {
		t.Fatalf("expected candidate below skill floor to be discarded, got %v", candidates)
	}
}

func TestFindBestMatchesExcludesFromTeam(t *testing.T) {
	task := TaskContext{Task: &wavetypes.Task{ID: "T1"}}
	teams := []TeamContext{
		{TeamID: "alpha", Capacity: &wavetypes.TeamCapacity{TeamID: "alpha", MaxConcurrentTasks: 5}},
		{TeamID: "beta", Capacity: &wavetypes.TeamCapacity{TeamID: "beta", MaxConcurrentTasks: 5}},
	}
	candidates := FindBestMatches(task, teams, "alpha", 5, DefaultOptions())
	for _, c := range candidates {
		if c.TeamID == "alpha" {
			t.Fatalf("excluded team alpha present in results")
		}
	}
}
