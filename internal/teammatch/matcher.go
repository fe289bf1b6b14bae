// Package teammatch scores team-to-task fit, producing ranked work-stealing
// candidates. The scoring shape follows MikeSquared-Agency-Dispatch's
// broker/matcher.go: hard-block on missing capability, then a combination of
// factors into one composite score. Here the factors are the skill score,
// transfer cost, expected benefit and dependency risk defined for this
// domain, combined as benefit/cost plus a skill bonus minus a risk penalty.
package teammatch

import (
	"sort"

	"github.com/swarmguard/wavecoord/internal/wavetypes"
)

// TaskContext carries everything the matcher needs about a candidate task
// beyond its TaskRequirements.
type TaskContext struct {
	Task         *wavetypes.Task
	Requirements []wavetypes.TaskRequirement
	FromTeam     string
}

// TeamContext carries a candidate team's current skills and capacity.
type TeamContext struct {
	TeamID   string
	Skills   map[string]wavetypes.TeamSkill
	Capacity *wavetypes.TeamCapacity
}

// Candidate is a ranked work-stealing candidate for one (task, team) pair.
type Candidate struct {
	TeamID           string
	SkillMatch       float64
	TransferCost     float64
	ExpectedBenefit  float64
	DependencyRisk   float64
	CompositeRank    float64
}

// Options tune the matcher away from its defaults, used by the emergency
// rebalancing path (§4.3) which lowers the skill floor and reweights cost.
type Options struct {
	MinSkillMatch  float64 // default 0.5
	CostMultiplier float64 // default 1.0; emergency halves this
	BenefitMultiplier float64 // default 1.0; emergency applies 1.5
}

// DefaultOptions returns the baseline (non-emergency) matching options.
func DefaultOptions() Options {
	return Options{MinSkillMatch: 0.5, CostMultiplier: 1.0, BenefitMultiplier: 1.0}
}

// SkillScore computes the importance-weighted mean skill-match score for a
// team against a task's requirements. A task with no requirements scores 1.0.
func SkillScore(reqs []wavetypes.TaskRequirement, skills map[string]wavetypes.TeamSkill) float64 {
	if len(reqs) == 0 {
		return 1.0
	}
	var weightedSum, totalImportance float64
	for _, r := range reqs {
		skill, has := skills[r.SkillID]
		if !has {
			return 0
		}
		contribution := max0(skill.Proficiency-r.MinimumProficiency) * skill.Availability * r.Importance
		weightedSum += contribution
		totalImportance += r.Importance
	}
	if totalImportance == 0 {
		return 1.0
	}
	return weightedSum / totalImportance
}

// TransferCost estimates the cost of moving a task onto targetUtilization,
// clamped to [0,1].
func TransferCost(targetUtilization float64, critical bool, depCount int) float64 {
	cost := 0.1 + max0(targetUtilization-0.8)*0.5
	if critical {
		cost += 0.2
	}
	cost += 0.05 * float64(depCount)
	return clamp01(cost)
}

// ExpectedBenefit estimates the benefit of moving a task onto a team at
// targetUtilization with the given spare capacity (capacity - active).
func ExpectedBenefit(targetUtilization float64, critical bool, spareCapacity int) float64 {
	benefit := max0(0.8-targetUtilization) * 2
	if critical {
		benefit += 0.3
	} else {
		benefit += 0.1
	}
	benefit += 0.1 * float64(spareCapacity)
	return benefit
}

// DependencyRisk estimates the risk of moving a task with depCount
// dependencies onto a team with activeTasks already in flight, clamped to
// [0,1].
func DependencyRisk(depCount, activeTasks int, critical bool) float64 {
	risk := 0.1*float64(depCount) + 0.05*float64(activeTasks)
	if critical {
		risk += 0.2
	} else {
		risk += 0.1
	}
	return clamp01(risk)
}

// FindBestMatches ranks every team in teams (excluding excludeTeam) against
// task, returning at most maxCandidates, highest composite rank first.
// Candidates with skillMatch below opts.MinSkillMatch are discarded before
// ranking.
func FindBestMatches(task TaskContext, teams []TeamContext, excludeTeam string, maxCandidates int, opts Options) []Candidate {
	if opts.MinSkillMatch == 0 && opts.CostMultiplier == 0 && opts.BenefitMultiplier == 0 {
		opts = DefaultOptions()
	}

	var candidates []Candidate
	depCount := len(task.Task.DependsOn)

	for _, team := range teams {
		if team.TeamID == excludeTeam {
			continue
		}
		skillMatch := SkillScore(task.Requirements, team.Skills)
		if skillMatch < opts.MinSkillMatch {
			continue
		}

		util := team.Capacity.UtilizedFraction()
		spare := 0
		if team.Capacity != nil {
			spare = team.Capacity.MaxConcurrentTasks - team.Capacity.CurrentLoad
		}

		cost := TransferCost(util, task.Task.Critical, depCount) * opts.CostMultiplier
		benefit := ExpectedBenefit(util, task.Task.Critical, spare) * opts.BenefitMultiplier
		risk := DependencyRisk(depCount, team.Capacity.CurrentLoad, task.Task.Critical)

		var rank float64
		if cost > 0 {
			rank = benefit / cost
		} else {
			rank = benefit
		}
		rank += 0.5*skillMatch - 0.3*risk

		candidates = append(candidates, Candidate{
			TeamID:          team.TeamID,
			SkillMatch:      skillMatch,
			TransferCost:    cost,
			ExpectedBenefit: benefit,
			DependencyRisk:  risk,
			CompositeRank:   rank,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].CompositeRank > candidates[j].CompositeRank
	})

	if maxCandidates > 0 && len(candidates) > maxCandidates {
		candidates = candidates[:maxCandidates]
	}
	return candidates
}

func max0(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
