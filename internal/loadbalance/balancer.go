// Package loadbalance computes per-wave team utilization metrics and
// proposes transfer recommendations (proactive, reactive, emergency) that
// feed the Work-Stealing Engine. Metric shape is grounded on dag_engine.go's
// OTel-gauge style aggregation (sum/ratio over a fixed population);
// recommendation ranking reuses teammatch's scoring.
package loadbalance

import (
	"math"
	"sort"

	"github.com/swarmguard/wavecoord/internal/teammatch"
	"github.com/swarmguard/wavecoord/internal/wavetypes"
)

// WaveMetrics are the Load Balancer's aggregate figures for one wave.
type WaveMetrics struct {
	TotalUtilization     float64
	UtilizationVariance  float64
	BottleneckTeams      []string
	UnderutilizedTeams   []string
}

// Thresholds configure bottleneck/emergency/proactive detection.
type Thresholds struct {
	BottleneckUtilization float64 // default 0.8
	EmergencyUtilization  float64 // default 0.95
	CriticalEmergencyUtilization float64 // default 0.85, when team holds critical tasks
	ProactiveMargin       float64 // default 0.1, added to threshold for prediction trigger
}

// DefaultThresholds returns the spec's documented defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		BottleneckUtilization:        0.8,
		EmergencyUtilization:         0.95,
		CriticalEmergencyUtilization: 0.85,
		ProactiveMargin:              0.1,
	}
}

// ComputeMetrics aggregates utilization across capacities.
func ComputeMetrics(capacities map[string]*wavetypes.TeamCapacity, th Thresholds) WaveMetrics {
	var totalActive, totalCapacity float64
	utils := make(map[string]float64, len(capacities))

	for id, c := range capacities {
		totalActive += float64(c.CurrentLoad)
		totalCapacity += float64(c.MaxConcurrentTasks)
		utils[id] = c.UtilizedFraction()
	}

	m := WaveMetrics{}
	if totalCapacity > 0 {
		m.TotalUtilization = totalActive / totalCapacity
	}

	if len(utils) > 0 {
		var mean float64
		for _, u := range utils {
			mean += u
		}
		mean /= float64(len(utils))

		var variance float64
		for _, u := range utils {
			variance += (u - mean) * (u - mean)
		}
		variance /= float64(len(utils))
		m.UtilizationVariance = variance

		underThreshold := math.Min(mean-0.2, 0.6)

		var bottleneck, under []string
		for id, u := range utils {
			if u > th.BottleneckUtilization {
				bottleneck = append(bottleneck, id)
			}
			c := capacities[id]
			if u < underThreshold && c.CurrentLoad < c.MaxConcurrentTasks {
				under = append(under, id)
			}
		}
		sort.Slice(bottleneck, func(i, j int) bool { return utils[bottleneck[i]] > utils[bottleneck[j]] })
		sort.Strings(under)
		m.BottleneckTeams = bottleneck
		m.UnderutilizedTeams = under
	}

	return m
}

// IsEmergency reports whether team holds enough utilization (with or
// without critical tasks) to trigger emergency rebalancing.
func IsEmergency(util float64, hasCriticalTasks bool, th Thresholds) bool {
	if util > th.EmergencyUtilization {
		return true
	}
	return hasCriticalTasks && util > th.CriticalEmergencyUtilization
}

// TaskComplexity follows the spec's proactive-prediction formula:
// duration * (1 + 0.1*deps) * (critical ? 1.2 : 1).
func TaskComplexity(duration float64, depCount int, critical bool) float64 {
	c := duration * (1 + 0.1*float64(depCount))
	if critical {
		c *= 1.2
	}
	return c
}

// Recommendation is a single proposed transfer, independent of which tier
// (proactive/reactive/emergency) produced it.
type Recommendation struct {
	TaskID          string
	FromTeam        string
	ToTeam          string
	ExpectedBenefit float64
	Cost            float64
	Emergency       bool
	Proactive       bool
}

// RankedCandidate pairs a task with its teammatch candidates, used to build
// recommendations across every tier.
type RankedCandidate struct {
	Task       TaskWithContext
	Candidates []teammatch.Candidate
}

// TaskWithContext is the minimal view the balancer needs of a task to
// propose moving it.
type TaskWithContext struct {
	Task     *wavetypes.Task
	FromTeam string
}

// ReactiveRecommendations filters ranked candidates down to the ones whose
// target team is not itself a bottleneck and whose benefit clears
// minTransferBenefit, capped at maxTransfers.
func ReactiveRecommendations(ranked []RankedCandidate, bottlenecks []string, minTransferBenefit float64, maxTransfers int) []Recommendation {
	bottleneckSet := make(map[string]bool, len(bottlenecks))
	for _, b := range bottlenecks {
		bottleneckSet[b] = true
	}

	var recs []Recommendation
	for _, rc := range ranked {
		for _, c := range rc.Candidates {
			if bottleneckSet[c.TeamID] {
				continue
			}
			if c.ExpectedBenefit <= minTransferBenefit {
				continue
			}
			recs = append(recs, Recommendation{
				TaskID:          rc.Task.Task.ID,
				FromTeam:        rc.Task.FromTeam,
				ToTeam:          c.TeamID,
				ExpectedBenefit: c.ExpectedBenefit,
				Cost:            c.TransferCost,
			})
			break // best-ranked (first) candidate per task
		}
		if len(recs) >= maxTransfers && maxTransfers > 0 {
			break
		}
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].ExpectedBenefit > recs[j].ExpectedBenefit })
	if maxTransfers > 0 && len(recs) > maxTransfers {
		recs = recs[:maxTransfers]
	}
	return recs
}

// ProactiveRecommendations proposes moving non-critical, low-dependency
// tasks off teams whose predicted utilization (given pendingComplexity)
// exceeds threshold+margin, applying a 0.7 benefit discount for the
// uncertainty of a prediction.
func ProactiveRecommendations(capacities map[string]*wavetypes.TeamCapacity, pendingComplexity map[string]float64, ranked []RankedCandidate, th Thresholds, maxTransfers int) []Recommendation {
	var recs []Recommendation
	for _, rc := range ranked {
		if rc.Task.Task.Critical || len(rc.Task.Task.DependsOn) > 1 {
			continue
		}
		cap, ok := capacities[rc.Task.FromTeam]
		if !ok || cap.MaxConcurrentTasks == 0 {
			continue
		}
		predicted := cap.UtilizedFraction() + pendingComplexity[rc.Task.FromTeam]/float64(cap.MaxConcurrentTasks)
		if predicted <= th.BottleneckUtilization+th.ProactiveMargin {
			continue
		}
		if len(rc.Candidates) == 0 {
			continue
		}
		best := rc.Candidates[0]
		recs = append(recs, Recommendation{
			TaskID:          rc.Task.Task.ID,
			FromTeam:        rc.Task.FromTeam,
			ToTeam:          best.TeamID,
			ExpectedBenefit: best.ExpectedBenefit * 0.7,
			Cost:            best.TransferCost,
			Proactive:       true,
		})
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].ExpectedBenefit > recs[j].ExpectedBenefit })
	if maxTransfers > 0 && len(recs) > maxTransfers {
		recs = recs[:maxTransfers]
	}
	return recs
}
