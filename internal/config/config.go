// Package config defines the coordinator's Configuration, its validation,
// and YAML loading. Field set and validation follow SPEC_FULL.md §6;
// loading from YAML matches the broader pack's convention for service
// configuration (gopkg.in/yaml.v3), and hot-reload is layered on top in
// internal/configwatch.
package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/swarmguard/wavecoord/internal/wavetypes"
)

// WorkStealing groups the work-stealing-specific configuration options.
type WorkStealing struct {
	Enabled                   bool    `yaml:"enabled"`
	UtilizationThreshold      float64 `yaml:"utilizationThreshold"`
	ImbalanceThreshold        float64 `yaml:"imbalanceThreshold"`
	MinimumTransferBenefit    float64 `yaml:"minimumTransferBenefit"`
	MaxTransfersPerWave       int     `yaml:"maxTransfersPerWave"`
	SkillMatchThreshold       float64 `yaml:"skillMatchThreshold"`
	CoordinationOverheadWeight float64 `yaml:"coordinationOverheadWeight"`
	ProactiveStealingEnabled  bool    `yaml:"proactiveStealingEnabled"`
	EmergencyStealingEnabled  bool    `yaml:"emergencyStealingEnabled"`
}

// BoundaryConstraints groups the constraints the Frontier Calculator
// enforces when generating and selecting boundaries.
type BoundaryConstraints struct {
	MaxWaveSize             int     `yaml:"maxWaveSize"`
	MinTeamUtilization      float64 `yaml:"minTeamUtilization"`
	MaxCoordinationOverhead float64 `yaml:"maxCoordinationOverhead"`
	CriticalPathBuffer      float64 `yaml:"criticalPathBuffer"`
	ParallelismThreshold    float64 `yaml:"parallelismThreshold"`
}

// ObjectiveWeights mirrors frontier.Weights for the config file's shape;
// they need not sum to 1.
type ObjectiveWeights struct {
	Throughput   float64 `yaml:"throughput"`
	Coordination float64 `yaml:"coordination"`
	Risk         float64 `yaml:"risk"`
	Balance      float64 `yaml:"balance"`
}

// Configuration is the coordinator's complete set of recognized options.
type Configuration struct {
	UpdateIntervalMS       int64   `yaml:"updateIntervalMs"`
	OptimizationThreshold  float64 `yaml:"optimizationThreshold"`
	MaxWaveLookahead       int     `yaml:"maxWaveLookahead"`
	AdaptiveBoundaries     bool    `yaml:"adaptiveBoundaries"`
	RealTimePromotions     bool    `yaml:"realTimePromotions"`
	RollbackOnFailure      bool    `yaml:"rollbackOnFailure"`

	WorkStealing        WorkStealing        `yaml:"workStealing"`
	BoundaryConstraints BoundaryConstraints `yaml:"boundaryConstraints"`
	ObjectiveWeights    ObjectiveWeights    `yaml:"objectiveWeights"`
}

// Default returns a Configuration populated with conservative defaults,
// matching the formulas pinned elsewhere in SPEC_FULL.md.
func Default() Configuration {
	return Configuration{
		UpdateIntervalMS:      5000,
		OptimizationThreshold: 0.5,
		MaxWaveLookahead:      3,
		AdaptiveBoundaries:    true,
		RealTimePromotions:    true,
		RollbackOnFailure:     true,
		WorkStealing: WorkStealing{
			Enabled:                    true,
			UtilizationThreshold:       0.8,
			ImbalanceThreshold:         0.3,
			MinimumTransferBenefit:     0.1,
			MaxTransfersPerWave:        5,
			SkillMatchThreshold:        0.5,
			CoordinationOverheadWeight: 0.1,
			ProactiveStealingEnabled:   true,
			EmergencyStealingEnabled:   true,
		},
		BoundaryConstraints: BoundaryConstraints{
			MaxWaveSize:             10,
			MinTeamUtilization:      0.2,
			MaxCoordinationOverhead: 0.3,
			CriticalPathBuffer:      0.2,
			ParallelismThreshold:    0.3,
		},
		ObjectiveWeights: ObjectiveWeights{Throughput: 0.4, Coordination: 0.3, Risk: 0.2, Balance: 0.1},
	}
}

// Validate checks the range-bounded fields below, failing with a
// ConfigurationError on the first violation found. minimumTransferBenefit,
// coordinationOverheadWeight, maxCoordinationOverhead, parallelismThreshold
// and the boolean switches are not checked.
func (c Configuration) Validate() error {
	fail := func(msg string, ctx map[string]any) error {
		return wavetypes.NewError(wavetypes.ConfigurationError, msg, ctx)
	}

	if c.UpdateIntervalMS < 1000 {
		return fail("updateIntervalMs must be >= 1000", map[string]any{"value": c.UpdateIntervalMS})
	}
	if c.OptimizationThreshold < 0 || c.OptimizationThreshold > 1 {
		return fail("optimizationThreshold must be within [0,1]", map[string]any{"value": c.OptimizationThreshold})
	}
	if c.MaxWaveLookahead < 1 {
		return fail("maxWaveLookahead must be >= 1", map[string]any{"value": c.MaxWaveLookahead})
	}
	if c.WorkStealing.MaxTransfersPerWave < 0 {
		return fail("workStealing.maxTransfersPerWave must be >= 0", nil)
	}
	for name, v := range map[string]float64{
		"workStealing.utilizationThreshold":  c.WorkStealing.UtilizationThreshold,
		"workStealing.imbalanceThreshold":    c.WorkStealing.ImbalanceThreshold,
		"workStealing.skillMatchThreshold":   c.WorkStealing.SkillMatchThreshold,
		"boundaryConstraints.minTeamUtilization": c.BoundaryConstraints.MinTeamUtilization,
		"boundaryConstraints.criticalPathBuffer": c.BoundaryConstraints.CriticalPathBuffer,
		"objectiveWeights.throughput":         c.ObjectiveWeights.Throughput,
		"objectiveWeights.coordination":       c.ObjectiveWeights.Coordination,
		"objectiveWeights.risk":               c.ObjectiveWeights.Risk,
		"objectiveWeights.balance":            c.ObjectiveWeights.Balance,
	} {
		if v < 0 || v > 1 {
			return fail(name+" must be within [0,1]", map[string]any{"value": v})
		}
	}
	if c.BoundaryConstraints.MaxWaveSize < 1 {
		return fail("boundaryConstraints.maxWaveSize must be >= 1", nil)
	}
	return nil
}

// Load reads and validates a Configuration from a YAML file at path.
func Load(path string) (Configuration, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Configuration{}, wavetypes.NewError(wavetypes.ConfigurationError,
			"failed to read configuration file", map[string]any{"path": path, "error": err.Error()})
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Configuration{}, wavetypes.NewError(wavetypes.ConfigurationError,
			"failed to parse configuration file", map[string]any{"path": path, "error": err.Error()})
	}
	if err := cfg.Validate(); err != nil {
		return Configuration{}, err
	}
	return cfg, nil
}
