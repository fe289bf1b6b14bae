package config

import "testing"

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default configuration should validate, got %v", err)
	}
}

func TestValidateRejectsLowUpdateInterval(t *testing.T) {
	cfg := Default()
	cfg.UpdateIntervalMS = 500
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected ConfigurationError for updateIntervalMs < 1000")
	}
}

func TestValidateRejectsOutOfRangeWeight(t *testing.T) {
	cfg := Default()
	cfg.ObjectiveWeights.Risk = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected ConfigurationError for out-of-range weight")
	}
}

func TestValidateRejectsZeroWaveLookahead(t *testing.T) {
	cfg := Default()
	cfg.MaxWaveLookahead = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected ConfigurationError for maxWaveLookahead < 1")
	}
}
