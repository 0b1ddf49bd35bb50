package config

import "testing"

func TestDefault_Thresholds(t *testing.T) {
	c := Default()
	if got := c.L1Threshold(); got != 10_000 {
		t.Fatalf("L1Threshold() = %d, want 10000", got)
	}
	if got := c.L2Threshold(); got != 10_000 {
		t.Fatalf("L2Threshold() = %d, want 10000", got)
	}
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	c, err := Load("/nonexistent/path/hcme.yaml")
	if err != nil {
		t.Fatalf("Load returned error for missing file: %v", err)
	}
	if c.MaxContextChars != 100_000 {
		t.Fatalf("expected default MaxContextChars, got %d", c.MaxContextChars)
	}
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") returned error: %v", err)
	}
	if len(c.TypeBoosts) == 0 {
		t.Fatalf("expected default type boosts to be populated")
	}
}
