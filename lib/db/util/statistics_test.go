package util

import (
	"testing"
)

func TestNewStats(t *testing.T) {
	s := NewStats([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	if s.Mean != 5 {
		t.Errorf("Expected mean 5, got %f", s.Mean)
	}
	if s.StdDeviation != 2 {
		t.Errorf("Expected standard deviation 2, got %f", s.StdDeviation)
	}
	if s.Min != 2 || s.Max != 9 {
		t.Errorf("Expected min 2 and max 9, got %f and %f", s.Min, s.Max)
	}

	if empty := NewStats(nil); empty != (Stats{}) {
		t.Errorf("Expected zero stats for no values, got %+v", empty)
	}
}

func TestDistributionQuality(t *testing.T) {
	even := NewDistributionStats([]float64{10, 10, 10, 10})
	if even.DistributionQuality != 1 {
		t.Errorf("Expected quality 1 for an even distribution, got %f", even.DistributionQuality)
	}

	skewed := NewDistributionStats([]float64{0, 0, 0, 40})
	if skewed.DistributionQuality >= 0.5 {
		t.Errorf("Expected quality below 0.5 for a skewed distribution, got %f", skewed.DistributionQuality)
	}
}

func TestHashString(t *testing.T) {
	if HashString("key", 1) == HashString("key", 2) {
		t.Errorf("Expected different hashes for different seeds")
	}
	if HashString("key", 1) != HashString("key", 1) {
		t.Errorf("Expected equal hashes for equal input")
	}
	if GenerateSeed() == GenerateSeed() {
		t.Errorf("Expected different seeds")
	}
}
