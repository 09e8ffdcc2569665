package task

import "testing"

func TestCreditCost(t *testing.T) {
	tests := []struct {
		name    string
		mode    Mode
		quality string
		size    string
		want    int
	}{
		{"head swap defaults", ModeHeadSwap, "standard", "medium", 48},
		{"background change defaults", ModeBackgroundChange, "standard", "medium", 36},
		{"pose change ultra xlarge", ModePoseChange, "ultra", "xlarge", 200},
		{"head swap small standard", ModeHeadSwap, "standard", "small", 40},
		{"unknown quality falls back to standard", ModeHeadSwap, "legendary", "medium", 48},
		{"unknown size falls back to medium", ModeHeadSwap, "standard", "enormous", 48},
		{"unknown mode costs nothing", Mode("NOT_A_MODE"), "standard", "medium", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CreditCost(tt.mode, tt.quality, tt.size)
			if got != tt.want {
				t.Errorf("CreditCost(%q, %q, %q) = %d, want %d", tt.mode, tt.quality, tt.size, got, tt.want)
			}
		})
	}
}
