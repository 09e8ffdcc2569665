package task

import "testing"

func TestModeFromString(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"head swap", "HEAD_SWAP", false},
		{"background change", "BACKGROUND_CHANGE", false},
		{"pose change", "POSE_CHANGE", false},
		{"unknown mode", "FACE_SWAP", true},
		{"lowercase rejected", "head_swap", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mode, err := ModeFromString(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ModeFromString(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err == nil && string(mode) != tt.input {
				t.Errorf("ModeFromString(%q) = %q, want %q", tt.input, mode, tt.input)
			}
		})
	}
}

func TestFirstReferenceImage(t *testing.T) {
	tests := []struct {
		name   string
		mode   Mode
		config map[string]any
		want   string
	}{
		{
			name:   "head swap prefers reference_image",
			mode:   ModeHeadSwap,
			config: map[string]any{"cloth_image": "h2", "reference_image": "h1"},
			want:   "h1",
		},
		{
			name:   "head swap falls back to cloth_image",
			mode:   ModeHeadSwap,
			config: map[string]any{"cloth_image": "h2"},
			want:   "h2",
		},
		{
			name:   "background change uses bg_image alias",
			mode:   ModeBackgroundChange,
			config: map[string]any{"bg_image": "h3"},
			want:   "h3",
		},
		{
			name:   "no matching alias returns empty",
			mode:   ModePoseChange,
			config: map[string]any{"unrelated_field": "h4"},
			want:   "",
		},
		{
			name:   "non-string value is ignored",
			mode:   ModeHeadSwap,
			config: map[string]any{"reference_image": 42},
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := firstReferenceImage(tt.mode, tt.config)
			if got != tt.want {
				t.Errorf("firstReferenceImage() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStringConfig(t *testing.T) {
	config := map[string]any{"quality": "high", "wrong_type": 5}

	if got := stringConfig(config, "quality", "standard"); got != "high" {
		t.Errorf("stringConfig(quality) = %q, want %q", got, "high")
	}
	if got := stringConfig(config, "missing", "standard"); got != "standard" {
		t.Errorf("stringConfig(missing) = %q, want default %q", got, "standard")
	}
	if got := stringConfig(config, "wrong_type", "standard"); got != "standard" {
		t.Errorf("stringConfig(wrong_type) = %q, want default %q", got, "standard")
	}
}
