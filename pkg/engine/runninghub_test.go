package engine

import "testing"

func TestClassifyUsesConfiguredNodeIDs(t *testing.T) {
	e := &RunningHubEngine{cfg: RunningHubConfig{
		PrimaryNodeIDs:    []string{"9"},
		ComparisonNodeIDs: []string{"12"},
	}}

	outputs := []OutputFile{
		{FileURL: "https://x/comparison.png", NodeID: "12"},
		{FileURL: "https://x/primary.png", NodeID: "9"},
	}

	result, err := e.classify(outputs)
	if err != nil {
		t.Fatalf("classify() error = %v", err)
	}
	if result.OutputImage.URL != "https://x/primary.png" {
		t.Errorf("OutputImage.URL = %q, want primary.png", result.OutputImage.URL)
	}
	if result.ComparisonImage == nil || result.ComparisonImage.URL != "https://x/comparison.png" {
		t.Errorf("ComparisonImage = %+v, want comparison.png", result.ComparisonImage)
	}
}

func TestClassifyFallsBackToPositionalOrder(t *testing.T) {
	e := &RunningHubEngine{} // no configured node IDs at all

	outputs := []OutputFile{
		{FileURL: "https://x/first.png", NodeID: "1"},
		{FileURL: "https://x/second.png", NodeID: "2"},
	}

	result, err := e.classify(outputs)
	if err != nil {
		t.Fatalf("classify() error = %v", err)
	}
	if result.OutputImage.URL != "https://x/first.png" {
		t.Errorf("OutputImage.URL = %q, want first.png (positional fallback)", result.OutputImage.URL)
	}
	if result.ComparisonImage == nil || result.ComparisonImage.URL != "https://x/second.png" {
		t.Errorf("ComparisonImage = %+v, want second.png (positional fallback)", result.ComparisonImage)
	}
}

func TestClassifySingleOutputHasNoComparison(t *testing.T) {
	e := &RunningHubEngine{}

	result, err := e.classify([]OutputFile{{FileURL: "https://x/only.png", NodeID: "1"}})
	if err != nil {
		t.Fatalf("classify() error = %v", err)
	}
	if result.ComparisonImage != nil {
		t.Errorf("ComparisonImage = %+v, want nil for a single output", result.ComparisonImage)
	}
}

func TestClassifyEmptyOutputsIsResultNotFound(t *testing.T) {
	e := &RunningHubEngine{}
	if _, err := e.classify(nil); err == nil {
		t.Error("classify(nil) should return RESULT_NOT_FOUND")
	}
}

func TestToSet(t *testing.T) {
	s := toSet([]string{"a", "b"})
	if !s["a"] || !s["b"] || s["c"] {
		t.Errorf("toSet() = %+v, want {a:true, b:true}", s)
	}
}
