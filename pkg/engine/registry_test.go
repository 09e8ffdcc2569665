package engine

import (
	"os"
	"testing"
)

func TestInterpolateEnvSubstitutesSetVar(t *testing.T) {
	t.Setenv("FORMY_TEST_VAR", "hello")
	got := interpolateEnv("value: ${FORMY_TEST_VAR}")
	if got != "value: hello" {
		t.Errorf("interpolateEnv() = %q, want %q", got, "value: hello")
	}
}

func TestInterpolateEnvUsesDefaultWhenUnset(t *testing.T) {
	os.Unsetenv("FORMY_TEST_UNSET_VAR")
	got := interpolateEnv("value: ${FORMY_TEST_UNSET_VAR:fallback}")
	if got != "value: fallback" {
		t.Errorf("interpolateEnv() = %q, want %q", got, "value: fallback")
	}
}

func TestInterpolateEnvSetVarIsIdentity(t *testing.T) {
	t.Setenv("FORMY_TEST_VAR", "hello")
	// A set variable with a default present still yields the env value, not
	// the default: the var wins.
	got := interpolateEnv("value: ${FORMY_TEST_VAR:fallback}")
	if got != "value: hello" {
		t.Errorf("interpolateEnv() = %q, want %q", got, "value: hello")
	}
}

func TestInterpolateEnvIdempotent(t *testing.T) {
	t.Setenv("FORMY_TEST_VAR", "hello")
	once := interpolateEnv("value: ${FORMY_TEST_VAR}")
	twice := interpolateEnv(once)
	if once != twice {
		t.Errorf("interpolateEnv() is not idempotent: %q != %q", once, twice)
	}
}

func TestInterpolateEnvUnsetNoDefaultYieldsEmpty(t *testing.T) {
	os.Unsetenv("FORMY_TEST_UNSET_VAR")
	got := interpolateEnv("value: ${FORMY_TEST_UNSET_VAR}")
	if got != "value: " {
		t.Errorf("interpolateEnv() = %q, want %q", got, "value: ")
	}
}

func TestGetEngineForStepFallsBackToPipelineName(t *testing.T) {
	reg := &Registry{
		engines: map[string]Engine{
			"head_swap": &RunningHubEngine{},
		},
		bindings: map[string]map[string]string{},
	}

	eng, err := reg.GetEngineForStep("head_swap", "execute")
	if err != nil {
		t.Fatalf("GetEngineForStep() error = %v", err)
	}
	if eng == nil {
		t.Fatal("GetEngineForStep() returned nil engine")
	}
}

func TestGetEngineForStepUsesBinding(t *testing.T) {
	headSwapEngine := &RunningHubEngine{}
	reg := &Registry{
		engines: map[string]Engine{
			"runninghub-headswap": headSwapEngine,
		},
		bindings: map[string]map[string]string{
			"head_swap": {"execute": "runninghub-headswap"},
		},
	}

	eng, err := reg.GetEngineForStep("head_swap", "execute")
	if err != nil {
		t.Fatalf("GetEngineForStep() error = %v", err)
	}
	if eng != headSwapEngine {
		t.Error("GetEngineForStep() did not resolve the bound engine")
	}
}

func TestGetEngineUnknown(t *testing.T) {
	reg := &Registry{engines: map[string]Engine{}, bindings: map[string]map[string]string{}}
	if _, err := reg.GetEngine("missing"); err == nil {
		t.Error("GetEngine() with unknown name should error")
	}
}
