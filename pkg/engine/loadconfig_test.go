package engine

import (
	"os"
	"path/filepath"
	"testing"
)

const testEngineYAML = `
engines:
  - name: runninghub-pose
    type: runninghub
    api_key: ${FORMY_TEST_API_KEY}
    workflow_id: wf-pose-1
    api_base_url: ${FORMY_TEST_BASE_URL:https://api.runninghub.ai}
    timeout_seconds: 120
    poll_interval_seconds: 2
    node_mapping:
      raw_image: "3"
      pose_image: "7"
    primary_node_ids: ["9"]

pipelines:
  POSE_CHANGE:
    steps:
      execute:
        engine: runninghub-pose
`

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engines.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing test config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("FORMY_TEST_API_KEY", "key-from-env")
	os.Unsetenv("FORMY_TEST_BASE_URL")

	reg, err := LoadConfig(writeTestConfig(t, testEngineYAML), nil)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	eng, err := reg.GetEngineForStep("POSE_CHANGE", "execute")
	if err != nil {
		t.Fatalf("GetEngineForStep() error = %v", err)
	}

	rh, ok := eng.(*RunningHubEngine)
	if !ok {
		t.Fatalf("engine is %T, want *RunningHubEngine", eng)
	}
	if rh.cfg.APIKey != "key-from-env" {
		t.Errorf("APIKey = %q, want value interpolated from env", rh.cfg.APIKey)
	}
	if rh.cfg.baseURL() != "https://api.runninghub.ai" {
		t.Errorf("baseURL() = %q, want the ${VAR:default} fallback", rh.cfg.baseURL())
	}
	if rh.cfg.NodeMapping["raw_image"] != "3" {
		t.Errorf("NodeMapping = %+v, want raw_image -> 3", rh.cfg.NodeMapping)
	}
}

func TestLoadConfigUnknownType(t *testing.T) {
	yaml := `
engines:
  - name: mystery
    type: quantum
    api_key: k
    workflow_id: w
`
	if _, err := LoadConfig(writeTestConfig(t, yaml), nil); err == nil {
		t.Error("LoadConfig() with an unknown engine type should fail fast")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"), nil); err == nil {
		t.Error("LoadConfig() on a missing file should error")
	}
}
