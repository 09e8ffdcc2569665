package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
)

// envelope is the external provider's response shape: {code, msg, data}.
type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

const (
	codeSuccess = 0
	codeRunning = 804
	codeQueued  = 813
	codeFailed  = 805
)

// RunningHubConfig configures a single named engine instance, loaded from
// the engine registry's YAML with env-var substitution already applied.
type RunningHubConfig struct {
	Name              string
	APIKey            string
	WorkflowID        string
	APIBaseURL        string            // default https://api.runninghub.ai
	Timeout           time.Duration     // poll deadline, default 300s
	PollInterval      time.Duration     // default 3s
	NodeMapping       map[string]string // canonical input name -> nodeId, e.g. "raw_image": "3"
	PrimaryNodeIDs    []string          // node IDs classified as the primary output
	ComparisonNodeIDs []string          // node IDs classified as the comparison output
}

// defaultNodeMapping covers workflows whose config declares no node_mapping:
// the common two-slot layout puts the subject image on node 3 and the
// reference image on node 7, whatever canonical name the pipeline sends.
var defaultNodeMapping = map[string]string{
	"raw_image":   "3",
	"model_image": "3",
	"head_image":  "3",
	"pose_image":  "7",
	"bg_image":    "7",
	"cloth_image": "7",
}

func (c RunningHubConfig) nodeFor(canonicalName string) (string, bool) {
	if id, ok := c.NodeMapping[canonicalName]; ok {
		return id, true
	}
	if len(c.NodeMapping) > 0 {
		// A partial mapping is taken at its word; only a missing one falls
		// back to the embedded defaults.
		return "", false
	}
	id, ok := defaultNodeMapping[canonicalName]
	return id, ok
}

func (c RunningHubConfig) baseURL() string {
	if c.APIBaseURL != "" {
		return c.APIBaseURL
	}
	return "https://api.runninghub.ai"
}

func (c RunningHubConfig) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return 300 * time.Second
}

func (c RunningHubConfig) pollInterval() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	return 3 * time.Second
}

// RunningHubEngine talks to the RunningHub-shaped workflow provider:
// /task/openapi/upload, /task/openapi/create, /task/openapi/outputs.
type RunningHubEngine struct {
	cfg        RunningHubConfig
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker

	// requestDuration is formy_engine_request_duration_seconds{op}. Nil-safe:
	// a Registry is wired in by the Engine Registry's LoadConfig caller, not
	// required for an engine to function.
	requestDuration *prometheus.HistogramVec
}

// WithMetrics attaches the per-operation request-duration histogram and
// returns e for chaining.
func (e *RunningHubEngine) WithMetrics(requestDuration *prometheus.HistogramVec) *RunningHubEngine {
	e.requestDuration = requestDuration
	return e
}

func (e *RunningHubEngine) observe(op string, start time.Time) {
	if e.requestDuration != nil {
		e.requestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

// NewRunningHubEngine creates an engine instance with a circuit breaker
// around its HTTP calls, grounded on the gobreaker.Settings shape used in
// the pack's notification suite (trip after repeated consecutive failures,
// half-open after a cooldown).
func NewRunningHubEngine(cfg RunningHubConfig) *RunningHubEngine {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "engine:" + cfg.Name,
		MaxRequests: 2,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &RunningHubEngine{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		breaker:    breaker,
	}
}

// Execute composes upload(s), submit, and the poll loop, returning a
// classified Result.
func (e *RunningHubEngine) Execute(ctx context.Context, in Input) (Result, error) {
	report(in.Progress, 10, "uploading inputs")

	nodeInputs := make([]NodeInput, 0, len(in.Files))
	for canonicalName, localPath := range in.Files {
		nodeID, ok := e.cfg.nodeFor(canonicalName)
		if !ok {
			return Result{}, NewEngineFailed("", fmt.Sprintf("no node mapping configured for input %q", canonicalName))
		}

		fileName, err := e.upload(ctx, localPath)
		if err != nil {
			return Result{}, err
		}

		nodeInputs = append(nodeInputs, NodeInput{NodeID: nodeID, FieldName: "image", FieldValue: fileName})
	}

	report(in.Progress, 30, "submitting workflow")
	taskID, err := e.submit(ctx, nodeInputs)
	if err != nil {
		return Result{}, err
	}

	report(in.Progress, 50, "processing")
	outputs, err := e.waitForCompletion(ctx, taskID, in.Progress)
	if err != nil {
		return Result{}, err
	}

	report(in.Progress, 90, "classifying outputs")
	return e.classify(outputs)
}

// upload performs the multipart POST to /task/openapi/upload, retrying up
// to 3 times with a 5s fixed backoff on transport failure.
func (e *RunningHubEngine) upload(ctx context.Context, localPath string) (string, error) {
	defer e.observe("upload", time.Now())

	const maxAttempts = 3
	const backoff = 5 * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		fileName, err := e.uploadOnce(ctx, localPath)
		if err == nil {
			return fileName, nil
		}
		lastErr = err

		if attempt < maxAttempts {
			if !sleepCtx(ctx, backoff) {
				break
			}
		}
	}

	return "", NewEngineUnavailable(lastErr)
}

func (e *RunningHubEngine) uploadOnce(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("opening upload file: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("apiKey", e.cfg.APIKey); err != nil {
		return "", fmt.Errorf("writing apiKey field: %w", err)
	}
	if err := writer.WriteField("fileType", "input"); err != nil {
		return "", fmt.Errorf("writing fileType field: %w", err)
	}
	part, err := writer.CreateFormFile("file", filepath.Base(localPath))
	if err != nil {
		return "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("copying file into form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("closing multipart writer: %w", err)
	}

	env, err := e.post(ctx, "/task/openapi/upload", writer.FormDataContentType(), &body)
	if err != nil {
		return "", err
	}

	var data struct {
		FileName string `json:"fileName"`
		FileType string `json:"fileType"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return "", fmt.Errorf("decoding upload response data: %w", err)
	}
	return data.FileName, nil
}

// submit performs the POST to /task/openapi/create, retrying up to 5 times
// with a 5s minimum backoff; the provider's create endpoint is known to be
// slow under load, so the spacing must never collapse toward zero.
func (e *RunningHubEngine) submit(ctx context.Context, nodeInputs []NodeInput) (string, error) {
	defer e.observe("submit", time.Now())

	const maxAttempts = 5
	const backoff = 5 * time.Second

	type nodeInfo struct {
		NodeID     string `json:"nodeId"`
		FieldName  string `json:"fieldName"`
		FieldValue string `json:"fieldValue"`
	}

	list := make([]nodeInfo, 0, len(nodeInputs))
	for _, n := range nodeInputs {
		list = append(list, nodeInfo{NodeID: n.NodeID, FieldName: n.FieldName, FieldValue: n.FieldValue})
	}

	payload, err := json.Marshal(map[string]any{
		"apiKey":       e.cfg.APIKey,
		"workflowId":   e.cfg.WorkflowID,
		"nodeInfoList": list,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling submit payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		env, err := e.post(ctx, "/task/openapi/create", "application/json", bytes.NewReader(payload))
		if err == nil {
			var data struct {
				TaskID string `json:"taskId"`
			}
			if err := json.Unmarshal(env.Data, &data); err != nil {
				return "", fmt.Errorf("decoding submit response data: %w", err)
			}
			return data.TaskID, nil
		}
		lastErr = err

		if attempt < maxAttempts {
			if !sleepCtx(ctx, backoff) {
				break
			}
		}
	}

	return "", NewEngineUnavailable(lastErr)
}

// waitForCompletion polls /task/openapi/outputs until the provider reports
// done or failed, or the configured timeout elapses.
func (e *RunningHubEngine) waitForCompletion(ctx context.Context, taskID string, progress ProgressFunc) ([]OutputFile, error) {
	defer e.observe("poll", time.Now())

	deadline := e.cfg.timeout()
	start := time.Now()

	for {
		elapsed := time.Since(start)
		if elapsed > deadline {
			return nil, NewEngineTimeout(elapsed)
		}

		status, outputs, failedReason, err := e.pollOnce(ctx, taskID)
		if err != nil {
			return nil, err
		}

		switch status {
		case codeSuccess:
			return outputs, nil
		case codeFailed:
			nodeName, exceptionMessage := "", ""
			if failedReason != nil {
				nodeName = failedReason.NodeName
				exceptionMessage = failedReason.ExceptionMessage
			}
			return nil, NewEngineFailed(nodeName, exceptionMessage)
		case codeRunning, codeQueued:
			report(progress, 50+int(30*elapsed/deadline), "processing")
		default:
			// Not reached for codes outside 0/804/813/805: post rejects those
			// as errors, so pollOnce returns ENGINE_UNAVAILABLE after its one
			// retry and the poll loop stops; an unknown code is not polled on.
		}

		if !sleepCtx(ctx, e.cfg.pollInterval()) {
			return nil, ctx.Err()
		}
	}
}

type failedReason struct {
	NodeName         string `json:"node_name"`
	ExceptionMessage string `json:"exception_message"`
}

// pollOnce performs a single POST to /task/openapi/outputs, retrying once
// on transport failure; the enclosing poll loop provides the longer-horizon
// retries up to the deadline.
func (e *RunningHubEngine) pollOnce(ctx context.Context, taskID string) (status int, outputs []OutputFile, reason *failedReason, err error) {
	payload, err := json.Marshal(map[string]any{"apiKey": e.cfg.APIKey, "taskId": taskID})
	if err != nil {
		return 0, nil, nil, fmt.Errorf("marshaling poll payload: %w", err)
	}

	const maxAttempts = 2
	var lastErr error
	var env *envelope
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		env, lastErr = e.post(ctx, "/task/openapi/outputs", "application/json", bytes.NewReader(payload))
		if lastErr == nil {
			break
		}
		if attempt < maxAttempts {
			if !sleepCtx(ctx, 2*time.Second) {
				break
			}
		}
	}
	if lastErr != nil {
		return 0, nil, nil, NewEngineUnavailable(lastErr)
	}

	if env.Code == codeFailed {
		var fr struct {
			FailedReason failedReason `json:"failedReason"`
		}
		_ = json.Unmarshal(env.Data, &fr)
		return codeFailed, nil, &fr.FailedReason, nil
	}

	if env.Code == codeSuccess {
		var files []OutputFile
		var raw []struct {
			FileURL  string `json:"fileUrl"`
			FileType string `json:"fileType"`
			NodeID   string `json:"nodeId"`
		}
		if err := json.Unmarshal(env.Data, &raw); err != nil {
			return 0, nil, nil, fmt.Errorf("decoding outputs response data: %w", err)
		}
		for _, r := range raw {
			files = append(files, OutputFile{FileURL: r.FileURL, FileType: r.FileType, NodeID: r.NodeID})
		}
		return codeSuccess, files, nil, nil
	}

	return env.Code, nil, nil, nil
}

// classify separates outputs into primary and comparison images, falling
// back to positional order (first = primary, second = comparison) when the
// configured node-ID sets don't match anything.
func (e *RunningHubEngine) classify(outputs []OutputFile) (Result, error) {
	if len(outputs) == 0 {
		return Result{}, NewResultNotFound()
	}

	primarySet := toSet(e.cfg.PrimaryNodeIDs)
	comparisonSet := toSet(e.cfg.ComparisonNodeIDs)

	var primary, comparison *OutputFile
	for i := range outputs {
		o := &outputs[i]
		switch {
		case primarySet[o.NodeID] && primary == nil:
			primary = o
		case comparisonSet[o.NodeID] && comparison == nil:
			comparison = o
		}
	}

	if primary == nil {
		primary = &outputs[0]
		if comparison == nil && len(outputs) > 1 {
			comparison = &outputs[1]
		}
	}

	if primary.FileURL == "" {
		return Result{}, NewResultNotFound()
	}

	result := Result{
		OutputImage: ImageRef{URL: primary.FileURL, Type: primary.FileType},
		RawOutputs:  outputs,
	}
	if comparison != nil {
		result.ComparisonImage = &ImageRef{URL: comparison.FileURL, Type: comparison.FileType}
	}
	return result, nil
}

// post issues an HTTP POST through the circuit breaker, so repeated
// transport failures open the breaker and fail fast instead of burning the
// full retry budget against a downed provider.
func (e *RunningHubEngine) post(ctx context.Context, path, contentType string, body io.Reader) (*envelope, error) {
	result, err := e.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.baseURL()+path, body)
		if err != nil {
			return nil, fmt.Errorf("building request: %w", err)
		}
		req.Header.Set("Content-Type", contentType)

		resp, err := e.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("calling engine provider: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("engine provider returned HTTP %d", resp.StatusCode)
		}

		var env envelope
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			return nil, fmt.Errorf("decoding engine response: %w", err)
		}
		if env.Code != codeSuccess && env.Code != codeRunning && env.Code != codeQueued && env.Code != codeFailed {
			return nil, fmt.Errorf("engine provider returned code %d: %s", env.Code, env.Msg)
		}

		return &env, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*envelope), nil
}

// Download streams url to destinationPath, creating parent directories as needed.
func (e *RunningHubEngine) Download(ctx context.Context, url, destinationPath string) error {
	defer e.observe("download", time.Now())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building download request: %w", err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return NewEngineUnavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return NewEngineUnavailable(fmt.Errorf("download returned HTTP %d", resp.StatusCode))
	}

	if err := os.MkdirAll(filepath.Dir(destinationPath), 0o755); err != nil {
		return fmt.Errorf("creating download directory: %w", err)
	}

	out, err := os.Create(destinationPath)
	if err != nil {
		return fmt.Errorf("creating download destination: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("writing downloaded file: %w", err)
	}
	return nil
}

func toSet(ids []string) map[string]bool {
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

func report(fn ProgressFunc, progress int, step string) {
	if fn != nil {
		fn(progress, step)
	}
}

// sleepCtx sleeps for d or returns false early if ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
