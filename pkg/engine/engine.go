// Package engine implements the workflow engine adapter: translating an
// abstract (workflow_id, node_inputs) call into an external provider's HTTP
// protocol, and the engine registry that loads named engine instances from
// YAML with environment-variable interpolation.
package engine

import (
	"context"
	"time"

	"github.com/formy/core/internal/apperr"
)

// NodeInput is one field of a workflow submission.
type NodeInput struct {
	NodeID     string
	FieldName  string
	FieldValue string
}

// Input is the abstract request an engine executes: a set of local file
// paths keyed by the pipeline's canonical input names (e.g. "head_image",
// "cloth_image"), plus progress reporting.
type Input struct {
	Files    map[string]string // canonical input name -> local file path
	Progress ProgressFunc
}

// ProgressFunc reports fractional completion (0-100) and a short step
// description. Invocations may be dropped without affecting correctness;
// they update auxiliary fields only.
type ProgressFunc func(progress int, step string)

// ImageRef is a classified output file.
type ImageRef struct {
	URL  string
	Type string
}

// Result is what a successful Execute call returns.
type Result struct {
	OutputImage     ImageRef
	ComparisonImage *ImageRef
	RawOutputs      []OutputFile
}

// OutputFile is one file entry from the provider's outputs response.
type OutputFile struct {
	FileURL  string
	FileType string
	NodeID   string
}

// Engine executes a workflow against an external AI provider.
type Engine interface {
	Execute(ctx context.Context, in Input) (Result, error)
}

// NewEngineTimeout builds the ENGINE_TIMEOUT apperr, carrying how long the
// poll loop ran before giving up.
func NewEngineTimeout(elapsed time.Duration) error {
	return apperr.NewCode(apperr.CodeEngineTimeout, "engine poll deadline exceeded").
		WithDetails(map[string]string{"elapsed_seconds": formatSeconds(elapsed)})
}

// NewEngineUnavailable builds the ENGINE_UNAVAILABLE apperr for a transport
// failure that survived every retry.
func NewEngineUnavailable(cause error) error {
	return apperr.WrapCode(apperr.CodeEngineUnavailable, "engine provider unreachable", cause)
}

// NewEngineFailed builds the ENGINE_FAILED apperr for a provider-reported
// failure, carrying the node name and exception message from failedReason.
func NewEngineFailed(nodeName, exceptionMessage string) error {
	return apperr.NewCode(apperr.CodeEngineFailed, "engine reported failure").
		WithDetails(map[string]string{"node_name": nodeName, "exception_message": exceptionMessage})
}

// NewResultNotFound builds the RESULT_NOT_FOUND apperr for a missing output URL.
func NewResultNotFound() error {
	return apperr.NewCode(apperr.CodeResultNotFound, "engine produced no output URL")
}

func formatSeconds(d time.Duration) string {
	return d.Round(time.Second).String()
}
