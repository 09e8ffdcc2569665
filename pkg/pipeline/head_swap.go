package pipeline

import (
	"context"

	"github.com/formy/core/internal/apperr"
	"github.com/formy/core/pkg/engine"
	"github.com/formy/core/pkg/task"
)

// HeadSwap swaps the head in source_image with the one found in the
// pipeline's resolved reference image. Config accepts whichever of
// reference_image/target_face_image/cloth_image is present, first match
// wins.
type HeadSwap struct{}

func (HeadSwap) Execute(ctx context.Context, in Input) (task.Result, error) {
	report(in.Progress, 10, "validating inputs")

	sourcePath, err := resolveSourceImage(ctx, in.ObjectStore, in.SourceImage)
	if err != nil {
		return task.Result{}, err
	}

	referenceHandle := firstStringField(in.Config, "reference_image", "target_face_image", "cloth_image")
	referencePath, err := resolveRequiredImage(ctx, in.ObjectStore, referenceHandle,
		"head swap requires one of reference_image, target_face_image, or cloth_image")
	if err != nil {
		return task.Result{}, err
	}

	if in.Engine == nil {
		return task.Result{}, apperr.New(apperr.KindInternal, "no engine bound for head_swap pipeline")
	}

	report(in.Progress, 20, "parsing config")
	quality := stringField(in.Config, "quality", "standard")
	preserveDetails := boolField(in.Config, "preserve_details", true)
	blendStrength := float64Field(in.Config, "blend_strength", 0.8)

	report(in.Progress, 30, "invoking engine")
	result, err := in.Engine.Execute(ctx, engine.Input{
		Files: map[string]string{
			"head_image":  sourcePath,
			"cloth_image": referencePath,
		},
		Progress: in.Progress,
	})
	if err != nil {
		return task.Result{}, err
	}

	report(in.Progress, 80, "downloading results")
	return finishResult(ctx, in.Engine, in.ObjectStore, in.TaskID, result, map[string]any{
		"quality":          quality,
		"preserve_details": preserveDetails,
		"blend_strength":   blendStrength,
	})
}

func report(fn engine.ProgressFunc, progress int, step string) {
	if fn != nil {
		fn(progress, step)
	}
}
