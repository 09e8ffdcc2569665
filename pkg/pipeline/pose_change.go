package pipeline

import (
	"context"

	"github.com/formy/core/internal/apperr"
	"github.com/formy/core/pkg/engine"
	"github.com/formy/core/pkg/task"
)

// PoseChange re-poses the subject of source_image to match a reference
// pose. Config accepts whichever of pose_reference/pose_image/
// reference_image is present, first match wins.
type PoseChange struct{}

func (PoseChange) Execute(ctx context.Context, in Input) (task.Result, error) {
	report(in.Progress, 10, "validating inputs")

	sourcePath, err := resolveSourceImage(ctx, in.ObjectStore, in.SourceImage)
	if err != nil {
		return task.Result{}, err
	}

	poseHandle := firstStringField(in.Config, "pose_reference", "pose_image", "reference_image")
	posePath, err := resolveRequiredImage(ctx, in.ObjectStore, poseHandle,
		"pose_change requires one of pose_reference, pose_image, or reference_image")
	if err != nil {
		return task.Result{}, err
	}

	if in.Engine == nil {
		return task.Result{}, apperr.New(apperr.KindInternal, "no engine bound for pose_change pipeline")
	}

	report(in.Progress, 20, "parsing config")
	preserveFace := boolField(in.Config, "preserve_face", true)
	smoothness := float64Field(in.Config, "smoothness", 0.5)

	report(in.Progress, 30, "invoking engine")
	result, err := in.Engine.Execute(ctx, engine.Input{
		Files: map[string]string{
			"raw_image":  sourcePath,
			"pose_image": posePath,
		},
		Progress: in.Progress,
	})
	if err != nil {
		return task.Result{}, err
	}

	report(in.Progress, 80, "downloading results")
	return finishResult(ctx, in.Engine, in.ObjectStore, in.TaskID, result, map[string]any{
		"preserve_face": preserveFace,
		"smoothness":    smoothness,
	})
}
