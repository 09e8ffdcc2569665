package pipeline

import (
	"context"

	"github.com/formy/core/internal/apperr"
	"github.com/formy/core/pkg/engine"
	"github.com/formy/core/pkg/task"
)

// BackgroundChange replaces the background of source_image. Config accepts
// whichever of background_image/bg_image is present (first match wins),
// plus a background_type of custom/preset/remove.
type BackgroundChange struct{}

func (BackgroundChange) Execute(ctx context.Context, in Input) (task.Result, error) {
	report(in.Progress, 10, "validating inputs")

	sourcePath, err := resolveSourceImage(ctx, in.ObjectStore, in.SourceImage)
	if err != nil {
		return task.Result{}, err
	}

	backgroundType := stringField(in.Config, "background_type", "preset")

	var referencePath string
	if backgroundType == "custom" {
		backgroundHandle := firstStringField(in.Config, "background_image", "bg_image")
		referencePath, err = resolveRequiredImage(ctx, in.ObjectStore, backgroundHandle,
			"background_change with background_type=custom requires background_image or bg_image")
		if err != nil {
			return task.Result{}, err
		}
	}

	if in.Engine == nil {
		return task.Result{}, apperr.New(apperr.KindInternal, "no engine bound for background_change pipeline")
	}

	report(in.Progress, 20, "parsing config")

	files := map[string]string{"model_image": sourcePath}
	if referencePath != "" {
		files["bg_image"] = referencePath
	}

	report(in.Progress, 30, "invoking engine")
	result, err := in.Engine.Execute(ctx, engine.Input{
		Files:    files,
		Progress: in.Progress,
	})
	if err != nil {
		return task.Result{}, err
	}

	report(in.Progress, 80, "downloading results")
	return finishResult(ctx, in.Engine, in.ObjectStore, in.TaskID, result, map[string]any{
		"background_type": backgroundType,
	})
}
