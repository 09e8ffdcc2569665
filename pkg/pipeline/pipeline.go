// Package pipeline implements the per-edit-mode orchestration: validating
// inputs, resolving local image paths, invoking the bound engine, and
// persisting output artifacts. Modeled as a tagged variant per the design
// note (HeadSwap, BackgroundChange, PoseChange), each implementing the same
// Pipeline contract rather than an inheritance hierarchy.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"os"

	"github.com/formy/core/internal/apperr"
	"github.com/formy/core/pkg/engine"
	"github.com/formy/core/pkg/objectstore"
	"github.com/formy/core/pkg/task"
)

// Input is everything a pipeline needs to execute one task.
type Input struct {
	TaskID      string
	SourceImage string // file handle
	Config      map[string]any
	Engine      engine.Engine
	ObjectStore *objectstore.Store
	Progress    engine.ProgressFunc
}

// downloader is implemented by engines that can fetch a remote output to a
// local destination path.
type downloader interface {
	Download(ctx context.Context, url, destinationPath string) error
}

// Pipeline executes a single edit mode end to end.
type Pipeline interface {
	Execute(ctx context.Context, in Input) (task.Result, error)
}

// PipelineForMode returns the Pipeline implementing the given edit mode. It
// is the dispatch function the design note calls for in place of dynamic
// dispatch on mode.
func PipelineForMode(mode task.Mode) (Pipeline, error) {
	switch mode {
	case task.ModeHeadSwap:
		return HeadSwap{}, nil
	case task.ModeBackgroundChange:
		return BackgroundChange{}, nil
	case task.ModePoseChange:
		return PoseChange{}, nil
	default:
		return nil, apperr.NewCode(apperr.CodeInvalidMode, fmt.Sprintf("unrecognized edit mode %q", mode))
	}
}

// resolveRequiredImage resolves a required reference-image handle to a
// local path, failing with MISSING_REFERENCE_IMAGE when the handle is empty.
func resolveRequiredImage(ctx context.Context, store *objectstore.Store, handle, missingMessage string) (string, error) {
	if handle == "" {
		return "", apperr.NewCode(apperr.CodeMissingReferenceImage, missingMessage)
	}
	path, err := store.Resolve(ctx, handle)
	if err != nil {
		if apperr.Is(err, apperr.KindInvalidInput) {
			return "", apperr.NewCode(apperr.CodeInvalidSourceImage, "reference image does not resolve to a readable file")
		}
		return "", err
	}
	return path, nil
}

func resolveSourceImage(ctx context.Context, store *objectstore.Store, handle string) (string, error) {
	if handle == "" {
		return "", apperr.NewCode(apperr.CodeInvalidSourceImage, "source_image is required")
	}
	path, err := store.Resolve(ctx, handle)
	if err != nil {
		if apperr.Is(err, apperr.KindInvalidInput) {
			return "", apperr.NewCode(apperr.CodeInvalidSourceImage, "source image does not resolve to a readable file")
		}
		return "", err
	}
	return path, nil
}

// firstStringField returns the first non-empty string value found in config
// among the given keys, implementing the "first match wins" alias
// collapsing rule shared by all three pipelines.
func firstStringField(config map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := config[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// stringField returns config[key] as a string, or def if absent.
func stringField(config map[string]any, key, def string) string {
	if v, ok := config[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return def
}

// boolField returns config[key] as a bool, or def if absent/wrong type.
func boolField(config map[string]any, key string, def bool) bool {
	if v, ok := config[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// float64Field returns config[key] as a float64, or def if absent/wrong type.
func float64Field(config map[string]any, key string, def float64) float64 {
	if v, ok := config[key]; ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return def
}

// finishResult downloads the engine's primary (and, if present, comparison)
// output into the object store, generates a 256x256 thumbnail of the
// primary output, and assembles the task-facing result record.
func finishResult(ctx context.Context, eng engine.Engine, store *objectstore.Store, taskID string, result engine.Result, metadata map[string]any) (task.Result, error) {
	dl, ok := eng.(downloader)
	if !ok {
		return task.Result{}, apperr.New(apperr.KindInternal, "engine does not support downloads")
	}

	primaryHandle := fmt.Sprintf("results/%s/output%s", taskID, extFor(result.OutputImage.Type))
	primaryPath, err := store.PreparePath(primaryHandle)
	if err != nil {
		return task.Result{}, apperr.WrapCode(apperr.CodeResultSaveFailed, "preparing output path", err)
	}
	if err := dl.Download(ctx, result.OutputImage.URL, primaryPath); err != nil {
		return task.Result{}, err
	}

	out := task.Result{
		OutputImage: task.ImageRef{URL: store.URLFor(primaryHandle), Type: result.OutputImage.Type},
		Metadata:    metadata,
	}

	if result.ComparisonImage != nil {
		compareHandle := fmt.Sprintf("results/%s/comparison%s", taskID, extFor(result.ComparisonImage.Type))
		comparePath, err := store.PreparePath(compareHandle)
		if err != nil {
			return task.Result{}, apperr.WrapCode(apperr.CodeResultSaveFailed, "preparing comparison path", err)
		}
		if err := dl.Download(ctx, result.ComparisonImage.URL, comparePath); err != nil {
			return task.Result{}, err
		}
		out.ComparisonImage = &task.ImageRef{URL: store.URLFor(compareHandle), Type: result.ComparisonImage.Type}
	}

	thumbURL, width, height, err := generateThumbnail(store, primaryPath, taskID)
	if err != nil {
		return task.Result{}, apperr.WrapCode(apperr.CodeResultSaveFailed, "generating thumbnail", err)
	}
	out.Thumbnail = &task.ImageRef{URL: thumbURL, Type: "image/jpeg"}
	if out.Metadata == nil {
		out.Metadata = map[string]any{}
	}
	out.Metadata["width"] = width
	out.Metadata["height"] = height

	return out, nil
}

func extFor(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	default:
		return ".jpg"
	}
}

const thumbnailSize = 256

// generateThumbnail writes a 256x256 JPEG thumbnail of the image at
// localPath and returns its public URL plus the source image's dimensions.
func generateThumbnail(store *objectstore.Store, localPath, taskID string) (url string, width, height int, err error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", 0, 0, fmt.Errorf("opening image for thumbnail: %w", err)
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return "", 0, 0, fmt.Errorf("decoding image for thumbnail: %w", err)
	}

	bounds := src.Bounds()
	thumb := nearestNeighborResize(src, thumbnailSize, thumbnailSize)

	var buf fileBuffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: 85}); err != nil {
		return "", 0, 0, fmt.Errorf("encoding thumbnail: %w", err)
	}

	handle := fmt.Sprintf("results/%s/thumbnail.jpg", taskID)
	url, err = store.WriteArtifact(context.Background(), handle, buf.b)
	if err != nil {
		return "", 0, 0, err
	}
	return url, bounds.Dx(), bounds.Dy(), nil
}

// nearestNeighborResize scales src to exactly w x h using nearest-neighbor
// sampling, avoiding a dependency on an image-scaling library for a
// fixed-size thumbnail.
func nearestNeighborResize(src image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	srcBounds := src.Bounds()
	sw, sh := srcBounds.Dx(), srcBounds.Dy()

	for y := 0; y < h; y++ {
		sy := srcBounds.Min.Y + y*sh/h
		for x := 0; x < w; x++ {
			sx := srcBounds.Min.X + x*sw/w
			dst.Set(x, y, src.At(sx, sy))
		}
	}
	return dst
}

type fileBuffer struct{ b []byte }

func (f *fileBuffer) Write(p []byte) (int, error) {
	f.b = append(f.b, p...)
	return len(p), nil
}
