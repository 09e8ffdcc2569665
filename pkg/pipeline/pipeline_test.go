package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/formy/core/internal/apperr"
	"github.com/formy/core/pkg/engine"
	"github.com/formy/core/pkg/objectstore"
	"github.com/formy/core/pkg/task"
)

func TestPipelineForMode(t *testing.T) {
	tests := []struct {
		mode    task.Mode
		wantErr bool
	}{
		{task.ModeHeadSwap, false},
		{task.ModeBackgroundChange, false},
		{task.ModePoseChange, false},
		{task.Mode("FACE_SWAP"), true},
	}

	for _, tt := range tests {
		_, err := PipelineForMode(tt.mode)
		if (err != nil) != tt.wantErr {
			t.Errorf("PipelineForMode(%q) error = %v, wantErr %v", tt.mode, err, tt.wantErr)
		}
	}
}

func TestConfigFieldHelpers(t *testing.T) {
	config := map[string]any{
		"quality":          "ultra",
		"preserve_details": false,
		"blend_strength":   0.3,
		"bad_type":         []int{1},
	}

	if got := stringField(config, "quality", "standard"); got != "ultra" {
		t.Errorf("stringField(quality) = %q", got)
	}
	if got := stringField(config, "missing", "standard"); got != "standard" {
		t.Errorf("stringField(missing) = %q, want default", got)
	}
	if got := boolField(config, "preserve_details", true); got {
		t.Error("boolField(preserve_details) = true, want false")
	}
	if got := boolField(config, "missing", true); !got {
		t.Error("boolField(missing) should return the default")
	}
	if got := float64Field(config, "blend_strength", 0.8); got != 0.3 {
		t.Errorf("float64Field(blend_strength) = %v", got)
	}
	if got := float64Field(config, "bad_type", 0.8); got != 0.8 {
		t.Errorf("float64Field(bad_type) = %v, want default", got)
	}
}

func TestFirstStringField(t *testing.T) {
	config := map[string]any{"pose_image": "img_p", "reference_image": "img_r"}

	if got := firstStringField(config, "pose_reference", "pose_image", "reference_image"); got != "img_p" {
		t.Errorf("firstStringField() = %q, want img_p (first present key wins)", got)
	}
	if got := firstStringField(config, "absent_a", "absent_b"); got != "" {
		t.Errorf("firstStringField() = %q, want empty", got)
	}
}

func TestExtFor(t *testing.T) {
	if got := extFor("image/png"); got != ".png" {
		t.Errorf("extFor(image/png) = %q", got)
	}
	if got := extFor("jpeg"); got != ".jpg" {
		t.Errorf("extFor(jpeg) = %q, want .jpg fallback", got)
	}
}

func TestNearestNeighborResize(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 640, 480))
	dst := nearestNeighborResize(src, thumbnailSize, thumbnailSize)

	b := dst.Bounds()
	if b.Dx() != thumbnailSize || b.Dy() != thumbnailSize {
		t.Errorf("resized bounds = %dx%d, want %dx%d", b.Dx(), b.Dy(), thumbnailSize, thumbnailSize)
	}
}

func TestGenerateThumbnail(t *testing.T) {
	root := t.TempDir()
	store := objectstore.NewStore(root, "/files")

	src := image.NewRGBA(image.Rect(0, 0, 100, 60))
	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatalf("encoding source png: %v", err)
	}
	srcPath := filepath.Join(root, "source.png")
	if err := os.WriteFile(srcPath, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("writing source png: %v", err)
	}

	url, width, height, err := generateThumbnail(store, srcPath, "task_1")
	if err != nil {
		t.Fatalf("generateThumbnail() error = %v", err)
	}
	if url != "/files/results/task_1/thumbnail.jpg" {
		t.Errorf("thumbnail url = %q", url)
	}
	if width != 100 || height != 60 {
		t.Errorf("source dimensions = %dx%d, want 100x60", width, height)
	}
	if _, err := store.Resolve(context.Background(), "results/task_1/thumbnail.jpg"); err != nil {
		t.Errorf("thumbnail artifact not retrievable: %v", err)
	}
}

func TestHeadSwapMissingReference(t *testing.T) {
	root := t.TempDir()
	store := objectstore.NewStore(root, "/files")
	if err := os.WriteFile(filepath.Join(root, "img_s.png"), []byte("png"), 0o644); err != nil {
		t.Fatalf("seeding source image: %v", err)
	}

	_, err := HeadSwap{}.Execute(context.Background(), Input{
		TaskID:      "task_1",
		SourceImage: "img_s.png",
		Config:      map[string]any{},
		ObjectStore: store,
	})
	if apperr.CodeOf(err) != apperr.CodeMissingReferenceImage {
		t.Errorf("Execute() error code = %v, want MISSING_REFERENCE_IMAGE", apperr.CodeOf(err))
	}
}

func TestPoseChangeInvalidSourceImage(t *testing.T) {
	store := objectstore.NewStore(t.TempDir(), "/files")

	_, err := PoseChange{}.Execute(context.Background(), Input{
		TaskID:      "task_1",
		SourceImage: "missing.png",
		Config:      map[string]any{"pose_image": "also_missing.png"},
		ObjectStore: store,
	})
	if apperr.CodeOf(err) != apperr.CodeInvalidSourceImage {
		t.Errorf("Execute() error code = %v, want INVALID_SOURCE_IMAGE", apperr.CodeOf(err))
	}
}

func TestBackgroundChangeRemoveNeedsNoReference(t *testing.T) {
	root := t.TempDir()
	store := objectstore.NewStore(root, "/files")
	if err := os.WriteFile(filepath.Join(root, "img_s.png"), []byte("png"), 0o644); err != nil {
		t.Fatalf("seeding source image: %v", err)
	}

	// background_type=remove must not demand a background image; validation
	// passes and the failure (if any) comes from the engine being absent.
	_, err := BackgroundChange{}.Execute(context.Background(), Input{
		TaskID:      "task_1",
		SourceImage: "img_s.png",
		Config:      map[string]any{"background_type": "remove"},
		ObjectStore: store,
	})
	if apperr.CodeOf(err) == apperr.CodeMissingReferenceImage {
		t.Error("background_type=remove should not require a reference image")
	}
	if err == nil {
		t.Error("Execute() with no engine bound should still error")
	}
}

// stubEngine returns a fixed result without any HTTP traffic, for exercising
// the pipeline skeleton end to end.
type stubEngine struct {
	result engine.Result
}

func (s stubEngine) Execute(ctx context.Context, in engine.Input) (engine.Result, error) {
	return s.result, nil
}

func (s stubEngine) Download(ctx context.Context, url, destinationPath string) error {
	// Stand in for the provider CDN: write a decodable image wherever the
	// pipeline asked the download to land.
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return err
	}
	return os.WriteFile(destinationPath, buf.Bytes(), 0o644)
}

func TestHeadSwapEndToEnd(t *testing.T) {
	root := t.TempDir()
	store := objectstore.NewStore(root, "/files")
	for _, name := range []string{"img_s.png", "img_r.png"} {
		if err := os.WriteFile(filepath.Join(root, name), []byte("png"), 0o644); err != nil {
			t.Fatalf("seeding %s: %v", name, err)
		}
	}

	var progressCalls int
	result, err := HeadSwap{}.Execute(context.Background(), Input{
		TaskID:      "task_1",
		SourceImage: "img_s.png",
		Config:      map[string]any{"reference_image": "img_r.png", "quality": "high"},
		Engine: stubEngine{result: engine.Result{
			OutputImage: engine.ImageRef{URL: "https://cdn/x/out.png", Type: "image/png"},
		}},
		ObjectStore: store,
		Progress:    func(p int, step string) { progressCalls++ },
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if result.OutputImage.URL != "/files/results/task_1/output.png" {
		t.Errorf("OutputImage.URL = %q", result.OutputImage.URL)
	}
	if result.Thumbnail == nil {
		t.Fatal("Thumbnail missing from result")
	}
	if result.Metadata["quality"] != "high" {
		t.Errorf("Metadata = %+v, want quality=high", result.Metadata)
	}
	if result.Metadata["width"] != 32 || result.Metadata["height"] != 32 {
		t.Errorf("Metadata dimensions = %v x %v, want 32x32", result.Metadata["width"], result.Metadata["height"])
	}
	if progressCalls == 0 {
		t.Error("progress callback was never invoked")
	}

	if _, err := store.Resolve(context.Background(), "results/task_1/output.png"); err != nil {
		t.Errorf("output artifact not retrievable: %v", err)
	}
}
