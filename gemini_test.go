package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/bodul/wordgrid/internal/generation"
)

func TestGenerateFreshThenEvolve(t *testing.T) {
	projectID := os.Getenv("GCP_PROJECT_ID")
	if projectID == "" {
		t.Skip("GCP_PROJECT_ID not set, skipping integration test")
	}

	cfg := DefaultConfig().Generation
	cfg.ProjectID = projectID
	if r := os.Getenv("GCP_REGION"); r != "" {
		cfg.Region = r
	}
	cfg.ImagesDir = t.TempDir()

	ctx := context.Background()
	client, err := NewGeminiClient(ctx, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	defer client.Close()

	fresh, err := client.Generate(ctx, generation.Request{Prompt: "lighthouse storm seagulls night"})
	if err != nil {
		t.Fatalf("fresh generation: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.ImagesDir, filepath.Base(fresh))); err != nil {
		t.Fatalf("fresh image not written: %v", err)
	}
	t.Logf("fresh image: %s", fresh)

	evolved, err := client.Generate(ctx, generation.Request{Prompt: "sunrise calm sea", BaseImagePath: fresh})
	if err != nil {
		t.Fatalf("evolve generation: %v", err)
	}
	if evolved == fresh {
		t.Fatal("evolve should produce a new image")
	}
	t.Logf("evolved image: %s", evolved)
}

func TestLocalImage(t *testing.T) {
	g := &GeminiClient{imagesDir: "/data/images"}
	if got := g.localImage("/images/abc.png"); got != filepath.Join("/data/images", "abc.png") {
		t.Fatalf("unexpected local path %q", got)
	}
	// Served paths never escape the images dir.
	if got := g.localImage("/images/../../etc/passwd"); got != filepath.Join("/data/images", "passwd") {
		t.Fatalf("unexpected local path %q", got)
	}
}
