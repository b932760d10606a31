package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	defaultRegion     = "us-central1"
	defaultImageModel = "imagen-3.0-generate-002"
	defaultEditModel  = "gemini-2.5-flash-image"
)

// GeminiClient wraps the Google GenAI client for VertexAI and writes the
// images it produces under imagesDir.
type GeminiClient struct {
	client     *genai.Client
	imageModel string
	editModel  string
	imagesDir  string
	logger     *zap.Logger
}

// NewGeminiClient creates a client using Application Default Credentials.
// Set GOOGLE_APPLICATION_CREDENTIALS to the service account key file path.
func NewGeminiClient(ctx context.Context, cfg GenerationConfig, logger *zap.Logger) (*GeminiClient, error) {
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  cfg.ProjectID,
		Location: region,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	if err := os.MkdirAll(cfg.ImagesDir, 0755); err != nil {
		return nil, fmt.Errorf("create images dir: %w", err)
	}

	imageModel, editModel := cfg.ImageModel, cfg.EditModel
	if imageModel == "" {
		imageModel = defaultImageModel
	}
	if editModel == "" {
		editModel = defaultEditModel
	}

	return &GeminiClient{
		client:     client,
		imageModel: imageModel,
		editModel:  editModel,
		imagesDir:  cfg.ImagesDir,
		logger:     logger,
	}, nil
}

// localImage maps a served image path back to the file on disk.
func (g *GeminiClient) localImage(servedPath string) string {
	return filepath.Join(g.imagesDir, filepath.Base(servedPath))
}

// Close releases resources held by the client.
func (g *GeminiClient) Close() error {
	return nil
}
