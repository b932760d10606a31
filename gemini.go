package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/bodul/wordgrid/internal/generation"
)

const freshPrompt = `Create a single cohesive illustration inspired by the following words,
written collaboratively by many people. Treat them as a loose description, not as text
to render. Do not draw any letters or words in the image.

Words: %s`

const evolvePrompt = `Evolve this image so that it reflects the following words, written
collaboratively by many people. Keep the overall composition recognisable while
integrating the new ideas. Do not draw any letters or words in the image.

Words: %s`

// Generate produces an image for the prompt. Without a base image a fresh
// image is created; otherwise the current image is evolved.
func (g *GeminiClient) Generate(ctx context.Context, req generation.Request) (string, error) {
	var (
		data []byte
		err  error
	)
	if req.BaseImagePath == "" {
		data, err = g.generateFresh(ctx, req.Prompt)
	} else {
		data, err = g.evolve(ctx, req.Prompt, req.BaseImagePath)
	}
	if err != nil {
		return "", err
	}
	return g.save(data)
}

func (g *GeminiClient) generateFresh(ctx context.Context, words string) ([]byte, error) {
	resp, err := g.client.Models.GenerateImages(ctx, g.imageModel, fmt.Sprintf(freshPrompt, words),
		&genai.GenerateImagesConfig{
			NumberOfImages: 1,
			AspectRatio:    "1:1",
			OutputMIMEType: "image/png",
		},
	)
	if err != nil {
		return nil, fmt.Errorf("imagen generate: %w", err)
	}
	for _, img := range resp.GeneratedImages {
		if img.Image != nil && len(img.Image.ImageBytes) > 0 {
			return img.Image.ImageBytes, nil
		}
		if img.RAIFilteredReason != "" {
			return nil, fmt.Errorf("image filtered: %s", img.RAIFilteredReason)
		}
	}
	return nil, errors.New("empty imagen response")
}

func (g *GeminiClient) evolve(ctx context.Context, words, basePath string) ([]byte, error) {
	base, err := os.ReadFile(g.localImage(basePath))
	if err != nil {
		return nil, fmt.Errorf("read current image: %w", err)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.editModel,
		[]*genai.Content{{
			Role: "user",
			Parts: []*genai.Part{
				{Text: fmt.Sprintf(evolvePrompt, words)},
				{InlineData: &genai.Blob{MIMEType: http.DetectContentType(base), Data: base}},
			},
		}},
		&genai.GenerateContentConfig{
			Temperature:        genai.Ptr(float32(0.8)),
			ResponseModalities: []string{"TEXT", "IMAGE"},
		},
	)
	if err != nil {
		return nil, fmt.Errorf("gemini evolve: %w", err)
	}

	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return part.InlineData.Data, nil
			}
		}
	}
	if text := resp.Text(); text != "" {
		g.logger.Debug("gemini answered without an image", zap.String("text", text))
	}
	return nil, errors.New("gemini response contained no image")
}

// save writes data under imagesDir and returns the path it is served under.
func (g *GeminiClient) save(data []byte) (string, error) {
	ext := ".png"
	if http.DetectContentType(data) == "image/jpeg" {
		ext = ".jpg"
	}
	name := strconv.FormatInt(time.Now().UnixNano(), 36) + ext
	if err := os.WriteFile(filepath.Join(g.imagesDir, name), data, 0644); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	return "/images/" + name, nil
}
