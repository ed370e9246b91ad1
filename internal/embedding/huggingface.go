package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultHFEndpoint is the HuggingFace inference API base URL.
const DefaultHFEndpoint = "https://api-inference.huggingface.co"

// HuggingFaceEngine generates embeddings via the HuggingFace feature
// extraction pipeline using sentence-transformers models.
type HuggingFaceEngine struct {
	endpoint   string
	model      string
	apiKey     string
	dimensions int
	client     *http.Client
}

// HuggingFaceConfig configures the HuggingFace engine.
type HuggingFaceConfig struct {
	Endpoint   string
	Model      string
	APIKey     string
	Dimensions int
	Timeout    time.Duration
}

// NewHuggingFaceEngine creates a HuggingFace embedding engine.
func NewHuggingFaceEngine(cfg HuggingFaceConfig) *HuggingFaceEngine {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultHFEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = "sentence-transformers/all-MiniLM-L6-v2"
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 384
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &HuggingFaceEngine{
		endpoint:   cfg.Endpoint,
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		dimensions: cfg.Dimensions,
		client:     &http.Client{Timeout: cfg.Timeout},
	}
}

// Name returns the engine identifier.
func (e *HuggingFaceEngine) Name() string { return "huggingface" }

// Dimensions returns the configured vector size.
func (e *HuggingFaceEngine) Dimensions() int { return e.dimensions }

// Embed returns the embedding for a single text.
func (e *HuggingFaceEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch sends texts through the feature extraction pipeline.
func (e *HuggingFaceEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	payload := struct {
		Inputs  []string `json:"inputs"`
		Options struct {
			WaitForModel bool `json:"wait_for_model"`
		} `json:"options"`
	}{Inputs: texts}
	payload.Options.WaitForModel = true

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/pipeline/feature-extraction/%s", e.endpoint, e.model)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, fmt.Errorf("huggingface error (status %d): %s", resp.StatusCode, string(bodyBytes))
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(vectors))
	}
	for i, v := range vectors {
		if len(v) != e.dimensions {
			return nil, fmt.Errorf("embedding %d has %d dimensions, expected %d", i, len(v), e.dimensions)
		}
	}

	return vectors, nil
}
