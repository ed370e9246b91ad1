package embedding

import (
	"context"
	"math"
	"testing"
)

func TestHashEngineDeterministic(t *testing.T) {
	e := NewHashEngine(384)

	a, err := e.Embed(context.Background(), "opening hours")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	b, err := e.Embed(context.Background(), "opening hours")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}

	if len(a) != 384 {
		t.Fatalf("expected 384 dimensions, got %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embeddings differ at dimension %d", i)
		}
	}
}

func TestHashEngineNormalized(t *testing.T) {
	e := NewHashEngine(64)

	v, err := e.Embed(context.Background(), "delivery charges to colombo")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if math.Abs(norm-1.0) > 1e-4 {
		t.Errorf("expected unit norm, got %f", norm)
	}
}

func TestHashEngineDistinctTexts(t *testing.T) {
	e := NewHashEngine(384)

	a, _ := e.Embed(context.Background(), "we sell rice and curry")
	b, _ := e.Embed(context.Background(), "spare parts for motorcycles")

	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	if dot > 0.99 {
		t.Errorf("unrelated texts should not be near-identical, dot=%f", dot)
	}
}

func TestHashEngineBatch(t *testing.T) {
	e := NewHashEngine(128)

	texts := []string{"one", "two", "three"}
	vectors, err := e.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}
	if len(vectors) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vectors))
	}

	single, _ := e.Embed(context.Background(), "two")
	for i := range single {
		if vectors[1][i] != single[i] {
			t.Fatal("batch embedding should match single embedding")
		}
	}
}

func TestHashEngineCaseInsensitive(t *testing.T) {
	e := NewHashEngine(64)

	a, _ := e.Embed(context.Background(), "Opening Hours")
	b, _ := e.Embed(context.Background(), "opening hours")
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("embedding should be case-insensitive")
		}
	}
}
