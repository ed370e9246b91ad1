package vector

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func unitVec(dim, hot int) []float32 {
	v := make([]float32, dim)
	v[hot] = 1
	return v
}

func TestAddAndSearch(t *testing.T) {
	s, err := NewStore("")
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	chunks := []string{"hours", "prices", "location"}
	embeddings := [][]float32{unitVec(4, 0), unitVec(4, 1), unitVec(4, 2)}

	if err := s.Add(1, 10, chunks, embeddings); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	matches := s.Search(1, unitVec(4, 1), 2)
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].Content != "prices" {
		t.Errorf("expected best match 'prices', got %q", matches[0].Content)
	}
	if matches[0].Score < 0.99 {
		t.Errorf("expected near-perfect score, got %f", matches[0].Score)
	}
	if matches[0].DocumentID != 10 {
		t.Errorf("expected document ID 10, got %d", matches[0].DocumentID)
	}
}

func TestBusinessIsolation(t *testing.T) {
	s, _ := NewStore("")

	s.Add(1, 10, []string{"tenant one data"}, [][]float32{unitVec(4, 0)})
	s.Add(2, 20, []string{"tenant two data"}, [][]float32{unitVec(4, 0)})

	matches := s.Search(1, unitVec(4, 0), 10)
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].Content != "tenant one data" {
		t.Errorf("search leaked across businesses: %q", matches[0].Content)
	}
}

func TestSearchUnknownBusiness(t *testing.T) {
	s, _ := NewStore("")
	matches := s.Search(99, unitVec(4, 0), 5)
	if matches == nil {
		t.Fatal("expected empty slice, got nil")
	}
	if len(matches) != 0 {
		t.Errorf("expected no matches, got %d", len(matches))
	}
}

func TestDimensionMismatch(t *testing.T) {
	s, _ := NewStore("")
	s.Add(1, 10, []string{"a"}, [][]float32{unitVec(4, 0)})

	// Mismatched query dimension degrades to empty, not panic.
	matches := s.Search(1, unitVec(8, 0), 5)
	if len(matches) != 0 {
		t.Errorf("expected no matches for mismatched query, got %d", len(matches))
	}

	// Mismatched insert is an error.
	if err := s.Add(1, 11, []string{"b"}, [][]float32{unitVec(8, 0)}); err == nil {
		t.Error("expected error adding mismatched embedding")
	}
}

func TestDeleteDocument(t *testing.T) {
	s, _ := NewStore("")

	s.Add(1, 10, []string{"a", "b"}, [][]float32{unitVec(4, 0), unitVec(4, 1)})
	s.Add(1, 11, []string{"c"}, [][]float32{unitVec(4, 2)})

	if err := s.DeleteDocument(1, 10); err != nil {
		t.Fatalf("DeleteDocument failed: %v", err)
	}

	if got := s.ChunkCount(1); got != 1 {
		t.Errorf("expected 1 chunk after delete, got %d", got)
	}

	matches := s.Search(1, unitVec(4, 0), 5)
	for _, m := range matches {
		if m.DocumentID == 10 {
			t.Error("deleted document still searchable")
		}
	}
}

func TestDeleteLastDocumentRemovesIndex(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	s.Add(7, 10, []string{"only doc"}, [][]float32{unitVec(4, 0)})

	snapshot := filepath.Join(dir, "business_7.json")
	if _, err := os.Stat(snapshot); err != nil {
		t.Fatalf("expected snapshot to exist: %v", err)
	}

	if err := s.DeleteDocument(7, 10); err != nil {
		t.Fatalf("DeleteDocument failed: %v", err)
	}

	if s.BusinessCount() != 0 {
		t.Error("expected business index to be removed entirely")
	}
	if _, err := os.Stat(snapshot); !os.IsNotExist(err) {
		t.Error("expected snapshot file to be removed")
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()

	s1, _ := NewStore(dir)
	s1.Add(3, 30, []string{"persisted chunk"}, [][]float32{unitVec(4, 1)})

	// A fresh store over the same directory sees the data.
	s2, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore reload failed: %v", err)
	}

	matches := s2.Search(3, unitVec(4, 1), 1)
	if len(matches) != 1 || matches[0].Content != "persisted chunk" {
		t.Fatalf("expected persisted chunk after reload, got %+v", matches)
	}
}

func TestConcurrentAddSearch(t *testing.T) {
	s, _ := NewStore("")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.Add(int64(n%2+1), int64(n*100+j), []string{"x"}, [][]float32{unitVec(4, j%4)})
				s.Search(int64(n%2+1), unitVec(4, 0), 5)
			}
		}(i)
	}
	wg.Wait()

	if s.ChunkCount(1)+s.ChunkCount(2) != 400 {
		t.Errorf("expected 400 chunks total, got %d", s.ChunkCount(1)+s.ChunkCount(2))
	}
}

func TestTopKBounds(t *testing.T) {
	s, _ := NewStore("")
	s.Add(1, 10, []string{"a", "b"}, [][]float32{unitVec(4, 0), unitVec(4, 1)})

	if got := len(s.Search(1, unitVec(4, 0), 10)); got != 2 {
		t.Errorf("topK larger than index should return all, got %d", got)
	}
	if got := len(s.Search(1, unitVec(4, 0), 0)); got != 0 {
		t.Errorf("topK 0 should return none, got %d", got)
	}
}
