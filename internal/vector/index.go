// Package vector provides the per-business knowledge index: a flat
// inner-product index over L2-normalized embeddings with JSON snapshot
// persistence. Every business gets its own isolated index.
package vector

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/chamikara/helachat/internal/logging"
)

// Match is a single search hit from a business index.
type Match struct {
	Content    string  `json:"content"`
	DocumentID int64   `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float32 `json:"score"`
}

// entry is one stored chunk with its normalized embedding.
type entry struct {
	DocumentID int64     `json:"document_id"`
	ChunkIndex int       `json:"chunk_index"`
	Content    string    `json:"content"`
	Vector     []float32 `json:"vector"`
}

// businessIndex holds all chunks for a single business.
type businessIndex struct {
	Dimension int     `json:"dimension"`
	Entries   []entry `json:"entries"`
}

// Store manages the per-business indexes and their on-disk snapshots.
// All methods are safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	dir     string
	indexes map[int64]*businessIndex
	log     *logging.Logger
}

// NewStore creates an index store persisting snapshots under dir.
// An empty dir disables persistence (used by tests). Existing snapshots
// are loaded eagerly so search works immediately after restart.
func NewStore(dir string) (*Store, error) {
	s := &Store{
		dir:     dir,
		indexes: make(map[int64]*businessIndex),
		log:     logging.Global().WithComponent("VectorStore"),
	}

	if dir == "" {
		return s, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "business_*.json"))
	if err != nil {
		return nil, fmt.Errorf("scan index directory: %w", err)
	}

	for _, path := range matches {
		var id int64
		if _, err := fmt.Sscanf(filepath.Base(path), "business_%d.json", &id); err != nil {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			s.log.Warn("skipping unreadable index snapshot %s: %v", path, err)
			continue
		}

		var idx businessIndex
		if err := json.Unmarshal(data, &idx); err != nil {
			s.log.Warn("skipping corrupt index snapshot %s: %v", path, err)
			continue
		}

		s.indexes[id] = &idx
		s.log.Debug("loaded index for business %d (%d chunks)", id, len(idx.Entries))
	}

	return s, nil
}

// Add inserts document chunks into the index of a business. The chunk and
// embedding slices must have equal length. Embeddings are L2-normalized on
// insert so search reduces to inner product. The index dimension is inferred
// from the first embedding ever added for the business.
func (s *Store) Add(businessID, documentID int64, chunks []string, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("chunk/embedding count mismatch: %d vs %d", len(chunks), len(embeddings))
	}
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.indexes[businessID]
	if !ok {
		idx = &businessIndex{Dimension: len(embeddings[0])}
		s.indexes[businessID] = idx
	}

	for i, emb := range embeddings {
		if len(emb) != idx.Dimension {
			return fmt.Errorf("embedding %d has %d dimensions, index expects %d", i, len(emb), idx.Dimension)
		}
		idx.Entries = append(idx.Entries, entry{
			DocumentID: documentID,
			ChunkIndex: i,
			Content:    chunks[i],
			Vector:     normalize(emb),
		})
	}

	return s.persistLocked(businessID)
}

// Search returns the topK most similar chunks for a business. A missing
// index or dimension mismatch yields an empty result, never an error:
// retrieval degradation is handled by the caller counting matches.
func (s *Store) Search(businessID int64, query []float32, topK int) []Match {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.indexes[businessID]
	if !ok || len(idx.Entries) == 0 || len(query) != idx.Dimension || topK <= 0 {
		return []Match{}
	}

	q := normalize(query)

	matches := make([]Match, 0, len(idx.Entries))
	for _, e := range idx.Entries {
		var dot float32
		for i := range q {
			dot += q[i] * e.Vector[i]
		}
		matches = append(matches, Match{
			Content:    e.Content,
			DocumentID: e.DocumentID,
			ChunkIndex: e.ChunkIndex,
			Score:      dot,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}

// DeleteDocument removes all chunks of a document from a business index.
// When the last document goes, the whole index and its snapshot go with it.
func (s *Store) DeleteDocument(businessID, documentID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.indexes[businessID]
	if !ok {
		return nil
	}

	kept := idx.Entries[:0]
	for _, e := range idx.Entries {
		if e.DocumentID != documentID {
			kept = append(kept, e)
		}
	}
	idx.Entries = kept

	if len(idx.Entries) == 0 {
		delete(s.indexes, businessID)
		if s.dir != "" {
			if err := os.Remove(s.snapshotPath(businessID)); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("remove index snapshot: %w", err)
			}
		}
		return nil
	}

	return s.persistLocked(businessID)
}

// DeleteBusiness drops the entire index of a business.
func (s *Store) DeleteBusiness(businessID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.indexes, businessID)
	if s.dir != "" {
		if err := os.Remove(s.snapshotPath(businessID)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove index snapshot: %w", err)
		}
	}
	return nil
}

// ChunkCount returns how many chunks a business index holds.
func (s *Store) ChunkCount(businessID int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if idx, ok := s.indexes[businessID]; ok {
		return len(idx.Entries)
	}
	return 0
}

// BusinessCount returns how many businesses currently have an index.
func (s *Store) BusinessCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.indexes)
}

// persistLocked writes the snapshot for one business. Caller holds s.mu.
func (s *Store) persistLocked(businessID int64) error {
	if s.dir == "" {
		return nil
	}

	idx := s.indexes[businessID]
	data, err := json.Marshal(idx)
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}

	path := s.snapshotPath(businessID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write index snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace index snapshot: %w", err)
	}

	return nil
}

func (s *Store) snapshotPath(businessID int64) string {
	return filepath.Join(s.dir, fmt.Sprintf("business_%d.json", businessID))
}

// normalize returns the L2-normalized copy of v.
func normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if norm == 0 {
		copy(out, v)
		return out
	}
	scale := float32(1.0 / math.Sqrt(norm))
	for i, x := range v {
		out[i] = x * scale
	}
	return out
}
