package dispatch

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chamikara/helachat/internal/data"
	"github.com/chamikara/helachat/internal/embedding"
	"github.com/chamikara/helachat/internal/vector"
)

type fakeDocumentSource struct {
	docs []*data.Document
}

func (f *fakeDocumentSource) ListDocuments(ctx context.Context, businessID int64) ([]*data.Document, error) {
	return f.docs, nil
}

func TestRebuildIndexesProcessedDocuments(t *testing.T) {
	store, err := vector.NewStore("")
	require.NoError(t, err)

	source := &fakeDocumentSource{docs: []*data.Document{
		{ID: 1, BusinessID: 1, Status: data.DocumentProcessed, Content: strings.Repeat("green tea is popular. ", 60)},
		{ID: 2, BusinessID: 1, Status: data.DocumentPending, Content: "not yet processed"},
		{ID: 3, BusinessID: 1, Status: data.DocumentProcessed, Content: ""},
	}}

	r := NewIndexRebuilder(source, vector.NewSplitter(200, 40), embedding.NewHashEngine(64), store)

	chunks, err := r.Rebuild(context.Background(), 1)
	require.NoError(t, err)
	assert.Greater(t, chunks, 1, "long processed document should produce multiple chunks")
	assert.Equal(t, chunks, store.ChunkCount(1))
}

func TestRebuildReplacesExistingIndex(t *testing.T) {
	store, err := vector.NewStore("")
	require.NoError(t, err)

	engine := embedding.NewHashEngine(64)
	source := &fakeDocumentSource{docs: []*data.Document{
		{ID: 1, BusinessID: 1, Status: data.DocumentProcessed, Content: "short catalogue entry"},
	}}

	// Seed stale content that the rebuild must discard.
	stale := []string{"stale chunk"}
	vecs, err := engine.EmbedBatch(context.Background(), stale)
	require.NoError(t, err)
	require.NoError(t, store.Add(1, 99, stale, vecs))

	r := NewIndexRebuilder(source, vector.NewSplitter(200, 40), engine, store)
	chunks, err := r.Rebuild(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 1, chunks)
	assert.Equal(t, 1, store.ChunkCount(1), "stale chunks must be gone")
}
