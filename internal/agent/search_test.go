package agent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chamikara/helachat/internal/embedding"
	"github.com/chamikara/helachat/internal/sheets"
	"github.com/chamikara/helachat/internal/vector"
)

type staticConnections struct {
	conns []sheets.Connection
}

func (s *staticConnections) ActiveSheetConnections(ctx context.Context, businessID int64) ([]sheets.Connection, error) {
	return s.conns, nil
}

func TestSheetQuerierFlattensAndTags(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "broken") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("Item,Price\nGreen Tea,450\nBlack Tea,300\n"))
	}))
	defer server.Close()

	service := sheets.NewService(sheets.Config{
		BaseURL:  server.URL,
		CacheTTL: time.Minute,
	})

	source := &staticConnections{conns: []sheets.Connection{
		{Name: "Products", SheetID: "good-sheet"},
		{Name: "Broken", SheetID: "broken-sheet"},
	}}

	q := NewSheetQuerier(service, source)
	matches, err := q.SearchSheets(context.Background(), 1, "tea", 5)
	require.NoError(t, err)

	// The broken connection is skipped, not fatal.
	require.Len(t, matches, 2)
	for _, m := range matches {
		assert.Equal(t, "Products", m.Sheet)
	}
}

func TestSheetQuerierRespectsMaxPerSheet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Item\ntea one\ntea two\ntea three\n"))
	}))
	defer server.Close()

	service := sheets.NewService(sheets.Config{BaseURL: server.URL, CacheTTL: time.Minute})
	source := &staticConnections{conns: []sheets.Connection{{Name: "Products", SheetID: "s"}}}

	matches, err := NewSheetQuerier(service, source).SearchSheets(context.Background(), 1, "tea", 2)
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestKnowledgeSearcherRoundTrip(t *testing.T) {
	store, err := vector.NewStore("")
	require.NoError(t, err)

	engine := embedding.NewHashEngine(64)

	chunks := []string{"we ship islandwide within two days", "green tea costs 450 rupees"}
	embeddings, err := engine.EmbedBatch(context.Background(), chunks)
	require.NoError(t, err)
	require.NoError(t, store.Add(1, 10, chunks, embeddings))

	k := NewKnowledgeSearcher(engine, store)
	matches, err := k.SearchDocuments(context.Background(), 1, "green tea costs 450 rupees", 2)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "green tea costs 450 rupees", matches[0].Content)

	// Other tenants stay isolated.
	other, err := k.SearchDocuments(context.Background(), 2, "green tea", 2)
	require.NoError(t, err)
	assert.Empty(t, other)
}
