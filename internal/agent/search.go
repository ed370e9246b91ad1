package agent

import (
	"context"
	"fmt"

	"github.com/chamikara/helachat/internal/embedding"
	"github.com/chamikara/helachat/internal/logging"
	"github.com/chamikara/helachat/internal/sheets"
	"github.com/chamikara/helachat/internal/vector"
)

// KnowledgeSearcher implements DocumentSearcher by embedding the query and
// running it against the tenant's vector index.
type KnowledgeSearcher struct {
	engine embedding.Engine
	store  *vector.Store
}

// NewKnowledgeSearcher pairs an embedding engine with a vector store.
func NewKnowledgeSearcher(engine embedding.Engine, store *vector.Store) *KnowledgeSearcher {
	return &KnowledgeSearcher{engine: engine, store: store}
}

// SearchDocuments embeds the query and returns the topK closest chunks.
func (k *KnowledgeSearcher) SearchDocuments(ctx context.Context, businessID int64, query string, topK int) ([]vector.Match, error) {
	vec, err := k.engine.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return k.store.Search(businessID, vec, topK), nil
}

// ConnectionSource lists a tenant's active sheet connections.
type ConnectionSource interface {
	ActiveSheetConnections(ctx context.Context, businessID int64) ([]sheets.Connection, error)
}

// SheetQuerier implements SheetSearcher by fanning a query out over every
// active connection of the tenant and flattening the matched rows, each
// tagged with the connection name. A failing connection is skipped rather
// than failing the stage.
type SheetQuerier struct {
	service *sheets.Service
	source  ConnectionSource
	log     *logging.Logger
}

// NewSheetQuerier pairs the sheets service with a connection source.
func NewSheetQuerier(service *sheets.Service, source ConnectionSource) *SheetQuerier {
	return &SheetQuerier{
		service: service,
		source:  source,
		log:     logging.Global().WithComponent("SheetQuerier"),
	}
}

// SearchSheets queries each active connection, collecting at most maxPerSheet
// rows from each.
func (q *SheetQuerier) SearchSheets(ctx context.Context, businessID int64, query string, maxPerSheet int) ([]sheets.Match, error) {
	conns, err := q.source.ActiveSheetConnections(ctx, businessID)
	if err != nil {
		return nil, fmt.Errorf("list sheet connections: %w", err)
	}

	matches := []sheets.Match{}
	for _, conn := range conns {
		result, err := q.service.Query(ctx, conn, query, maxPerSheet)
		if err != nil {
			q.log.Warn("sheet %q skipped: %v", conn.Name, err)
			continue
		}
		for _, row := range result.Rows {
			matches = append(matches, sheets.Match{Sheet: conn.Name, Row: row})
		}
	}
	return matches, nil
}
