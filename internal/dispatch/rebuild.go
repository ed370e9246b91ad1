package dispatch

import (
	"context"
	"fmt"

	"github.com/chamikara/helachat/internal/data"
	"github.com/chamikara/helachat/internal/embedding"
	"github.com/chamikara/helachat/internal/logging"
	"github.com/chamikara/helachat/internal/vector"
)

// DocumentSource lists a tenant's knowledge documents.
type DocumentSource interface {
	ListDocuments(ctx context.Context, businessID int64) ([]*data.Document, error)
}

// IndexRebuilder implements KnowledgeRebuilder: it drops a tenant's vector
// index and rebuilds it from the processed documents on record.
type IndexRebuilder struct {
	source   DocumentSource
	splitter *vector.Splitter
	engine   embedding.Engine
	index    *vector.Store
	log      *logging.Logger
}

// NewIndexRebuilder wires a rebuilder from the knowledge components.
func NewIndexRebuilder(source DocumentSource, splitter *vector.Splitter,
	engine embedding.Engine, index *vector.Store) *IndexRebuilder {

	return &IndexRebuilder{
		source:   source,
		splitter: splitter,
		engine:   engine,
		index:    index,
		log:      logging.Global().WithComponent("Rebuilder"),
	}
}

// Rebuild replaces the tenant's index with freshly chunked and embedded
// content. Documents without extracted text or not yet processed are skipped.
func (r *IndexRebuilder) Rebuild(ctx context.Context, businessID int64) (int, error) {
	docs, err := r.source.ListDocuments(ctx, businessID)
	if err != nil {
		return 0, fmt.Errorf("list documents: %w", err)
	}

	if err := r.index.DeleteBusiness(businessID); err != nil {
		return 0, fmt.Errorf("clear index: %w", err)
	}

	total := 0
	for _, doc := range docs {
		if doc.Status != data.DocumentProcessed || doc.Content == "" {
			continue
		}

		chunks := r.splitter.Split(doc.Content)
		if len(chunks) == 0 {
			continue
		}

		embeddings, err := r.engine.EmbedBatch(ctx, chunks)
		if err != nil {
			return total, fmt.Errorf("embed document %d: %w", doc.ID, err)
		}

		if err := r.index.Add(businessID, doc.ID, chunks, embeddings); err != nil {
			return total, fmt.Errorf("index document %d: %w", doc.ID, err)
		}

		total += len(chunks)
		r.log.Debug("indexed document %d (%d chunks)", doc.ID, len(chunks))
	}

	return total, nil
}
