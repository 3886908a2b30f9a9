package similarity

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// Match is one vector-index hit.
type Match struct {
	// ID is the document id.
	ID string
	// Score is the cosine similarity to the query, in [0,1].
	Score float64
}

// Index generates ranked candidates for a query without scanning every
// document. Collections namespace documents; the memory layer uses one
// collection per tier.
type Index interface {
	Add(ctx context.Context, collection, id, text string) error
	Remove(ctx context.Context, collection, id string) error
	Query(ctx context.Context, collection, text string, limit int) ([]Match, error)
}

// ChromemIndex backs Index with chromem-go, an embedded pure-Go vector
// database. Embeddings come from the configured Embedder so the index and
// the scorer share one notion of similarity.
type ChromemIndex struct {
	db          *chromem.DB
	embedder    Embedder
	mu          sync.RWMutex
	collections map[string]*chromem.Collection
}

var _ Index = (*ChromemIndex)(nil)

// NewChromemIndex creates an in-memory index over the given embedder.
func NewChromemIndex(embedder Embedder) *ChromemIndex {
	return &ChromemIndex{
		db:          chromem.NewDB(),
		embedder:    embedder,
		collections: make(map[string]*chromem.Collection),
	}
}

// NewPersistentChromemIndex creates an index persisted under dir.
func NewPersistentChromemIndex(dir string, embedder Embedder) (*ChromemIndex, error) {
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("open vector index: %w", err)
	}
	return &ChromemIndex{
		db:          db,
		embedder:    embedder,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

func (x *ChromemIndex) collection(name string) (*chromem.Collection, error) {
	x.mu.RLock()
	col, exists := x.collections[name]
	x.mu.RUnlock()
	if exists {
		return col, nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if col, exists := x.collections[name]; exists {
		return col, nil
	}

	// Embeddings are supplied on each document, so no embedding func here.
	// GetOrCreate keeps documents already on disk when the index is
	// persistent.
	col, err := x.db.GetOrCreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection %s: %w", name, err)
	}
	x.collections[name] = col
	return col, nil
}

// Add implements Index.
func (x *ChromemIndex) Add(ctx context.Context, collection, id, text string) error {
	col, err := x.collection(collection)
	if err != nil {
		return err
	}

	vec, err := x.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embed document %s: %w", id, err)
	}

	doc := chromem.Document{
		ID:        id,
		Content:   text,
		Embedding: vec,
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document %s: %w", id, err)
	}
	return nil
}

// Remove implements Index.
func (x *ChromemIndex) Remove(ctx context.Context, collection, id string) error {
	col, err := x.collection(collection)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	return nil
}

// Query implements Index. chromem rejects result counts above the
// collection size, so the limit clamps to the document count.
func (x *ChromemIndex) Query(ctx context.Context, collection, text string, limit int) ([]Match, error) {
	col, err := x.collection(collection)
	if err != nil {
		return nil, err
	}

	count := col.Count()
	if count == 0 || limit <= 0 {
		return nil, nil
	}
	if limit > count {
		limit = count
	}

	vec, err := x.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results, err := col.QueryEmbedding(ctx, vec, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query collection %s: %w", collection, err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		matches = append(matches, Match{ID: r.ID, Score: clamp01(float64(r.Similarity))})
	}
	return matches, nil
}
