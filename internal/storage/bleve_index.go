package storage

import (
	"context"
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
)

// SchemaVersion identifies the on-disk format of a generation's engines.
// Bump it whenever the bleve mapping or the symbol schema changes.
const SchemaVersion = "bleve-v2.fts-1+sqlite.symbols-1"

// ftsBatchSize bounds the number of documents per bleve batch in bulk mode.
const ftsBatchSize = 1000

// Document is one indexed file.
type Document struct {
	Path     string
	Language string
	Content  string
	Symbols  []string
}

// Hit is one full-text search result.
type Hit struct {
	Path  string  `json:"path"`
	Score float64 `json:"score"`
}

// FTSIndex is the on-disk full-text index of one generation.
type FTSIndex struct {
	index bleve.Index
	batch *bleve.Batch
}

// CreateFTSIndex creates a new empty index at dir.
func CreateFTSIndex(dir string) (*FTSIndex, error) {
	index, err := bleve.New(dir, buildMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create bleve index: %w", err)
	}
	return &FTSIndex{index: index}, nil
}

// OpenFTSIndex opens an existing index. Read-only handles are used by searchers
// of committed generations.
func OpenFTSIndex(dir string, readOnly bool) (*FTSIndex, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("failed to open bleve index: %w", err)
	}

	var (
		index bleve.Index
		err   error
	)
	if readOnly {
		index, err = bleve.OpenUsing(dir, map[string]interface{}{"read_only": true})
	} else {
		index, err = bleve.Open(dir)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open bleve index: %w", err)
	}
	return &FTSIndex{index: index}, nil
}

// buildMapping indexes paths and languages as keywords and content and
// symbol names with the standard analyzer.
func buildMapping() *mapping.IndexMappingImpl {
	indexMapping := bleve.NewIndexMapping()

	keyword := bleve.NewTextFieldMapping()
	keyword.Analyzer = "keyword"
	keyword.Store = true
	keyword.Index = true

	text := bleve.NewTextFieldMapping()
	text.Analyzer = "standard"
	text.Store = false
	text.Index = true
	text.IncludeTermVectors = true // phrase queries

	symbols := bleve.NewTextFieldMapping()
	symbols.Analyzer = "standard"
	symbols.Store = true
	symbols.Index = true

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("path", keyword)
	docMapping.AddFieldMappingsAt("language", keyword)
	docMapping.AddFieldMappingsAt("content", text)
	docMapping.AddFieldMappingsAt("symbols", symbols)

	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = "standard"
	return indexMapping
}

func toBleveDoc(doc Document) map[string]interface{} {
	return map[string]interface{}{
		"path":     doc.Path,
		"language": doc.Language,
		"content":  doc.Content,
		"symbols":  doc.Symbols,
	}
}

// Upsert indexes doc, replacing any previous document for the same path.
// Inside a batch the write is deferred until Flush.
func (f *FTSIndex) Upsert(doc Document) error {
	if f.batch != nil {
		if err := f.batch.Index(doc.Path, toBleveDoc(doc)); err != nil {
			return fmt.Errorf("failed to add %s to batch: %w", doc.Path, err)
		}
		return f.flushIfFull()
	}
	if err := f.index.Index(doc.Path, toBleveDoc(doc)); err != nil {
		return fmt.Errorf("failed to index %s: %w", doc.Path, err)
	}
	return nil
}

// Delete removes the document for path. Deleting an unknown path is a no-op.
func (f *FTSIndex) Delete(path string) error {
	if f.batch != nil {
		f.batch.Delete(path)
		return f.flushIfFull()
	}
	if err := f.index.Delete(path); err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

// BeginBatch switches the index to batched writes until Flush.
func (f *FTSIndex) BeginBatch() {
	if f.batch == nil {
		f.batch = f.index.NewBatch()
	}
}

// Flush executes any pending batch and leaves batch mode.
func (f *FTSIndex) Flush() error {
	if f.batch == nil {
		return nil
	}
	batch := f.batch
	f.batch = nil
	if batch.Size() == 0 {
		return nil
	}
	if err := f.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

func (f *FTSIndex) flushIfFull() error {
	if f.batch.Size() < ftsBatchSize {
		return nil
	}
	if err := f.index.Batch(f.batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	f.batch = f.index.NewBatch()
	return nil
}

// Search runs a query-string query over content, symbols and path.
func (f *FTSIndex) Search(ctx context.Context, queryStr string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 20
	}

	var q query.Query = bleve.NewQueryStringQuery(queryStr)
	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	req.Fields = []string{"path"}

	res, err := f.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bleve search failed: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		path, _ := h.Fields["path"].(string)
		if path == "" {
			path = h.ID
		}
		hits = append(hits, Hit{Path: path, Score: h.Score})
	}
	return hits, nil
}

// Has reports whether a document exists for path.
func (f *FTSIndex) Has(path string) (bool, error) {
	doc, err := f.index.Document(path)
	if err != nil {
		return false, fmt.Errorf("failed to look up %s: %w", path, err)
	}
	return doc != nil, nil
}

// Count returns the number of indexed documents.
func (f *FTSIndex) Count() (uint64, error) {
	return f.index.DocCount()
}

// Close flushes pending writes and closes the index.
func (f *FTSIndex) Close() error {
	flushErr := f.Flush()
	if err := f.index.Close(); err != nil {
		return fmt.Errorf("failed to close bleve index: %w", err)
	}
	return flushErr
}
