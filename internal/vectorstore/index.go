// Package vectorstore maintains an embedded similarity index over detected
// patterns, backed by chromem-go.
//
// The index is an acceleration structure, not a source of truth: the SQLite
// pattern store owns the rows, and the index only answers "what known
// patterns look like this text". It can be rebuilt from the store at any
// time, so indexing failures are always safe to ignore.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/learnd/internal/embeddings"
	"github.com/fyrsmithlabs/learnd/internal/pattern"
)

// ErrInvalidConfig indicates invalid index configuration.
var ErrInvalidConfig = errors.New("invalid index configuration")

const patternsCollection = "patterns"

// Match is one similarity hit against the pattern index.
type Match struct {
	Signature  string  `json:"signature"`
	Name       string  `json:"name"`
	Category   string  `json:"category"`
	Similarity float32 `json:"similarity"`
}

// Config holds index configuration.
type Config struct {
	// Path is the directory for persistent storage.
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool
}

// Index is the chromem-backed pattern similarity index.
type Index struct {
	db       *chromem.DB
	embedder embeddings.Embedder
	logger   *zap.Logger
}

// NewIndex opens or creates a persistent pattern index. The embedder is
// required; callers with embedding disabled should not construct an index.
func NewIndex(cfg Config, embedder embeddings.Embedder, logger *zap.Logger) (*Index, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: path is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	path, err := expandPath(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", path, err)
	}

	db, err := chromem.NewPersistentDB(path, cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("creating chromem DB: %w", err)
	}

	logger.Info("pattern index initialized",
		zap.String("path", path),
		zap.Bool("compress", cfg.Compress))

	return &Index{db: db, embedder: embedder, logger: logger}, nil
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

func (i *Index) collection() (*chromem.Collection, error) {
	return i.db.GetOrCreateCollection(patternsCollection, nil, i.embeddingFunc())
}

func (i *Index) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return i.embedder.EmbedQuery(ctx, text)
	}
}

// AddPattern indexes a pattern's description under its signature. Re-adding
// the same signature replaces the stored document, so reinforcements with an
// updated description stay current.
func (i *Index) AddPattern(ctx context.Context, p *pattern.Pattern) error {
	if p == nil || p.Signature == "" {
		return fmt.Errorf("%w: pattern with signature required", ErrInvalidConfig)
	}
	content := p.Description
	if content == "" {
		content = p.Name
	}

	col, err := i.collection()
	if err != nil {
		return fmt.Errorf("open collection: %w", err)
	}
	err = col.AddDocument(ctx, chromem.Document{
		ID:      p.Signature,
		Content: content,
		Metadata: map[string]string{
			"signature": p.Signature,
			"name":      p.Name,
			"category":  p.Category,
		},
	})
	if err != nil {
		return fmt.Errorf("index pattern %s: %w", p.Signature, err)
	}

	i.logger.Debug("pattern indexed", zap.String("signature", p.Signature))
	return nil
}

// Similar returns the k indexed patterns nearest to the query text, best
// first. An empty index answers with no matches rather than an error.
func (i *Index) Similar(ctx context.Context, query string, k int) ([]Match, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidConfig)
	}
	if k <= 0 {
		k = 5
	}

	col, err := i.collection()
	if err != nil {
		return nil, fmt.Errorf("open collection: %w", err)
	}

	// chromem rejects nResults above the document count.
	if count := col.Count(); count == 0 {
		return nil, nil
	} else if k > count {
		k = count
	}

	results, err := col.Query(ctx, query, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		matches = append(matches, Match{
			Signature:  r.Metadata["signature"],
			Name:       r.Metadata["name"],
			Category:   r.Metadata["category"],
			Similarity: r.Similarity,
		})
	}
	return matches, nil
}

// Count returns the number of indexed patterns.
func (i *Index) Count() (int, error) {
	col, err := i.collection()
	if err != nil {
		return 0, err
	}
	return col.Count(), nil
}

var _ pattern.Indexer = (*Index)(nil)
