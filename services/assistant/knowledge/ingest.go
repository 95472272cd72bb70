// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package knowledge

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

const (
	// DefaultChunkSize is the passage size in characters.
	DefaultChunkSize = 1200

	// DefaultChunkOverlap is the overlap between consecutive passages.
	DefaultChunkOverlap = 150

	// batchSize is the number of objects sent per Weaviate batch.
	batchSize = 100
)

// separators split CCNL documents on article headings before paragraphs.
var separators = []string{"\nArt. ", "\nArticolo ", "\n## ", "\n\n", "\n", ". ", " ", ""}

// Document is a CCNL source document to be indexed.
type Document struct {
	ID     string
	Title  string
	Sector string
	Text   string
}

// DeterministicID derives a stable UUID from parts. Re-ingesting the same
// input overwrites objects instead of duplicating them.
func DeterministicID(parts ...string) string {
	hash := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	id, _ := uuid.FromBytes(hash[:16])
	return id.String()
}

// SplitDocument chunks a document into passages.
//
// # Inputs
//
//   - doc: Document to split. Empty text yields no passages.
//   - chunkSize, overlap: Splitter settings. Values <= 0 use the defaults.
//
// # Outputs
//
//   - []Passage: Passages in document order with deterministic IDs.
//   - error: Non-nil if the splitter fails.
func SplitDocument(doc Document, chunkSize, overlap int) ([]Passage, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = DefaultChunkOverlap
		if overlap >= chunkSize {
			overlap = chunkSize / 10
		}
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(overlap),
		textsplitter.WithSeparators(separators),
	)

	chunks, err := splitter.SplitText(doc.Text)
	if err != nil {
		return nil, fmt.Errorf("split %s: %w", doc.Title, err)
	}

	passages := make([]Passage, 0, len(chunks))
	for _, chunk := range chunks {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		index := len(passages)
		passages = append(passages, Passage{
			PassageID:  DeterministicID(doc.ID, fmt.Sprint(index), chunk),
			DocumentID: doc.ID,
			Title:      doc.Title,
			Sector:     doc.Sector,
			Content:    chunk,
			ChunkIndex: index,
		})
	}
	return passages, nil
}

// LoadDocuments reads every .txt and .md file under dir.
//
// # Description
//
// The document ID is derived from the path relative to dir so it stays
// stable across runs and can be used as an attachment id. The title is the
// file name without extension; the sector is the first path component when
// the file sits in a subdirectory.
func LoadDocuments(dir string) ([]Document, error) {
	var docs []Document
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".txt" && ext != ".md" {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		sector := ""
		if i := strings.IndexByte(rel, '/'); i > 0 {
			sector = rel[:i]
		}

		docs = append(docs, Document{
			ID:     DeterministicID("document", rel),
			Title:  strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel)),
			Sector: sector,
			Text:   string(data),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// Indexer writes passages into Weaviate.
type Indexer struct {
	client *weaviate.Client
	logger *slog.Logger
}

// NewIndexer creates an Indexer. Panics if client is nil.
func NewIndexer(client *weaviate.Client, logger *slog.Logger) *Indexer {
	if client == nil {
		panic("knowledge.NewIndexer: client must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{client: client, logger: logger}
}

// Index batch-imports passages and returns how many Weaviate accepted.
//
// Failed items are logged and skipped; the call only fails when a whole
// batch request fails.
func (ix *Indexer) Index(ctx context.Context, passages []Passage) (int, error) {
	indexed := 0
	for start := 0; start < len(passages); start += batchSize {
		if err := ctx.Err(); err != nil {
			return indexed, err
		}
		end := min(start+batchSize, len(passages))

		resp, err := ix.client.Batch().ObjectsBatcher().
			WithObjects(toObjects(passages[start:end])...).
			Do(ctx)
		if err != nil {
			return indexed, fmt.Errorf("batch import: %w", err)
		}

		for _, item := range resp {
			if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
				for _, e := range item.Result.Errors.Error {
					ix.logger.Warn("passage import failed",
						slog.String("passage_id", string(item.ID)),
						slog.String("error", e.Message))
				}
				continue
			}
			indexed++
		}
		ix.logger.Info("indexed passage batch",
			slog.Int("batch", end-start),
			slog.Int("total_indexed", indexed))
	}
	return indexed, nil
}

func toObjects(passages []Passage) []*models.Object {
	objects := make([]*models.Object, len(passages))
	for i, p := range passages {
		objects[i] = &models.Object{
			Class: PassageClassName,
			ID:    strfmt.UUID(p.PassageID),
			Properties: map[string]interface{}{
				propPassageID:  p.PassageID,
				propDocumentID: p.DocumentID,
				propTitle:      p.Title,
				propSector:     p.Sector,
				propContent:    p.Content,
				propChunkIndex: p.ChunkIndex,
			},
		}
	}
	return objects
}
