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
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// DefaultLimit is the number of passages returned when no limit is given.
const DefaultLimit = 5

// Passage is one retrieved or indexed chunk.
type Passage struct {
	PassageID  string  `json:"passage_id"`
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title"`
	Sector     string  `json:"sector,omitempty"`
	Content    string  `json:"content"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score,omitempty"`
}

// Retriever finds passages relevant to a question.
type Retriever interface {
	// Retrieve returns up to limit passages for query. When documentIDs is
	// non-empty only passages from those documents are considered.
	Retrieve(ctx context.Context, query string, documentIDs []string, limit int) ([]Passage, error)
}

// WeaviateRetriever implements Retriever with Weaviate BM25 search.
//
// # Thread Safety
//
// Safe for concurrent use.
type WeaviateRetriever struct {
	client *weaviate.Client
	logger *slog.Logger
}

var _ Retriever = (*WeaviateRetriever)(nil)

// NewWeaviateRetriever creates a retriever. Panics if client is nil.
func NewWeaviateRetriever(client *weaviate.Client, logger *slog.Logger) *WeaviateRetriever {
	if client == nil {
		panic("knowledge.NewWeaviateRetriever: client must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WeaviateRetriever{client: client, logger: logger}
}

// Retrieve implements Retriever.
//
// # Description
//
// Runs a BM25 query over passage content and title. Attachment scoping is
// an Or of Equal filters on document_id.
//
// # Outputs
//
//   - []Passage: Matches, best first. Empty when nothing matches.
//   - error: Non-nil if the query fails or Weaviate reports errors.
func (r *WeaviateRetriever) Retrieve(ctx context.Context, query string, documentIDs []string, limit int) ([]Passage, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	fields := []graphql.Field{
		{Name: propPassageID},
		{Name: propDocumentID},
		{Name: propTitle},
		{Name: propSector},
		{Name: propContent},
		{Name: propChunkIndex},
		{Name: "_additional { score }"},
	}

	bm25 := r.client.GraphQL().Bm25ArgBuilder().
		WithQuery(query).
		WithProperties(propContent, propTitle)

	builder := r.client.GraphQL().Get().
		WithClassName(PassageClassName).
		WithFields(fields...).
		WithBM25(bm25).
		WithLimit(limit)

	if where := documentFilter(documentIDs); where != nil {
		builder = builder.WithWhere(where)
	}

	result, err := builder.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("passage search: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("passage search error: %s", result.Errors[0].Message)
	}

	passages := parsePassages(result)
	r.logger.Debug("retrieved passages",
		slog.Int("count", len(passages)),
		slog.Int("scoped_documents", len(documentIDs)))
	return passages, nil
}

// documentFilter restricts results to the given documents, nil for none.
func documentFilter(documentIDs []string) *filters.WhereBuilder {
	switch len(documentIDs) {
	case 0:
		return nil
	case 1:
		return filters.Where().
			WithPath([]string{propDocumentID}).
			WithOperator(filters.Equal).
			WithValueString(documentIDs[0])
	}

	operands := make([]*filters.WhereBuilder, 0, len(documentIDs))
	for _, id := range documentIDs {
		operands = append(operands, filters.Where().
			WithPath([]string{propDocumentID}).
			WithOperator(filters.Equal).
			WithValueString(id))
	}
	return filters.Where().
		WithOperator(filters.Or).
		WithOperands(operands)
}

// parsePassages extracts passages from a GraphQL Get response.
func parsePassages(result *models.GraphQLResponse) []Passage {
	if result == nil {
		return nil
	}
	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	objects, ok := data[PassageClassName].([]interface{})
	if !ok {
		return nil
	}

	passages := make([]Passage, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		p := Passage{
			PassageID:  getString(m, propPassageID),
			DocumentID: getString(m, propDocumentID),
			Title:      getString(m, propTitle),
			Sector:     getString(m, propSector),
			Content:    getString(m, propContent),
			ChunkIndex: getInt(m, propChunkIndex),
		}
		if additional, ok := m["_additional"].(map[string]interface{}); ok {
			// BM25 scores are returned as strings.
			if s, ok := additional["score"].(string); ok {
				p.Score, _ = strconv.ParseFloat(s, 64)
			}
		}
		if p.Content == "" {
			continue
		}
		passages = append(passages, p)
	}
	return passages
}

func getString(m map[string]interface{}, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func getInt(m map[string]interface{}, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
