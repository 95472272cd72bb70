// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package knowledge stores and retrieves CCNL passages in Weaviate.
//
// Passages are plain text chunks of collective agreement documents. The
// class has no vectorizer; retrieval is keyword (BM25) search, optionally
// restricted to the documents attached to a conversation.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// PassageClassName is the Weaviate class holding CCNL passages.
const PassageClassName = "CCNLPassage"

// Property names of the passage class.
const (
	propPassageID  = "passage_id"
	propDocumentID = "document_id"
	propTitle      = "title"
	propSector     = "sector"
	propContent    = "content"
	propChunkIndex = "chunk_index"
)

// PassageSchema returns the Weaviate class definition for passages.
func PassageSchema() *models.Class {
	filterable := true

	return &models.Class{
		Class:       PassageClassName,
		Description: "Chunk of a CCNL collective labour agreement document",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            propPassageID,
				DataType:        []string{"text"},
				Description:     "Deterministic passage identifier",
				IndexFilterable: &filterable,
				Tokenization:    "field",
			},
			{
				Name:            propDocumentID,
				DataType:        []string{"text"},
				Description:     "Identifier of the source document (attachment id)",
				IndexFilterable: &filterable,
				Tokenization:    "field",
			},
			{
				Name:         propTitle,
				DataType:     []string{"text"},
				Description:  "Document title",
				Tokenization: "word",
			},
			{
				Name:            propSector,
				DataType:        []string{"text"},
				Description:     "CCNL sector, e.g. commercio, metalmeccanico",
				IndexFilterable: &filterable,
				Tokenization:    "field",
			},
			{
				Name:         propContent,
				DataType:     []string{"text"},
				Description:  "Passage text",
				Tokenization: "word",
			},
			{
				Name:        propChunkIndex,
				DataType:    []string{"int"},
				Description: "Position of the passage within its document",
			},
		},
	}
}

// EnsureSchema creates the passage class if it does not exist. Idempotent.
func EnsureSchema(ctx context.Context, client *weaviate.Client) error {
	if _, err := client.Schema().ClassGetter().WithClassName(PassageClassName).Do(ctx); err == nil {
		slog.Debug("passage schema already exists", slog.String("class", PassageClassName))
		return nil
	}

	if err := client.Schema().ClassCreator().WithClass(PassageSchema()).Do(ctx); err != nil {
		return fmt.Errorf("create %s schema: %w", PassageClassName, err)
	}
	slog.Info("passage schema created", slog.String("class", PassageClassName))
	return nil
}
