// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/ccnl-assistant/pkg/ux"
	"github.com/AleutianAI/ccnl-assistant/services/assistant"
	"github.com/AleutianAI/ccnl-assistant/services/assistant/knowledge"
)

// runIngest loads every document under args[0], splits it into passages
// and writes them to Weaviate.
func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	dir := args[0]

	chunkSize, _ := cmd.Flags().GetInt("chunk-size")
	overlap, _ := cmd.Flags().GetInt("chunk-overlap")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	printer := ux.NewPrinter(cmd.OutOrStdout(), ux.DetectLevel(cmd.OutOrStdout()))

	docs, err := knowledge.LoadDocuments(dir)
	if err != nil {
		return fmt.Errorf("load documents: %w", err)
	}
	if len(docs) == 0 {
		return fmt.Errorf("no .txt or .md documents found under %s", dir)
	}

	passages, err := splitDocuments(docs, chunkSize, overlap)
	if err != nil {
		return err
	}
	slog.Info("documents split",
		slog.Int("documents", len(docs)),
		slog.Int("passages", len(passages)))

	if dryRun {
		printer.Muted(fmt.Sprintf("%d documents, %d passages (dry run, nothing indexed)",
			len(docs), len(passages)))
		return nil
	}

	weaviateURL, _ := cmd.Flags().GetString("weaviate")
	if weaviateURL == "" {
		weaviateURL = os.Getenv("WEAVIATE_SERVICE_URL")
	}
	if weaviateURL == "" {
		return fmt.Errorf("no Weaviate URL: pass --weaviate or set WEAVIATE_SERVICE_URL")
	}

	client, err := assistant.NewWeaviateClient(weaviateURL)
	if err != nil {
		return err
	}
	if err := knowledge.EnsureSchema(ctx, client); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	indexed, err := knowledge.NewIndexer(client, logger.Slog()).Index(ctx, passages)
	if err != nil {
		return fmt.Errorf("index passages: %w", err)
	}
	msg := fmt.Sprintf("indexed %d of %d passages from %d documents", indexed, len(passages), len(docs))
	if indexed < len(passages) {
		printer.Warning(msg)
	} else {
		printer.Success(msg)
	}
	return nil
}

// splitDocuments splits each document and concatenates the passages in
// document order.
func splitDocuments(docs []knowledge.Document, chunkSize, overlap int) ([]knowledge.Passage, error) {
	var passages []knowledge.Passage
	for _, doc := range docs {
		split, err := knowledge.SplitDocument(doc, chunkSize, overlap)
		if err != nil {
			return nil, err
		}
		passages = append(passages, split...)
	}
	return passages, nil
}
