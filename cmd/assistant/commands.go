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
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/ccnl-assistant/pkg/logging"
)

// --- Global Command Variables ---
var (
	configPath string
	logLevel   string
	logJSON    bool

	logger *logging.Logger

	rootCmd = &cobra.Command{
		Use:   "assistant",
		Short: "CCNL labor-law assistant",
		Long: `assistant serves a streaming chat API over CCNL collective agreements,
indexes agreement texts into the passage store and asks questions from the
terminal.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logging.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			logger = logging.New(logging.Config{
				Level:   level,
				Service: "ccnl-assistant",
				JSON:    logJSON,
			})
			slog.SetDefault(logger.Slog())
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				logger.Close()
			}
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the assistant HTTP server",
		Args:  cobra.NoArgs,
		RunE:  runServe, // Defined in cmd_serve.go
	}

	ingestCmd = &cobra.Command{
		Use:     "ingest [directory]",
		Short:   "Split CCNL documents into passages and index them",
		Aliases: []string{"i"},
		Args:    cobra.ExactArgs(1),
		RunE:    runIngest, // Defined in cmd_ingest.go
	}

	askCmd = &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask the running assistant a question and stream the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAsk, // Defined in cmd_ask.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Emit JSON logs")

	serveCmd.Flags().Int("port", 0, "Override the listen port")

	ingestCmd.Flags().String("weaviate", "", "Weaviate URL (defaults to WEAVIATE_SERVICE_URL)")
	ingestCmd.Flags().Int("chunk-size", 0, "Passage size in characters")
	ingestCmd.Flags().Int("chunk-overlap", -1, "Overlap between passages in characters")
	ingestCmd.Flags().Bool("dry-run", false, "Split documents and report counts without indexing")

	askCmd.Flags().String("server", "http://localhost:12310", "Assistant base URL")
	askCmd.Flags().String("session", "", "Session ID to continue")

	rootCmd.AddCommand(serveCmd, ingestCmd, askCmd)
}
