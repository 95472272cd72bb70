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
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/ccnl-assistant/pkg/ux"
	"github.com/AleutianAI/ccnl-assistant/services/assistant/datatypes"
	"github.com/AleutianAI/ccnl-assistant/services/assistant/handlers"
)

// runAsk sends one question to the running assistant and prints the
// streamed answer.
func runAsk(cmd *cobra.Command, args []string) error {
	server, _ := cmd.Flags().GetString("server")
	session, _ := cmd.Flags().GetString("session")

	body, err := json.Marshal(datatypes.ChatRequest{
		SessionID: session,
		Messages: []datatypes.ConversationTurn{
			{Role: datatypes.RoleUser, Content: strings.Join(args, " ")},
		},
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost,
		strings.TrimSuffix(server, "/")+"/v1/chat/stream", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("contact assistant: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp datatypes.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&errResp) == nil && errResp.Error != "" {
			return fmt.Errorf("assistant returned %d: %s %v", resp.StatusCode, errResp.Error, errResp.Details)
		}
		return fmt.Errorf("assistant returned %d", resp.StatusCode)
	}

	out := cmd.OutOrStdout()
	level := ux.DetectLevel(out)
	if _, err := ux.NewStreamProcessor(out, level).Process(resp.Body); err != nil {
		return err
	}
	if id := resp.Header.Get(handlers.HeaderSessionID); id != "" && session == "" {
		ux.NewPrinter(cmd.ErrOrStderr(), level).Muted("session: " + id)
	}
	return nil
}
