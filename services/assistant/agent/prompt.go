// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/ccnl-assistant/services/assistant/datatypes"
	"github.com/AleutianAI/ccnl-assistant/services/assistant/knowledge"
	"github.com/AleutianAI/ccnl-assistant/services/llm"
)

// systemPrompt frames every turn. Answers are in Italian.
const systemPrompt = `Sei un assistente esperto di diritto del lavoro e fiscale italiano, specializzato nei Contratti Collettivi Nazionali di Lavoro (CCNL).

REGOLE:
1. Rispondi sempre in italiano, in modo chiaro e preciso.
2. Basa la risposta sui passaggi CCNL forniti nel contesto quando sono pertinenti e cita il titolo del documento.
3. Se il contesto non contiene l'informazione richiesta, dillo esplicitamente e fornisci solo indicazioni generali.
4. Non inventare importi, percentuali o scadenze.
5. Ricorda che le risposte hanno valore informativo e non sostituiscono una consulenza professionale.`

// noContextNote replaces the context block when retrieval found nothing.
const noContextNote = "Nessun passaggio CCNL pertinente trovato."

// BuildMessages assembles the provider prompt for a turn.
//
// # Description
//
// The first message is the system prompt followed by the retrieved
// passages. History follows in order; system turns from history are sent
// as system messages so they keep steering the model even though the
// display view hides them.
//
// # Inputs
//
//   - history: Merged conversation, ending with the user question.
//   - passages: Retrieved context. May be empty.
//
// # Outputs
//
//   - []llm.Message: Messages ready for Chat or ChatStream.
func BuildMessages(history []datatypes.ConversationTurn, passages []knowledge.Passage) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, llm.Message{
		Role:    llm.RoleSystem,
		Content: systemPrompt + "\n\nContesto:\n" + formatPassages(passages),
	})
	for _, turn := range history {
		messages = append(messages, llm.Message{Role: string(turn.Role), Content: turn.Content})
	}
	return messages
}

func formatPassages(passages []knowledge.Passage) string {
	if len(passages) == 0 {
		return noContextNote
	}
	var sb strings.Builder
	for i, p := range passages {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[%d] %s", i+1, p.Title)
		if p.Sector != "" {
			fmt.Fprintf(&sb, " (%s)", p.Sector)
		}
		sb.WriteString("\n")
		sb.WriteString(p.Content)
	}
	return sb.String()
}

// lastUserContent returns the most recent user turn, the retrieval query.
func lastUserContent(turns []datatypes.ConversationTurn) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == datatypes.RoleUser {
			return turns[i].Content
		}
	}
	return ""
}
