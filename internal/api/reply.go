package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"gwi.com/jedi-chat-client/internal/config"
	"gwi.com/jedi-chat-client/internal/store"
)

const titleTimeout = 30 * time.Second

type ReplyRequest struct {
	Model string `json:"model"`
}

// sseWriter writes `data:` frames and flushes each one.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func (s *sseWriter) frame(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	return s.raw(data)
}

func (s *sseWriter) raw(data []byte) error {
	if !s.started {
		s.w.Header().Set("Content-Type", "text/event-stream")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set("Connection", "keep-alive")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// replyHistory returns the messages up to and including the last user
// message, so a regenerated reply answers the same question again.
func replyHistory(messages []store.Message) []store.Message {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == store.RoleUser {
			return messages[:i+1]
		}
	}
	return nil
}

// ReplyHandler streams an assistant reply to the conversation as `data:`
// frames: zero or more {"delta"} frames, then {"message"} with the stored
// reply, then [DONE].
func (h *APIHandler) ReplyHandler(w http.ResponseWriter, r *http.Request) {
	conv := h.ownedConversation(w, r)
	if conv == nil {
		return
	}

	var req ReplyRequest
	if r.Body != http.NoBody {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	messages, err := h.dbStore.ListMessages(conv.ID)
	if err != nil {
		log.Printf("Error listing messages of conversation %s: %v", conv.ID, err)
		http.Error(w, "Failed to load conversation", http.StatusInternalServerError)
		return
	}
	history := replyHistory(messages)
	if len(history) == 0 {
		http.Error(w, "Conversation has no user message to reply to", http.StatusBadRequest)
		return
	}

	sse := &sseWriter{w: w, flusher: flusher}
	content, err := h.replier.Reply(r.Context(), req.Model, history, func(delta string) error {
		return sse.frame(map[string]string{"delta": delta})
	})
	if err != nil {
		log.Printf("Error generating reply for conversation %s: %v", conv.ID, err)
		if !sse.started {
			http.Error(w, "Failed to generate reply", http.StatusBadGateway)
		}
		return
	}
	config.Debugf("Generated %d characters for conversation %s", len(content), conv.ID)

	reply := store.Message{
		ConversationID: conv.ID,
		Role:           store.RoleAssistant,
		Content:        content,
	}
	if err := h.dbStore.CreateMessage(&reply); err != nil {
		log.Printf("Error storing reply in conversation %s: %v", conv.ID, err)
		if !sse.started {
			http.Error(w, "Failed to store reply", http.StatusInternalServerError)
		}
		return
	}

	if err := sse.frame(map[string]store.Message{"message": reply}); err != nil {
		log.Printf("Error writing final frame for conversation %s: %v", conv.ID, err)
		return
	}
	if err := sse.raw([]byte("[DONE]")); err != nil {
		log.Printf("Error writing end of stream for conversation %s: %v", conv.ID, err)
	}

	if conv.Title == nil || *conv.Title == "" {
		go h.generateAndSaveTitle(conv.ID, userID(r), history[0].Content)
	}
}

func (h *APIHandler) generateAndSaveTitle(conversationID string, userID int64, basis string) {
	ctx, cancel := context.WithTimeout(context.Background(), titleTimeout)
	defer cancel()

	log.Printf("Attempting to generate title for conversation %s", conversationID)
	title, err := h.replier.Title(ctx, basis)
	if err != nil {
		log.Printf("Failed to generate title for conversation %s: %v", conversationID, err)
		return
	}

	if _, err := h.dbStore.UpdateConversation(conversationID, userID, &title, nil); err != nil {
		log.Printf("Failed to save generated title '%s' for conversation %s: %v", title, conversationID, err)
		return
	}
	log.Printf("Saved generated title '%s' for conversation %s", title, conversationID)
}
