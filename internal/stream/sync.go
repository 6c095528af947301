package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"gwi.com/jedi-chat-client/internal/store"
)

const (
	PlaceholderID      = "temp-assistant-reply"
	PlaceholderContent = "Thinking..."
)

var (
	// ErrEmptyReply is returned when a stream ends with neither content nor
	// a final message.
	ErrEmptyReply = errors.New("reply stream ended without content")
	// ErrIncompleteStream is returned under EndError when a stream ends with
	// content but without its final message.
	ErrIncompleteStream = errors.New("reply stream ended without a final message")
)

// EndPolicy decides how a stream that ends with buffered content but no
// final message is resolved.
type EndPolicy int

const (
	// EndSynthesize keeps the buffered content as a locally built message.
	EndSynthesize EndPolicy = iota
	// EndError treats the missing final message as a protocol error.
	EndError
)

func ParseEndPolicy(s string) (EndPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "synthesize":
		return EndSynthesize, nil
	case "error":
		return EndError, nil
	}
	return EndSynthesize, fmt.Errorf("unknown stream end policy %q", s)
}

func (p EndPolicy) String() string {
	if p == EndError {
		return "error"
	}
	return "synthesize"
}

// Streamer opens a streaming POST.
type Streamer interface {
	Stream(ctx context.Context, path string, body any) (io.ReadCloser, error)
}

// MessageCollection is the part of a message cache the synchronizer writes.
type MessageCollection interface {
	UpdateCollection(msg store.Message, remove bool)
	Swap(oldID string, msg store.Message)
}

// Synchronizer merges a streamed assistant reply into a message collection
// through a single placeholder entry.
type Synchronizer struct {
	streamer Streamer
	policy   EndPolicy
}

func NewSynchronizer(streamer Streamer, policy EndPolicy) *Synchronizer {
	return &Synchronizer{streamer: streamer, policy: policy}
}

func (s *Synchronizer) Policy() EndPolicy {
	return s.policy
}

type replyRequest struct {
	Model string `json:"model"`
}

// Reply requests an assistant reply for conversationID and keeps messages in
// step with the stream. Every return path leaves the placeholder either
// replaced by the final message or removed.
func (s *Synchronizer) Reply(ctx context.Context, messages MessageCollection, conversationID, model string) (store.Message, error) {
	placeholder := store.Message{
		ID:             PlaceholderID,
		ConversationID: conversationID,
		Role:           store.RoleAssistant,
		Content:        PlaceholderContent,
		CreatedAt:      time.Now().UTC(),
	}
	messages.UpdateCollection(placeholder, false)

	resolved := false
	defer func() {
		if !resolved {
			messages.UpdateCollection(placeholder, true)
		}
	}()

	path := "/conversations/" + url.PathEscape(conversationID) + "/reply"
	body, err := s.streamer.Stream(ctx, path, replyRequest{Model: model})
	if err != nil {
		return store.Message{}, fmt.Errorf("failed to open reply stream: %w", err)
	}
	defer body.Close()

	var content strings.Builder
	reader := NewReader(body)
	for {
		frame, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return store.Message{}, fmt.Errorf("failed to read reply stream: %w", err)
		}
		if frame.Done {
			break
		}

		switch {
		case frame.Message != nil:
			final := *frame.Message
			if final.ConversationID == "" {
				final.ConversationID = conversationID
			}
			messages.Swap(PlaceholderID, final)
			resolved = true
			return final, nil
		case frame.Delta != nil:
			content.WriteString(*frame.Delta)
			placeholder.Content = content.String()
			messages.UpdateCollection(placeholder, false)
		default:
			log.Printf("Ignoring reply frame with neither delta nor message for conversation %s", conversationID)
		}
	}

	if content.Len() == 0 {
		return store.Message{}, ErrEmptyReply
	}
	if s.policy == EndError {
		return store.Message{}, ErrIncompleteStream
	}

	final := store.Message{
		ID:             "local-" + uuid.NewString(),
		ConversationID: conversationID,
		Role:           store.RoleAssistant,
		Content:        content.String(),
		CreatedAt:      time.Now().UTC(),
	}
	messages.Swap(PlaceholderID, final)
	resolved = true
	return final, nil
}
