package llm

import (
	"context"
	"strings"

	"gwi.com/jedi-chat-client/internal/config"
	"gwi.com/jedi-chat-client/internal/store"
)

// Replier generates assistant replies for the development backend.
type Replier interface {
	// Models lists the model ids served under /v1/models.
	Models() []string
	// Reply generates the answer to the last user message of history,
	// passing each piece of text to emit as it is produced, and returns the
	// whole reply.
	Reply(ctx context.Context, model string, history []store.Message, emit func(delta string) error) (string, error)
	// Title suggests a short conversation title from its first message.
	Title(ctx context.Context, basis string) (string, error)
	Close()
}

// NewReplier returns a Gemini replier when GEMINI_API_KEY is set and the
// echo replier otherwise.
func NewReplier(ctx context.Context) (Replier, error) {
	if config.AppConfig.GeminiAPIKey == "" {
		return EchoReplier{}, nil
	}
	return NewGeminiReplier(ctx, config.AppConfig.GeminiAPIKey)
}

func cleanTitle(title string) string {
	return strings.Trim(title, "\"'\n\r\t .")
}
