package llm

import (
	"context"
	"errors"
	"strings"

	"gwi.com/jedi-chat-client/internal/store"
)

const EchoModel = "echo"

const maxTitleWords = 5

// EchoReplier answers by repeating the last user message word by word. It
// needs no credentials and is deterministic.
type EchoReplier struct{}

func (EchoReplier) Models() []string { return []string{EchoModel} }

func (EchoReplier) Close() {}

func (EchoReplier) Reply(ctx context.Context, model string, history []store.Message, emit func(string) error) (string, error) {
	var last string
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == store.RoleUser {
			last = history[i].Content
			break
		}
	}
	if last == "" {
		return "", errors.New("no user message to reply to")
	}

	words := strings.Fields("You said: " + last)
	var reply strings.Builder
	for i, w := range words {
		if err := ctx.Err(); err != nil {
			return reply.String(), err
		}
		if i > 0 {
			w = " " + w
		}
		reply.WriteString(w)
		if err := emit(w); err != nil {
			return reply.String(), err
		}
	}
	return reply.String(), nil
}

// Title keeps the first few words of basis.
func (EchoReplier) Title(ctx context.Context, basis string) (string, error) {
	words := strings.Fields(basis)
	if len(words) == 0 {
		return "", errors.New("empty title basis")
	}
	if len(words) > maxTitleWords {
		words = words[:maxTitleWords]
	}
	return cleanTitle(strings.Join(words, " ")), nil
}
