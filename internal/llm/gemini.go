package llm

import (
	"context"
	"fmt"
	"log"
	"slices"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"gwi.com/jedi-chat-client/internal/store"
)

const (
	defaultChatModelName  = "gemini-1.5-flash-latest"
	defaultTitleModelName = "gemini-1.5-flash-latest"

	chatSystemInstruction = "You are a helpful assistant. Keep your answers concise and directly related to the user's question. " +
		"Do not make up information. If you do not know the answer, say so."

	titleSystemInstruction = "You are a helpful assistant that generates concise titles for chat conversations. " +
		"The title should be 3-5 words maximum. Just return the title itself, nothing else."
)

var geminiModels = []string{"gemini-1.5-flash-latest", "gemini-1.5-pro-latest"}

type GeminiReplier struct {
	client *genai.Client
}

func NewGeminiReplier(ctx context.Context, apiKey string) (*GeminiReplier, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiReplier{client: client}, nil
}

func (g *GeminiReplier) Close() {
	if g.client != nil {
		if err := g.client.Close(); err != nil {
			log.Printf("Error closing GenAI client: %v", err)
		} else {
			log.Println("GenAI client closed.")
		}
	}
}

func (g *GeminiReplier) Models() []string {
	return slices.Clone(geminiModels)
}

// toContent maps stored messages onto Gemini chat history. Gemini calls the
// assistant role "model" and has no system or tool turns in history.
func toContent(messages []store.Message) []*genai.Content {
	history := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		var role string
		switch m.Role {
		case store.RoleUser:
			role = "user"
		case store.RoleAssistant:
			role = "model"
		default:
			continue
		}
		history = append(history, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(m.Content)},
		})
	}
	return history
}

func (g *GeminiReplier) Reply(ctx context.Context, model string, history []store.Message, emit func(string) error) (string, error) {
	if !slices.Contains(geminiModels, model) {
		model = defaultChatModelName
	}
	contents := toContent(history)
	if len(contents) == 0 {
		return "", fmt.Errorf("prompt history is empty for chat completion")
	}
	last := contents[len(contents)-1]
	if last.Role != "user" {
		return "", fmt.Errorf("last message in history is not from 'user', cannot proceed with chat completion")
	}

	gm := g.client.GenerativeModel(model)
	gm.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(chatSystemInstruction)},
	}
	cs := gm.StartChat()
	cs.History = contents[:len(contents)-1]

	var reply strings.Builder
	iter := cs.SendMessageStream(ctx, last.Parts...)
	for {
		resp, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return reply.String(), fmt.Errorf("gemini chat stream failed: %w", err)
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}
		for _, part := range resp.Candidates[0].Content.Parts {
			txt, ok := part.(genai.Text)
			if !ok {
				log.Printf("Gemini response part was not text: %T", part)
				continue
			}
			if len(txt) == 0 {
				continue
			}
			reply.WriteString(string(txt))
			if err := emit(string(txt)); err != nil {
				return reply.String(), err
			}
		}
	}
	return reply.String(), nil
}

func (g *GeminiReplier) Title(ctx context.Context, basis string) (string, error) {
	model := g.client.GenerativeModel(defaultTitleModelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(titleSystemInstruction)},
	}

	temp := float32(0.3)
	maxTokens := int32(20)
	model.GenerationConfig = genai.GenerationConfig{
		MaxOutputTokens: &maxTokens,
		Temperature:     &temp,
	}

	prompt := fmt.Sprintf("Generate a very concise title (3-5 words maximum) for a conversation that starts with or is about: \"%s\".", basis)
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini title generation request failed: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("LLM did not generate a title (empty response)")
	}

	var title strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			title.WriteString(string(txt))
		}
	}
	if title.Len() == 0 {
		return "", fmt.Errorf("LLM generated an empty title string")
	}
	return cleanTitle(title.String()), nil
}
