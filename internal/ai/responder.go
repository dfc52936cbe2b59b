package ai

import (
	"context"
	"fmt"
	"os"
	"strings"

	"imovia/pkg/models"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
)

const defaultModel = openai.GPT4oMini

const systemPrompt = `Você é um assistente virtual de uma imobiliária.
Responda clientes pelo WhatsApp de forma curta, cordial e objetiva.
Seu trabalho: entender o que o cliente procura (tipo de imóvel, região,
faixa de preço), responder dúvidas sobre os imóveis e oferecer o
agendamento de visitas presenciais quando houver interesse.
Nunca invente imóveis ou preços. Quando não souber, diga que vai
verificar com o corretor. Nunca prometa condições de financiamento.`

// Responder generates assistant replies from conversation history
type Responder struct {
	client *openai.Client
	model  string
	logger zerolog.Logger
}

// NewResponder creates a responder from OPENAI_API_KEY and OPENAI_MODEL.
// An empty base URL uses the public API; OPENAI_BASE_URL overrides it for
// gateways and proxies.
func NewResponder(logger zerolog.Logger) (*Responder, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}

	config := openai.DefaultConfig(apiKey)
	if base := os.Getenv("OPENAI_BASE_URL"); base != "" {
		config.BaseURL = base
	}

	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		model = defaultModel
	}

	return &Responder{
		client: openai.NewClientWithConfig(config),
		model:  model,
		logger: logger,
	}, nil
}

// GenerateReply produces the next assistant message for the history. The
// history arrives oldest first with the customer's latest message at the end.
func (r *Responder) GenerateReply(ctx context.Context, history []models.ChatTurn) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	for _, turn := range history {
		role := openai.ChatMessageRoleUser
		if turn.Role == models.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: turn.Content,
		})
	}

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       r.model,
		Messages:    messages,
		MaxTokens:   400,
		Temperature: 0.7,
	})
	if err != nil {
		r.logger.Error().Err(err).Msg("chat completion call failed")
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}

	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", fmt.Errorf("chat completion returned an empty message")
	}

	r.logger.Debug().
		Int("history_len", len(history)).
		Int("reply_len", len(reply)).
		Msg("assistant reply generated")

	return reply, nil
}
