package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	_ "embed"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/spigell/scentmatch/internal/assistant"
	"github.com/spigell/scentmatch/internal/logger"
	"github.com/spigell/scentmatch/internal/utils"
)

const (
	providerName        = "gemini"
	defaultModel        = "gemini-2.5-flash"
	defaultMaxRetries   = 3
	defaultMaxLogLength = 200
	baseBackoff         = 2 * time.Second
	maxRetryDelay       = 30 * time.Second
)

//go:embed prompt.md
var systemPrompt string

var (
	wait       = utils.WaitFor
	retryAfter = regexp.MustCompile(`(?i)retry (?:after|in) ([0-9]+(?:\.[0-9]+)?)\s*(?:s\b|sec|second)`)
)

type chatSession interface {
	SendMessage(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

type chatCreator interface {
	Create(ctx context.Context, model string, config *genai.GenerateContentConfig, history []*genai.Content) (chatSession, error)
}

type genaiChats struct {
	chats *genai.Chats
}

func (c genaiChats) Create(ctx context.Context, model string, config *genai.GenerateContentConfig, history []*genai.Content) (chatSession, error) {
	chat, err := c.chats.Create(ctx, model, config, history)
	if err != nil {
		return nil, err
	}
	return chat, nil
}

// Generator answers chat turns with Gemini.
type Generator struct {
	chats      chatCreator
	model      string
	system     string
	maxRetries int
	maxLogLen  int
	logger     *zap.Logger
}

// NewGenerator creates a Generator for the Gemini API backend.
func NewGenerator(ctx context.Context, log *zap.Logger, apiKey, model string, maxRetries, maxLogLength int) (*Generator, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	if model = strings.TrimSpace(model); model == "" {
		model = defaultModel
	}
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}

	return &Generator{
		chats:      genaiChats{chats: client.Chats},
		model:      model,
		system:     systemPrompt,
		maxRetries: maxRetries,
		maxLogLen:  maxLogLength,
		logger:     logger.WithCommonFields(log, providerName, model),
	}, nil
}

// Generate sends the utterance, enriched with c, on top of history.
// The returned history records the plain utterance.
func (g *Generator) Generate(ctx context.Context, history []assistant.Message, utterance string, c assistant.Context) (*assistant.Reply, error) {
	message := assistant.Compose(utterance, c)

	text, err := g.send(ctx, g.system, toContents(history), message)
	if err != nil {
		return nil, err
	}

	return &assistant.Reply{
		Text:    text,
		History: assistant.AppendTurn(history, strings.TrimSpace(utterance), text),
	}, nil
}

func (g *Generator) send(ctx context.Context, system string, history []*genai.Content, message string) (string, error) {
	if g == nil || g.chats == nil {
		return "", errors.New("gemini generator is not initialized")
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return "", errors.New("message must not be empty")
	}

	log := g.logger
	if log == nil {
		log = zap.NewNop()
	}

	config := &genai.GenerateContentConfig{}
	if system = strings.TrimSpace(system); system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}

	maxRetries := g.maxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	log.Debug("gemini chat request",
		zap.Int("history", len(history)),
		zap.Int("message_length", utf8.RuneCountInString(message)),
		zap.String("message_preview", utils.Preview(message, g.maxLogLen)),
	)

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		text, err := g.sendOnce(ctx, config, history, message)
		if err == nil {
			log.Debug("gemini chat response",
				zap.Int("attempt", attempt),
				zap.Int("response_length", utf8.RuneCountInString(text)),
				zap.String("response_preview", utils.Preview(text, g.maxLogLen)),
			)
			return text, nil
		}
		lastErr = err

		delay, ok := retryDelay(err, attempt)
		if !ok || attempt == maxRetries {
			break
		}

		log.Warn("gemini request failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := wait(ctx, delay); err != nil {
			return "", err
		}
	}

	return "", fmt.Errorf("gemini chat: %w", lastErr)
}

func (g *Generator) sendOnce(ctx context.Context, config *genai.GenerateContentConfig, history []*genai.Content, message string) (string, error) {
	chat, err := g.chats.Create(ctx, g.model, config, history)
	if err != nil {
		return "", fmt.Errorf("create chat: %w", err)
	}

	resp, err := chat.SendMessage(ctx, genai.Part{Text: message})
	if err != nil {
		return "", err
	}

	return responseText(resp)
}

// retryDelay reports whether err is worth retrying and how long to wait first.
// Server errors and short rate-limit waits are retried.
func retryDelay(err error, attempt int) (time.Duration, bool) {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return 0, false
	}
	if apiErr.Code != http.StatusTooManyRequests && apiErr.Code < http.StatusInternalServerError {
		return 0, false
	}

	delay := baseBackoff * time.Duration(attempt)
	if m := retryAfter.FindStringSubmatch(apiErr.Message); m != nil {
		if secs, perr := strconv.ParseFloat(m[1], 64); perr == nil {
			delay = time.Duration(secs * float64(time.Second))
		}
	}
	if delay > maxRetryDelay {
		return 0, false
	}
	return delay, true
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", errors.New("gemini api returned no response")
	}

	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if builder.Len() > 0 {
				builder.WriteString("\n")
			}
			builder.WriteString(text)
		}
	}

	output := strings.TrimSpace(builder.String())
	if output == "" {
		return "", errors.New("gemini api returned empty response")
	}
	return output, nil
}

func toContents(history []assistant.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(history))
	for _, msg := range history {
		text := strings.TrimSpace(msg.Content)
		if text == "" {
			continue
		}
		if msg.Role == assistant.RoleAssistant {
			out = append(out, genai.NewContentFromText(text, genai.RoleModel))
			continue
		}
		out = append(out, genai.NewContentFromText(text, genai.RoleUser))
	}
	return out
}
