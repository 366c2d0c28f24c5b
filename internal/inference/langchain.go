package inference

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"golang.org/x/time/rate"
)

// statusCodePattern matches the status the openai driver embeds in its error text.
var statusCodePattern = regexp.MustCompile(`status code: (\d{3})`)

// LangChain serves requests through a langchaingo OpenAI-compatible model. Any
// endpoint speaking the chat completions protocol works, including local servers.
type LangChain struct {
	llm        llms.Model
	model      string
	limiter    *rate.Limiter
	maxRetries int
	backoff    time.Duration
}

// NewLangChain creates a client backed by langchaingo's openai driver.
func NewLangChain(cfg Config) (*LangChain, error) {
	cfg = cfg.withDefaults()

	apiKey := cfg.APIKey
	if apiKey == "" {
		// langchaingo requires a token, local servers ignore it
		apiKey = "placeholder"
	}

	opts := []openai.Option{openai.WithToken(apiKey)}
	if cfg.Model != "" {
		opts = append(opts, openai.WithModel(cfg.Model))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}

	return newLangChainWithModel(llm, cfg), nil
}

func newLangChainWithModel(llm llms.Model, cfg Config) *LangChain {
	cfg = cfg.withDefaults()
	return &LangChain{
		llm:        llm,
		model:      cfg.Model,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		maxRetries: cfg.MaxRetries,
		backoff:    defaultBaseBackoff,
	}
}

// Infer sends req as a system plus human message pair.
func (l *LangChain) Infer(ctx context.Context, req Request) (*Response, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	var messages []llms.MessageContent
	if req.System != "" {
		messages = append(messages, llms.MessageContent{
			Role:  schema.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextContent{Text: req.System}},
		})
	}
	messages = append(messages, llms.MessageContent{
		Role:  schema.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.TextContent{Text: req.Prompt}},
	})

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return withRetries(ctx, l.maxRetries, l.backoff, func() (*Response, error) {
		out, err := l.llm.GenerateContent(ctx, messages,
			llms.WithTemperature(req.Temperature),
			llms.WithMaxTokens(maxTokens),
		)
		if err != nil {
			return nil, classifyDriverError(err)
		}
		if len(out.Choices) == 0 {
			return nil, fmt.Errorf("empty response from model")
		}
		return &Response{Text: out.Choices[0].Content, Model: l.model}, nil
	})
}

// classifyDriverError maps a driver failure onto the classes the HTTP adapter
// uses. Network errors, 429 and 5xx are retried and 401/403 mark the capability
// unavailable. Other failures stay with the request.
func classifyDriverError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	wrapped := fmt.Errorf("generate content: %w", err)

	if m := statusCodePattern.FindStringSubmatch(err.Error()); m != nil {
		code, _ := strconv.Atoi(m[1])
		switch {
		case code == http.StatusTooManyRequests || code >= 500:
			return &retryableError{err: wrapped}
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			return fmt.Errorf("%w: authentication rejected (%d): %v", ErrUnavailable, code, err)
		default:
			return wrapped
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &retryableError{err: wrapped}
	}
	return wrapped
}

var _ Client = (*LangChain)(nil)
