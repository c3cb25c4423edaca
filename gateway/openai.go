package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/debateflow/config"
	"github.com/BaSui01/debateflow/internal/metrics"
	"github.com/BaSui01/debateflow/types"
)

// Client talks to an OpenAI-compatible chat/embeddings API.
type Client struct {
	cfg        config.GatewayConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      *retryer
	policy     *RetryPolicy
	prompts    *promptBuilder
	logger     *zap.Logger
	collector  *metrics.Collector
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithCollector attaches a metrics collector.
func WithCollector(col *metrics.Collector) ClientOption {
	return func(c *Client) { c.collector = col }
}

// WithRetryPolicy overrides the default backoff policy.
func WithRetryPolicy(policy *RetryPolicy) ClientOption {
	return func(c *Client) { c.policy = policy }
}

// NewClient builds a gateway client from configuration.
func NewClient(cfg config.GatewayConfig, logger *zap.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "gateway"))

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		prompts:    newPromptBuilder(cfg.Model, cfg.PromptTokenBudget),
		logger:     logger,
	}
	if cfg.RateLimitRPS > 0 {
		burst := cfg.RateLimitBurst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.policy == nil {
		c.policy = DefaultRetryPolicy()
		c.policy.MaxRetries = cfg.MaxRetries
	}
	if c.policy.OnRetry == nil {
		c.policy.OnRetry = func(op string, _ int, _ error, _ time.Duration) {
			if c.collector != nil {
				c.collector.IncGatewayRetry(op)
			}
		}
	}
	c.retry = newRetryer(c.policy, logger)
	return c
}

var _ Gateway = (*Client)(nil)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature,omitempty"`
	Stream         bool              `json:"stream,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

type embedRequest struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// decisionPayload is the JSON schema the model is instructed to produce.
type decisionPayload struct {
	Thoughts          string   `json:"thoughts"`
	Response          string   `json:"response"`
	NextSpeaker       string   `json:"next_speaker"`
	ReadyToConclude   bool     `json:"ready_to_conclude"`
	RaisedQuestions   []string `json:"raised_questions"`
	ResolvedQuestions []string `json:"resolved_questions"`
}

// Decide runs one agent turn. Utterance text streams out as it is
// produced; the terminal delta carries the validated decision. Transient
// failures before the first forwarded chunk are retried transparently;
// later failures and parse failures fall back to non-streaming strict
// re-prompts so consumers never see duplicated text.
func (c *Client) Decide(ctx context.Context, req *DecideRequest) (*DecisionStream, error) {
	if req == nil || req.Agent == "" {
		return nil, types.NewError(types.ErrInvalidConfig, "decide request requires an agent")
	}

	system, user := c.prompts.BuildDecide(req)
	messages := []chatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}

	ch := make(chan streamItem)
	stream := newDecisionStream(ch)

	go func() {
		defer close(ch)
		decision, err := c.produceDecision(ctx, req.Agent, messages, ch)
		if err != nil {
			select {
			case ch <- streamItem{err: err}:
			case <-ctx.Done():
			}
			return
		}
		select {
		case ch <- streamItem{delta: StreamDelta{Decision: decision}}:
		case <-ctx.Done():
		}
	}()

	return stream, nil
}

// produceDecision drives the streaming attempt plus its fallbacks and
// returns the final decision or a terminal DECISION_UNAVAILABLE error.
func (c *Client) produceDecision(ctx context.Context, agent types.AgentID, messages []chatMessage, ch chan<- streamItem) (*types.AgentDecision, error) {
	chunksSent := false
	forward := func(text string) bool {
		if text == "" {
			return true
		}
		select {
		case ch <- streamItem{delta: StreamDelta{Chunk: text}}:
			chunksSent = true
			return true
		case <-ctx.Done():
			return false
		}
	}

	var raw string
	err := c.retry.Do(ctx, "chat", func() error {
		if chunksSent {
			// Text already reached consumers; retry without streaming so
			// nothing is emitted twice.
			var err error
			raw, err = c.chat(ctx, messages, nil)
			return err
		}
		var err error
		raw, err = c.chat(ctx, messages, forward)
		return err
	})
	if err != nil {
		return nil, c.decisionUnavailable(agent, err)
	}

	decision, parseErr := parseDecision(raw)
	for attempt := 0; parseErr != nil && attempt < c.cfg.ParseRetries; attempt++ {
		c.logger.Warn("decision parse failed, re-prompting",
			append(runFields(ctx),
				zap.String("agent", string(agent)),
				zap.Int("attempt", attempt+1),
				zap.Error(parseErr),
			)...)
		strict := append(append([]chatMessage{}, messages...),
			chatMessage{Role: "assistant", Content: raw},
			chatMessage{Role: "user", Content: strictRepromptInstruction},
		)
		err = c.retry.Do(ctx, "chat", func() error {
			var err error
			raw, err = c.chat(ctx, strict, nil)
			return err
		})
		if err != nil {
			return nil, c.decisionUnavailable(agent, err)
		}
		decision, parseErr = parseDecision(raw)
	}
	if parseErr != nil {
		return nil, c.decisionUnavailable(agent, parseErr)
	}
	return decision, nil
}

func (c *Client) decisionUnavailable(agent types.AgentID, cause error) error {
	return types.NewError(types.ErrDecisionUnavailable,
		"agent decision could not be obtained").
		WithAgent(agent).
		WithCause(cause)
}

// parseDecision validates the model output against the decision schema.
// Text around the JSON object is tolerated; missing required fields are a
// parse failure.
func parseDecision(raw string) (*types.AgentDecision, error) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return nil, types.NewError(types.ErrParseError, "no JSON object in model output")
	}

	var payload decisionPayload
	if err := json.Unmarshal([]byte(raw[start:end+1]), &payload); err != nil {
		return nil, types.NewError(types.ErrParseError, "invalid decision JSON").WithCause(err)
	}
	if payload.Response == "" {
		return nil, types.NewError(types.ErrParseError, "decision is missing the response field")
	}
	if payload.NextSpeaker == "" {
		return nil, types.NewError(types.ErrParseError, "decision is missing the next_speaker field")
	}

	return &types.AgentDecision{
		Thoughts:          payload.Thoughts,
		Response:          payload.Response,
		NextSpeaker:       payload.NextSpeaker,
		ReadyToConclude:   payload.ReadyToConclude,
		RaisedQuestions:   payload.RaisedQuestions,
		ResolvedQuestions: payload.ResolvedQuestions,
	}, nil
}

// Complete returns one free-form completion, with transient retries.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	var out string
	err := c.retry.Do(ctx, "chat", func() error {
		var err error
		out, err = c.chat(ctx, []chatMessage{{Role: "user", Content: prompt}}, nil)
		return err
	})
	return out, err
}

// Embed returns the embedding vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	var vec []float64
	err := c.retry.Do(ctx, "embed", func() error {
		start := time.Now()
		v, err := c.embed(ctx, text)
		c.observe("embed", start, err)
		if err != nil {
			return err
		}
		vec = v
		return nil
	})
	return vec, err
}

// chat performs one chat-completion call. When onChunk is non-nil the
// call streams and onChunk receives decoded "response" field fragments;
// the full raw content is returned either way.
func (c *Client) chat(ctx context.Context, messages []chatMessage, onChunk func(string) bool) (string, error) {
	start := time.Now()
	body := chatRequest{
		Model:          c.cfg.Model,
		Messages:       messages,
		Temperature:    c.cfg.Temperature,
		Stream:         onChunk != nil,
		ResponseFormat: map[string]string{"type": "json_object"},
	}

	resp, err := c.do(ctx, "/v1/chat/completions", body)
	if err != nil {
		c.observe("chat", start, err)
		return "", err
	}
	defer resp.Body.Close()

	if onChunk == nil {
		var parsed chatResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			err = types.NewError(types.ErrGatewayUnavailable, "malformed completion response").
				WithCause(err).WithRetryable(true)
			c.observe("chat", start, err)
			return "", err
		}
		if len(parsed.Choices) == 0 {
			err = types.NewError(types.ErrGatewayUnavailable, "completion response has no choices").
				WithRetryable(true)
			c.observe("chat", start, err)
			return "", err
		}
		c.observe("chat", start, nil)
		return parsed.Choices[0].Message.Content, nil
	}

	raw, err := c.readStream(resp.Body, onChunk)
	c.observe("chat", start, err)
	return raw, err
}

// readStream consumes an SSE completion stream, forwarding decoded
// utterance fragments and accumulating the raw content.
func (c *Client) readStream(body io.Reader, onChunk func(string) bool) (string, error) {
	var full strings.Builder
	extractor := &responseFieldStreamer{}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}
		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue // skip malformed keep-alive frames
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			full.WriteString(choice.Delta.Content)
			if !onChunk(extractor.Feed(choice.Delta.Content)) {
				return full.String(), context.Canceled
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return full.String(), types.NewError(types.ErrGatewayUnavailable, "stream read failed").
			WithCause(err).WithRetryable(true)
	}
	return full.String(), nil
}

// embed performs one embeddings call.
func (c *Client) embed(ctx context.Context, text string) ([]float64, error) {
	resp, err := c.do(ctx, "/v1/embeddings", embedRequest{
		Input: text,
		Model: c.cfg.EmbeddingModel,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, types.NewError(types.ErrGatewayUnavailable, "malformed embedding response").
			WithCause(err).WithRetryable(true)
	}
	if len(parsed.Data) == 0 {
		return nil, types.NewError(types.ErrGatewayUnavailable, "embedding response has no data").
			WithRetryable(true)
	}
	return parsed.Data[0].Embedding, nil
}

// do issues one rate-limited, timeout-bounded POST and maps HTTP-level
// failures onto the error taxonomy. The caller owns the response body.
func (c *Client) do(ctx context.Context, path string, payload any) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	cancel := context.CancelFunc(func() {})
	if c.cfg.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.cfg.BaseURL, "/")+path, bytes.NewReader(data))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, types.NewError(types.ErrGatewayTimeout, "gateway call timed out").
				WithCause(err).WithRetryable(true)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, types.NewError(types.ErrGatewayUnavailable, "gateway request failed").
			WithCause(err).WithRetryable(true)
	}

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		cancel()
		return nil, mapStatusError(resp.StatusCode, string(snippet))
	}

	// The deadline must cover the body read too; cancellation happens when
	// the caller closes the body.
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// mapStatusError classifies an HTTP error status: 429 and 5xx are
// transient, other 4xx are not.
func mapStatusError(status int, body string) error {
	msg := fmt.Sprintf("gateway returned HTTP %d: %s", status, strings.TrimSpace(body))
	switch {
	case status == http.StatusTooManyRequests:
		return types.NewError(types.ErrGatewayRateLimited, msg).WithRetryable(true)
	case status >= 500:
		return types.NewError(types.ErrGatewayUnavailable, msg).WithRetryable(true)
	default:
		return types.NewError(types.ErrGatewayUnavailable, msg)
	}
}

// runFields pulls the run identity out of ctx for log correlation.
func runFields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if runID, ok := types.RunIDFrom(ctx); ok {
		fields = append(fields, zap.String("run_id", runID))
	}
	if turn, ok := types.TurnFrom(ctx); ok {
		fields = append(fields, zap.Int("turn", turn))
	}
	return fields
}

func (c *Client) observe(op string, start time.Time, err error) {
	if c.collector == nil {
		return
	}
	c.collector.ObserveGatewayRequest(op, time.Since(start), err)
}
