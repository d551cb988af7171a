package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"signal-enginev1/internal/breaker"
	"signal-enginev1/internal/logger"
	"signal-enginev1/internal/model"
)

// RemoteConfig configures the OpenAI-compatible chat completions client.
type RemoteConfig struct {
	BaseURL string        // e.g. https://api.openai.com
	Model   string        // e.g. gpt-4o-mini
	Timeout time.Duration // per request; 0 selects 15s
}

const (
	defaultRemoteTimeout = 15 * time.Second
	systemPrompt         = "Be concise and practical."
	maxTokens            = 100
	temperature          = 0.3
	errorBodyPrefix      = 80
	noCredentialSummary  = "remote disabled: no API key"
)

var confidenceRe = regexp.MustCompile(`(\d{1,3})%`)

// ErrEmptyReply is returned when a 2xx response carries no answer text.
var ErrEmptyReply = errors.New("enrich: empty choices")

// Remote asks a chat completions endpoint for a one-sentence verdict.
type Remote struct {
	url     string
	model   string
	client  *http.Client
	breaker *breaker.Breaker
	log     zerolog.Logger
}

// NewRemote creates a remote analyzer. b may be nil.
func NewRemote(cfg RemoteConfig, b *breaker.Breaker, log zerolog.Logger) *Remote {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}
	return &Remote{
		url:     strings.TrimRight(cfg.BaseURL, "/") + "/v1/chat/completions",
		model:   cfg.Model,
		client:  &http.Client{Timeout: timeout},
		breaker: b,
		log:     log,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// statusError is a non-2xx reply; it carries the head of the body.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.code, e.body)
}

// Analyze implements Analyzer. With no credential it returns a degraded
// result without any network call.
func (r *Remote) Analyze(ctx context.Context, sig *model.Signal, ex model.Extras, credential string) model.EnrichmentResult {
	if credential == "" {
		return degraded(noCredentialSummary)
	}

	log := logger.Ctx(ctx, r.log)

	var text string
	call := func() error {
		var err error
		text, err = r.complete(ctx, credential, Prompt(sig, ex))
		return err
	}

	var err error
	if r.breaker != nil {
		err = r.breaker.Execute(call)
	} else {
		err = call()
	}

	if err != nil {
		var se *statusError
		switch {
		case errors.Is(err, breaker.ErrCircuitOpen):
			log.Warn().Str("signal", sig.ID).Msg("remote analyzer circuit open")
			return degraded("remote unavailable: circuit open")
		case errors.Is(err, ErrEmptyReply):
			log.Warn().Str("signal", sig.ID).Msg("remote analyzer returned no answer")
			return degraded("remote error: empty reply")
		case errors.As(err, &se):
			log.Warn().Str("signal", sig.ID).Int("status", se.code).Msg("remote analyzer rejected request")
			return degraded("remote error: " + se.body)
		default:
			log.Warn().Err(err).Str("signal", sig.ID).Msg("remote analyzer failed")
			return degraded("remote failed")
		}
	}

	return model.EnrichmentResult{
		Summary:    text,
		Confidence: ParseConfidence(text),
		Mode:       model.ModeRemote,
	}
}

func (r *Remote) complete(ctx context.Context, credential, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: r.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("enrich: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("enrich: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+credential)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("enrich: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		head, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyPrefix))
		return "", &statusError{code: resp.StatusCode, body: string(head)}
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("enrich: decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", ErrEmptyReply
	}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyReply
	}
	return text, nil
}

// Prompt renders the user prompt for sig.
func Prompt(sig *model.Signal, ex model.Extras) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Provide a one-sentence %s verdict with confidence (0-100%%).\n", sig.Side)
	fmt.Fprintf(&b, "Symbol=%s\n", sig.Symbol)
	fmt.Fprintf(&b, "Timeframe=%s\n", sig.Timeframe)
	fmt.Fprintf(&b, "Entry=%s\n", num(sig.Entry))
	fmt.Fprintf(&b, "SL=%s\n", num(sig.StopLoss))
	fmt.Fprintf(&b, "TP1=%s\n", num(sig.TakeProfit1))
	fmt.Fprintf(&b, "TP2=%s\n", num(sig.TakeProfit2))
	fmt.Fprintf(&b, "Quality=%d\n", sig.Quality)
	fmt.Fprintf(&b, "RSI=%s\n", num(ex.RSI))
	fmt.Fprintf(&b, "ATR Relative=%s\n", num(ex.ATRRel))
	fmt.Fprintf(&b, "Trend Score=%s\n", num(ex.TrendScore))
	return b.String()
}

// ParseConfidence returns the last "NN%" in text clamped to 0-100, or 0.
func ParseConfidence(text string) int {
	m := confidenceRe.FindAllStringSubmatch(text, -1)
	if len(m) == 0 {
		return 0
	}
	n, err := strconv.Atoi(m[len(m)-1][1])
	if err != nil {
		return 0
	}
	return min(max(n, 0), 100)
}

func degraded(summary string) model.EnrichmentResult {
	return model.EnrichmentResult{Summary: summary, Confidence: 0, Mode: model.ModeRemote}
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
