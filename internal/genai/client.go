// Package genai implements the client boundary to the external question
// generation service. The service speaks a small JSON protocol over HTTPS
// with bearer-token auth:
//
//	request:  {"operation": "...", "quality": "fast|balanced|best",
//	           "payload": {...}, "caller_id": "..."}
//	response: {"content": {...}} on success, or
//	          {"error": "..."} when the service rejects the payload,
//	          plus {"provider": "...", "usage": {...}} metadata.
//
// The client surfaces three distinct error kinds so callers can tell
// "retry later" from "payload rejected":
//   - *TransportError:  network failure or timeout (retryable)
//   - *BadResponseError: non-2xx status or invalid JSON (retryable)
//   - *RejectionError:  explicit error field in a well-formed response
//     (not retryable; the payload itself was refused)
//
// Timeout and retry policy are owned by the caller, not this package.
package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Operations accepted by the generation service.
const (
	OpAnalyzeTopics       = "analyze_topics"
	OpGenerateQuestions   = "generate_questions"
	OpRefineQuestion      = "refine_question"
	OpGenerateDistractors = "generate_distractors"
)

// Quality hints trading latency for generation quality.
const (
	QualityFast     = "fast"
	QualityBalanced = "balanced"
	QualityBest     = "best"
)

// Usage carries the token counters the service reports per call.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

// Add accumulates another usage sample into u.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
}

// TransportError indicates the request never produced a usable HTTP
// response (DNS, connect, TLS, timeout). Retryable.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "genai: transport: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// BadResponseError indicates the service answered with a non-2xx status or
// a body that could not be decoded. Retryable.
type BadResponseError struct {
	StatusCode int
	Body       string
}

func (e *BadResponseError) Error() string {
	return fmt.Sprintf("genai: bad response: status=%d body=%s", e.StatusCode, truncateBody(e.Body))
}

// RejectionError indicates a well-formed response carrying an explicit
// error field: the service understood and refused the payload. Not
// retryable.
type RejectionError struct {
	Message string
}

func (e *RejectionError) Error() string { return "genai: rejected: " + e.Message }

// Client calls the generation service. Implementations must be safe for
// concurrent use.
type Client interface {
	// AnalyzeTopics derives topics from course content.
	AnalyzeTopics(ctx context.Context, quality string, p AnalyzeTopicsPayload) (*AnalyzeTopicsResult, Usage, error)
	// GenerateQuestions produces one batch of candidate questions.
	GenerateQuestions(ctx context.Context, quality string, p GenerateQuestionsPayload) (*GenerateQuestionsResult, Usage, error)
	// RefineQuestion regenerates a single question from its prior text.
	RefineQuestion(ctx context.Context, quality string, p RefineQuestionPayload) (*RefineQuestionResult, Usage, error)
	// GenerateDistractors produces extra wrong options for a question.
	GenerateDistractors(ctx context.Context, quality string, p GenerateDistractorsPayload) (*GenerateDistractorsResult, Usage, error)
}

// HTTPClient is the production Client talking JSON over HTTPS.
type HTTPClient struct {
	// BaseURL is the service endpoint, without trailing slash.
	BaseURL string
	// Token is the bearer token attached to every request.
	Token string
	// CallerID identifies this deployment to the service for accounting.
	CallerID string
	// HTTP is the underlying client; a default with a 120s timeout is used
	// when nil.
	HTTP *http.Client
}

// NewHTTPClient constructs an HTTPClient with a defaulted http.Client.
func NewHTTPClient(baseURL, token, callerID string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &HTTPClient{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Token:    token,
		CallerID: callerID,
		HTTP:     &http.Client{Timeout: timeout},
	}
}

// envelope is the wire request shape.
type envelope struct {
	Operation string `json:"operation"`
	Quality   string `json:"quality"`
	Payload   any    `json:"payload"`
	CallerID  string `json:"caller_id"`
}

// responseEnvelope is the wire response shape. Exactly one of Content or
// Error is expected to be present.
type responseEnvelope struct {
	Content  json.RawMessage `json:"content"`
	Error    string          `json:"error"`
	Provider string          `json:"provider"`
	Usage    Usage           `json:"usage"`
}

// AnalyzeTopics implements Client.
func (c *HTTPClient) AnalyzeTopics(ctx context.Context, quality string, p AnalyzeTopicsPayload) (*AnalyzeTopicsResult, Usage, error) {
	var out AnalyzeTopicsResult
	usage, err := c.call(ctx, OpAnalyzeTopics, quality, p, &out)
	if err != nil {
		return nil, usage, err
	}
	if err := out.Validate(); err != nil {
		return nil, usage, &RejectionError{Message: err.Error()}
	}
	return &out, usage, nil
}

// GenerateQuestions implements Client.
func (c *HTTPClient) GenerateQuestions(ctx context.Context, quality string, p GenerateQuestionsPayload) (*GenerateQuestionsResult, Usage, error) {
	var out GenerateQuestionsResult
	usage, err := c.call(ctx, OpGenerateQuestions, quality, p, &out)
	if err != nil {
		return nil, usage, err
	}
	if err := out.Validate(); err != nil {
		return nil, usage, &RejectionError{Message: err.Error()}
	}
	return &out, usage, nil
}

// RefineQuestion implements Client.
func (c *HTTPClient) RefineQuestion(ctx context.Context, quality string, p RefineQuestionPayload) (*RefineQuestionResult, Usage, error) {
	var out RefineQuestionResult
	usage, err := c.call(ctx, OpRefineQuestion, quality, p, &out)
	if err != nil {
		return nil, usage, err
	}
	if err := out.Validate(); err != nil {
		return nil, usage, &RejectionError{Message: err.Error()}
	}
	return &out, usage, nil
}

// GenerateDistractors implements Client.
func (c *HTTPClient) GenerateDistractors(ctx context.Context, quality string, p GenerateDistractorsPayload) (*GenerateDistractorsResult, Usage, error) {
	var out GenerateDistractorsResult
	usage, err := c.call(ctx, OpGenerateDistractors, quality, p, &out)
	if err != nil {
		return nil, usage, err
	}
	if err := out.Validate(); err != nil {
		return nil, usage, &RejectionError{Message: err.Error()}
	}
	return &out, usage, nil
}

// call performs one round trip and decodes the content into out.
func (c *HTTPClient) call(ctx context.Context, operation, quality string, payload, out any) (Usage, error) {
	if quality == "" {
		quality = QualityBalanced
	}
	body, err := json.Marshal(envelope{
		Operation: operation,
		Quality:   quality,
		Payload:   payload,
		CallerID:  c.CallerID,
	})
	if err != nil {
		return Usage{}, &RejectionError{Message: "marshal payload: " + err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return Usage{}, &TransportError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return Usage{}, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return Usage{}, &TransportError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Usage{}, &BadResponseError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var env responseEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Usage{}, &BadResponseError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if env.Error != "" {
		return env.Usage, &RejectionError{Message: env.Error}
	}
	if len(env.Content) == 0 {
		return env.Usage, &BadResponseError{StatusCode: resp.StatusCode, Body: "missing content"}
	}
	if err := json.Unmarshal(env.Content, out); err != nil {
		return env.Usage, &BadResponseError{StatusCode: resp.StatusCode, Body: string(env.Content)}
	}
	return env.Usage, nil
}

// truncateBody caps error bodies embedded in error strings.
func truncateBody(s string) string {
	const max = 512
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
