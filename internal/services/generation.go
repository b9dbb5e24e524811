package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aidea-studio/aidea-backend/internal/platform/logger"
	"github.com/aidea-studio/aidea-backend/internal/turn"
)

// GenerationClient produces media through the Gemini API. It satisfies
// turn.Generator: transient failures are retried here with backoff, and
// terminal failures come back as turn.GenerationError so the orchestrator
// can pick the right transcript copy.
type GenerationClient interface {
	Generate(ctx context.Context, req turn.GenerateRequest) (turn.Generation, error)
	GenerateJSON(ctx context.Context, model, system, user string) (json.RawMessage, error)
}

type geminiClient struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	httpClient *http.Client

	maxRetries   int
	pollInterval time.Duration
}

func NewGeminiClient(log *logger.Logger) (GenerationClient, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("missing GEMINI_API_KEY")
	}

	baseURL := os.Getenv("GEMINI_BASE_URL")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}

	maxRetries := 4
	if v := os.Getenv("GEMINI_MAX_RETRIES"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed >= 0 {
			maxRetries = parsed
		}
	}

	pollSec := 10
	if v := os.Getenv("GEMINI_POLL_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			pollSec = parsed
		}
	}

	return &geminiClient{
		log:     log.With("service", "GeminiClient"),
		baseURL: baseURL,
		apiKey:  apiKey,
		// Per-request deadlines come from the caller's context (120s
		// image / 300s video); no flat client timeout on top of that.
		httpClient:   &http.Client{},
		maxRetries:   maxRetries,
		pollInterval: time.Duration(pollSec) * time.Second,
	}, nil
}

type geminiHTTPError struct {
	StatusCode int
	Body       string
}

func (e *geminiHTTPError) Error() string {
	return fmt.Sprintf("gemini http %d: %s", e.StatusCode, e.Body)
}

// errSafetyBlocked marks a generation rejected by the safety filter.
var errSafetyBlocked = errors.New("generation blocked by safety filter")

func isRetryableHTTP(code int) bool {
	if code == 408 || code == 429 {
		return true
	}
	if code >= 500 && code <= 599 {
		return true
	}
	return false
}

func isRetryableErr(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var httpErr *geminiHTTPError
	if errors.As(err, &httpErr) {
		return isRetryableHTTP(httpErr.StatusCode)
	}
	return false
}

func jitterSleep(base time.Duration) time.Duration {
	// +/- 20%
	if base <= 0 {
		return 0
	}
	j := 0.2
	delta := base.Seconds() * j
	low := base.Seconds() - delta
	high := base.Seconds() + delta
	if low < 0 {
		low = 0
	}
	v := low + rand.Float64()*(high-low)
	return time.Duration(v * float64(time.Second))
}

// ---- wire types ----

type geminiBlob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiFileData struct {
	FileURI string `json:"fileUri"`
}

type geminiPart struct {
	Text       string          `json:"text,omitempty"`
	InlineData *geminiBlob     `json:"inlineData,omitempty"`
	FileData   *geminiFileData `json:"fileData,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type imageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string     `json:"responseModalities,omitempty"`
	ResponseMIMEType   string       `json:"responseMimeType,omitempty"`
	ImageConfig        *imageConfig `json:"imageConfig,omitempty"`
}

type generateContentRequest struct {
	Contents          []geminiContent   `json:"contents"`
	SystemInstruction *geminiContent    `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

type videoInstance struct {
	Prompt string      `json:"prompt"`
	Image  *geminiBlob `json:"image,omitempty"`
}

type videoParameters struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type predictLongRunningRequest struct {
	Instances  []videoInstance `json:"instances"`
	Parameters videoParameters `json:"parameters"`
}

type operationResponse struct {
	Name  string `json:"name"`
	Done  bool   `json:"done"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Response *struct {
		GenerateVideoResponse struct {
			GeneratedSamples []struct {
				Video struct {
					URI string `json:"uri"`
				} `json:"video"`
			} `json:"generatedSamples"`
		} `json:"generateVideoResponse"`
	} `json:"response"`
}

// Nominal output dimensions per aspect ratio, in canvas units.
var aspectDimensions = map[string][2]float64{
	"1:1":  {1024, 1024},
	"16:9": {1280, 720},
	"9:16": {720, 1280},
	"4:3":  {1024, 768},
	"3:4":  {768, 1024},
}

func dimensionsFor(aspect string) (float64, float64) {
	if d, ok := aspectDimensions[aspect]; ok {
		return d[0], d[1]
	}
	return 1024, 1024
}

// referencePart turns a content reference into a request part. Data URIs are
// inlined; anything else rides as a file reference.
func referencePart(src string) geminiPart {
	if mime, data, ok := splitDataURI(src); ok {
		return geminiPart{InlineData: &geminiBlob{MimeType: mime, Data: data}}
	}
	return geminiPart{FileData: &geminiFileData{FileURI: src}}
}

func splitDataURI(src string) (mime, data string, ok bool) {
	if !strings.HasPrefix(src, "data:") {
		return "", "", false
	}
	rest := strings.TrimPrefix(src, "data:")
	semi := strings.Index(rest, ";base64,")
	if semi < 0 {
		return "", "", false
	}
	return rest[:semi], rest[semi+len(";base64,"):], true
}

func (c *geminiClient) Generate(ctx context.Context, req turn.GenerateRequest) (turn.Generation, error) {
	var (
		gen turn.Generation
		err error
	)
	if req.Model.Modality() == turn.ModalityVideo {
		gen, err = c.generateVideo(ctx, req)
	} else {
		gen, err = c.generateImage(ctx, req)
	}
	if err != nil {
		return turn.Generation{}, classifyGenerationErr(err, req.Model)
	}
	return gen, nil
}

func (c *geminiClient) generateImage(ctx context.Context, req turn.GenerateRequest) (turn.Generation, error) {
	parts := []geminiPart{{Text: req.Prompt}}
	for _, ref := range req.References {
		parts = append(parts, referencePart(ref))
	}
	body := generateContentRequest{
		Contents: []geminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: &generationConfig{
			ResponseModalities: []string{"IMAGE"},
			ImageConfig:        &imageConfig{AspectRatio: req.AspectRatio},
		},
	}

	var resp generateContentResponse
	path := fmt.Sprintf("/v1beta/models/%s:generateContent", req.Model.UpstreamName())
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return turn.Generation{}, err
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return turn.Generation{}, fmt.Errorf("%w: %s", errSafetyBlocked, resp.PromptFeedback.BlockReason)
	}
	for _, cand := range resp.Candidates {
		if cand.FinishReason == "SAFETY" || cand.FinishReason == "PROHIBITED_CONTENT" {
			return turn.Generation{}, fmt.Errorf("%w: finish reason %s", errSafetyBlocked, cand.FinishReason)
		}
		for _, part := range cand.Content.Parts {
			if part.InlineData != nil && strings.HasPrefix(part.InlineData.MimeType, "image/") {
				w, h := dimensionsFor(req.AspectRatio)
				return turn.Generation{
					Src:    fmt.Sprintf("data:%s;base64,%s", part.InlineData.MimeType, part.InlineData.Data),
					Width:  w,
					Height: h,
				}, nil
			}
		}
	}
	return turn.Generation{}, fmt.Errorf("gemini returned no image part")
}

// generateVideo starts a long-running operation and polls it until the
// caller's deadline runs out.
func (c *geminiClient) generateVideo(ctx context.Context, req turn.GenerateRequest) (turn.Generation, error) {
	instance := videoInstance{Prompt: req.Prompt}
	for _, ref := range req.References {
		if mime, data, ok := splitDataURI(ref); ok {
			instance.Image = &geminiBlob{MimeType: mime, Data: data}
			break
		}
	}
	body := predictLongRunningRequest{
		Instances:  []videoInstance{instance},
		Parameters: videoParameters{AspectRatio: req.AspectRatio},
	}

	var op operationResponse
	path := fmt.Sprintf("/v1beta/models/%s:predictLongRunning", req.Model.UpstreamName())
	if err := c.do(ctx, http.MethodPost, path, body, &op); err != nil {
		return turn.Generation{}, err
	}
	if op.Name == "" {
		return turn.Generation{}, fmt.Errorf("gemini returned no operation name")
	}

	opName := op.Name
	for !op.Done {
		select {
		case <-ctx.Done():
			return turn.Generation{}, ctx.Err()
		case <-time.After(c.pollInterval):
		}
		op = operationResponse{}
		if err := c.do(ctx, http.MethodGet, "/v1beta/"+opName, nil, &op); err != nil {
			return turn.Generation{}, err
		}
	}

	if op.Error != nil {
		return turn.Generation{}, &geminiHTTPError{StatusCode: op.Error.Code, Body: op.Error.Message}
	}
	if op.Response == nil || len(op.Response.GenerateVideoResponse.GeneratedSamples) == 0 {
		return turn.Generation{}, fmt.Errorf("gemini video operation finished with no samples")
	}

	w, h := dimensionsFor(req.AspectRatio)
	return turn.Generation{
		Src:    op.Response.GenerateVideoResponse.GeneratedSamples[0].Video.URI,
		Width:  w,
		Height: h,
	}, nil
}

// GenerateJSON runs a text model with a JSON response constraint and returns
// the raw document, for the director's structured calls.
func (c *geminiClient) GenerateJSON(ctx context.Context, model, system, user string) (json.RawMessage, error) {
	body := generateContentRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: user}}}},
		GenerationConfig: &generationConfig{
			ResponseMIMEType: "application/json",
		},
	}
	if system != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: system}}}
	}

	var resp generateContentResponse
	path := fmt.Sprintf("/v1beta/models/%s:generateContent", model)
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}
	for _, cand := range resp.Candidates {
		for _, part := range cand.Content.Parts {
			if part.Text != "" {
				return json.RawMessage(stripJSONFences(part.Text)), nil
			}
		}
	}
	return nil, fmt.Errorf("gemini returned no text part")
}

// stripJSONFences tolerates models that wrap JSON in a markdown code block
// despite the response MIME type.
func stripJSONFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// classifyGenerationErr maps transport-level failures onto the turn error
// classes the orchestrator keys its transcript copy on.
func classifyGenerationErr(err error, model turn.Model) error {
	class := turn.GenUnknown
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		class = turn.GenTimeout
	case errors.Is(err, errSafetyBlocked):
		class = turn.GenSafetyBlock
	default:
		var httpErr *geminiHTTPError
		if errors.As(err, &httpErr) {
			if httpErr.StatusCode == 429 || strings.Contains(httpErr.Body, "RESOURCE_EXHAUSTED") {
				class = turn.GenRateLimited
			}
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			class = turn.GenTimeout
		}
	}
	return &turn.GenerationError{Class: class, Model: model, Err: err}
}

func (c *geminiClient) doOnce(ctx context.Context, method, path string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("x-goog-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &geminiHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

func (c *geminiClient) do(ctx context.Context, method, path string, body any, out any) error {
	// exponential backoff: 1s, 2s, 4s, 8s (cap ~10s)
	backoff := 1 * time.Second

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		resp, raw, err := c.doOnce(ctx, method, path, body)
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("gemini decode error: %w; raw=%s", uErr, string(raw))
			}
			return nil
		}

		if !isRetryableErr(err) {
			return err
		}
		if attempt == c.maxRetries {
			return err
		}

		// Respect Retry-After when present
		sleepFor := backoff
		if resp != nil {
			ra := strings.TrimSpace(resp.Header.Get("Retry-After"))
			if ra != "" {
				if secs, parseErr := strconv.Atoi(ra); parseErr == nil && secs > 0 {
					sleepFor = time.Duration(secs) * time.Second
				}
			}
		}

		if sleepFor > 10*time.Second {
			sleepFor = 10 * time.Second
		}
		sleepFor = jitterSleep(sleepFor)

		c.log.Warn("Gemini request retrying",
			"path", path,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleepFor):
		}
		backoff *= 2
	}

	return fmt.Errorf("unreachable retry loop")
}
