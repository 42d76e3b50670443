package chatbot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"themis/internal/observe"
)

const maxIntentsBody = 8 << 20

var errUnexpectedShape = errors.New("unexpected intents payload shape")

// HTTPClient talks to the Themis intents API. It is both an [IntentSource]
// and a [UsageCounter].
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	metrics    *observe.Metrics
}

type ClientOption func(*HTTPClient)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(h *HTTPClient) { h.httpClient = c }
}

func WithClientLogger(l *zap.Logger) ClientOption {
	return func(h *HTTPClient) { h.logger = l }
}

func WithClientMetrics(m *observe.Metrics) ClientOption {
	return func(h *HTTPClient) { h.metrics = m }
}

func NewHTTPClient(baseURL string, timeout time.Duration, opts ...ClientOption) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &HTTPClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// DynamicIntents implements IntentSource. Failures degrade to an empty list.
func (c *HTTPClient) DynamicIntents(ctx context.Context, token string) []Intent {
	records, err := c.FetchIntentRecords(ctx, token)
	if err != nil {
		kind := "transport"
		if errors.Is(err, errUnexpectedShape) {
			kind = "malformed"
		}
		c.logger.Warn("dynamic intents unavailable; using built-ins only",
			zap.String("kind", kind),
			zap.Error(err),
		)
		c.metrics.RecordFetchFailure(ctx, kind)
		return nil
	}
	return FromRecords(records)
}

// FetchIntentRecords reads GET /intents. The body may be a bare array or an
// object carrying the array under "intents" or "rows".
func (c *HTTPClient) FetchIntentRecords(ctx context.Context, token string) ([]IntentRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/intents", nil)
	if err != nil {
		return nil, fmt.Errorf("build intents request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	setBearer(req, token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch intents: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxIntentsBody))
	if err != nil {
		return nil, fmt.Errorf("read intents body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch intents: status %d", resp.StatusCode)
	}
	return decodeIntentRecords(body)
}

func decodeIntentRecords(body []byte) ([]IntentRecord, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", errUnexpectedShape)
	}

	switch trimmed[0] {
	case '[':
		var records []IntentRecord
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("%w: %v", errUnexpectedShape, err)
		}
		return records, nil
	case '{':
		var envelope struct {
			Intents *[]IntentRecord `json:"intents"`
			Rows    *[]IntentRecord `json:"rows"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, fmt.Errorf("%w: %v", errUnexpectedShape, err)
		}
		if envelope.Intents != nil {
			return *envelope.Intents, nil
		}
		if envelope.Rows != nil {
			return *envelope.Rows, nil
		}
		return nil, fmt.Errorf("%w: object without intents or rows", errUnexpectedShape)
	default:
		return nil, errUnexpectedShape
	}
}

type useResponse struct {
	Success  bool  `json:"success"`
	NewCount int64 `json:"newCount"`
}

// IncrementUsage calls POST /intents/{id}/use once and returns the new count.
func (c *HTTPClient) IncrementUsage(ctx context.Context, id int64) (int64, error) {
	endpoint := c.baseURL + "/intents/" + strconv.FormatInt(id, 10) + "/use"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("build usage request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("increment usage for intent %d: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return 0, fmt.Errorf("increment usage for intent %d: status %d", id, resp.StatusCode)
	}
	var payload useResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("decode usage response for intent %d: %w", id, err)
	}
	if !payload.Success {
		return 0, fmt.Errorf("increment usage for intent %d: server reported failure", id)
	}
	return payload.NewCount, nil
}

func setBearer(req *http.Request, token string) {
	if t := strings.TrimSpace(token); t != "" {
		req.Header.Set("Authorization", "Bearer "+t)
	}
}
