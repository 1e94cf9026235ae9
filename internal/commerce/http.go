package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gax "github.com/googleapis/gax-go/v2"
)

const (
	defaultAttemptTimeout = 10 * time.Second
	defaultRetryCount     = 3

	maxResponseBytes = 1 << 20
)

// HTTPClient talks to the mall's REST API. Transport failures and 5xx
// responses are retried per attempt budget; decoded business refusals and 4xx
// responses fail fast.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	timeout    time.Duration
	retryCount int
	backoff    func() gax.Backoff
	logger     func(context.Context, string, map[string]any)
}

// HTTPClientDeps wires the client's collaborators and tuning.
type HTTPClientDeps struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration
	RetryCount int
	Logger     func(context.Context, string, map[string]any)
}

// NewHTTPClient constructs the mall client.
func NewHTTPClient(deps HTTPClientDeps) (*HTTPClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(deps.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("commerce client: base url is required")
	}
	if strings.TrimSpace(deps.APIKey) == "" {
		return nil, errors.New("commerce client: api key is required")
	}

	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultAttemptTimeout
	}
	retryCount := deps.RetryCount
	if retryCount <= 0 {
		retryCount = defaultRetryCount
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &HTTPClient{
		baseURL:    baseURL,
		apiKey:     deps.APIKey,
		httpClient: httpClient,
		timeout:    timeout,
		retryCount: retryCount,
		backoff: func() gax.Backoff {
			return gax.Backoff{Initial: 200 * time.Millisecond, Max: 2 * time.Second, Multiplier: 2}
		},
		logger: logger,
	}, nil
}

type submissionPayload struct {
	ProductID     string               `json:"product_id"`
	ProductName   string               `json:"product_name"`
	Quantity      int                  `json:"quantity"`
	UnitPrice     int64                `json:"unit_price"`
	CustomOptions customOptionsPayload `json:"custom_options"`
	TotalPrice    int64                `json:"total_price"`
}

type customOptionsPayload struct {
	Dimensions     dimensionsPayload `json:"dimensions"`
	Material       string            `json:"material"`
	Specifications map[string]string `json:"specifications,omitempty"`
}

type dimensionsPayload struct {
	Width  float64 `json:"width"`
	Depth  float64 `json:"depth"`
	Height float64 `json:"height"`
}

// AddToCart submits the priced item to the mall and normalizes the response.
func (c *HTTPClient) AddToCart(ctx context.Context, submission CartSubmission) (CartResult, error) {
	payload := submissionPayload{
		ProductID:   submission.ProductID,
		ProductName: submission.ProductName,
		Quantity:    submission.Quantity,
		UnitPrice:   submission.UnitPrice,
		CustomOptions: customOptionsPayload{
			Dimensions: dimensionsPayload{
				Width:  submission.Dimensions.WidthCm,
				Depth:  submission.Dimensions.DepthCm,
				Height: submission.Dimensions.HeightCm,
			},
			Material:       string(submission.Material),
			Specifications: submission.Specifications,
		},
		TotalPrice: submission.TotalPrice,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return CartResult{}, fmt.Errorf("commerce client: encode submission: %w", err)
	}

	backoff := c.backoff()
	var lastErr error
	for attempt := 1; attempt <= c.retryCount; attempt++ {
		result, retryable, err := c.attemptAddToCart(ctx, body)
		if err == nil {
			return result, nil
		}
		if !retryable {
			return CartResult{}, err
		}

		lastErr = err
		c.logger(ctx, "commerce_attempt_failed", map[string]any{
			"attempt": attempt,
			"error":   err.Error(),
		})
		if attempt == c.retryCount {
			break
		}
		if err := sleepContext(ctx, backoff.Pause()); err != nil {
			return CartResult{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return CartResult{}, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

// attemptAddToCart performs one HTTP attempt. The boolean reports whether the
// failure is retryable.
func (c *HTTPClient) attemptAddToCart(ctx context.Context, body []byte) (CartResult, bool, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.baseURL+"/cart/add", bytes.NewReader(body))
	if err != nil {
		return CartResult{}, false, fmt.Errorf("commerce client: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return CartResult{}, true, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return CartResult{}, true, err
	}

	if resp.StatusCode >= 500 {
		return CartResult{}, true, fmt.Errorf("mall responded %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return CartResult{}, false, fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, rejectionMessage(raw))
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return CartResult{}, false, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if success, ok := decoded["success"].(bool); ok && !success {
		return CartResult{}, false, fmt.Errorf("%w: %s", ErrRejected, rejectionMessage(raw))
	}

	result, err := normalizeCartResult(decoded)
	if err != nil {
		return CartResult{}, false, err
	}
	return result, false, nil
}

// HealthCheck probes the mall's health endpoint.
func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("commerce client: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: health responded %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}

// normalizeCartResult maps the mall's field aliases onto CartResult. Partner
// deployments disagree on field names, so every known alias is accepted.
func normalizeCartResult(decoded map[string]any) (CartResult, error) {
	cartID := firstString(decoded, "cart_id", "cartId", "id")
	redirectURL := firstString(decoded, "redirect_url", "redirectUrl", "checkout_url")
	if cartID == "" {
		return CartResult{}, fmt.Errorf("%w: missing cart id", ErrMalformedResponse)
	}
	if redirectURL == "" {
		return CartResult{}, fmt.Errorf("%w: missing redirect url", ErrMalformedResponse)
	}
	return CartResult{CartID: cartID, RedirectURL: redirectURL}, nil
}

func firstString(decoded map[string]any, keys ...string) string {
	for _, key := range keys {
		if value, ok := decoded[key].(string); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}

func rejectionMessage(raw []byte) string {
	var decoded struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &decoded); err == nil {
		if decoded.Message != "" {
			return decoded.Message
		}
		if decoded.Error != "" {
			return decoded.Error
		}
	}
	return "rejected"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ Client = (*HTTPClient)(nil)
