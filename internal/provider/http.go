package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultTimeout bounds a single upstream attempt
	DefaultTimeout = 10 * time.Second

	maxErrorBody = 512
)

// Options tunes the HTTP behaviour shared by all adapters
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	Retry      RetryPolicy
	HTTPClient *http.Client
}

func (o Options) withDefaults(baseURL string) Options {
	if o.BaseURL == "" {
		o.BaseURL = baseURL
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Retry.Attempts <= 0 {
		o.Retry = DefaultRetryPolicy
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
	return o
}

// jsonClient performs retried GET requests and decodes the body into a payload
type jsonClient struct {
	name   string
	opts   Options
	logger *zap.Logger
}

func newJSONClient(name string, opts Options, logger *zap.Logger) *jsonClient {
	return &jsonClient{name: name, opts: opts, logger: logger.With(zap.String("provider", name))}
}

type requestBuilder func(ctx context.Context) (*http.Request, error)

// get runs build/do/decode under the retry policy
func (c *jsonClient) get(ctx context.Context, symbol string, build requestBuilder) (payload, error) {
	return Retry(ctx, c.opts.Retry, IsRetryable, func(ctx context.Context) (payload, error) {
		return c.once(ctx, symbol, build)
	}, c.logger.With(zap.String("symbol", symbol)))
}

func (c *jsonClient) once(ctx context.Context, symbol string, build requestBuilder) (payload, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := build(ctx)
	if err != nil {
		return nil, &ProviderError{Provider: c.name, Symbol: symbol, Kind: KindRejected, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: c.name, Symbol: symbol, Kind: classifyTransport(err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Debug("Provider error response",
			zap.String("symbol", symbol),
			zap.Int("statusCode", resp.StatusCode),
			zap.String("response", string(body)))
		return nil, &ProviderError{
			Provider: c.name,
			Symbol:   symbol,
			Kind:     classifyStatus(resp.StatusCode),
			Status:   resp.StatusCode,
			Err:      fmt.Errorf("%s returned status code %d", c.name, resp.StatusCode),
		}
	}

	var raw any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, &ProviderError{Provider: c.name, Symbol: symbol, Kind: classifyDecode(ctx, err), Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	switch v := raw.(type) {
	case map[string]any:
		return payload(v), nil
	case []any:
		return payload{"items": v}, nil
	default:
		return payload{}, nil
	}
}

// classifyDecode separates a body cut short by the attempt timeout from a
// body that is simply not JSON
func classifyDecode(ctx context.Context, err error) ErrorKind {
	if ctx.Err() != nil {
		return KindTransient
	}
	return KindMalformed
}
