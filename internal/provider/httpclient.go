package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/teemow/mailsync/internal/model"
)

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 4 << 10

// NewHTTPClient returns an HTTP client whose requests are traced.
// Deadlines come from the caller's context.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// CheckResponse converts a non-2xx response into a *model.ProviderError
// carrying the (truncated) response body.
func CheckResponse(p model.Provider, op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return model.NewProviderError(p, op, resp.StatusCode, strings.TrimSpace(string(body)), nil)
}

// TransportError classifies an error returned before any response was read.
// Network failures are retryable; cancellation is passed through.
func TransportError(ctx context.Context, p model.Provider, op string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var pe *model.ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &model.ProviderError{
		Provider:  p,
		Op:        op,
		Kind:      model.KindUnavailable,
		Retryable: true,
		Err:       err,
	}
}

// DoJSON sends req with a bearer token and decodes a JSON response into out.
// out may be nil when the response body is irrelevant.
func DoJSON(ctx context.Context, client *http.Client, p model.Provider, op string, req *http.Request, accessToken string, out any) error {
	req = req.WithContext(ctx)
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return TransportError(ctx, p, op, err)
	}
	defer resp.Body.Close()

	if err := CheckResponse(p, op, resp); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: failed to decode response: %w", p, op, err)
	}
	return nil
}
