package vest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/perparb/fundarb/internal/domain"
)

func (c *Connector) doGet(ctx context.Context, path string) ([]byte, error) {
	return c.send(ctx, http.MethodGet, path, nil)
}

func (c *Connector) doPost(ctx context.Context, path string, reqBody any) ([]byte, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("vest: marshal request body: %w", err)
	}
	return c.send(ctx, http.MethodPost, path, body)
}

func (c *Connector) send(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w: %w", err, domain.ErrVenueUnreachable)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkStatus maps non-2xx responses onto the domain error taxonomy.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr apiError
	_ = json.Unmarshal(body, &apiErr)

	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("vest: %s (%s): %w", apiErr.Message, apiErr.Code, domain.ErrAuthenticationFailed)
	case http.StatusNotFound:
		return fmt.Errorf("vest: %s (%s): %w", apiErr.Message, apiErr.Code, domain.ErrNotFound)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return fmt.Errorf("vest: %s (%s): %w", apiErr.Message, apiErr.Code, domain.ErrOrderRejected)
	default:
		if statusCode >= 500 {
			return fmt.Errorf("vest: HTTP %d: %s: %w", statusCode, apiErr.Message, domain.ErrVenueUnreachable)
		}
		return fmt.Errorf("vest: HTTP %d: %s (%s)", statusCode, apiErr.Message, apiErr.Code)
	}
}
