package edgex

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
		return nil, fmt.Errorf("edgex: marshal request body: %w", err)
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
	if c.signer != nil {
		pubX, _ := c.signer.PublicKey()
		req.Header.Set("edgex-stark-key", pubX)
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

// checkStatus maps HTTP status and the {code, msg} envelope onto the domain
// error taxonomy. edgeX reports most failures as 200 with a non-SUCCESS
// code.
func checkStatus(statusCode int, body []byte) error {
	var env envelope
	_ = json.Unmarshal(body, &env)

	if statusCode >= 200 && statusCode < 300 {
		switch env.Code {
		case "", "SUCCESS":
			return nil
		case "AUTH_FAILED", "INVALID_SIGNATURE":
			return fmt.Errorf("edgex: %s: %s: %w", env.Code, env.Msg, domain.ErrAuthenticationFailed)
		case "ORDER_NOT_FOUND":
			return fmt.Errorf("edgex: %s: %s: %w", env.Code, env.Msg, domain.ErrNotFound)
		default:
			return fmt.Errorf("edgex: %s: %s: %w", env.Code, env.Msg, domain.ErrOrderRejected)
		}
	}

	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("edgex: HTTP %d: %s: %w", statusCode, env.Msg, domain.ErrAuthenticationFailed)
	case http.StatusNotFound:
		return fmt.Errorf("edgex: HTTP %d: %s: %w", statusCode, env.Msg, domain.ErrNotFound)
	default:
		if statusCode >= 500 {
			return fmt.Errorf("edgex: HTTP %d: %s: %w", statusCode, env.Msg, domain.ErrVenueUnreachable)
		}
		return fmt.Errorf("edgex: HTTP %d: %s", statusCode, env.Msg)
	}
}
