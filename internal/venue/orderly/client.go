package orderly

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/perparb/fundarb/internal/domain"
)

// doPublic sends an unauthenticated request.
func (c *Connector) doPublic(ctx context.Context, method, path string) ([]byte, error) {
	return c.send(ctx, method, path, nil, false)
}

// doSigned signs timestamp+method+path+body with the account's Ed25519 key
// and attaches the orderly-* headers.
func (c *Connector) doSigned(ctx context.Context, method, path string, reqBody any) ([]byte, error) {
	if c.signer == nil {
		return nil, fmt.Errorf("orderly: signing key not configured: %w", domain.ErrAuthenticationFailed)
	}

	var body []byte
	if reqBody != nil {
		var err error
		body, err = json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("orderly: marshal request body: %w", err)
		}
	}
	return c.send(ctx, method, path, body, true)
}

func (c *Connector) send(ctx context.Context, method, path string, body []byte, authed bool) ([]byte, error) {
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

	if authed {
		ts := strconv.FormatInt(c.now().UnixMilli(), 10)
		message := ts + method + path + string(body)
		req.Header.Set("orderly-timestamp", ts)
		req.Header.Set("orderly-account-id", c.accountID)
		req.Header.Set("orderly-key", "ed25519:"+c.signer.PublicKeyBase64())
		req.Header.Set("orderly-signature", c.signer.Sign([]byte(message)))
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

// checkStatus maps HTTP status and the {success,code,message} envelope onto
// the domain error taxonomy.
func checkStatus(statusCode int, body []byte) error {
	var env envelope
	_ = json.Unmarshal(body, &env)

	if statusCode >= 200 && statusCode < 300 {
		if !env.Success && env.Code != 0 {
			return fmt.Errorf("orderly: %s (code %d): %w", env.Message, env.Code, domain.ErrOrderRejected)
		}
		return nil
	}

	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("orderly: %s (code %d): %w", env.Message, env.Code, domain.ErrAuthenticationFailed)
	case http.StatusNotFound:
		return fmt.Errorf("orderly: %s (code %d): %w", env.Message, env.Code, domain.ErrNotFound)
	case http.StatusBadRequest:
		return fmt.Errorf("orderly: %s (code %d): %w", env.Message, env.Code, domain.ErrOrderRejected)
	default:
		if statusCode >= 500 {
			return fmt.Errorf("orderly: HTTP %d: %s: %w", statusCode, env.Message, domain.ErrVenueUnreachable)
		}
		return fmt.Errorf("orderly: HTTP %d: %s (code %d)", statusCode, env.Message, env.Code)
	}
}
