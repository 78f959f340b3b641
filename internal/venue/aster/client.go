package aster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/perparb/fundarb/internal/domain"
)

const defaultRecvWindow = 5000

// doPublic sends an unauthenticated request with query params.
func (c *Connector) doPublic(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}
	return c.send(ctx, method, fullURL, false)
}

// doSigned signs the query string with HMAC-SHA256 and appends the
// signature parameter, Binance style. The millisecond timestamp and
// recvWindow are added before signing.
func (c *Connector) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if !c.auth.Configured() {
		return nil, fmt.Errorf("aster: credentials not configured: %w", domain.ErrAuthenticationFailed)
	}
	if params == nil {
		params = url.Values{}
	}
	params.Set("recvWindow", strconv.Itoa(defaultRecvWindow))
	params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))

	query := params.Encode()
	sig := c.auth.SignHex(query)
	fullURL := c.baseURL + path + "?" + query + "&signature=" + sig

	return c.send(ctx, method, fullURL, true)
}

// premiumIndex fetches the mark price and funding fields for one token. A
// symbol the venue does not list surfaces as ErrDataUnavailable so callers
// can skip the token rather than abort the batch.
func (c *Connector) premiumIndex(ctx context.Context, token string) (premiumIndexResponse, error) {
	params := url.Values{}
	params.Set("symbol", c.mapper.ToSymbol(token))

	body, err := c.doPublic(ctx, http.MethodGet, "/fapi/v1/premiumIndex", params)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return premiumIndexResponse{}, fmt.Errorf("aster: premium index %s: %w", token, domain.ErrDataUnavailable)
		}
		return premiumIndexResponse{}, fmt.Errorf("aster: premium index %s: %w", token, err)
	}
	var resp premiumIndexResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return premiumIndexResponse{}, fmt.Errorf("aster: decode premium index: %w", err)
	}
	return resp, nil
}

func (c *Connector) send(ctx context.Context, method, fullURL string, authed bool) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if authed {
		req.Header.Set(c.apiKeyHeader, c.auth.Key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w: %w", err, domain.ErrVenueUnreachable)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkStatus maps non-2xx responses onto the domain error taxonomy.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr apiError
	_ = json.Unmarshal(body, &apiErr)

	// -2011 unknown order on cancel, -2013 order does not exist.
	if apiErr.Code == -2011 || apiErr.Code == -2013 {
		return fmt.Errorf("aster: %s (code %d): %w", apiErr.Message, apiErr.Code, domain.ErrNotFound)
	}

	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("aster: %s (code %d): %w", apiErr.Message, apiErr.Code, domain.ErrAuthenticationFailed)
	case http.StatusNotFound:
		return fmt.Errorf("aster: %s (code %d): %w", apiErr.Message, apiErr.Code, domain.ErrNotFound)
	case http.StatusBadRequest:
		return fmt.Errorf("aster: %s (code %d): %w", apiErr.Message, apiErr.Code, domain.ErrOrderRejected)
	default:
		if statusCode >= 500 {
			return fmt.Errorf("aster: HTTP %d: %s: %w", statusCode, apiErr.Message, domain.ErrVenueUnreachable)
		}
		return fmt.Errorf("aster: HTTP %d: %s (code %d)", statusCode, apiErr.Message, apiErr.Code)
	}
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func msToTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
