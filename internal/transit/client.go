package transit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"busbeacon/internal/identity"
)

const maxBodyBytes = 4 << 20

// Client talks to the transit API. A token is requested from the identity
// provider right before every request.
type Client struct {
	baseURL    string
	identity   identity.Provider
	httpClient *http.Client
}

// NewClient creates a client for the API rooted at baseURL.
func NewClient(baseURL string, id identity.Provider, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		identity:   id,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Buses fetches the current bus snapshot.
func (c *Client) Buses(ctx context.Context) ([]Bus, error) {
	body, err := c.get(ctx, "/buses", nil)
	if err != nil {
		return nil, err
	}
	buses, err := decodeBuses(body)
	if err != nil {
		return nil, &SchemaError{Endpoint: "buses", Err: err}
	}
	return buses, nil
}

// NearestStop fetches the stop nearest to q.At, optionally filtered by bus.
func (c *Client) NearestStop(ctx context.Context, q StopQuery) (Stop, error) {
	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(q.At.Lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(q.At.Lng, 'f', -1, 64))
	if q.BusID != "" {
		params.Set("bus_id", q.BusID)
	}
	body, err := c.get(ctx, "/nearest-stop", params)
	if err != nil {
		return Stop{}, err
	}
	stop, err := decodeStop(body)
	if err != nil {
		return Stop{}, &SchemaError{Endpoint: "nearest-stop", Err: err}
	}
	return stop, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	token, err := c.identity.Token(ctx)
	if err != nil {
		return nil, &AuthError{Err: err}
	}

	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, &NetworkError{URL: c.baseURL + path, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	slog.Debug("transit api response", "path", path, "status", resp.StatusCode)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &NetworkError{URL: c.baseURL + path, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     http.StatusText(resp.StatusCode),
			Body:       string(body),
		}
	}
	return body, nil
}
