// Package watch is the client side of the fingercount server: a
// reconnecting state subscriber, a polling fallback and a command client.
package watch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gwillem/fingercount/pkg/protocol"
	"github.com/gwillem/fingercount/pkg/robot"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int    `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// API is an HTTP client for the server's REST endpoints.
type API struct {
	base   string
	client *http.Client
}

// NewAPI returns a client for the server at base, e.g. http://localhost:8000.
func NewAPI(base string, timeout time.Duration) *API {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &API{
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

func (a *API) FingerCount(ctx context.Context) (int, error) {
	var resp protocol.FingerCountResponse
	if err := a.do(ctx, http.MethodGet, "/finger_count", nil, &resp); err != nil {
		return 0, err
	}
	return resp.FingerCount, nil
}

func (a *API) State(ctx context.Context) (protocol.State, error) {
	var st protocol.State
	err := a.do(ctx, http.MethodGet, "/state", nil, &st)
	return st, err
}

func (a *API) Antennas(ctx context.Context) (bool, error) {
	var resp protocol.AntennasResponse
	if err := a.do(ctx, http.MethodGet, "/antennas", nil, &resp); err != nil {
		return false, err
	}
	return resp.AntennasEnabled, nil
}

// SetAntennas returns the antenna state reported by the robot.
func (a *API) SetAntennas(ctx context.Context, enabled bool) (bool, error) {
	var resp protocol.AntennasResponse
	if err := a.do(ctx, http.MethodPost, "/antennas", protocol.AntennasRequest{Enabled: &enabled}, &resp); err != nil {
		return false, err
	}
	return resp.AntennasEnabled, nil
}

func (a *API) PlaySound(ctx context.Context) error {
	return a.do(ctx, http.MethodPost, "/play_sound", nil, nil)
}

func (a *API) Move(ctx context.Context, dir robot.Direction) error {
	return a.do(ctx, http.MethodPost, "/robot_control", protocol.RobotControlRequest{Direction: string(dir)}, nil)
}

func (a *API) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.base+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		json.NewDecoder(resp.Body).Decode(apiErr)
		apiErr.Status = resp.StatusCode
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// websocketURL maps an http(s) base URL to the server's /ws endpoint.
func websocketURL(base string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "ws", "":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path += "/ws"
	return u.String(), nil
}
