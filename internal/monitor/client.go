package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"time"

	"github.com/autocoder/progexec/internal/model"
)

// DefaultCheckTimeout bounds a single request to the decision endpoint.
const DefaultCheckTimeout = 30 * time.Second

// HTTPCheck posts the snapshots to a decision endpoint and returns the
// names listed in its response.
type HTTPCheck struct {
	requestURL *url.URL
	token      string
	client     *http.Client
}

func NewHTTPCheck(serverURL, token string) (*HTTPCheck, error) {
	parsedURL, err := url.Parse(serverURL)
	if err != nil {
		return nil, err
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, errors.New("please define the check url with a scheme, e.g. `http://some-url.com/check`")
	}

	c := &HTTPCheck{
		requestURL: parsedURL,
		token:      token,
		client:     &http.Client{Timeout: DefaultCheckTimeout},
	}
	return c, nil
}

// WithTimeout sets the request timeout; zero or negative keeps the current one.
func (c *HTTPCheck) WithTimeout(d time.Duration) *HTTPCheck {
	if d > 0 {
		c.client.Timeout = d
	}
	return c
}

type checkProgram struct {
	Name    string  `json:"name"`
	Runtime float64 `json:"runtime"`
	Stdout  string  `json:"stdout"`
	Stderr  string  `json:"stderr"`
}

type checkRequest struct {
	Programs map[string]checkProgram `json:"programs"`
}

type checkResponse struct {
	Abort []string `json:"abort"`
}

func (c *HTTPCheck) Check(ctx context.Context, programs map[string]Snapshot) ([]string, error) {
	body := checkRequest{Programs: make(map[string]checkProgram, len(programs))}
	for name, s := range programs {
		body.Programs[name] = checkProgram{
			Name:    s.Name,
			Runtime: model.Seconds(s.Runtime),
			Stdout:  s.Stdout,
			Stderr:  s.Stderr,
		}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.requestURL.String(), bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	cr, err := decodeCheckResponse(resp)
	if err != nil {
		return nil, err
	}
	slog.DebugContext(ctx, "liveness check done",
		slog.Int("programs", len(programs)),
		slog.Any("abort", cr.Abort))
	return cr.Abort, nil
}

func decodeCheckResponse(resp *http.Response) (checkResponse, error) {
	switch resp.StatusCode {
	case http.StatusOK:
		contentType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
		if err != nil {
			return checkResponse{}, fmt.Errorf("failed to parse response content type header: %w", err)
		}
		if contentType != "application/json" {
			return checkResponse{}, fmt.Errorf("expected `application/json` content type, got: %s", contentType)
		}
		var cr checkResponse
		if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
			return checkResponse{}, fmt.Errorf("decoding json response failed: %w", err)
		}
		return cr, nil
	case http.StatusNoContent:
		return checkResponse{}, nil
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return checkResponse{}, err
	}
	return checkResponse{}, fmt.Errorf("unknown error, status: %d, body: %s", resp.StatusCode, string(respBody))
}
