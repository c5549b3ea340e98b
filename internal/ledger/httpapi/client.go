// Package httpapi talks to a remote participant ledger over its REST API.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"tournament-desk/internal/apperr"
	"tournament-desk/internal/models"
)

const maxReadTries = 3

type Client struct {
	base    string
	http    *http.Client
	newBack func() backoff.BackOff
}

type Option func(*Client)

// WithHTTPClient replaces the default client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithBackOff sets the retry schedule used for reads.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(c *Client) { c.newBack = fn }
}

func New(baseURL string, timeout time.Duration, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("ledger url is empty")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("ledger url: %w", err)
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := &Client{
		base: baseURL,
		http: &http.Client{Timeout: timeout},
		newBack: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			return b
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Lookup(ctx context.Context, id string) (models.Lookup, error) {
	var out models.Lookup
	err := c.get(ctx, "/api/participants/lookup/"+url.PathEscape(strings.TrimSpace(id)), &out)
	return out, err
}

func (c *Client) Register(ctx context.Context, r models.Registration) (models.RegisterResult, error) {
	var out models.RegisterResult
	if err := c.post(ctx, "/api/participants/register", r, &out); err != nil {
		return models.RegisterResult{}, err
	}
	out.OK = true
	return out, nil
}

func (c *Client) GetParticipant(ctx context.Context, id string) (models.Participant, error) {
	var out models.Participant
	if err := c.get(ctx, "/api/participants/"+url.PathEscape(strings.TrimSpace(id)), &out); err != nil {
		return models.Participant{}, err
	}
	if out.Food == nil {
		out.Food = models.EmptyFoodLog()
	}
	return out, nil
}

func (c *Client) TournamentSettings(ctx context.Context) (models.Settings, error) {
	var out models.Settings
	err := c.get(ctx, "/api/food/tournament-settings", &out)
	return out, err
}

func (c *Client) MarkMeal(ctx context.Context, req models.MarkRequest) (models.MarkReceipt, error) {
	var out models.MarkReceipt
	err := c.post(ctx, "/api/food/mark", req, &out)
	return out, err
}

// get retries transport failures and 5xx responses. Every other outcome is
// final.
func (c *Client) get(ctx context.Context, path string, out any) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := c.do(ctx, http.MethodGet, path, nil, out)
		if err != nil && apperr.CodeOf(err) != apperr.CodeNetwork {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(c.newBack()), backoff.WithMaxTries(maxReadTries))
	if err != nil && apperr.CodeOf(err) == apperr.CodeUnknown {
		return apperr.Wrap(apperr.CodeNetwork, "ledger unreachable", err)
	}
	return err
}

// post is never retried; a write that reached the ledger must not repeat.
func (c *Client) post(ctx context.Context, path string, in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, b, out)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return apperr.Wrap(apperr.CodeNetwork, "ledger unreachable", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return apperr.Wrap(apperr.CodeNetwork, "read ledger response", err)
	}
	if resp.StatusCode >= 300 {
		return statusError(resp.StatusCode, raw)
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apperr.Wrap(apperr.CodeNetwork, "malformed ledger response", err)
	}
	return nil
}

type detailBody struct {
	Detail any `json:"detail"`
}

func statusError(status int, raw []byte) error {
	code := apperr.FromHTTPStatus(status)
	if code == apperr.CodeUnknown {
		code = apperr.CodeNetwork
	}
	msg := http.StatusText(status)
	var body detailBody
	if json.Unmarshal(raw, &body) == nil {
		switch d := body.Detail.(type) {
		case string:
			if d != "" {
				msg = d
			}
		case []any:
			// validation bodies carry a list of {"msg": ...}
			if len(d) > 0 {
				if m, ok := d[0].(map[string]any); ok {
					if s, ok := m["msg"].(string); ok && s != "" {
						msg = s
					}
				}
			}
		}
	}
	return apperr.New(code, msg)
}
