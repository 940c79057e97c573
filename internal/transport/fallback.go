package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/hbkhrishi0412-afk/reride-sub004/internal/models"
)

// ErrDeliveryFailed surfaces only when the synchronous fallback itself fails
// after retries; the caller may then offer a retry without re-typing.
var ErrDeliveryFailed = errors.New("message not delivered")

type ChatRequest struct {
	Message   string      `json:"message"`
	UserID    string      `json:"userId,omitempty"`
	UserName  string      `json:"userName,omitempty"`
	Role      models.Role `json:"role,omitempty"`
	SessionID string      `json:"sessionId,omitempty"`
}

type ChatResponse struct {
	Success  bool   `json:"success"`
	Response string `json:"response"`
}

type historyResponse struct {
	Success  bool              `json:"success"`
	Messages []*models.Message `json:"messages"`
}

// FallbackClient is the synchronous request/response path used when the
// realtime channel is down, so user input is never silently dropped.
type FallbackClient struct {
	base       string
	http       *http.Client
	breaker    *gobreaker.CircuitBreaker
	maxElapsed time.Duration
}

func NewFallbackClient(base string, timeout, maxElapsed time.Duration) *FallbackClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if maxElapsed <= 0 {
		maxElapsed = 15 * time.Second
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "chat-fallback",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
	})
	return &FallbackClient{
		base:       base,
		http:       &http.Client{Timeout: timeout},
		breaker:    cb,
		maxElapsed: maxElapsed,
	}
}

// SendMessage posts the chat request and returns the server's reply. Retried
// with exponential backoff behind a circuit breaker.
func (c *FallbackClient) SendMessage(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	out, err := c.breaker.Execute(func() (any, error) {
		var resp ChatResponse
		op := func() error {
			return c.postJSON(ctx, c.base+"/api/v1/chat", body, &resp)
		}
		b := backoff.NewExponentialBackOff()
		b.MaxElapsedTime = c.maxElapsed
		if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
			return nil, err
		}
		return &resp, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	return out.(*ChatResponse), nil
}

// History fetches the full message replay over HTTP.
func (c *FallbackClient) History(ctx context.Context, userID string) ([]*models.Message, error) {
	u := c.base + "/api/v1/chat/history?userId=" + url.QueryEscape(userID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("history: unexpected status %d", resp.StatusCode)
	}
	var hr historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&hr); err != nil {
		return nil, err
	}
	return hr.Messages, nil
}

func (c *FallbackClient) postJSON(ctx context.Context, u string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("server status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		io.Copy(io.Discard, resp.Body)
		return backoff.Permanent(fmt.Errorf("client status %d", resp.StatusCode))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
