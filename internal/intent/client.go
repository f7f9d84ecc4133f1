// Package intent drives the institutional path: prepare a server-side
// intent, obtain out-of-band authorization, and poll the intent to a
// terminal execution state. The backend holds the signing keys; this
// package only negotiates permission and observes the result.
package intent

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

	"github.com/DecentraLabsCom/lab-reservation-engine/internal/errs"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/model"
)

// Client calls the intent backend. All request and response bodies are
// JSON; chain integers travel as decimal strings.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a Client for baseURL. timeout applies per request; zero
// means 15 seconds.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// PrepareReservation calls POST /intents/reservations/prepare.
func (c *Client) PrepareReservation(ctx context.Context, req model.PrepareReservation) (*model.PrepareResponse, error) {
	var resp model.PrepareResponse
	if err := c.post(ctx, "/intents/reservations/prepare", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FinalizeReservation calls POST /intents/reservations/finalize with a
// credential assertion.
func (c *Client) FinalizeReservation(ctx context.Context, req model.FinalizeRequest) (*model.FinalizeResponse, error) {
	var resp model.FinalizeResponse
	if err := c.post(ctx, "/intents/reservations/finalize", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PrepareAction calls POST /intents/actions/prepare for the generic action
// intents (cancel-request, cancel-booking, request-funds).
func (c *Client) PrepareAction(ctx context.Context, req model.PrepareAction) (*model.PrepareResponse, error) {
	var resp model.PrepareResponse
	if err := c.post(ctx, "/intents/actions/prepare", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FinalizeAction calls POST /intents/actions/finalize.
func (c *Client) FinalizeAction(ctx context.Context, req model.FinalizeRequest) (*model.FinalizeResponse, error) {
	var resp model.FinalizeResponse
	if err := c.post(ctx, "/intents/actions/finalize", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AuthorizationStatus polls the authorization-status endpoint for a
// supervised session.
func (c *Client) AuthorizationStatus(ctx context.Context, sessionID string) (*model.AuthStatus, error) {
	var resp model.AuthStatus
	path := "/intents/authorizations/" + url.PathEscape(sessionID) + "/status"
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ExecutionStatus polls the execution-status endpoint for an authorized
// intent request.
func (c *Client) ExecutionStatus(ctx context.Context, requestID string) (*model.ExecStatus, error) {
	var resp model.ExecStatus
	path := "/intents/requests/" + url.PathEscape(requestID) + "/status"
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return errs.Transport("encode request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return errs.Transport("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return errs.Transport("build request", err)
	}
	return c.do(req, out)
}

// do executes the request and decodes the body. A non-2xx response is a
// hard failure; any structured error payload the backend sent is carried in
// the message so the UI can show the backend's reason.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Transport("intent backend unreachable", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errs.Transport("read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("intent backend returned %d", resp.StatusCode)
		var payload struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &payload) == nil {
			if payload.Error != "" {
				msg = payload.Error
			} else if payload.Message != "" {
				msg = payload.Message
			}
		}
		return errs.Transport(msg, fmt.Errorf("status %d", resp.StatusCode))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errs.Transport("malformed response body", err)
	}
	return nil
}
