package gateway

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

	"github.com/legeling/xianyu-auto-reply/internal/credential"
	"github.com/legeling/xianyu-auto-reply/internal/login"
	"github.com/legeling/xianyu-auto-reply/internal/loginguard"
	"github.com/legeling/xianyu-auto-reply/internal/model"
)

const (
	defaultHTTPTimeout = 15 * time.Second
	maxErrorBody       = 4 << 10
)

// Client calls the gateway's HTTP endpoints for QR login and credential
// refresh.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

var (
	_ login.Provider       = (*Client)(nil)
	_ loginguard.Refresher = (*Client)(nil)
)

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// StatusError is a non-2xx gateway response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.Status, e.Body)
}

type challengeResponse struct {
	Ref    string `json:"ref"`
	QRCode string `json:"qr_code"`
}

func (c *Client) CreateChallenge(ctx context.Context) (login.Challenge, error) {
	var resp challengeResponse
	if err := c.do(ctx, http.MethodPost, "/v1/login/qr", nil, &resp); err != nil {
		return login.Challenge{}, err
	}
	if resp.Ref == "" {
		return login.Challenge{}, fmt.Errorf("gateway returned an empty challenge ref")
	}
	return login.Challenge{Ref: resp.Ref, QRCode: resp.QRCode}, nil
}

type challengeStatusResponse struct {
	Status     string `json:"status"`
	Credential string `json:"credential"`
	Message    string `json:"message"`
}

// PollChallenge maps the gateway's QR states onto login statuses. Scanned
// but unconfirmed codes are still pending; cancelled codes are errors.
func (c *Client) PollChallenge(ctx context.Context, ref string) (login.ProviderStatus, error) {
	var resp challengeStatusResponse
	if err := c.do(ctx, http.MethodGet, "/v1/login/qr/"+url.PathEscape(ref), nil, &resp); err != nil {
		return login.ProviderStatus{}, err
	}
	return login.ProviderStatus{
		Status:     mapChallengeStatus(resp.Status),
		Credential: credential.FromString(resp.Credential),
		Message:    resp.Message,
	}, nil
}

func mapChallengeStatus(s string) model.LoginStatus {
	switch s {
	case "waiting", "scanned", "pending":
		return model.LoginStatusPending
	case "success", "confirmed":
		return model.LoginStatusSuccess
	case "expired":
		return model.LoginStatusExpired
	default:
		return model.LoginStatusError
	}
}

type refreshRequest struct {
	AccountID  string `json:"account_id"`
	Credential string `json:"credential"`
}

type refreshResponse struct {
	Credential string `json:"credential"`
}

func (c *Client) Refresh(ctx context.Context, accountID string, raw credential.Blob) (credential.Blob, error) {
	var resp refreshResponse
	req := refreshRequest{AccountID: accountID, Credential: raw.Raw()}
	if err := c.do(ctx, http.MethodPost, "/v1/credentials/refresh", req, &resp); err != nil {
		return nil, err
	}
	return credential.FromString(resp.Credential), nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
