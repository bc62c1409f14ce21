package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/glasswall-sec/slidegate/lib/captcha"
)

var (
	// ErrUnavailable means the server can't issue challenges right now
	// and the call should be retried later.
	ErrUnavailable = errors.New("client: captcha temporarily unavailable")
	// ErrCaptchaRequired means login was attempted without a valid
	// solved-captcha proof.
	ErrCaptchaRequired = errors.New("client: captcha verification required")
	// ErrLoginRefused means the server rejected the credentials.
	ErrLoginRefused = errors.New("client: login refused")
)

// API talks to a slidegate server over HTTP.
type API struct {
	base string
	hc   *http.Client
}

// NewAPI builds a client for the server at base, e.g.
// "https://login.example.com". The base must not include /api.
func NewAPI(base string) *API {
	return &API{
		base: strings.TrimSuffix(base, "/"),
		hc:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (a *API) getJSON(ctx context.Context, path string, into any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.base+path, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.hc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return resp.StatusCode, fmt.Errorf("client: can't decode %s response: %w", path, err)
	}
	return resp.StatusCode, nil
}

func (a *API) postJSON(ctx context.Context, path string, body, into any) (int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base+path, bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := a.hc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return resp.StatusCode, fmt.Errorf("client: can't decode %s response: %w", path, err)
	}
	return resp.StatusCode, nil
}

// Generate fetches a fresh challenge.
func (a *API) Generate(ctx context.Context) (*captcha.Challenge, error) {
	var chall captcha.Challenge
	status, err := a.getJSON(ctx, "/api/captcha/generate", &chall)
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusOK:
		return &chall, nil
	case http.StatusServiceUnavailable:
		return nil, ErrUnavailable
	default:
		return nil, fmt.Errorf("client: generate failed with status %d", status)
	}
}

// Image downloads one of the challenge images by the path the
// generation payload handed out.
func (a *API) Image(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.base+path, nil)
	if err != nil {
		return nil, err
	}

	resp, err := a.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("client: image fetch failed with status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// Verify grades a drag endpoint. Verification failures come back in
// the Verdict, not as errors.
func (a *API) Verify(ctx context.Context, sessionID string, positionX int, duration time.Duration) (Verdict, error) {
	var verdict Verdict
	status, err := a.postJSON(ctx, "/api/captcha/verify", map[string]any{
		"sessionId": sessionID,
		"positionX": positionX,
		"duration":  duration.Milliseconds(),
	}, &verdict)
	if err != nil {
		return Verdict{}, err
	}
	if status != http.StatusOK {
		return Verdict{}, fmt.Errorf("client: verify failed with status %d", status)
	}

	return verdict, nil
}

// Account is the sanitized user record login responses carry.
type Account struct {
	ID       string `json:"id"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
}

// LoginResult is a successful login: the bearer token plus the account
// it belongs to.
type LoginResult struct {
	Token string  `json:"token"`
	User  Account `json:"user"`
}

// Login exchanges credentials plus a solved-captcha proof for a login
// token.
func (a *API) Login(ctx context.Context, email, password, captchaToken string) (*LoginResult, error) {
	var resp struct {
		LoginResult
		Error string `json:"error"`
	}

	status, err := a.postJSON(ctx, "/api/login", map[string]any{
		"email":        email,
		"password":     password,
		"captchaToken": captchaToken,
	}, &resp)
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusOK:
		return &resp.LoginResult, nil
	case http.StatusForbidden:
		return nil, ErrCaptchaRequired
	default:
		return nil, fmt.Errorf("%w: %s", ErrLoginRefused, resp.Error)
	}
}
