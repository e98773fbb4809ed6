package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrProfileNotFound means the directory has no agent under that name.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrUnavailable means the directory could not answer.
	ErrUnavailable = errors.New("profile directory unavailable")
)

type Owner struct {
	XHandle   string `json:"x_handle,omitempty"`
	XVerified bool   `json:"x_verified,omitempty"`
}

type Profile struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Karma       int    `json:"karma"`
	IsClaimed   bool   `json:"is_claimed"`
	Owner       *Owner `json:"owner,omitempty"`
}

// Client looks agent profiles up in a Moltbook-style directory.
type Client struct {
	baseURL string
	http    *http.Client
	log     *slog.Logger
}

func NewClient(baseURL string, timeout time.Duration, log *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log.With("component", "verify"),
	}
}

func (c *Client) Profile(ctx context.Context, name string) (Profile, error) {
	u := fmt.Sprintf("%s/agents/profile?name=%s", c.baseURL, url.QueryEscape(name))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Error("profile lookup failed", "profile", name, "err", err)
		return Profile{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Profile{}, fmt.Errorf("%w: @%s", ErrProfileNotFound, name)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		_, _ = io.Copy(io.Discard, resp.Body)
		return Profile{}, fmt.Errorf("%w: %s", ErrUnavailable, resp.Status)
	}

	var body struct {
		Agent Profile `json:"agent"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return Profile{}, fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	return body.Agent, nil
}
