package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// Target is one participant's webhook.
type Target struct {
	AgentID string
	URL     string
	Token   string // optional bearer credential
}

type Config struct {
	Timeout     time.Duration // per delivery
	Concurrency int
	GameName    string
	WakeMode    string
}

// Delivery is the outcome for one target.
type Delivery struct {
	AgentID string
	Err     error
}

// Report lists every delivery attempt once all of them have settled.
type Report struct {
	Deliveries []Delivery
}

func (r Report) Delivered() int {
	n := 0
	for _, d := range r.Deliveries {
		if d.Err == nil {
			n++
		}
	}
	return n
}

func (r Report) Failed() int {
	return len(r.Deliveries) - r.Delivered()
}

type webhookBody struct {
	Message  string `json:"message"`
	Name     string `json:"name"`
	WakeMode string `json:"wakeMode"`
	Event    string `json:"event"`
	GameID   string `json:"gameId,omitempty"`
}

// Notifier fans an event out to participant webhooks.
type Notifier struct {
	cfg    Config
	client *http.Client
	log    *slog.Logger
}

// NewHTTPClient returns the client webhooks are delivered with. Redirects are
// never followed: only the validated target may receive the request.
func NewHTTPClient() *http.Client {
	return &http.Client{CheckRedirect: noRedirect}
}

func noRedirect(*http.Request, []*http.Request) error {
	return http.ErrUseLastResponse
}

func New(cfg Config, client *http.Client, log *slog.Logger) *Notifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 16
	}
	if cfg.GameName == "" {
		cfg.GameName = "Crucible"
	}
	if cfg.WakeMode == "" {
		cfg.WakeMode = "now"
	}
	if client == nil {
		client = NewHTTPClient()
	} else if client.CheckRedirect == nil {
		c := *client
		c.CheckRedirect = noRedirect
		client = &c
	}
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{cfg: cfg, client: client, log: log.With("component", "notify")}
}

// Notify delivers ev to every target with a URL and waits until each attempt
// has succeeded, failed or timed out. Failures are logged and reported, never
// returned.
func (n *Notifier) Notify(ctx context.Context, ev Event, targets []Target) Report {
	var live []Target
	for _, t := range targets {
		if t.URL != "" {
			live = append(live, t)
		}
	}
	if len(live) == 0 {
		return Report{}
	}

	body, err := json.Marshal(webhookBody{
		Message:  Render(ev),
		Name:     n.cfg.GameName,
		WakeMode: n.cfg.WakeMode,
		Event:    ev.Name,
		GameID:   ev.GameID,
	})
	if err != nil {
		n.log.Error("encode webhook body", "event", ev.Name, "err", err)
		return Report{}
	}

	report := Report{Deliveries: make([]Delivery, len(live))}

	var g errgroup.Group
	g.SetLimit(n.cfg.Concurrency)
	for i, t := range live {
		g.Go(func() error {
			report.Deliveries[i] = Delivery{AgentID: t.AgentID, Err: n.deliver(ctx, t, body)}
			return nil
		})
	}
	_ = g.Wait()

	for _, d := range report.Deliveries {
		if d.Err != nil {
			n.log.Warn("webhook delivery failed", "event", ev.Name, "agent", d.AgentID, "err", d.Err)
		}
	}
	n.log.Debug("webhooks delivered", "event", ev.Name, "ok", report.Delivered(), "failed", report.Failed())
	return report
}

func (n *Notifier) deliver(ctx context.Context, t Target, body []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.Token != "" {
		req.Header.Set("Authorization", "Bearer "+t.Token)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}
