// Package listener pattern-matches incoming chat messages and either
// forwards structured payloads to configured HTTP endpoints (links,
// workout-log lines) or replies inline (meme triggers).
//
// Rules are stateless and independent of the publish pipeline; failures
// are logged and dropped.
package listener

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	kit "scoopbot/internal/transport"
	logx "scoopbot/pkg/logx"
)

type Config struct {
	ScrapeURL   string
	WorkoutURL  string
	Memes       map[string]string
	HTTPTimeout time.Duration
}

// Replier is the slice of the adapter the listener needs.
type Replier interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string) (kit.MessageRef, error)
}

type Service struct {
	cfg     Config
	replier Replier
	http    *http.Client
	log     logx.Logger
	memes   map[string]string
}

func New(cfg Config, replier Replier, log logx.Logger) *Service {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	memes := make(map[string]string, len(cfg.Memes))
	for k, v := range cfg.Memes {
		memes[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return &Service{
		cfg:     cfg,
		replier: replier,
		http:    &http.Client{Timeout: timeout},
		log:     log,
		memes:   memes,
	}
}

// Run consumes updates until the channel closes or ctx is cancelled.
func (s *Service) Run(ctx context.Context, updates <-chan kit.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-updates:
			if !ok {
				return
			}
			if up.Message != nil {
				s.handle(ctx, up.Message)
			}
		}
	}
}

// handle applies the rule table in order; first match wins.
func (s *Service) handle(ctx context.Context, msg *kit.Message) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	if s.cfg.ScrapeURL != "" {
		if urls := extractURLs(text); len(urls) > 0 {
			for _, u := range urls {
				s.forward(ctx, s.cfg.ScrapeURL, LinkPayload{
					URL:          u,
					ChatID:       msg.ChatID,
					FromID:       msg.FromID,
					FromUsername: msg.FromUsername,
				})
			}
			return
		}
	}

	if s.cfg.WorkoutURL != "" {
		if w, ok := parseWorkout(text); ok {
			w.FromID = msg.FromID
			s.forward(ctx, s.cfg.WorkoutURL, w)
			return
		}
	}

	if reply, ok := matchMeme(s.memes, text); ok {
		if _, err := s.replier.SendText(ctx, kit.ChatTarget{ChatID: msg.ChatID}, reply); err != nil {
			s.log.Warn("meme reply failed", logx.Int64("chat", msg.ChatID), logx.Err(err))
		}
	}
}

func (s *Service) forward(ctx context.Context, url string, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("forward encode failed", logx.String("url", url), logx.Err(err))
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		s.log.Error("forward request failed", logx.String("url", url), logx.Err(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		s.log.Warn("forward failed", logx.String("url", url), logx.Err(err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		s.log.Warn("forward rejected", logx.String("url", url), logx.Err(fmt.Errorf("status %d", resp.StatusCode)))
	}
}
