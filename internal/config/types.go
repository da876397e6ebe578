package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Feed     FeedConfig     `json:"feed"`
	Pipeline PipelineConfig `json:"pipeline"`
	Listener ListenerConfig `json:"listener,omitempty"`
	Storage  StorageConfig  `json:"storage"`
	Logging  LoggingConfig  `json:"logging"`
}

type TelegramConfig struct {
	// Token may be left empty in the file and provided via SCOOPBOT_TOKEN.
	Token string `json:"token"`
	// AnnounceChatID receives one sticker per freshly started set.
	AnnounceChatID int64 `json:"announce_chat_id"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type FeedConfig struct {
	// BaseURL is the JSON directory endpoint listing candidate entries.
	BaseURL string `json:"base_url"`
	// ImageDomain is the per-entry image host suffix:
	// images are fetched from http://{entry}.{image_domain}/{file}.
	ImageDomain string `json:"image_domain"`
	HTTPTimeout string `json:"http_timeout,omitempty"`
}

// PipelineConfig controls the ingest/publish worker pool.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - set_size: 200
//   - pace: "100ms"
//   - schedule: run only when run_on_start is set
type PipelineConfig struct {
	Enabled bool `json:"enabled"`
	// Schedule is a cron expression (robfig/cron, optional seconds field).
	// Empty means no timed runs.
	Schedule   string `json:"schedule,omitempty"`
	RunOnStart bool   `json:"run_on_start,omitempty"`
	Workers    int    `json:"workers,omitempty"`
	SetSize    int    `json:"set_size,omitempty"`
	// SetPrefix and SetTitle feed the deterministic set naming scheme;
	// changing them mid-collection orphans previously published sets.
	SetPrefix    string `json:"set_prefix"`
	SetTitle     string `json:"set_title"`
	StickerEmoji string `json:"sticker_emoji,omitempty"`
	// Pace is the per-worker delay between items (Go duration string).
	Pace string `json:"pace,omitempty"`
}

// ListenerConfig controls the inline chat trigger listener.
type ListenerConfig struct {
	Enabled bool `json:"enabled"`
	// ScrapeURL receives POSTed link payloads extracted from chat.
	ScrapeURL string `json:"scrape_url,omitempty"`
	// WorkoutURL receives POSTed workout-log payloads.
	WorkoutURL string `json:"workout_url,omitempty"`
	// Memes maps trigger words to inline replies.
	Memes       map[string]string `json:"memes,omitempty"`
	HTTPTimeout string            `json:"http_timeout,omitempty"`
}

// StorageConfig selects the progress store backend.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./scoopbot_state.json" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// Validate checks cross-field constraints that the strict decoder can't.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Pipeline.Enabled {
		if strings.TrimSpace(c.Feed.BaseURL) == "" {
			return errors.New("feed.base_url is required when pipeline is enabled")
		}
		if strings.TrimSpace(c.Feed.ImageDomain) == "" {
			return errors.New("feed.image_domain is required when pipeline is enabled")
		}
		if strings.TrimSpace(c.Pipeline.SetPrefix) == "" {
			return errors.New("pipeline.set_prefix is required")
		}
		if c.Pipeline.SetSize < 0 {
			return errors.New("pipeline.set_size must be >= 0")
		}
		if c.Pipeline.Workers < 0 {
			return errors.New("pipeline.workers must be >= 0")
		}
	}
	if c.Listener.Enabled && c.Listener.ScrapeURL == "" && c.Listener.WorkoutURL == "" && len(c.Listener.Memes) == 0 {
		return errors.New("listener enabled but no triggers configured")
	}
	for _, f := range []struct{ path, raw string }{
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"feed.http_timeout", c.Feed.HTTPTimeout},
		{"pipeline.pace", c.Pipeline.Pace},
		{"listener.http_timeout", c.Listener.HTTPTimeout},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	return nil
}

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
