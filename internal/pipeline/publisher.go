package pipeline

import (
	"context"
	"errors"

	"scoopbot/internal/progress"
	kit "scoopbot/internal/transport"
	logx "scoopbot/pkg/logx"
)

// Platform is the slice of the messaging adapter the publisher needs.
type Platform interface {
	Identity() kit.BotIdentity
	CreateStickerSet(ctx context.Context, name, title, emoji string, png []byte) error
	AddSticker(ctx context.Context, name, emoji string, png []byte) error
	StickerSet(ctx context.Context, name string) ([]kit.StickerRef, error)
	SendSticker(ctx context.Context, to kit.ChatTarget, fileID string) (kit.MessageRef, error)
}

// Publisher owns the remote side of one item's journey: making sure its set
// exists, appending the sticker, and announcing the set the first time it
// gains a sticker.
type Publisher struct {
	platform Platform
	store    progress.Store
	namer    Namer
	emoji    string
	announce kit.ChatTarget
	log      logx.Logger
}

func NewPublisher(platform Platform, store progress.Store, namer Namer, emoji string, announce kit.ChatTarget, log logx.Logger) *Publisher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Publisher{
		platform: platform,
		store:    store,
		namer:    namer,
		emoji:    emoji,
		announce: announce,
		log:      log,
	}
}

// EnsureSet creates the set for index with png as its initial sticker.
// It reports whether this call created the set (and therefore already
// published png into it). A name collision means the set exists: success.
// Other create errors are logged and swallowed — the platform is the source
// of truth for whether the set exists, and the append step will surface a
// genuine problem.
func (p *Publisher) EnsureSet(ctx context.Context, index int, png []byte) (created bool) {
	name := p.namer.SetName(index)
	err := p.platform.CreateStickerSet(ctx, name, p.namer.SetTitle(index), p.emoji, png)
	switch {
	case err == nil:
		p.log.Info("sticker set created", logx.String("set", name))
		return true
	case errors.Is(err, kit.ErrSetNameOccupied):
		return false
	default:
		p.log.Warn("sticker set create failed", logx.String("set", name), logx.Err(err))
		return false
	}
}

// Append adds png to the set for index. Failure is fatal for the item.
func (p *Publisher) Append(ctx context.Context, index int, png []byte) error {
	return p.platform.AddSticker(ctx, p.namer.SetName(index), p.emoji, png)
}

// NotifyFirstIfNeeded announces the set for index by sending its first
// sticker to the announce chat, at most once ever per index. The notified
// mark is claimed before sending so two racing workers produce exactly one
// send; a failed send after a claimed mark stays unsent rather than risk a
// duplicate announcement.
func (p *Publisher) NotifyFirstIfNeeded(ctx context.Context, index int) {
	if p.announce.ChatID == 0 {
		return
	}
	if !p.store.MarkNotifiedIfNew(index) {
		return
	}
	name := p.namer.SetName(index)
	refs, err := p.platform.StickerSet(ctx, name)
	if err != nil {
		p.log.Error("set announce failed: lookup", logx.String("set", name), logx.Err(err))
		return
	}
	if len(refs) == 0 {
		p.log.Error("set announce failed: set is empty", logx.String("set", name))
		return
	}
	if _, err := p.platform.SendSticker(ctx, p.announce, refs[0].FileID); err != nil {
		p.log.Error("set announce failed: send", logx.String("set", name), logx.Err(err))
		return
	}
	p.log.Info("set announced", logx.String("set", name), logx.Int("index", index))
}
