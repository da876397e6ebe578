package transport

import (
	"context"
	"errors"
)

// Tagged platform error kinds. Adapters map the platform's error shapes
// (e.g. Telegram's "sticker set name is already occupied" description)
// to these so callers never string-match.
var (
	ErrSetNameOccupied = errors.New("sticker set name is already occupied")
	ErrSetNotFound     = errors.New("sticker set not found")
)

type Update struct {
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

// BotIdentity is the authenticated bot account, fixed for the process
// lifetime. Username feeds the deterministic set naming scheme.
type BotIdentity struct {
	ID       int64
	Username string
}

// StickerRef is a handle to one published sticker inside a set.
type StickerRef struct {
	FileID string
	Emoji  string
}

// Adapter is the messaging-platform surface the rest of the bot depends on.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	Identity() BotIdentity

	SendText(ctx context.Context, to ChatTarget, text string) (MessageRef, error)
	SendSticker(ctx context.Context, to ChatTarget, fileID string) (MessageRef, error)

	// CreateStickerSet returns ErrSetNameOccupied when the name is taken.
	CreateStickerSet(ctx context.Context, name, title, emoji string, png []byte) error
	AddSticker(ctx context.Context, name, emoji string, png []byte) error
	// StickerSet returns the set's stickers in order, or ErrSetNotFound.
	StickerSet(ctx context.Context, name string) ([]StickerRef, error)
}
