package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	kit "scoopbot/internal/transport"
)

// Sticker-set management is issued as raw Bot API calls: telebot's sticker
// surface has churned across the v4 betas while the HTTP methods themselves
// are stable, and we need the error descriptions verbatim to tag them.

const apiBase = "https://api.telegram.org/bot"

type inputSticker struct {
	Sticker   string   `json:"sticker"`
	Format    string   `json:"format"`
	EmojiList []string `json:"emoji_list"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

func (a *Adapter) CreateStickerSet(ctx context.Context, name, title, emoji string, png []byte) error {
	in, err := json.Marshal([]inputSticker{{
		Sticker:   "attach://sticker0",
		Format:    "static",
		EmojiList: []string{emoji},
	}})
	if err != nil {
		return err
	}
	fields := map[string]string{
		"user_id":  strconv.FormatInt(a.Identity().ID, 10),
		"name":     name,
		"title":    title,
		"stickers": string(in),
	}
	_, err = a.callStickerAPI(ctx, "createNewStickerSet", fields, png)
	return err
}

func (a *Adapter) AddSticker(ctx context.Context, name, emoji string, png []byte) error {
	in, err := json.Marshal(inputSticker{
		Sticker:   "attach://sticker0",
		Format:    "static",
		EmojiList: []string{emoji},
	})
	if err != nil {
		return err
	}
	fields := map[string]string{
		"user_id": strconv.FormatInt(a.Identity().ID, 10),
		"name":    name,
		"sticker": string(in),
	}
	_, err = a.callStickerAPI(ctx, "addStickerToSet", fields, png)
	return err
}

func (a *Adapter) StickerSet(ctx context.Context, name string) ([]kit.StickerRef, error) {
	raw, err := a.callStickerAPI(ctx, "getStickerSet", map[string]string{"name": name}, nil)
	if err != nil {
		return nil, err
	}
	var set struct {
		Stickers []struct {
			FileID string `json:"file_id"`
			Emoji  string `json:"emoji"`
		} `json:"stickers"`
	}
	if err := json.Unmarshal(raw, &set); err != nil {
		return nil, fmt.Errorf("getStickerSet decode: %w", err)
	}
	refs := make([]kit.StickerRef, 0, len(set.Stickers))
	for _, s := range set.Stickers {
		refs = append(refs, kit.StickerRef{FileID: s.FileID, Emoji: s.Emoji})
	}
	return refs, nil
}

// callStickerAPI posts a multipart form to the Bot API method and maps the
// platform's error descriptions to tagged kit errors.
func (a *Adapter) callStickerAPI(ctx context.Context, method string, fields map[string]string, png []byte) (json.RawMessage, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	if png != nil {
		fw, err := mw.CreateFormFile("sticker0", "sticker.png")
		if err != nil {
			return nil, err
		}
		if _, err := fw.Write(png); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	url := apiBase + strings.TrimSpace(a.cfg.Token) + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var out apiResponse
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("telegram %s: http=%d: %w", method, resp.StatusCode, err)
	}
	if !out.OK {
		return nil, mapStickerError(method, out.ErrorCode, out.Description)
	}
	return out.Result, nil
}

func mapStickerError(method string, code int, description string) error {
	d := strings.ToLower(description)
	switch {
	case strings.Contains(d, "already occupied"):
		return kit.ErrSetNameOccupied
	case strings.Contains(d, "stickerset_invalid"), strings.Contains(d, "not found"):
		return kit.ErrSetNotFound
	}
	return fmt.Errorf("telegram %s failed: %s (code=%d)", method, description, code)
}
