package telegram

import (
	"errors"
	"testing"

	kit "scoopbot/internal/transport"
)

func TestMapStickerError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		description string
		want        error
	}{
		{
			name:        "name occupied",
			description: "Bad Request: sticker set name is already occupied",
			want:        kit.ErrSetNameOccupied,
		},
		{
			name:        "stickerset invalid",
			description: "Bad Request: STICKERSET_INVALID",
			want:        kit.ErrSetNotFound,
		},
		{
			name:        "not found",
			description: "Bad Request: sticker set not found",
			want:        kit.ErrSetNotFound,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := mapStickerError("createNewStickerSet", 400, tt.description)
			if !errors.Is(err, tt.want) {
				t.Fatalf("mapStickerError(%q) = %v, want %v", tt.description, err, tt.want)
			}
		})
	}

	other := mapStickerError("addStickerToSet", 400, "Bad Request: STICKER_PNG_DIMENSIONS wrong")
	if errors.Is(other, kit.ErrSetNameOccupied) || errors.Is(other, kit.ErrSetNotFound) {
		t.Fatalf("unexpected tagged error for unrelated description: %v", other)
	}
	if other == nil {
		t.Fatal("expected an error")
	}
}
