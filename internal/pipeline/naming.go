package pipeline

import "fmt"

// Namer derives the deterministic per-index set name and title. Both must
// be stable across runs: a resumed run has to land in the same remote set,
// and the cleanup sweep walks indices through the same derivation.
type Namer struct {
	// Prefix is the set-name stem, e.g. "shithouse_scoop".
	Prefix string
	// Title is the human title stem, e.g. "poop scoop".
	Title string
	// Owner is the bot username Telegram requires as a name suffix.
	Owner string
}

// SetName returns the remote set name for index, e.g.
// "shithouse_scoop_3_by_scoopbot".
func (n Namer) SetName(index int) string {
	return fmt.Sprintf("%s_%d_by_%s", n.Prefix, index, n.Owner)
}

// SetTitle returns the display title for index, e.g. "poop scoop 3".
func (n Namer) SetTitle(index int) string {
	return fmt.Sprintf("%s %d", n.Title, index)
}
