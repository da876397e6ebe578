package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"scoopbot/internal/feed"
	"scoopbot/internal/progress"
	kit "scoopbot/internal/transport"
	logx "scoopbot/pkg/logx"
)

// fakePlatform records sticker-set traffic in memory.
type fakePlatform struct {
	mu   sync.Mutex
	sets map[string][]kit.StickerRef

	creates   int
	appends   int
	announced []string // file ids sent to the announce chat

	failAppend bool
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{sets: map[string][]kit.StickerRef{}}
}

func (f *fakePlatform) Identity() kit.BotIdentity {
	return kit.BotIdentity{ID: 42, Username: "scoopbot"}
}

func (f *fakePlatform) CreateStickerSet(ctx context.Context, name, title, emoji string, png []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if _, ok := f.sets[name]; ok {
		return kit.ErrSetNameOccupied
	}
	f.sets[name] = []kit.StickerRef{{FileID: fmt.Sprintf("%s/0", name), Emoji: emoji}}
	return nil
}

func (f *fakePlatform) AddSticker(ctx context.Context, name, emoji string, png []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appends++
	if f.failAppend {
		return errors.New("append rejected")
	}
	refs, ok := f.sets[name]
	if !ok {
		return kit.ErrSetNotFound
	}
	f.sets[name] = append(refs, kit.StickerRef{FileID: fmt.Sprintf("%s/%d", name, len(refs)), Emoji: emoji})
	return nil
}

func (f *fakePlatform) StickerSet(ctx context.Context, name string) ([]kit.StickerRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	refs, ok := f.sets[name]
	if !ok {
		return nil, kit.ErrSetNotFound
	}
	out := make([]kit.StickerRef, len(refs))
	copy(out, refs)
	return out, nil
}

func (f *fakePlatform) SendSticker(ctx context.Context, to kit.ChatTarget, fileID string) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.announced = append(f.announced, fileID)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.announced)}, nil
}

func (f *fakePlatform) setNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.sets))
	for n := range f.sets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// fakeSource serves a fixed item list.
type fakeSource struct {
	items []feed.Item
	err   error
}

func (s *fakeSource) Fetch(ctx context.Context) ([]feed.Item, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([]feed.Item, len(s.items))
	copy(out, s.items)
	return out, nil
}

func (s *fakeSource) ImageURL(it feed.Item) string {
	return "http://" + it.Name + ".test/" + it.Image
}

// fakeTransformer returns canned bytes, failing for marked URLs.
type fakeTransformer struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
}

func (t *fakeTransformer) Transform(ctx context.Context, url string) ([]byte, error) {
	t.mu.Lock()
	t.calls = append(t.calls, url)
	bad := t.fail[url]
	t.mu.Unlock()
	if bad {
		return nil, errors.New("decode failed")
	}
	return []byte("png:" + url), nil
}

func (t *fakeTransformer) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

func testItems() []feed.Item {
	return []feed.Item{
		{Name: "a", Image: "a.png"},
		{Name: "b", Image: "b.jpg"},
		{Name: "c", Image: "c.jpg"},
	}
}

func newTestService(t *testing.T, platform *fakePlatform, source ItemSource, tr *fakeTransformer, store progress.Store, workers int) *Service {
	t.Helper()
	namer := Namer{Prefix: "shithouse_scoop", Title: "poop scoop", Owner: platform.Identity().Username}
	pub := NewPublisher(platform, store, namer, "🍆", kit.ChatTarget{ChatID: 1}, logx.Nop())
	return New(Config{Workers: workers, SetSize: 2, Pace: time.Millisecond}, source, tr, pub, store, logx.Nop())
}

func openStore(t *testing.T, path string) progress.Store {
	t.Helper()
	s, err := progress.Open(progress.Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestRunOncePublishesInFixedSizeSets(t *testing.T) {
	t.Parallel()
	platform := newFakePlatform()
	store := openStore(t, filepath.Join(t.TempDir(), "state.json"))
	defer store.Close()
	tr := &fakeTransformer{}
	svc := newTestService(t, platform, &fakeSource{items: testItems()}, tr, store, 2)

	stats, err := svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if stats.Published != 3 || stats.Skipped != 0 || stats.Poisoned != 0 {
		t.Fatalf("stats = %+v, want 3 published", stats)
	}

	// SetSize 2: items a,b land in set 0, item c in set 1.
	wantSets := []string{
		"shithouse_scoop_0_by_scoopbot",
		"shithouse_scoop_1_by_scoopbot",
	}
	got := platform.setNames()
	if len(got) != len(wantSets) || got[0] != wantSets[0] || got[1] != wantSets[1] {
		t.Fatalf("sets = %v, want %v", got, wantSets)
	}
	all := 0
	for _, n := range wantSets {
		refs, err := platform.StickerSet(context.Background(), n)
		if err != nil {
			t.Fatal(err)
		}
		all += len(refs)
	}
	if all != 3 {
		t.Fatalf("total stickers = %d, want 3", all)
	}

	// Exactly one announcement per set, regardless of worker interleaving.
	if len(platform.announced) != 2 {
		t.Fatalf("announcements = %d, want 2", len(platform.announced))
	}
}

func TestRunOnceSkipsSeenItems(t *testing.T) {
	t.Parallel()
	platform := newFakePlatform()
	store := openStore(t, filepath.Join(t.TempDir(), "state.json"))
	defer store.Close()
	tr := &fakeTransformer{}
	svc := newTestService(t, platform, &fakeSource{items: testItems()}, tr, store, 2)

	if _, err := svc.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	first := tr.callCount()

	stats, err := svc.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Skipped != 3 || stats.Published != 0 {
		t.Fatalf("second run stats = %+v, want 3 skipped", stats)
	}
	if tr.callCount() != first {
		t.Fatal("seen items must not be re-transformed")
	}
	if len(platform.announced) != 2 {
		t.Fatalf("announcements after rerun = %d, want still 2", len(platform.announced))
	}
}

func TestCrashResumeProcessesRemainder(t *testing.T) {
	t.Parallel()
	platform := newFakePlatform()
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	// First "process": only item a completes before the crash.
	store := openStore(t, path)
	svc := newTestService(t, platform, &fakeSource{items: testItems()[:1]}, &fakeTransformer{}, store, 1)
	if _, err := svc.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	// Crash: no Close, state must already be durable.

	store2 := openStore(t, path)
	defer store2.Close()
	tr := &fakeTransformer{}
	svc2 := newTestService(t, platform, &fakeSource{items: testItems()}, tr, store2, 2)
	stats, err := svc2.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Skipped != 1 || stats.Published != 2 {
		t.Fatalf("resume stats = %+v, want 1 skipped / 2 published", stats)
	}
	for _, url := range tr.calls {
		if url == "http://a.test/a.png" {
			t.Fatal("item a was reprocessed after resume")
		}
	}
}

func TestTransformFailurePoisonsItem(t *testing.T) {
	t.Parallel()
	platform := newFakePlatform()
	store := openStore(t, filepath.Join(t.TempDir(), "state.json"))
	defer store.Close()
	tr := &fakeTransformer{fail: map[string]bool{"http://b.test/b.jpg": true}}
	svc := newTestService(t, platform, &fakeSource{items: testItems()}, tr, store, 1)

	stats, err := svc.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Published != 2 || stats.Poisoned != 1 {
		t.Fatalf("stats = %+v, want 2 published / 1 poisoned", stats)
	}
	if !store.Seen("b/b.jpg") {
		t.Fatal("poisoned item must be marked seen so it is never retried")
	}

	// Second run: the poisoned item stays skipped.
	stats, err = svc.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Skipped != 3 {
		t.Fatalf("rerun stats = %+v, want all skipped", stats)
	}
}

func TestAppendFailurePoisonsButEnsureIsTolerant(t *testing.T) {
	t.Parallel()
	platform := newFakePlatform()
	platform.failAppend = true
	store := openStore(t, filepath.Join(t.TempDir(), "state.json"))
	defer store.Close()
	svc := newTestService(t, platform, &fakeSource{items: testItems()}, &fakeTransformer{}, store, 1)

	stats, err := svc.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	// SetSize 2, sequential: a creates set 0 (published via create), b's
	// append fails (poisoned), c creates set 1.
	if stats.Published != 2 || stats.Poisoned != 1 {
		t.Fatalf("stats = %+v, want 2 published / 1 poisoned", stats)
	}
	if !store.Seen("b/b.jpg") {
		t.Fatal("append-failed item must still be marked seen")
	}
}

func TestEnsureSetTwiceIsIdempotent(t *testing.T) {
	t.Parallel()
	platform := newFakePlatform()
	store := openStore(t, filepath.Join(t.TempDir(), "state.json"))
	defer store.Close()
	namer := Namer{Prefix: "shithouse_scoop", Title: "poop scoop", Owner: "scoopbot"}
	pub := NewPublisher(platform, store, namer, "🍆", kit.ChatTarget{ChatID: 1}, logx.Nop())

	if !pub.EnsureSet(context.Background(), 0, []byte("png")) {
		t.Fatal("first EnsureSet should create")
	}
	if pub.EnsureSet(context.Background(), 0, []byte("png")) {
		t.Fatal("second EnsureSet must report already-exists, not create")
	}
}

func TestNotifyRaceSendsOnce(t *testing.T) {
	t.Parallel()
	platform := newFakePlatform()
	store := openStore(t, filepath.Join(t.TempDir(), "state.json"))
	defer store.Close()
	namer := Namer{Prefix: "shithouse_scoop", Title: "poop scoop", Owner: "scoopbot"}
	pub := NewPublisher(platform, store, namer, "🍆", kit.ChatTarget{ChatID: 1}, logx.Nop())
	pub.EnsureSet(context.Background(), 3, []byte("png"))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pub.NotifyFirstIfNeeded(context.Background(), 3)
		}()
	}
	wg.Wait()

	if len(platform.announced) != 1 {
		t.Fatalf("announcements = %d, want exactly 1 under race", len(platform.announced))
	}
}

func TestRunOnceFeedFailureIsFatal(t *testing.T) {
	t.Parallel()
	platform := newFakePlatform()
	store := openStore(t, filepath.Join(t.TempDir(), "state.json"))
	defer store.Close()
	svc := newTestService(t, platform, &fakeSource{err: errors.New("feed down")}, &fakeTransformer{}, store, 2)

	if _, err := svc.RunOnce(context.Background()); err == nil {
		t.Fatal("expected feed error to abort the run")
	}
	if seen, _ := store.Stats(); seen != 0 {
		t.Fatal("a failed run must not touch state")
	}
	if platform.creates != 0 {
		t.Fatal("a failed run must not touch the platform")
	}
}

func TestRunOnceRejectsOverlap(t *testing.T) {
	t.Parallel()
	platform := newFakePlatform()
	store := openStore(t, filepath.Join(t.TempDir(), "state.json"))
	defer store.Close()

	release := make(chan struct{})
	slow := &blockingSource{release: release}
	svc := newTestService(t, platform, slow, &fakeTransformer{}, store, 1)

	done := make(chan error, 1)
	go func() {
		_, err := svc.RunOnce(context.Background())
		done <- err
	}()
	<-slow.started()

	if _, err := svc.RunOnce(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("overlapping RunOnce error = %v, want ErrRunInProgress", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first run error: %v", err)
	}
}

type blockingSource struct {
	once      sync.Once
	startedCh chan struct{}
	release   chan struct{}
}

func (s *blockingSource) started() chan struct{} {
	s.once.Do(func() { s.startedCh = make(chan struct{}) })
	return s.startedCh
}

func (s *blockingSource) Fetch(ctx context.Context) ([]feed.Item, error) {
	close(s.started())
	<-s.release
	return nil, nil
}

func (s *blockingSource) ImageURL(it feed.Item) string { return "" }

func TestSweepWalksUntilMiss(t *testing.T) {
	t.Parallel()
	platform := newFakePlatform()
	store := openStore(t, filepath.Join(t.TempDir(), "state.json"))
	defer store.Close()
	svc := newTestService(t, platform, &fakeSource{items: testItems()}, &fakeTransformer{}, store, 2)

	if _, err := svc.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	names, err := svc.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep error: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("Sweep found %d sets, want 2: %v", len(names), names)
	}
}

func TestNamerRoundTrip(t *testing.T) {
	t.Parallel()
	n := Namer{Prefix: "shithouse_scoop", Title: "poop scoop", Owner: "scoopbot"}
	if got, want := n.SetName(7), "shithouse_scoop_7_by_scoopbot"; got != want {
		t.Fatalf("SetName = %q, want %q", got, want)
	}
	if got, want := n.SetTitle(7), "poop scoop 7"; got != want {
		t.Fatalf("SetTitle = %q, want %q", got, want)
	}
	// Same inputs, same name: resumability depends on it.
	if n.SetName(7) != n.SetName(7) {
		t.Fatal("SetName must be deterministic")
	}
}
