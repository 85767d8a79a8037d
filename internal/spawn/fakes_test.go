package spawn

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"spawnbot/internal/catalog"
	"spawnbot/internal/storage"
	"spawnbot/internal/transport"
	logx "spawnbot/pkg/logx"
)

// ---- fake clock ----

type fakeTimer struct {
	clock    *fakeClock
	deadline time.Time
	fn       func()
	stopped  bool
	fired    bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, deadline: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward and runs due timer callbacks synchronously,
// earliest deadline first.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.deadline.After(now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })
	for _, t := range due {
		t.fn()
	}
}

func (c *fakeClock) pendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// ---- fake store ----

type fakeStore struct {
	mu     sync.Mutex
	guilds map[int64]storage.GuildConfig
	spawns map[int64]storage.ActiveSpawn
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		guilds: map[int64]storage.GuildConfig{},
		spawns: map[int64]storage.ActiveSpawn{},
	}
}

func (f *fakeStore) GuildConfig(_ context.Context, guildID int64) (storage.GuildConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	gc, ok := f.guilds[guildID]
	if !ok {
		return storage.GuildConfig{}, storage.ErrNotFound
	}
	return gc, nil
}

func (f *fakeStore) UpsertGuildConfig(_ context.Context, gc storage.GuildConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.guilds[gc.GuildID] = gc
	return nil
}

func (f *fakeStore) SetNextFire(_ context.Context, guildID, at int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	gc := f.guilds[guildID]
	gc.GuildID = guildID
	gc.NextFireAt = at
	f.guilds[guildID] = gc
	return nil
}

func (f *fakeStore) ListGuilds(_ context.Context) ([]storage.GuildConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storage.GuildConfig
	for _, gc := range f.guilds {
		out = append(out, gc)
	}
	return out, nil
}

func (f *fakeStore) PutActiveSpawn(_ context.Context, row storage.ActiveSpawn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spawns[row.GuildID] = row
	return nil
}

func (f *fakeStore) DeleteActiveSpawn(_ context.Context, guildID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.spawns, guildID)
	return nil
}

func (f *fakeStore) ListActiveSpawns(_ context.Context) ([]storage.ActiveSpawn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storage.ActiveSpawn
	for _, r := range f.spawns {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeStore) PruneActiveSpawns(_ context.Context, cutoff int64, keep map[int64]bool) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed int64
	for gid, r := range f.spawns {
		if r.SpawnedAt < cutoff && !keep[gid] {
			delete(f.spawns, gid)
			removed++
		}
	}
	return removed, nil
}

func (f *fakeStore) GrantUnits(_ context.Context, _, _ int64, _ string, _ int) (int, error) {
	return 0, errors.New("not used in engine tests")
}

func (f *fakeStore) Holdings(_ context.Context, _, _ int64) ([]storage.Holding, error) {
	return nil, nil
}

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) nextFireAt(guildID int64) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.guilds[guildID].NextFireAt
}

func (f *fakeStore) spawnRow(guildID int64) (storage.ActiveSpawn, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.spawns[guildID]
	return r, ok
}

// ---- fake messenger ----

type sentMessage struct {
	Ref     transport.MessageRef
	Text    string
	IsPhoto bool
}

type fakeMessenger struct {
	mu     sync.Mutex
	selfID int64
	nextID int

	sent    []sentMessage
	deleted []transport.MessageRef

	failPhoto bool
	failText  bool

	// fetchable backs FetchMessage for recovery tests.
	fetchable map[transport.MessageRef]transport.MessageInfo
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{
		selfID:    9000,
		fetchable: map[transport.MessageRef]transport.MessageInfo{},
	}
}

func (f *fakeMessenger) SelfID() int64 { return f.selfID }

func (f *fakeMessenger) send(to transport.ChatTarget, text string, photo bool) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if photo && f.failPhoto {
		return transport.MessageRef{}, errors.New("photo rejected")
	}
	if !photo && f.failText {
		return transport.MessageRef{}, errors.New("text rejected")
	}
	f.nextID++
	ref := transport.MessageRef{ChatID: to.ChatID, MessageID: f.nextID}
	f.sent = append(f.sent, sentMessage{Ref: ref, Text: text, IsPhoto: photo})
	return ref, nil
}

func (f *fakeMessenger) SendText(_ context.Context, to transport.ChatTarget, text string) (transport.MessageRef, error) {
	return f.send(to, text, false)
}

func (f *fakeMessenger) SendPhoto(_ context.Context, to transport.ChatTarget, _ []byte, _, caption string) (transport.MessageRef, error) {
	return f.send(to, caption, true)
}

func (f *fakeMessenger) FetchMessage(_ context.Context, ref transport.MessageRef) (transport.MessageInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.fetchable[ref]
	if !ok {
		return transport.MessageInfo{}, errors.New("message not found")
	}
	return info, nil
}

func (f *fakeMessenger) DeleteMessage(_ context.Context, ref transport.MessageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ref)
	return nil
}

func (f *fakeMessenger) sentCount(photo bool) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.sent {
		if m.IsPhoto == photo {
			n++
		}
	}
	return n
}

func (f *fakeMessenger) lastSent() (sentMessage, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return sentMessage{}, false
	}
	return f.sent[len(f.sent)-1], true
}

// ---- fake ledger ----

type grant struct {
	UserID    int64
	GuildID   int64
	VariantID string
	Count     int
	Elapsed   time.Duration
}

type fakeLedger struct {
	mu     sync.Mutex
	grants []grant
	fail   bool
}

func (f *fakeLedger) GrantUnits(_ context.Context, userID, guildID int64, variantID string, count int, elapsed time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return 0, errors.New("ledger down")
	}
	f.grants = append(f.grants, grant{UserID: userID, GuildID: guildID, VariantID: variantID, Count: count, Elapsed: elapsed})
	total := 0
	for _, g := range f.grants {
		if g.UserID == userID && g.GuildID == guildID && g.VariantID == variantID {
			total += g.Count
		}
	}
	return total, nil
}

func (f *fakeLedger) grantCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.grants)
}

// ---- fixture ----

type fixture struct {
	clock *fakeClock
	store *fakeStore
	msgr  *fakeMessenger
	led   *fakeLedger
	cat   *catalog.Catalog

	reg   *Registry
	sched *Scheduler
	exec  *Executor
	res   *Resolver
	rec   *Recovery
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New([]catalog.Variant{
		{ID: "variantX", Name: "Xerith", Weight: 5, Image: "xerith.png"},
		{ID: "variantY", Name: "Yolra", Weight: 3},
		{ID: "glimmer", Name: "Glimmer", Weight: 1},
	})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return cat
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		clock: newFakeClock(),
		store: newFakeStore(),
		msgr:  newFakeMessenger(),
		led:   &fakeLedger{},
		cat:   testCatalog(t),
	}
	log := logx.Nop()
	f.reg = NewRegistry(f.store, log)
	f.sched = NewScheduler(opts, f.clock, f.store, f.reg, log)
	f.exec = NewExecutor(opts, f.clock, f.store, f.reg, f.cat, f.msgr, f.sched, nil, log)
	f.res = NewResolver(opts, f.clock, f.store, f.reg, f.led, f.msgr, f.sched, nil, log)
	f.rec = NewRecovery(opts, f.clock, f.store, f.reg, f.cat, f.msgr, f.sched, nil, log)

	f.sched.SetFireFunc(func(ctx context.Context, guildID int64) {
		f.exec.Fire(ctx, guildID, "", false)
	})
	f.sched.Start(context.Background())
	return f
}

func writeTestImage(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte("png-bytes"), 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}
}

// configureGuild installs a guild row with a channel so fires can publish.
func (f *fixture) configureGuild(t *testing.T, guildID int64, minS, maxS, limit int) {
	t.Helper()
	err := f.store.UpsertGuildConfig(context.Background(), storage.GuildConfig{
		GuildID:       guildID,
		ChannelID:     guildID,
		MinIntervalS:  minS,
		MaxIntervalS:  maxS,
		MaxConcurrent: limit,
	})
	if err != nil {
		t.Fatalf("configure guild: %v", err)
	}
}
