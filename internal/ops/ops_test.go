package ops

import (
	"context"
	"strings"
	"testing"
	"time"

	"spawnbot/internal/catalog"
	"spawnbot/internal/transport"
	logx "spawnbot/pkg/logx"
)

type replyRecorder struct {
	replies []string
}

func (r *replyRecorder) SelfID() int64 { return 9000 }

func (r *replyRecorder) SendText(_ context.Context, _ transport.ChatTarget, text string) (transport.MessageRef, error) {
	r.replies = append(r.replies, text)
	return transport.MessageRef{MessageID: len(r.replies)}, nil
}

func (r *replyRecorder) SendPhoto(_ context.Context, _ transport.ChatTarget, _ []byte, _, caption string) (transport.MessageRef, error) {
	r.replies = append(r.replies, caption)
	return transport.MessageRef{MessageID: len(r.replies)}, nil
}

func (r *replyRecorder) FetchMessage(context.Context, transport.MessageRef) (transport.MessageInfo, error) {
	return transport.MessageInfo{}, nil
}

func (r *replyRecorder) DeleteMessage(context.Context, transport.MessageRef) error { return nil }

func (r *replyRecorder) last() string {
	if len(r.replies) == 0 {
		return ""
	}
	return r.replies[len(r.replies)-1]
}

func newTestService(t *testing.T) (*Service, *replyRecorder) {
	t.Helper()
	cat, err := catalog.New([]catalog.Variant{
		{ID: "ember", Name: "Ember", Weight: 3, Rarity: "common"},
	})
	if err != nil {
		t.Fatal(err)
	}
	rec := &replyRecorder{}
	s := &Service{
		log:    logx.Nop(),
		msgr:   rec,
		cat:    cat,
		owners: ownerSet([]int64{111}),
	}
	s.register()
	return s, rec
}

func TestParseInterval(t *testing.T) {
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"45s", 45 * time.Second, false},
		{"10m", 10 * time.Minute, false},
		{"1h", time.Hour, false},
		{"90", 90 * time.Second, false}, // bare seconds
		{"banana", 0, true},
		{"10x", 0, true},
	}
	for _, tc := range tests {
		got, err := parseInterval(tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%q: expected error", tc.raw)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: %v", tc.raw, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%q = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestOwnerListHotSwap(t *testing.T) {
	s, _ := newTestService(t)
	if !s.isOwner(111) || s.isOwner(222) {
		t.Fatal("initial owner set wrong")
	}
	s.SetOwners([]int64{222})
	if s.isOwner(111) || !s.isOwner(222) {
		t.Fatal("SetOwners must replace, not merge")
	}
}

func TestOwnerOnlyCommandRejected(t *testing.T) {
	s, rec := newTestService(t)
	s.handle(context.Background(), transport.Message{ChatID: 1, FromID: 222, Text: "/spawn"})
	if !strings.Contains(rec.last(), "not allowed") {
		t.Fatalf("reply = %q, want rejection", rec.last())
	}
}

func TestCommandNameStripsBotMention(t *testing.T) {
	s, rec := newTestService(t)
	s.handle(context.Background(), transport.Message{ChatID: 1, FromID: 5, Text: "/help@SpawnBot"})
	if !strings.Contains(rec.last(), "Commands:") {
		t.Fatalf("reply = %q, want help text", rec.last())
	}
	if !strings.Contains(rec.last(), "/interval") {
		t.Fatalf("help text missing entries: %q", rec.last())
	}
}

func TestUnknownCommandIgnored(t *testing.T) {
	s, rec := newTestService(t)
	s.handle(context.Background(), transport.Message{ChatID: 1, FromID: 5, Text: "/fly away"})
	if len(rec.replies) != 0 {
		t.Fatalf("unknown command must be silent, got %q", rec.last())
	}
}

func TestDexListsCatalog(t *testing.T) {
	s, rec := newTestService(t)
	s.handle(context.Background(), transport.Message{ChatID: 1, FromID: 5, Text: "/dex"})
	if !strings.Contains(rec.last(), "Ember") || !strings.Contains(rec.last(), "common") {
		t.Fatalf("dex reply = %q", rec.last())
	}
}

func TestIntervalArgumentValidation(t *testing.T) {
	s, rec := newTestService(t)
	ctx := context.Background()

	s.handle(ctx, transport.Message{ChatID: 1, FromID: 111, Text: "/interval 2m"})
	if !strings.Contains(rec.last(), "Usage:") {
		t.Fatalf("missing arg reply = %q", rec.last())
	}
	s.handle(ctx, transport.Message{ChatID: 1, FromID: 111, Text: "/interval abc def"})
	if !strings.Contains(rec.last(), "durations") {
		t.Fatalf("bad duration reply = %q", rec.last())
	}
	s.handle(ctx, transport.Message{ChatID: 1, FromID: 111, Text: "/interval 10s 1m"})
	if !strings.Contains(rec.last(), "Bounds") {
		t.Fatalf("below-floor reply = %q", rec.last())
	}
	s.handle(ctx, transport.Message{ChatID: 1, FromID: 111, Text: "/interval 45m 2m"})
	if !strings.Contains(rec.last(), "Bounds") {
		t.Fatalf("min>max reply = %q", rec.last())
	}
}

func TestSpawnRejectsUnknownVariant(t *testing.T) {
	s, rec := newTestService(t)
	s.handle(context.Background(), transport.Message{ChatID: 1, FromID: 111, Text: "/spawn dragon"})
	if !strings.Contains(rec.last(), "Unknown creature") {
		t.Fatalf("reply = %q", rec.last())
	}
}
