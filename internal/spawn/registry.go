package spawn

import (
	"context"
	"sync"

	"spawnbot/internal/storage"
	logx "spawnbot/pkg/logx"
)

// Registry tracks the single in-flight spawn per guild. Mutations are applied
// in memory first and mirrored to the durable store; mirror failures are
// logged and tolerated. Memory stays authoritative for the process lifetime.
type Registry struct {
	mu     sync.Mutex
	events map[int64]ActiveEvent

	store storage.Store
	log   logx.Logger
}

func NewRegistry(store storage.Store, log logx.Logger) *Registry {
	return &Registry{
		events: make(map[int64]ActiveEvent),
		store:  store,
		log:    log,
	}
}

// Get returns the guild's active spawn, or nil.
func (r *Registry) Get(guildID int64) *ActiveEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.events[guildID]
	if !ok {
		return nil
	}
	return &ev
}

// Set records ev as the guild's active spawn (replacing any previous one) and
// mirrors it to the store.
func (r *Registry) Set(ctx context.Context, ev ActiveEvent) {
	r.mu.Lock()
	r.events[ev.GuildID] = ev
	r.mu.Unlock()

	row := storage.ActiveSpawn{
		GuildID:   ev.GuildID,
		MessageID: ev.MessageID,
		ChannelID: ev.ChannelID,
		SpawnedAt: ev.SpawnedAt.UnixMilli(),
		Count:     ev.Count,
		VariantID: ev.Variant.ID,
	}
	if err := r.store.PutActiveSpawn(ctx, row); err != nil {
		r.log.Warn("active spawn not persisted", logx.Int64("guild", ev.GuildID), logx.Err(err))
	}
}

// Clear removes the guild's active spawn from memory and the store.
func (r *Registry) Clear(ctx context.Context, guildID int64) {
	r.mu.Lock()
	delete(r.events, guildID)
	r.mu.Unlock()

	if err := r.store.DeleteActiveSpawn(ctx, guildID); err != nil {
		r.log.Warn("active spawn row not deleted", logx.Int64("guild", guildID), logx.Err(err))
	}
}

// TakeByChannel atomically claims and removes the active spawn published in
// the given channel. The in-memory removal happens under one lock, so a
// second near-simultaneous claim cannot also match (first responder wins).
func (r *Registry) TakeByChannel(ctx context.Context, channelID int64) (ActiveEvent, bool) {
	r.mu.Lock()
	var found ActiveEvent
	var ok bool
	for gid, ev := range r.events {
		if ev.ChannelID == channelID {
			found, ok = ev, true
			delete(r.events, gid)
			break
		}
	}
	r.mu.Unlock()
	if !ok {
		return ActiveEvent{}, false
	}

	if err := r.store.DeleteActiveSpawn(ctx, found.GuildID); err != nil {
		r.log.Warn("claimed spawn row not deleted", logx.Int64("guild", found.GuildID), logx.Err(err))
	}
	return found, true
}

// Restore repopulates the in-memory map without touching the store. Used by
// recovery, where the durable row already exists and has been validated.
func (r *Registry) Restore(ev ActiveEvent) {
	r.mu.Lock()
	r.events[ev.GuildID] = ev
	r.mu.Unlock()
}

// GuildIDs returns the set of guilds that currently hold an active spawn.
func (r *Registry) GuildIDs() map[int64]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int64]bool, len(r.events))
	for gid := range r.events {
		out[gid] = true
	}
	return out
}

// Len reports the number of active spawns across all guilds.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}
