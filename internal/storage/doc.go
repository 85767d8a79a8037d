// Package storage is the durable mirror for spawnbot's per-guild state.
//
// It persists three concerns:
//   - guild_config: per-guild scheduling configuration + next-fire timestamp
//   - active_spawns: at most one in-flight spawn per guild, revalidated at
//     startup before it is trusted
//   - holdings: the minimal ledger backing table (units granted on catch)
//
// The in-memory registry and timer maps are caches; this store is the single
// source of truth across restarts.
package storage
