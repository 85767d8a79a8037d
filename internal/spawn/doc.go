// Package spawn is the scheduling and lifecycle engine for randomized
// creature spawns.
//
// Per guild it owns: one randomized timer (Scheduler), at most one in-flight
// spawn (Registry, mirrored to storage), the fire transition (Executor), the
// first-responder catch path (Resolver), and startup revalidation of durable
// state (Recovery).
//
// Concurrency model: each guild's state is independent keyed state. Within a
// guild, Fire calls are serialized by a per-guild in-progress flag and a short
// duplicate-fire debounce; the claim path removes the active spawn under one
// lock before any slow work so only the first responder can win.
package spawn
