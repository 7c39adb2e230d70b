// Package storage defines the key-value contract the orchestration engine
// persists session state through, together with the sentinel errors and
// tenant context helpers shared by every backend.
//
// Backends (memory, redis, postgres, sqlite) live in subpackages and
// implement [Provider]. Backends that cannot expire entries natively also
// implement [Sweeper] so a background cleaner can evict expired keys.
package storage
