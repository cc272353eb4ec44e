// Package storage implements the namespace-partitioned entry store.
//
// A Manager owns every Namespace behind one manager-wide guard. Callers
// never touch a Namespace directly: Manager.Select returns a Session bound
// to a namespace name, and every Session operation acquires the guard for
// its full duration. Expired entries are removed the moment an operation
// observes them, so an expired value is never returned. A background
// janitor (Manager.StartJanitor) may sweep earlier but is not required.
//
// Durability is delegated to a Persister. Writes go through the persister
// before the in-memory state changes; the memory, leveldb and postgres
// subpackages provide implementations.
package storage
