// Package storage keeps an append-only journal of reminder deliveries.
//
// The journal is for operators (the /status page and post-mortems); the
// reminder engine never reads it back, so delivery dedup state still ends
// with the process.
//
// Drivers:
//   - "file": JSON Lines, one record per line
//   - "sqlite": SQLite database (modernc.org/sqlite, no cgo)
package storage
