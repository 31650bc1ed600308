// Package testutil provides test helpers for archiver tests.
//
// The package is organized into focused files:
//   - assert.go: assertion helpers (MustNoErr, AssertStrings, etc.)
//   - encoding.go: encoded byte samples for charset tests
//
// The email subpackage builds raw RFC 5322 messages for parser and ingest
// tests.
package testutil
