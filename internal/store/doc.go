// Package store provides durable key/value storage for session credentials.
//
// # Architecture
//
// Every backend implements CredentialStore, a three-method contract:
//
//	Set(ctx, key, value) error
//	Get(ctx, key) (string, error)   // ErrNotFound when absent
//	Delete(ctx, key) error          // absent keys are not an error
//
// Backends:
//
//   - MemoryStore: in-process map, used in tests and for the "memory" backend
//   - FileStore: a single JSON document written with 0600 permissions; values
//     are sealed with XChaCha20-Poly1305 when a passphrase is configured
//   - SQLiteStore: a credentials table in a SQLite database (modernc.org/sqlite)
//
// The store has no business logic. It does not know which keys hold tokens.
// All writes are expected to go through auth.TokenManager.
//
// # Error Handling
//
//   - ErrNotFound: the key has no value
//   - *Error: a backend failure, reported to callers as code "storage_error"
//
// Values are secrets. Backends never log them; log lines carry keys only.
package store
