package storage

// Package storage provides a minimal persistence layer for the session
// audit trail.
//
// It currently supports:
//   - Session lifecycle events (started / start failed / stopped)
//   - Reading back recent events for status queries
