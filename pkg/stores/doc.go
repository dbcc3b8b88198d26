// Package stores persists provisioning sessions in SQLite. A SQLiteStore is
// an engine.TraceSink and engine.SessionRecorder, so handing it to
// engine.WithSink records every session, trace event and diagnostic. It also
// keeps the last committed contents of each profile between runs.
//
// The schema is managed with golang-migrate from migrations embedded in the
// binary; call Migrate after Init.
package stores
