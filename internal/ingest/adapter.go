package ingest

// emitFunc delivers one raw unit from an adapter into the normalization and
// cache pipeline. Implementations must be fast and non-blocking; adapters
// call it from their own read loops and callbacks.
type emitFunc func(subChannel string, payload any)

// Adapter owns the external resource behind a connection (broker client,
// poll loop, serial port, connection pool). Close releases it and stops any
// background activity; it is called exactly once, on connection removal.
type Adapter interface {
	Close() error
}
