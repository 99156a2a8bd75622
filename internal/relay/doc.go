// Package relay delivers pipeline events to stream clients. Each job owns one
// Channel with a bounded buffer, strictly increasing sequence numbers, and a
// single subscriber slot; events published before the client attaches are
// replayed on attach and delivery then continues live.
package relay
