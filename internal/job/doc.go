// Package job models the lifecycle of a streaming transcription job:
// CREATED -> ACTIVE -> FINALIZING -> SUMMARIZING -> COMPLETED, with FAILED
// reachable from any non-terminal state. The Machine accumulates the ordered
// transcript, publishes lifecycle events, and mirrors state to storage.
package job
