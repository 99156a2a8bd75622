// Package transcription is the HTTP client for the speech-to-text backend.
// Segments are uploaded as multipart WAV files with the recent transcript
// tail as prompt context; requests are retried with exponential backoff and
// bounded by a concurrency semaphore.
package transcription
