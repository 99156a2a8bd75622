// Package summary generates structured post-stream summaries through an
// Ollama-compatible generate endpoint running in JSON mode.
package summary
