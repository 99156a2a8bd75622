// Package audio handles inbound audio byte accumulation and framing.
// It slices raw PCM chunks into fixed-duration frames for voice activity
// classification and encodes completed segments to WAV for transcription upload.
package audio
