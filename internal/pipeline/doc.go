// Package pipeline coordinates the per-job streaming flow: audio chunks in,
// framed and classified, segmented on silence boundaries, transcribed on the
// shared worker pool, and finalized into a summarized transcript. The
// coordinator owns the session registry, the idle-job reaper, and the
// grace-period teardown of finished jobs.
package pipeline
