// Package segment implements speech boundary detection over classified audio
// frames. A per-job Segmenter tracks the in-speech state, counts trailing
// silence, and emits complete speech segments with a maximum duration cap and
// an explicit flush for stream end.
package segment
