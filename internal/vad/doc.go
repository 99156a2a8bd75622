// Package vad provides per-frame voice activity classification.
// The Classifier interface keeps the detection backend swappable; the shipped
// implementation is an RMS-energy classifier with configurable threshold and
// smoothing.
package vad
