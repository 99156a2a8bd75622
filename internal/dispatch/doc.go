// Package dispatch runs segment transcription on a bounded worker pool shared
// across jobs. A per-job reordering barrier delivers results in submission
// order even when workers complete out of order, so the assembled transcript
// always follows recording order.
package dispatch
