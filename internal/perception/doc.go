// Package perception turns noisy classifier output into debounced per-lane
// signals.
//
// Two concerns live here and nowhere else:
//
//   - Parser reads the free-text scene description returned by the vision
//     service and extracts a lane.RawClassification using a fixed phrase
//     grammar (see parse.go for the recognised phrases and fallbacks).
//   - Smoother owns the bounded history of one lane and produces a
//     lane.Result: a moving mean over the last few vehicle counts, an
//     accident verdict that requires temporal persistence, and an
//     unsmoothed emergency flag.
//
// A Smoother is not safe for concurrent use. It is owned by exactly one lane
// worker and must be fed samples in the order the worker receives them.
package perception
