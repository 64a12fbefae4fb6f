// Package activity infers whether the program in a terminal is busy, idle or
// has just completed, from the bytes flowing through it.
//
// A [Machine] is fed pushed events (input, output, resize) and never polls
// the process itself. It moves idle to busy immediately on a submitted line,
// and on output only when the output is a trustworthy working signal:
//
//   - a working pattern from the terminal's [Profile] in recent output
//   - repeated in-place line rewrites, the way spinners redraw
//   - a byte rate above the volume threshold
//
// Output seen within the input echo window after a keystroke, during the
// boot grace period, or while a resize repaint is suppressed is ignored, and
// recovery from idle needs the signal sustained for RecoveryDelay. A busy
// terminal goes idle after SilenceDebounce without a signal unless an
// external children check, a high output rate or a missing prompt in the
// line snapshot defers it.
package activity
