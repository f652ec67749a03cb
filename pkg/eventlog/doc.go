// Package eventlog records timestamped line events in a binary-safe log and
// replays them.
//
// # Overview
//
// Goals:
//
//  1. Preserve the exact line content including binary data
//  2. Differentiate between streams (stdin, stdout, stderr, summary)
//  3. Keep the run-relative capture time of each line
//  4. Keep how a line ended: newline, fold frame, or raw fragment
//  5. Detect unfinished writes
//
// # Format Specification
//
// Each event is one record:
//
//	source elapsed kind length: content\n
//
// # Fields
//
//   - source: stdin, stdout, stderr or summary.
//   - elapsed: capture time in nanoseconds since the start of the run.
//   - kind: L for a newline-terminated line, F for a fold frame or an
//     unterminated last line, P for a raw fragment. A trailing + marks a
//     piece that continues the previous fragment of the same source.
//   - `: ` Literal separator between length and content
//   - content: exactly length bytes. Content can contain newlines.
//   - \n: Record separator, always present.
//
// # Examples
//
//	stdout 1500000 L 5: hello\n
//	stderr 2000000 F 3: 10%\n
//	stdout 2500000 P 3: par\n
//	stdout 2600000 L+ 4: tial\n
//
// The delta reference of an event is not recorded: a replay recomputes it
// from the previous prefixed event of the same source.
package eventlog
