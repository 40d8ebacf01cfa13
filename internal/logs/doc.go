// Package logs reads daemon log files for `crosspost logs`.
//
// Tail returns the last lines of a file with bounded memory. Follow polls for
// appended lines and switches to the new file when the crosspost.log pointer
// moves to a fresh daemon run.
package logs
