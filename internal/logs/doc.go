// Package logs tails the animeindex log file for the CLI.
//
// Reads are bounded: the last N lines are kept in a ring buffer, and follow
// mode polls from a byte offset so a growing file never has to be reread.
// Lines can be narrowed with a substring filter (for example "task_id=42" or
// a kind name) so an operator can follow one task or lane through the log.
package logs
