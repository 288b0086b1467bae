// Package logx is shortsched's structured logger: a zerolog wrapper whose
// Logger value is cheap to copy and safe as a zero value (use Nop()).
//
// Console output is human-readable with a short caller; the optional log file
// gets JSON lines. Service.Apply swaps level and sinks when the config reloads.
package logx
