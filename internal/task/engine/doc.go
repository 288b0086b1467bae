// Package engine launches external commands asynchronously and tracks their
// lifecycle. It never blocks the caller on a running process and never kills
// one: a process runs until it exits on its own.
package engine
