// Package agent keeps track of the running writing agents.
//
// A Registry holds at most one Session per room. Sessions are built by a
// Factory and initialized by Start; Stop, Reap and Close dispose them.
// Run drives Reap on a ticker so rooms that have gone quiet release their
// model handle and transport.
package agent
