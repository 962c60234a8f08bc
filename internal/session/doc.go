// Package session implements the per-room writing agent.
//
// An Agent is bound to one transport.Transport and one model. Init builds
// the model (failing with a *config.ConfigurationError when the credential
// is missing) and subscribes to the room. Each accepted user message gets
// a placeholder entry, a thinking indicator and its own responder.Responder,
// which runs in a goroutine tracked by the agent.
//
// The agent exclusively owns its responders. A responder leaves the active
// set through its dispose callback, and Agent.Dispose disposes any that are
// still running before returning.
package session
