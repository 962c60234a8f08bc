// Package transport defines the chat-side contract used by coven-writer.
//
// A Transport is one room's view of the chat service: it delivers inbound
// user messages, posts and edits transcript entries, emits AI indicator
// events, and exposes a StopHub through which "stop generating" requests
// reach the responder writing into a given entry.
//
// Indicator vocabulary:
//
//   - ai_indicator.update with ai_state AI_STATE_THINKING or AI_STATE_ERROR
//   - ai_indicator.clear
//   - ai_indicator.stop (inbound, keyed by message_id)
//
// Every indicator is scoped by (cid, message_id), which map to
// Entry.RoomID and Entry.ID.
//
// The Matrix implementation lives in transport/matrix; transporttest holds
// an in-memory recording fake for tests.
package transport
