// Package matrix implements transport.Transport on a Matrix homeserver.
//
// A Client holds the mautrix connection and sync loop. Each served room gets
// its own Room, obtained with Client.Room, which maps the transport
// operations onto Matrix:
//
//   - SendMessage posts m.room.message; placeholders carry "ai_generated": true
//   - UpdateMessage sends an m.replace edit with markdown rendered to HTML
//   - SendIndicator sends ai_indicator.update / ai_indicator.clear room events
//     with {cid, message_id, ai_state} and toggles typing
//   - ai_indicator.stop events from clients are published to the room's StopHub
//
// Inbound text messages from other users are de-duplicated and delivered to
// the room's subscribers. Messages for rooms without a Room go through the
// RoomStarter hook, which the agent registry uses to restart reaped rooms.
package matrix
