// Package responder streams one model completion into one chat message.
//
// # Lifecycle
//
// A Responder is created for a placeholder message and started with Run:
//
//	r := responder.New(responder.Params{
//		Model:     m,
//		Transport: room,
//		Entry:     entry,
//		OnDispose: func(r *responder.Responder, res responder.Result) { ... },
//	})
//	go r.Run(ctx, prompt)
//
// Run appends every chunk to the accumulated text and edits the message
// with the full text at most once per throttle interval. When the stream
// ends it always writes the complete text once more and clears the AI
// indicator.
//
// # Termination
//
// Exactly one of three paths ends a responder:
//
//   - completion: final edit, then ai_indicator.clear
//   - failure: AI_STATE_ERROR indicator, then the error text replaces the message
//   - stop: an ai_indicator.stop for this message id, then ai_indicator.clear
//
// The first path to set the terminal flag wins; the others become no-ops.
// All of them end in Dispose, which releases the stop subscription and
// calls OnDispose once. Stopping or disposing also cancels the upstream
// generation and any message edit still in flight, without waiting for it.
package responder
