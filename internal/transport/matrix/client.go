// ABOUTME: Shared Matrix connection that syncs events and routes them to per-room transports
// ABOUTME: Filters own, stale, duplicate and disallowed events, and auto-joins invites

package matrix

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-writer/internal/config"
	"github.com/2389/coven-writer/internal/dedupe"
	"github.com/2389/coven-writer/internal/transport"
)

// Custom room events carrying AI indicator signals.
var (
	EventIndicatorUpdate = event.Type{Type: string(transport.IndicatorUpdate), Class: event.MessageEventType}
	EventIndicatorClear  = event.Type{Type: string(transport.IndicatorClear), Class: event.MessageEventType}
	EventIndicatorStop   = event.Type{Type: string(transport.IndicatorStop), Class: event.MessageEventType}
)

// Extra content fields on m.room.message events.
const (
	fieldAIGenerated = "ai_generated"
	fieldWritingTask = "writing_task"
	fieldMessageID   = "message_id"
	fieldCID         = "cid"
	fieldAIState     = "ai_state"
)

// typingTimeout is how long a typing notification lasts without renewal.
const typingTimeout = 30 * time.Second

// networkTimeout is the timeout for Matrix API calls made outside a request context.
const networkTimeout = 10 * time.Second

// RoomStarter starts serving a room the client has no transport for yet.
type RoomStarter func(ctx context.Context, roomID string) error

// Options configures a Client.
type Options struct {
	AllowedRooms []string
	AutoJoin     bool
	Dedupe       *dedupe.Window
	Logger       *slog.Logger
	Now          func() time.Time
}

// Client wraps a mautrix client shared by all rooms.
type Client struct {
	mx       *mautrix.Client
	allowed  map[id.RoomID]bool
	autoJoin bool
	dedupe   *dedupe.Window
	logger   *slog.Logger
	now      func() time.Time
	started  time.Time

	mu      sync.RWMutex
	rooms   map[id.RoomID]*Room
	starter RoomStarter
}

// NewClient creates a Matrix client from configuration.
func NewClient(cfg config.MatrixConfig, opts Options) (*Client, error) {
	mx, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	if cfg.DeviceID != "" {
		mx.DeviceID = id.DeviceID(cfg.DeviceID)
	}
	if opts.AllowedRooms == nil {
		opts.AllowedRooms = cfg.AllowedRooms
	}
	opts.AutoJoin = opts.AutoJoin || cfg.AutoJoin
	return NewClientFromMautrix(mx, opts), nil
}

// NewClientFromMautrix wraps an existing mautrix client.
func NewClientFromMautrix(mx *mautrix.Client, opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	window := opts.Dedupe
	if window == nil {
		window = dedupe.NewWindow(dedupe.DefaultTTL, dedupe.DefaultMaxSize)
	}

	allowed := make(map[id.RoomID]bool, len(opts.AllowedRooms))
	for _, r := range opts.AllowedRooms {
		allowed[id.RoomID(r)] = true
	}

	return &Client{
		mx:       mx,
		allowed:  allowed,
		autoJoin: opts.AutoJoin,
		dedupe:   window,
		logger:   logger.With("component", "matrix"),
		now:      now,
		started:  now(),
		rooms:    make(map[id.RoomID]*Room),
	}
}

// UserID returns the bot's Matrix user ID.
func (c *Client) UserID() string { return c.mx.UserID.String() }

// SetRoomStarter registers the hook used when an event arrives for a room
// without a transport, such as one whose agent was reaped.
func (c *Client) SetRoomStarter(fn RoomStarter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starter = fn
}

// Room returns a fresh transport bound to roomID. A previous transport for
// the room is disconnected.
func (c *Client) Room(roomID string) *Room {
	rid := id.RoomID(roomID)
	r := newRoom(c, rid)

	c.mu.Lock()
	old := c.rooms[rid]
	c.rooms[rid] = r
	c.mu.Unlock()

	if old != nil {
		ctx, cancel := context.WithTimeout(context.Background(), networkTimeout)
		defer cancel()
		_ = old.Disconnect(ctx)
	}
	return r
}

// Rooms returns the number of connected room transports.
func (c *Client) Rooms() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rooms)
}

// Run registers event handlers and syncs until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	syncer, ok := c.mx.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", c.mx.Syncer)
	}
	syncer.OnEventType(event.EventMessage, c.handleMessage)
	syncer.OnEventType(EventIndicatorStop, c.handleStop)
	syncer.OnEventType(event.StateMember, c.handleMember)

	c.logger.Info("connecting to matrix homeserver",
		"homeserver", c.mx.HomeserverURL.String(),
		"user_id", c.mx.UserID.String(),
	)

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- c.mx.SyncWithContext(ctx)
	}()

	select {
	case <-ctx.Done():
		c.mx.StopSync()
		c.logger.Info("matrix sync stopped")
		return nil
	case err := <-syncErr:
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

// Close releases the dedupe window.
func (c *Client) Close() {
	c.dedupe.Close()
}

// accept applies the filters shared by all inbound events.
func (c *Client) accept(evt *event.Event) bool {
	if evt.Sender == c.mx.UserID {
		return false
	}
	if len(c.allowed) > 0 && !c.allowed[evt.RoomID] {
		c.logger.Debug("ignoring event from non-allowed room", "room", evt.RoomID.String())
		return false
	}
	// Skip backlog replayed by the initial sync.
	if evt.Timestamp > 0 && time.UnixMilli(evt.Timestamp).Before(c.started) {
		return false
	}
	if c.dedupe.Seen(dedupe.Key(evt.RoomID.String(), evt.ID.String())) {
		c.logger.Debug("dropping duplicate event", "event_id", evt.ID.String())
		return false
	}
	return true
}

// lookup returns the room transport, starting one through the starter hook
// when none is connected.
func (c *Client) lookup(ctx context.Context, roomID id.RoomID, start bool) *Room {
	c.mu.RLock()
	r := c.rooms[roomID]
	starter := c.starter
	c.mu.RUnlock()

	if r != nil || !start || starter == nil {
		return r
	}

	if err := starter(ctx, roomID.String()); err != nil {
		c.logger.Error("failed to start room", "room", roomID.String(), "error", err)
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rooms[roomID]
}

func (c *Client) handleMessage(ctx context.Context, evt *event.Event) {
	if !c.accept(evt) {
		return
	}

	msg, ok := c.parseMessage(evt)
	if !ok {
		return
	}

	r := c.lookup(ctx, evt.RoomID, !msg.AIGenerated)
	if r == nil {
		return
	}

	c.logger.Info("received message",
		"room", msg.RoomID,
		"sender", msg.Sender,
		"content", truncate(msg.Text, 50),
	)
	r.deliver(ctx, msg)
}

// parseMessage converts a text m.room.message into an InboundMessage.
// Edits and non-text messages are skipped.
func (c *Client) parseMessage(evt *event.Event) (transport.InboundMessage, bool) {
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok {
		return transport.InboundMessage{}, false
	}
	if content.MsgType != event.MsgText {
		return transport.InboundMessage{}, false
	}
	if content.RelatesTo != nil && content.RelatesTo.GetReplaceID() != "" {
		return transport.InboundMessage{}, false
	}

	msg := transport.InboundMessage{
		ID:         evt.ID.String(),
		RoomID:     evt.RoomID.String(),
		Sender:     evt.Sender.String(),
		Text:       content.Body,
		ReceivedAt: c.now(),
	}

	if v, ok := evt.Content.Raw[fieldAIGenerated].(bool); ok {
		msg.AIGenerated = v
	}

	task, err := transport.ValidateWritingTask(evt.Content.Raw[fieldWritingTask])
	if err != nil {
		c.logger.Warn("ignoring invalid writing task",
			"room", msg.RoomID,
			"event_id", msg.ID,
			"error", err,
		)
	}
	msg.WritingTask = task

	return msg, true
}

func (c *Client) handleStop(ctx context.Context, evt *event.Event) {
	if !c.accept(evt) {
		return
	}

	messageID, _ := evt.Content.Raw[fieldMessageID].(string)
	if messageID == "" {
		c.logger.Debug("stop event without message id", "event_id", evt.ID.String())
		return
	}

	r := c.lookup(ctx, evt.RoomID, false)
	if r == nil {
		return
	}

	delivered := r.stops.Publish(transport.StopSignal{
		MessageID:  messageID,
		RoomID:     evt.RoomID.String(),
		Sender:     evt.Sender.String(),
		ReceivedAt: c.now(),
	})
	c.logger.Info("stop requested",
		"room", evt.RoomID.String(),
		"message_id", messageID,
		"delivered", delivered,
	)
}

func (c *Client) handleMember(ctx context.Context, evt *event.Event) {
	if !c.autoJoin || evt.GetStateKey() != c.mx.UserID.String() {
		return
	}
	content, ok := evt.Content.Parsed.(*event.MemberEventContent)
	if !ok || content.Membership != event.MembershipInvite {
		return
	}
	if len(c.allowed) > 0 && !c.allowed[evt.RoomID] {
		c.logger.Info("declining invite to non-allowed room", "room", evt.RoomID.String())
		return
	}

	joinCtx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	if _, err := c.mx.JoinRoomByID(joinCtx, evt.RoomID); err != nil {
		c.logger.Error("failed to join room", "room", evt.RoomID.String(), "error", err)
		return
	}
	c.logger.Info("joined room", "room", evt.RoomID.String(), "inviter", evt.Sender.String())

	c.lookup(ctx, evt.RoomID, true)
}

func (c *Client) remove(r *Room) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rooms[r.id] == r {
		delete(c.rooms, r.id)
	}
}

// truncate shortens a string to the given max rune count, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
