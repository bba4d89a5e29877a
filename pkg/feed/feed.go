// Package feed maintains subscriptions to the exchange's push channels and
// demultiplexes inbound frames to per-channel callbacks.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"

	"poloniex/internal/ws"
	"poloniex/pkg/client"
	"poloniex/pkg/core"
)

// Callback receives the demultiplexed payload of one frame. Callbacks run
// on the receive goroutine, one frame at a time, in arrival order; a slow
// callback delays everything behind it.
type Callback func(frame []any)

// frameWriter is the outbound side of the socket.
type frameWriter interface {
	WriteJSON(v any) error
}

// Engine owns the feed socket and the channel registry: the four built-in
// channels plus one per market discovered from the ticker snapshot at
// construction.
type Engine struct {
	cli    *client.Client
	conn   *ws.Conn
	writer frameWriter
	logger zerolog.Logger
	json   sonic.API

	mu       sync.Mutex
	channels map[string]*channel
	byID     map[int64]*channel
	stopping bool
}

// Option customizes an Engine at construction time.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// New builds an Engine bound to the given client. It issues one ticker
// call through the client to learn the market channel ids, so it needs a
// live context but no socket yet; the socket comes up in Start.
func New(ctx context.Context, cli *client.Client, opts ...Option) (*Engine, error) {
	e := &Engine{
		cli:      cli,
		logger:   zerolog.Nop(),
		json:     cli.Config().DecodeMode.API(),
		channels: make(map[string]*channel),
		byID:     make(map[int64]*channel),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.register(AccountChannel, accountID)
	e.register(TickerChannel, tickerID)
	e.register(VolumeChannel, volumeID)
	e.register(HeartbeatChannel, heartbeatID)

	ticker, err := cli.ReturnTicker(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover market channels: %w", err)
	}
	markets, ok := ticker.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("discover market channels: %w", core.ErrInvalidResponse)
	}
	for market, entry := range markets {
		obj, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		id, ok := channelID(obj["id"])
		if !ok {
			e.logger.Warn().Str("market", market).Msg("ticker entry without usable id")
			continue
		}
		e.register(market, id)
	}

	e.conn = ws.New(ws.Config{URL: cli.Config().FeedURL})
	e.conn.SetLogger(e.logger)
	e.conn.OnFrame(e.handleFrame)
	e.conn.OnOpen(e.resubscribe)
	e.writer = e.conn

	return e, nil
}

func (e *Engine) register(name string, id int64) {
	ch := &channel{name: name, id: id}
	e.channels[name] = ch
	e.byID[id] = ch
}

// Channels returns the names of all registered channels.
func (e *Engine) Channels() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	names := make([]string, 0, len(e.channels))
	for name := range e.channels {
		names = append(names, name)
	}
	return names
}

// State returns the subscription state of a channel.
func (e *Engine) State(name string) (ChannelState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch, ok := e.channels[name]
	if !ok {
		return Unsubscribed, fmt.Errorf("%w: %q", core.ErrUnknownChannel, name)
	}
	return ch.state, nil
}

// Start connects the socket and begins receiving. Channels subscribed
// before Start (or during an outage) are subscribed on open.
func (e *Engine) Start(ctx context.Context) error {
	return e.conn.Connect(ctx)
}

// Stop tears the feed down: one unsubscribe per currently subscribed
// channel, a grace period for the server to process them, then the socket
// closes and the receive loop is joined. Safe to call more than once.
func (e *Engine) Stop(grace time.Duration) error {
	e.mu.Lock()
	if e.stopping {
		e.mu.Unlock()
		return nil
	}
	e.stopping = true

	var subscribed []*channel
	for _, ch := range e.channels {
		if ch.state == Subscribed {
			subscribed = append(subscribed, ch)
		}
		ch.intent = false
	}
	e.mu.Unlock()

	for _, ch := range subscribed {
		if err := e.send(context.Background(), "unsubscribe", ch); err != nil {
			e.logger.Warn().Err(err).Str("channel", ch.name).Msg("unsubscribe on stop failed")
		}
	}

	time.Sleep(grace)
	return e.conn.Close()
}

// Subscribe registers a callback and sends the subscribe frame. The channel
// moves to SubscribePending immediately; Subscribed only once the server
// acks. The account channel requires credentials.
func (e *Engine) Subscribe(ctx context.Context, name string, cb Callback) error {
	e.mu.Lock()
	ch, ok := e.channels[name]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %q", core.ErrUnknownChannel, name)
	}
	if name == AccountChannel && !e.cli.HasCredentials() {
		e.mu.Unlock()
		return core.ErrMissingCredentials
	}
	ch.callback = cb
	ch.intent = true
	if ch.state == Unsubscribed {
		ch.state = SubscribePending
	}
	e.mu.Unlock()

	return e.send(ctx, "subscribe", ch)
}

// Unsubscribe clears the channel's intent and sends the unsubscribe frame.
// The state goes back to Unsubscribed when the server acks.
func (e *Engine) Unsubscribe(ctx context.Context, name string) error {
	e.mu.Lock()
	ch, ok := e.channels[name]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %q", core.ErrUnknownChannel, name)
	}
	ch.intent = false
	e.mu.Unlock()

	return e.send(ctx, "unsubscribe", ch)
}

// SetCallback swaps the handler of a channel without touching its
// subscription state.
func (e *Engine) SetCallback(name string, cb Callback) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch, ok := e.channels[name]
	if !ok {
		return fmt.Errorf("%w: %q", core.ErrUnknownChannel, name)
	}
	ch.callback = cb
	return nil
}

// send builds and writes one control frame, gated by the shared rate
// coordinator. The account channel gets fresh signing material per send.
func (e *Engine) send(ctx context.Context, command string, ch *channel) error {
	frame := map[string]any{
		"command": command,
		"channel": ch.id,
	}
	if ch.id == accountID {
		payload, signature, key, err := e.cli.AccountAuth()
		if err != nil {
			return err
		}
		frame["payload"] = payload
		frame["sign"] = signature
		frame["key"] = key
	}

	if err := e.cli.Throttle(ctx); err != nil {
		return err
	}
	if err := e.writer.WriteJSON(frame); err != nil {
		return fmt.Errorf("%s %s: %w", command, ch.name, err)
	}

	e.logger.Debug().Str("command", command).Str("channel", ch.name).Msg("control frame sent")
	return nil
}

// resubscribe re-issues subscribes for every channel with recorded intent.
// Runs on (re)open, off the read loop so throttling cannot stall it.
func (e *Engine) resubscribe() {
	e.mu.Lock()
	var wanted []*channel
	for _, ch := range e.channels {
		if ch.intent {
			ch.state = SubscribePending
			wanted = append(wanted, ch)
		}
	}
	e.mu.Unlock()

	if len(wanted) == 0 {
		return
	}

	go func() {
		for _, ch := range wanted {
			if err := e.send(context.Background(), "subscribe", ch); err != nil {
				e.logger.Warn().Err(err).Str("channel", ch.name).Msg("resubscribe failed")
			}
		}
	}()
}

// handleFrame demultiplexes one inbound frame. Malformed input is logged
// and dropped; the receive loop never dies on a bad frame.
func (e *Engine) handleFrame(data []byte) {
	var payload any
	if err := e.json.Unmarshal(data, &payload); err != nil {
		e.logger.Warn().Err(err).Str("frame", string(data)).Msg("undecodable frame dropped")
		return
	}

	if obj, ok := payload.(map[string]any); ok {
		if msg, ok := obj["error"].(string); ok {
			e.logger.Warn().Str("error", msg).Msg("feed error frame dropped")
			return
		}
		e.logger.Warn().Str("frame", string(data)).Msg("unexpected object frame dropped")
		return
	}

	frame, ok := payload.([]any)
	if !ok || len(frame) == 0 {
		e.logger.Warn().Str("frame", string(data)).Msg("malformed frame dropped")
		return
	}

	id, ok := channelID(frame[0])
	if !ok {
		e.logger.Warn().Str("frame", string(data)).Msg("frame without channel id dropped")
		return
	}

	e.mu.Lock()
	ch, known := e.byID[id]
	if !known {
		e.mu.Unlock()
		e.logger.Warn().Int64("id", id).Msg("frame for unknown channel dropped")
		return
	}

	// Heartbeats are never acks; the full frame goes through.
	if id == heartbeatID {
		cb := ch.callback
		e.mu.Unlock()
		if cb != nil {
			cb(frame)
		}
		return
	}

	if len(frame) == 2 {
		if ack, ok := channelID(frame[1]); ok && (ack == 0 || ack == 1) {
			if ack == 1 {
				ch.state = Subscribed
			} else {
				ch.state = Unsubscribed
			}
			e.mu.Unlock()
			e.logger.Info().Str("channel", ch.name).Bool("subscribed", ack == 1).Msg("subscription ack")
			return
		}
	}

	cb := ch.callback
	e.mu.Unlock()
	if cb == nil {
		return
	}

	// Ticker and volume frames carry an unused sequence slot after the id;
	// both go. Every other channel keeps its sequence number.
	switch id {
	case tickerID, volumeID:
		if len(frame) < 2 {
			return
		}
		cb(frame[2:])
	default:
		cb(frame[1:])
	}
}

// channelID normalizes the id element of a frame across decode modes.
func channelID(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		id, err := n.Int64()
		return id, err == nil
	case float64:
		return int64(n), true
	case string:
		id, err := strconv.ParseInt(n, 10, 64)
		return id, err == nil
	default:
		return 0, false
	}
}
