// Package relay is the core of the bridge: it pumps messages between one
// public WebSocket connection and one ElevenLabs conversation, translating
// envelopes in both directions.
package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vozlab/voicebridge/pkg/bridge/agents"
	"github.com/vozlab/voicebridge/pkg/bridge/elevenlabs"
	"github.com/vozlab/voicebridge/pkg/bridge/store"
)

// State of one relay. Every call walks Idle → AwaitingStart → Bridging →
// Closing → Closed; failures skip straight to Closing.
type State int32

const (
	StateIdle State = iota
	StateAwaitingStart
	StateBridging
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingStart:
		return "awaiting_start"
	case StateBridging:
		return "bridging"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is the subset of *websocket.Conn the relay drives.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// VendorConversation is the duplex channel into the vendor API.
type VendorConversation interface {
	Events() <-chan elevenlabs.Event
	SendAudio(ctx context.Context, pcm []byte) error
	Interrupt(ctx context.Context) error
	Close() error
}

// VendorOpener opens vendor conversations; satisfied by ElevenLabsOpener and
// by test fakes.
type VendorOpener interface {
	Open(ctx context.Context, agentID string, convCtx elevenlabs.ConversationContext) (VendorConversation, error)
}

// ElevenLabsOpener adapts *elevenlabs.Client to VendorOpener.
type ElevenLabsOpener struct {
	Client *elevenlabs.Client
}

func (o ElevenLabsOpener) Open(ctx context.Context, agentID string, convCtx elevenlabs.ConversationContext) (VendorConversation, error) {
	conv, err := o.Client.Open(ctx, agentID, convCtx)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// Config tunes one relay.
type Config struct {
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	HandshakeTimeout time.Duration
	MaxMessageBytes  int64
}

func (c Config) withDefaults() Config {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	return c
}

// Relay drives one public connection for the lifetime of a call.
type Relay struct {
	conn      Conn
	sessions  *store.Store
	directory *agents.Directory
	vendor    VendorOpener
	registry  *Registry
	logger    *slog.Logger
	cfg       Config

	state atomic.Int32
}

type Dependencies struct {
	Conn      Conn
	Store     *store.Store
	Directory *agents.Directory
	Vendor    VendorOpener
	Registry  *Registry
	Logger    *slog.Logger
	Config    Config
}

func New(deps Dependencies) (*Relay, error) {
	if deps.Conn == nil {
		return nil, errors.New("relay: missing connection")
	}
	if deps.Store == nil {
		return nil, errors.New("relay: missing session store")
	}
	if deps.Directory == nil {
		return nil, errors.New("relay: missing agent directory")
	}
	if deps.Vendor == nil {
		return nil, errors.New("relay: missing vendor opener")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Relay{
		conn:      deps.Conn,
		sessions:  deps.Store,
		directory: deps.Directory,
		vendor:    deps.Vendor,
		registry:  deps.Registry,
		logger:    logger,
		cfg:       deps.Config.withDefaults(),
	}
	r.state.Store(int32(StateIdle))
	return r, nil
}

func (r *Relay) State() State {
	return State(r.state.Load())
}

func (r *Relay) setState(s State) {
	r.state.Store(int32(s))
}

// RunSimple serves the /ws dialer protocol: the client opens a socket,
// sends start_call, and the relay creates the session itself. The session
// entry is deleted when the call ends.
func (r *Relay) RunSimple(ctx context.Context) error {
	defer r.teardownConn()

	if r.cfg.MaxMessageBytes > 0 {
		r.conn.SetReadLimit(r.cfg.MaxMessageBytes)
	}

	start, err := r.awaitStart()
	if err != nil {
		return err
	}
	if start == nil {
		// Client hung up or sent end_call before starting.
		return nil
	}

	agent := r.directory.Select("", start.FromNumber)

	sess := r.sessions.Create(store.CreateParams{
		Agent:       agent,
		CallerPhone: start.FromNumber,
	})
	defer r.sessions.Delete(sess.ID)

	r.logger.Info("starting call",
		"conversation_id", sess.ID,
		"from_number", start.FromNumber,
		"to_number", start.ToNumber,
		"agent", agent.Name,
	)

	conv, err := r.openVendor(ctx, sess)
	if err != nil {
		return err
	}
	defer conv.Close()

	if err := r.sessions.SetStatus(sess.ID, store.StatusActive); err != nil {
		// The session was ended out from under us while the vendor dial was
		// in flight.
		r.setState(StateClosing)
		_ = r.writeJSON(NewCallEnded("server_closed"))
		return err
	}
	if err := r.writeJSON(NewCallStarted(sess.ID, agent.Name)); err != nil {
		return err
	}

	reason := r.bridge(ctx, sess.ID, conv)
	r.logger.Info("call ended", "conversation_id", sess.ID, "reason", reason)
	return nil
}

// RunConversation serves /ws/conversation/{id}: the session must already
// exist (created by POST /conversation/init). The entry is marked ended and
// retained for status queries.
func (r *Relay) RunConversation(ctx context.Context, conversationID string) error {
	defer r.teardownConn()

	if r.cfg.MaxMessageBytes > 0 {
		r.conn.SetReadLimit(r.cfg.MaxMessageBytes)
	}

	sess, err := r.sessions.Get(conversationID)
	if err != nil {
		r.setState(StateClosing)
		_ = r.writeJSON(NewError("invalid conversation id"))
		return err
	}

	conv, err := r.openVendor(ctx, sess)
	if err != nil {
		return err
	}
	defer conv.Close()
	defer func() { _ = r.sessions.SetStatus(conversationID, store.StatusEnded) }()

	if err := r.sessions.SetStatus(conversationID, store.StatusActive); err != nil {
		r.setState(StateClosing)
		_ = r.writeJSON(NewError("conversation is not joinable"))
		return err
	}
	if err := r.writeJSON(NewReady(sess.Agent.Name, sess.Language)); err != nil {
		return err
	}

	reason := r.bridge(ctx, conversationID, conv)
	r.logger.Info("conversation ended", "conversation_id", conversationID, "reason", reason)
	return nil
}

// awaitStart reads frames until a start_call arrives. Malformed frames are
// dropped; end_call or client disconnect aborts quietly.
func (r *Relay) awaitStart() (*StartCall, error) {
	r.setState(StateAwaitingStart)
	_ = r.conn.SetReadDeadline(time.Now().Add(r.cfg.HandshakeTimeout))
	defer r.conn.SetReadDeadline(time.Time{})

	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			r.setState(StateClosing)
			return nil, fmt.Errorf("awaiting start_call: %w", err)
		}

		msg, err := DecodeClientMessage(data)
		if err != nil {
			r.logger.Warn("dropping malformed frame", "state", r.State().String(), "error", err)
			continue
		}
		switch m := msg.(type) {
		case StartCall:
			return &m, nil
		case EndCall:
			r.setState(StateClosing)
			return nil, nil
		default:
			// Audio before start_call has nowhere to go yet.
			r.logger.Warn("dropping frame before start_call", "frame", fmt.Sprintf("%T", msg))
		}
	}
}

func (r *Relay) openVendor(ctx context.Context, sess store.Session) (VendorConversation, error) {
	conv, err := r.vendor.Open(ctx, sess.Agent.AgentID, elevenlabs.ConversationContext{
		ConversationID: sess.ID,
		CallerPhone:    sess.CallerPhone,
		CallerName:     sess.CallerName,
		Language:       sess.Language,
		Custom:         sess.Custom,
	})
	if err != nil {
		r.setState(StateClosing)
		r.logger.Error("vendor open failed", "conversation_id", sess.ID, "error", err)
		_ = r.writeJSON(NewError(vendorErrorMessage(err)))
		return nil, err
	}
	return conv, nil
}

func vendorErrorMessage(err error) string {
	switch {
	case errors.Is(err, elevenlabs.ErrAuthMissing):
		return "voice service is not configured"
	case errors.Is(err, elevenlabs.ErrUnavailable):
		return "voice service is unavailable"
	default:
		return "failed to start voice conversation"
	}
}

// bridge pumps frames in both directions until either side closes, an
// end_call arrives, or ctx is canceled. It returns the close reason and
// leaves the terminal notification to itself (best effort).
func (r *Relay) bridge(ctx context.Context, conversationID string, conv VendorConversation) (reason string) {
	r.setState(StateBridging)
	defer r.setState(StateClosing)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if r.registry != nil {
		unregister := r.registry.Register(conversationID, Handle{Cancel: cancel})
		defer unregister()
	}

	// The session can be deleted while the vendor dial was in flight; a relay
	// must never bridge for an id the store no longer tracks.
	if _, err := r.sessions.Get(conversationID); err != nil {
		r.logger.Warn("session removed before bridging", "conversation_id", conversationID)
		_ = r.writeJSON(NewCallEnded("server_closed"))
		return "session_removed"
	}

	stop := make(chan struct{})
	defer close(stop)

	inbound := make(chan any, 16)
	go r.readClient(inbound, stop)

	pingTicker := time.NewTicker(r.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = r.writeJSON(NewCallEnded("server_closed"))
			return "canceled"

		case <-pingTicker.C:
			deadline := time.Now().Add(r.cfg.WriteTimeout)
			if err := r.conn.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				return "client_disconnected"
			}

		case msg, ok := <-inbound:
			if !ok {
				_ = conv.Close()
				return "client_disconnected"
			}
			done, why := r.handleClientMessage(ctx, conversationID, conv, msg)
			if done {
				return why
			}

		case ev, ok := <-conv.Events():
			if !ok {
				_ = r.writeJSON(NewCallEnded("vendor_disconnected"))
				return "vendor_disconnected"
			}
			done, why := r.handleVendorEvent(conversationID, ev)
			if done {
				return why
			}
		}
	}
}

// readClient feeds decoded inbound frames to the pump; malformed frames are
// logged and dropped here so the pump only sees well-formed messages. stop
// unblocks the send when the pump has already returned.
func (r *Relay) readClient(inbound chan<- any, stop <-chan struct{}) {
	defer close(inbound)
	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := DecodeClientMessage(data)
		if err != nil {
			r.logger.Warn("dropping malformed frame", "state", "bridging", "error", err)
			continue
		}
		select {
		case inbound <- msg:
		case <-stop:
			return
		}
	}
}

func (r *Relay) handleClientMessage(ctx context.Context, conversationID string, conv VendorConversation, msg any) (done bool, reason string) {
	switch m := msg.(type) {
	case AudioIn:
		pcm, err := base64.StdEncoding.DecodeString(m.Data)
		if err != nil {
			r.logger.Warn("dropping audio frame with invalid base64", "conversation_id", conversationID)
			return false, ""
		}
		r.sessions.Touch(conversationID)
		if err := conv.SendAudio(ctx, pcm); err != nil {
			r.logger.Error("vendor audio write failed", "conversation_id", conversationID, "error", err)
			_ = r.writeJSON(NewError("voice service connection lost"))
			return true, "vendor_write_failed"
		}
		return false, ""
	case Interrupt:
		if err := conv.Interrupt(ctx); err != nil {
			r.logger.Warn("vendor interrupt failed", "conversation_id", conversationID, "error", err)
		}
		return false, ""
	case EndCall:
		_ = conv.Close()
		_ = r.writeJSON(NewCallEnded("end_call"))
		return true, "end_call"
	case StartCall:
		r.logger.Warn("dropping start_call on active relay", "conversation_id", conversationID)
		return false, ""
	default:
		r.logger.Warn("dropping unexpected frame", "frame", fmt.Sprintf("%T", msg))
		return false, ""
	}
}

func (r *Relay) handleVendorEvent(conversationID string, ev elevenlabs.Event) (done bool, reason string) {
	var payload any
	switch ev.Kind {
	case elevenlabs.EventAudio:
		// Agent speech keeps the session alive too; a listen-only caller is
		// not idle.
		r.sessions.Touch(conversationID)
		payload = NewAudioOut(base64.StdEncoding.EncodeToString(ev.Audio))
	case elevenlabs.EventUserTranscript:
		payload = NewUserTranscript(ev.Text)
	case elevenlabs.EventAgentResponse:
		payload = NewAgentResponse(ev.Text)
	case elevenlabs.EventInterruption:
		payload = NewInterruption()
	case elevenlabs.EventError:
		_ = r.writeJSON(NewError(ev.Message))
		return true, "vendor_error"
	default:
		return false, ""
	}
	if err := r.writeJSON(payload); err != nil {
		return true, "client_write_failed"
	}
	return false, ""
}

func (r *Relay) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = r.conn.SetWriteDeadline(time.Now().Add(r.cfg.WriteTimeout))
	return r.conn.WriteMessage(websocket.TextMessage, data)
}

// teardownConn releases the public connection exactly once per relay run,
// after a polite close frame.
func (r *Relay) teardownConn() {
	r.setState(StateClosing)
	deadline := time.Now().Add(r.cfg.WriteTimeout)
	_ = r.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	_ = r.conn.Close()
	r.setState(StateClosed)
}
