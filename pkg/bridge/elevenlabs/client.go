// Package elevenlabs is the outbound client for the ElevenLabs
// Conversational AI WebSocket API. It exposes a conversation as a duplex
// channel: audio in via SendAudio, vendor events out via Events.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const defaultWSBase = "wss://api.elevenlabs.io/v1/convai/conversation"

var (
	// ErrAuthMissing means no API key is configured; nothing was dialed.
	ErrAuthMissing = errors.New("elevenlabs api key is not configured")
	// ErrUnavailable wraps connection-time failures against the vendor.
	ErrUnavailable = errors.New("elevenlabs unavailable")
)

// EventKind tags inbound vendor events.
type EventKind string

const (
	EventAudio          EventKind = "audio"
	EventUserTranscript EventKind = "user_transcript"
	EventAgentResponse  EventKind = "agent_response"
	EventInterruption   EventKind = "interruption"
	EventError          EventKind = "error"
)

// Event is one inbound message from the vendor socket. Audio carries decoded
// PCM16 bytes; Text carries transcript or agent text; Message carries error
// detail.
type Event struct {
	Kind    EventKind
	Audio   []byte
	EventID int
	Text    string
	Message string
}

// ConversationContext is passed to the agent as dynamic variables and
// configuration overrides at initiation time.
type ConversationContext struct {
	ConversationID string
	CallerPhone    string
	CallerName     string
	Language       string
	Custom         map[string]any
}

// Dialer abstracts the websocket dial for tests.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (Conn, *http.Response, error)
}

// Conn is the subset of *websocket.Conn the conversation uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Client opens conversations against the vendor API.
type Client struct {
	APIKey    string
	BaseWSURL string
	Dialer    Dialer
	Logger    *slog.Logger

	// WriteTimeout bounds each socket write; zero means 5s.
	WriteTimeout time.Duration
}

// Open dials the conversation socket for agentID, sends the initiation
// payload, and starts the read loop. The caller owns the returned
// conversation and must Close it.
func (c *Client) Open(ctx context.Context, agentID string, convCtx ConversationContext) (*Conversation, error) {
	if strings.TrimSpace(c.APIKey) == "" {
		return nil, ErrAuthMissing
	}
	if strings.TrimSpace(agentID) == "" {
		return nil, fmt.Errorf("agent id is required")
	}

	wsURL, err := buildWSURL(c.BaseWSURL, agentID)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("xi-api-key", strings.TrimSpace(c.APIKey))

	dialer := c.Dialer
	if dialer == nil {
		dialer = gorillaDialer{}
	}
	conn, _, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	conv := &Conversation{
		conn:         conn,
		logger:       c.Logger,
		writeTimeout: c.WriteTimeout,
		events:       make(chan Event, 256),
		closed:       make(chan struct{}),
	}

	if err := conv.sendInitiation(ctx, convCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	go conv.readLoop()
	return conv, nil
}

// Conversation is one live vendor conversation. Events closes when the
// vendor side disconnects; Close is idempotent.
type Conversation struct {
	conn         Conn
	logger       *slog.Logger
	writeTimeout time.Duration

	writeMu   sync.Mutex
	events    chan Event
	closed    chan struct{}
	closeOnce sync.Once
}

// Events yields inbound vendor events in arrival order. The channel closes
// when the underlying socket does.
func (c *Conversation) Events() <-chan Event {
	if c == nil {
		ch := make(chan Event)
		close(ch)
		return ch
	}
	return c.events
}

// SendAudio forwards one PCM16 chunk to the agent.
func (c *Conversation) SendAudio(ctx context.Context, pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	return c.writeJSON(ctx, map[string]any{
		"user_audio_chunk": base64.StdEncoding.EncodeToString(pcm),
	})
}

// Interrupt asks the agent to stop its current response.
func (c *Conversation) Interrupt(ctx context.Context) error {
	return c.writeJSON(ctx, map[string]any{"type": "interruption"})
}

// Close releases the socket. Safe to call from any goroutine, any number of
// times.
func (c *Conversation) Close() error {
	if c == nil {
		return nil
	}
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
	return nil
}

func (c *Conversation) sendInitiation(ctx context.Context, convCtx ConversationContext) error {
	dynamic := map[string]any{}
	if convCtx.CallerPhone != "" {
		dynamic["caller_phone"] = convCtx.CallerPhone
	}
	if convCtx.CallerName != "" {
		dynamic["caller_name"] = convCtx.CallerName
	}
	if convCtx.ConversationID != "" {
		dynamic["bridge_conversation_id"] = convCtx.ConversationID
	}
	for k, v := range convCtx.Custom {
		dynamic[k] = v
	}

	payload := map[string]any{
		"type": "conversation_initiation_client_data",
	}
	if len(dynamic) > 0 {
		payload["dynamic_variables"] = dynamic
	}
	if convCtx.Language != "" {
		payload["conversation_config_override"] = map[string]any{
			"agent": map[string]any{"language": convCtx.Language},
		}
	}
	return c.writeJSON(ctx, payload)
}

func (c *Conversation) readLoop() {
	defer close(c.events)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		ev, pong, warn, ok := parseVendorMessage(data)
		if warn != "" && c.logger != nil {
			c.logger.Warn("dropping invalid vendor frame", "reason", warn)
		}
		if pong != nil {
			// Answer keepalives inline so the vendor does not drop us.
			if err := c.writeJSON(context.Background(), pong); err != nil && c.logger != nil {
				c.logger.Warn("elevenlabs pong failed", "error", err)
			}
			continue
		}
		if !ok {
			continue
		}

		select {
		case c.events <- ev:
		case <-c.closed:
			return
		}
	}
}

// parseVendorMessage decodes one vendor frame. It returns either an event,
// a pong payload to write back, or neither for frames we ignore; warn is set
// when a frame is dropped because its payload is undecodable.
func parseVendorMessage(data []byte) (ev Event, pong map[string]any, warn string, ok bool) {
	var msg struct {
		Type       string `json:"type"`
		AudioEvent *struct {
			AudioBase64 string `json:"audio_base_64"`
			EventID     int    `json:"event_id"`
		} `json:"audio_event"`
		UserTranscriptionEvent *struct {
			UserTranscript string `json:"user_transcript"`
		} `json:"user_transcription_event"`
		AgentResponseEvent *struct {
			AgentResponse string `json:"agent_response"`
		} `json:"agent_response_event"`
		PingEvent *struct {
			EventID int `json:"event_id"`
		} `json:"ping_event"`
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return Event{}, nil, "", false
	}

	switch msg.Type {
	case "audio":
		if msg.AudioEvent == nil {
			return Event{}, nil, "", false
		}
		pcm, err := base64.StdEncoding.DecodeString(msg.AudioEvent.AudioBase64)
		if err != nil {
			// Vendor sometimes omits padding.
			pcm, err = base64.RawStdEncoding.DecodeString(msg.AudioEvent.AudioBase64)
			if err != nil {
				// A corrupt chunk is not worth ending the call over.
				return Event{}, nil, "invalid audio base64", false
			}
		}
		return Event{Kind: EventAudio, Audio: pcm, EventID: msg.AudioEvent.EventID}, nil, "", true
	case "user_transcript":
		if msg.UserTranscriptionEvent == nil {
			return Event{}, nil, "", false
		}
		return Event{Kind: EventUserTranscript, Text: msg.UserTranscriptionEvent.UserTranscript}, nil, "", true
	case "agent_response":
		if msg.AgentResponseEvent == nil {
			return Event{}, nil, "", false
		}
		return Event{Kind: EventAgentResponse, Text: msg.AgentResponseEvent.AgentResponse}, nil, "", true
	case "interruption":
		return Event{Kind: EventInterruption}, nil, "", true
	case "ping":
		pong = map[string]any{"type": "pong"}
		if msg.PingEvent != nil {
			pong["event_id"] = msg.PingEvent.EventID
		}
		return Event{}, pong, "", false
	case "error":
		detail := msg.Error
		if detail == "" {
			detail = msg.Message
		}
		return Event{Kind: EventError, Message: sanitizeDetail(detail)}, nil, "", true
	default:
		// conversation_initiation_metadata and anything unknown.
		return Event{}, nil, "", false
	}
}

func (c *Conversation) writeJSON(ctx context.Context, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.closed:
		return fmt.Errorf("conversation is closed")
	default:
	}

	timeout := c.writeTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	deadline := time.Now().Add(timeout)
	if ctx != nil {
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
	}
	_ = c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteMessage(textMessage, data)
}

func buildWSURL(base, agentID string) (string, error) {
	if strings.TrimSpace(base) == "" {
		base = defaultWSBase
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid elevenlabs ws url: %w", err)
	}
	if u.Scheme == "" {
		u.Scheme = "wss"
	}
	q := u.Query()
	q.Set("agent_id", agentID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func sanitizeDetail(msg string) string {
	msg = strings.Join(strings.Fields(msg), " ")
	if len(msg) > 300 {
		msg = msg[:300] + "…"
	}
	return msg
}
