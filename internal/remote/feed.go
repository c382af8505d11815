package remote

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	feedPath         = "/realtime/v1"
	subscribeTimeout = 10 * time.Second
	// Pushed changes queue here until the engine drains them; overflow is
	// dropped and reconciled by the next full fetch.
	changeBuffer = 256
)

// FeedClient dials the backend's realtime change feed over websocket.
type FeedClient struct {
	baseURL string
	apiKey  string
	session Session
	dialer  *websocket.Dialer
}

// NewFeedClient creates a change-feed client for the backend at baseURL.
func NewFeedClient(baseURL, apiKey string, session Session) *FeedClient {
	return &FeedClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		session: session,
		dialer:  websocket.DefaultDialer,
	}
}

type subscribeFrame struct {
	Action string   `json:"action"`
	Table  string   `json:"table"`
	Events []string `json:"events"`
	Filter struct {
		Column string `json:"column"`
		Value  string `json:"value"`
	} `json:"filter"`
}

type envelope struct {
	Type    string         `json:"type"` // subscribed | change | error
	Event   string         `json:"event,omitempty"`
	Table   string         `json:"table,omitempty"`
	Record  *messageRecord `json:"record,omitempty"`
	Message string         `json:"message,omitempty"`
}

// Subscribe opens a subscription for INSERT and UPDATE events on messages
// addressed to userID. The handshake must be acknowledged by the server
// before the subscription is considered established.
func (f *FeedClient) Subscribe(ctx context.Context, userID string) (*Subscription, error) {
	wsURL := toWebsocketURL(f.baseURL) + feedPath

	header := http.Header{}
	header.Set("apikey", f.apiKey)
	if tok := f.session.AccessToken(); tok != "" {
		header.Set("Authorization", "Bearer "+tok)
	}

	conn, resp, err := f.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial feed: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial feed: %w", err)
	}

	frame := subscribeFrame{
		Action: "subscribe",
		Table:  "messages",
		Events: []string{EventInsert, EventUpdate},
	}
	frame.Filter.Column = "receiver_id"
	frame.Filter.Value = userID

	if err := conn.WriteJSON(frame); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send subscribe: %w", err)
	}

	// Wait for the handshake ack.
	_ = conn.SetReadDeadline(time.Now().Add(subscribeTimeout))
	var ack envelope
	if err := conn.ReadJSON(&ack); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("subscribe ack: %w", err)
	}
	if ack.Type != "subscribed" {
		_ = conn.Close()
		return nil, fmt.Errorf("subscribe rejected: %s", ack.Message)
	}
	_ = conn.SetReadDeadline(time.Time{})

	sub := &Subscription{
		conn: conn,
		ch:   make(chan Change, changeBuffer),
	}
	go sub.readLoop()
	return sub, nil
}

// Subscription is one live change-feed registration. Changes() is closed
// when the connection drops or Close is called; Err() reports why.
type Subscription struct {
	conn *websocket.Conn
	ch   chan Change

	mu     sync.Mutex
	err    error
	closed bool
}

// Changes returns the channel of row-level change events.
func (s *Subscription) Changes() <-chan Change {
	return s.ch
}

// Err returns the error that terminated the subscription, nil after a
// clean Close.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close tears down the subscription and unregisters the channel. Safe to
// call more than once.
func (s *Subscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.conn.Close()
}

func (s *Subscription) readLoop() {
	defer close(s.ch)
	for {
		var env envelope
		if err := s.conn.ReadJSON(&env); err != nil {
			s.mu.Lock()
			if !s.closed {
				s.err = err
			}
			s.mu.Unlock()
			return
		}
		if env.Type != "change" || env.Record == nil {
			continue
		}
		change := Change{
			Event:   env.Event,
			Table:   env.Table,
			Message: env.Record.toMessage(),
		}
		select {
		case s.ch <- change:
		default:
			// Drop when the consumer lags; a later fetch reconciles.
		}
	}
}

func toWebsocketURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}
