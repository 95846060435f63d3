package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/santerog80-rgb/Talkio/internal/domain"
)

const defaultHeartbeat = 25 * time.Second

// frame is the realtime gateway message envelope.
type frame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Ref     string          `json:"ref,omitempty"`
}

// changePayload carries one inserted row.
type changePayload struct {
	Data struct {
		Record json.RawMessage `json:"record"`
	} `json:"data"`
}

// Realtime is a relay over the backend's realtime websocket gateway. The
// gateway fans out committed inserts itself, so Realtime has no publishing
// side.
type Realtime struct {
	baseURL   string
	apiKey    string
	token     string
	heartbeat time.Duration
}

// NewRealtime configures a gateway client rooted at baseURL.
func NewRealtime(baseURL, apiKey, token string) *Realtime {
	return &Realtime{
		baseURL:   baseURL,
		apiKey:    apiKey,
		token:     token,
		heartbeat: defaultHeartbeat,
	}
}

// Subscribe dials the gateway, joins the topic for channel and starts the
// read loop. Each subscription holds its own connection.
func (r *Realtime) Subscribe(ctx context.Context, channel string, handler func(payload []byte)) (domain.Subscription, error) {
	u, err := url.Parse(r.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse gateway url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = "/realtime/v1/websocket"
	q := u.Query()
	q.Set("apikey", r.apiKey)
	if r.token != "" {
		q.Set("token", r.token)
	}
	u.RawQuery = q.Encode()

	log.Printf("[relay] connecting to %s", u.Host)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	sub := &realtimeSub{
		conn:    conn,
		topic:   channel,
		handler: handler,
		closed:  make(chan struct{}),
	}
	if err := sub.sendJSON(frame{Topic: channel, Event: "phx_join", Ref: "1"}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("join %s: %w", channel, err)
	}

	go sub.readLoop()
	go sub.heartbeatLoop(r.heartbeat)

	return sub, nil
}

type realtimeSub struct {
	conn    *websocket.Conn
	topic   string
	handler func(payload []byte)

	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

// Close is safe to call concurrently with the read loop's own teardown.
func (s *realtimeSub) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

func (s *realtimeSub) sendJSON(msg any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(msg)
}

func (s *realtimeSub) readLoop() {
	defer s.Close()

	for {
		select {
		case <-s.closed:
			return
		default:
		}

		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closed:
			default:
				log.Printf("[relay] read error on %s: %v", s.topic, err)
			}
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			log.Printf("[relay] bad frame on %s: %v", s.topic, err)
			continue
		}

		switch f.Event {
		case "postgres_changes", "INSERT":
			var change changePayload
			if err := json.Unmarshal(f.Payload, &change); err != nil {
				log.Printf("[relay] bad change on %s: %v", s.topic, err)
				continue
			}
			if len(change.Data.Record) > 0 {
				s.handler(change.Data.Record)
			}

		case "phx_reply", "phx_close":
			// join/heartbeat acknowledgements

		default:
			log.Printf("[relay] unhandled event on %s: %s", s.topic, f.Event)
		}
	}
}

func (s *realtimeSub) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closed:
			return
		case <-ticker.C:
			if err := s.sendJSON(frame{Topic: "phoenix", Event: "heartbeat", Ref: "hb"}); err != nil {
				select {
				case <-s.closed:
				default:
					log.Printf("[relay] heartbeat on %s: %v", s.topic, err)
				}
				return
			}
		}
	}
}
