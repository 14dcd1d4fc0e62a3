package gateway

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/net/websocket"

	"github.com/cloudx-io/rentauction/core"
	"github.com/cloudx-io/rentauction/eventbus"
	"github.com/cloudx-io/rentauction/marketapi"
)

const (
	writeTimeout    = 10 * time.Second
	maxMessageBytes = 64 << 10
)

// socket upgrades an authenticated request. Sessions beyond MaxSockets are
// rejected immediately rather than queued.
func (s *Server) socket(c echo.Context) error {
	select {
	case s.sockets <- struct{}{}:
	default:
		log.Printf("INFO: No socket slots available, rejecting connection (pool full)")
		return c.JSON(http.StatusServiceUnavailable, errorBody("too many open connections", "sockets_exhausted"))
	}
	defer func() { <-s.sockets }()

	principal := principalFrom(c)
	ws := websocket.Server{
		Handler: func(conn *websocket.Conn) {
			conn.MaxPayloadBytes = maxMessageBytes
			s.serveSession(conn, principal)
		},
	}
	ws.ServeHTTP(c.Response(), c.Request())
	return nil
}

// session serializes writes to one websocket connection.
type session struct {
	conn      *websocket.Conn
	principal core.Principal

	mu sync.Mutex
}

func (s *session) send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return websocket.JSON.Send(s.conn, v)
}

func (s *Server) serveSession(conn *websocket.Conn, principal core.Principal) {
	sess := &session{conn: conn, principal: principal}
	sub := s.broker.Subscribe(eventbus.TopicAnalysis, eventbus.TopicNotifications)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: Panic recovered in websocket session for %s: %v", principal.ID, r)
		}
		cancel()
		s.broker.Unsubscribe(sub)
		if err := conn.Close(); err != nil {
			log.Printf("ERROR: Failed to close websocket for %s: %v", principal.ID, err)
		}
		wg.Wait()
		if dropped := sub.Dropped(); dropped > 0 {
			log.Printf("WARNING: Websocket session for %s dropped %d events", principal.ID, dropped)
		}
		log.Printf("INFO: Websocket session for %s closed", principal.ID)
	}()

	log.Printf("INFO: Websocket session opened for %s (%s)", principal.ID, principal.Role)

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.pumpEvents(ctx, sess, sub)
	}()

	s.readMessages(sess)
}

// pumpEvents forwards bus events to the client until the subscription ends
// or a write fails.
func (s *Server) pumpEvents(ctx context.Context, sess *session, sub *eventbus.Subscription) {
	for ev := range sub.All(ctx) {
		err := sess.send(marketapi.OutboundMessage{
			Topic:   ev.Topic,
			Seq:     ev.Seq,
			Type:    ev.Type,
			Message: ev.Payload,
		})
		if err != nil {
			log.Printf("INFO: Websocket write to %s failed, ending session: %v", sess.principal.ID, err)
			_ = sess.conn.Close()
			return
		}
	}
}

// readMessages handles client frames until the connection closes. A bad
// frame is answered with an error event to this client only.
func (s *Server) readMessages(sess *session) {
	for {
		var data []byte
		if err := websocket.Message.Receive(sess.conn, &data); err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("INFO: Websocket read from %s ended: %v", sess.principal.ID, err)
			}
			return
		}

		in, err := ParseInbound(data)
		var rejected *RejectedMessage
		switch {
		case errors.As(err, &rejected):
			if err := sess.send(marketapi.ErrorMessage{Error: rejected.Reason}); err != nil {
				return
			}
		case err != nil:
			return
		default:
			Dispatch(s.broker, in)
		}
	}
}
