package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/casualjim/hoot/pkg/slogx"
	"github.com/casualjim/hoot/pkg/uuidx"
	"github.com/casualjim/hoot/protocol"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendBuffer     = 256
)

// WebSocketTopic exposes one websocket connection as a topic: Publish writes
// to the peer and subscribers receive what the peer sends. Nothing is read
// from the peer before the first subscriber attaches.
type WebSocketTopic struct {
	conn   *websocket.Conn
	send   chan []byte
	subs   *haxmap.Map[string, *wsSubscription]
	logger *slog.Logger

	ready     chan struct{}
	readyOnce sync.Once

	closing   chan struct{}
	closeReq  sync.Once
	done      chan struct{}
	closeOnce sync.Once
}

// WebSocket starts the read and write pumps of an established connection.
func WebSocket(conn *websocket.Conn, logger *slog.Logger) *WebSocketTopic {
	if logger == nil {
		logger = slog.Default()
	}
	t := &WebSocketTopic{
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		subs:    haxmap.New[string, *wsSubscription](),
		logger:  logger.With(slogx.LoggerName("websocket"), slog.String("remote", conn.RemoteAddr().String())),
		ready:   make(chan struct{}),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go t.readPump()
	go t.writePump()
	return t
}

// DialWebSocket connects to a host endpoint.
func DialWebSocket(ctx context.Context, url string, logger *slog.Logger) (*WebSocketTopic, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return WebSocket(conn, logger), nil
}

// Done is closed once the connection is gone.
func (t *WebSocketTopic) Done() <-chan struct{} {
	return t.done
}

// Close flushes pending writes, sends a close frame and closes the connection.
func (t *WebSocketTopic) Close() error {
	t.closeReq.Do(func() { close(t.closing) })
	select {
	case <-t.done:
	case <-time.After(writeWait):
		t.shutdown()
	}
	return nil
}

func (t *WebSocketTopic) Publish(ctx context.Context, env protocol.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	select {
	case <-t.done:
		return ErrClosed
	case <-t.closing:
		return ErrClosed
	default:
	}
	select {
	case t.send <- data:
		return nil
	case <-t.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *WebSocketTopic) Subscribe(ctx context.Context, handler Handler) (Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	id := uuidx.NewID(uuidx.Subscription)
	sub := &wsSubscription{
		id:      id,
		ctx:     ctx,
		handler: handler,
		onClose: func() { t.subs.Del(id) },
	}
	t.subs.Set(id, sub)
	t.readyOnce.Do(func() { close(t.ready) })
	return sub, nil
}

func (t *WebSocketTopic) shutdown() {
	t.closeOnce.Do(func() {
		close(t.done)
		_ = t.conn.Close()
	})
}

func (t *WebSocketTopic) readPump() {
	defer t.shutdown()

	select {
	case <-t.ready:
	case <-t.done:
		return
	}

	t.conn.SetReadLimit(maxMessageSize)
	_ = t.conn.SetReadDeadline(time.Now().Add(pongWait))
	t.conn.SetPongHandler(func(string) error {
		return t.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		typ, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				t.logger.Warn("websocket read failed", slogx.Error(err))
			}
			return
		}
		if typ != websocket.TextMessage {
			continue
		}
		env, err := protocol.Decode(data)
		if err != nil {
			t.logger.Warn("dropping malformed envelope", slogx.Error(err), slogx.ByteString("frame", data))
			continue
		}
		t.subs.ForEach(func(_ string, sub *wsSubscription) bool {
			if sub.ctx.Err() != nil {
				sub.Unsubscribe()
				return true
			}
			sub.handler.Handle(sub.ctx, env)
			return true
		})
	}
}

func (t *WebSocketTopic) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		t.shutdown()
	}()

	for {
		select {
		case data := <-t.send:
			if err := t.write(data); err != nil {
				t.logger.Warn("websocket write failed", slogx.Error(err))
				return
			}
		case <-ticker.C:
			if err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-t.closing:
			t.drain()
			_ = t.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case <-t.done:
			return
		}
	}
}

func (t *WebSocketTopic) drain() {
	for {
		select {
		case data := <-t.send:
			if err := t.write(data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (t *WebSocketTopic) write(data []byte) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

type wsSubscription struct {
	id      string
	ctx     context.Context
	handler Handler
	once    sync.Once
	onClose func()
}

func (s *wsSubscription) ID() string {
	return s.id
}

func (s *wsSubscription) Unsubscribe() {
	s.once.Do(s.onClose)
}
