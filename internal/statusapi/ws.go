// internal/statusapi/ws.go
package statusapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"

	"github.com/tamzrod/display-link/internal/dispatch"
	"github.com/tamzrod/display-link/internal/events"
	"github.com/tamzrod/display-link/internal/link"
	"github.com/tamzrod/display-link/internal/status"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	subBuffer  = 32
)

// Message is one websocket frame sent to clients.
type Message struct {
	Type string    `json:"type"` // status | state | notification | report
	At   time.Time `json:"at"`
	Data any       `json:"data"`
}

type stateData struct {
	From     link.State `json:"from"`
	To       link.State `json:"to"`
	DeviceID string     `json:"device_id,omitempty"`
	Attempts int        `json:"attempts"`
	Error    string     `json:"error,omitempty"`
}

type notificationData struct {
	DeviceID string `json:"device_id"`
	Kind     string `json:"kind"`
	Payload  any    `json:"payload"`
}

type statusData struct {
	status.Snapshot
	HealthName string `json:"health_name"`
}

type wsClient struct {
	conn *websocket.Conn
	log  hclog.Logger
	done chan struct{}
	once sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{conn: conn, log: s.log.With("remote", r.RemoteAddr), done: make(chan struct{})}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	c.log.Debug("websocket client connected")

	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		c.close()
		c.log.Debug("websocket client disconnected")
	}()

	// Subscribe before the first status frame so nothing falls in between.
	feed := s.subscribe()
	defer feed.unsubscribe()

	go c.writePump(feed, s.initial())
	c.readPump()
}

// initial is the current status, sent first on every connection.
func (s *Server) initial() *Message {
	if s.d.Tracker == nil {
		return nil
	}
	snap := s.d.Tracker.Snapshot()
	return &Message{Type: "status", At: time.Now(), Data: statusData{Snapshot: snap, HealthName: status.HealthName(snap.Health)}}
}

// readPump drains control frames and detects the peer going away.
func (c *wsClient) readPump() {
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("websocket read error", "error", err)
			}
			return
		}
	}
}

func (c *wsClient) writePump(f *feed, first *Message) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	send := func(m Message) bool {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(m); err != nil {
			c.log.Debug("websocket write failed", "error", err)
			return false
		}
		return true
	}

	if first != nil && !send(*first) {
		return
	}

	for {
		var m Message
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
			return

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue

		case snap, ok := <-f.status:
			if !ok {
				return
			}
			m = Message{Type: "status", At: time.Now(), Data: statusData{Snapshot: snap, HealthName: status.HealthName(snap.Health)}}

		case sc, ok := <-f.states:
			if !ok {
				return
			}
			d := stateData{From: sc.From, To: sc.To, DeviceID: sc.DeviceID, Attempts: sc.Attempts}
			if sc.Err != nil {
				d.Error = sc.Err.Error()
			}
			m = Message{Type: "state", At: sc.At, Data: d}

		case in, ok := <-f.inbound:
			if !ok {
				return
			}
			m = Message{Type: "notification", At: in.At, Data: notificationData{
				DeviceID: in.DeviceID,
				Kind:     in.Notification.Type().String(),
				Payload:  in.Notification,
			}}

		case rep, ok := <-f.reports:
			if !ok {
				return
			}
			m = Message{Type: "report", At: rep.Finished, Data: rep}
		}

		if !send(m) {
			return
		}
	}
}

// ---- bus fan-in ----

// feed holds one client's subscriptions. A nil channel never fires.
type feed struct {
	status  <-chan status.Snapshot
	states  <-chan link.StateChange
	inbound <-chan link.Inbound
	reports <-chan dispatch.Report

	unsubs []func()
}

func (s *Server) subscribe() *feed {
	f := &feed{}
	f.status = sub(f, trackerBus(s.d.Tracker))
	f.states = sub(f, s.d.States)
	f.inbound = sub(f, s.d.Notifications)
	f.reports = sub(f, s.d.Reports)
	return f
}

func (f *feed) unsubscribe() {
	for _, u := range f.unsubs {
		u()
	}
}

func sub[T any](f *feed, b *events.Bus[T]) <-chan T {
	if b == nil {
		return nil
	}
	s := b.Subscribe(subBuffer)
	f.unsubs = append(f.unsubs, s.Unsubscribe)
	return s.C()
}

func trackerBus(t *status.Tracker) *events.Bus[status.Snapshot] {
	if t == nil {
		return nil
	}
	return t.Changes
}
