package relay

import (
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 10
	sendBuffer     = 32
)

// wsConn adapts a gorilla connection to the relay's Conn interface. Writes
// go through a buffered channel drained by a single write pump; a client too
// slow to keep up has frames dropped rather than stalling the relay.
type wsConn struct {
	ws   *websocket.Conn
	send chan Envelope
	done chan struct{}
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{
		ws:   ws,
		send: make(chan Envelope, sendBuffer),
		done: make(chan struct{}),
	}
}

func (c *wsConn) Send(env Envelope) {
	select {
	case c.send <- env:
	case <-c.done:
	default:
		log.Printf("ws: dropping %s frame for slow client", env.Event)
	}
}

func (c *wsConn) Close() {
	c.ws.Close()
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case env := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func normalizeAllowedOrigins(origins []string) map[string]struct{} {
	res := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		o := strings.TrimSpace(strings.ToLower(origin))
		if o != "" {
			res[o] = struct{}{}
		}
	}
	return res
}

// makeCheckOrigin allows non-browser clients (no Origin header) and browsers
// whose Origin is in the configured allow-list.
func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := normalizeAllowedOrigins(allowedOrigins)

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" {
			return true
		}
		if _, ok := allowed[origin]; ok {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		normalized := strings.ToLower(u.Scheme + "://" + u.Host)
		_, ok := allowed[normalized]
		return ok
	}
}

// MakeHandler returns the HTTP handler for the /ws endpoint. The upgrade
// itself is unauthenticated; identity is attached by the first join event,
// which must carry a verified token. Everything after the upgrade is a FIFO
// stream of Envelope frames dispatched into the relay.
func MakeHandler(r *Relay, allowedOrigins []string) http.HandlerFunc {
	checkOrigin := makeCheckOrigin(allowedOrigins)
	upgrader := websocket.Upgrader{CheckOrigin: checkOrigin}

	return func(w http.ResponseWriter, req *http.Request) {
		ws, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}

		conn := newWSConn(ws)
		r.Connect(conn)
		go conn.writePump()

		defer func() {
			r.Disconnect(conn)
			close(conn.done)
		}()

		ws.SetReadLimit(maxMessageSize)
		ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			ws.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})

		ctx := req.Context()
		for {
			_, raw, err := ws.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
					log.Printf("ws: read: %v", err)
				}
				return
			}

			var env Envelope
			if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
				conn.Send(NewEnvelope(EventError, ErrorPayload{
					Code:    CodeInvalidPayload,
					Message: "frames must be {event, data} JSON objects",
				}))
				continue
			}
			r.HandleEvent(ctx, conn, env)
		}
	}
}
