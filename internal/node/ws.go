package node

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/vuittont60/scope/internal/observability"
	"github.com/vuittont60/scope/internal/solana"
)

// wsConn is one WebSocket client. Writes go through send so that publishers
// never block on a slow socket.
type wsConn struct {
	conn *websocket.Conn
	send chan interface{}
	done chan struct{}
	once sync.Once
}

func (c *wsConn) close() {
	c.once.Do(func() { close(c.done) })
}

type wsSub struct {
	id      int64
	address solana.Pubkey
	conn    *wsConn
}

// hub fans committed account changes out to subscribers.
type hub struct {
	log zerolog.Logger

	mu     sync.RWMutex
	nextID int64
	subs   map[int64]*wsSub
	byAddr map[solana.Pubkey]map[int64]*wsSub
}

func newHub(log zerolog.Logger) *hub {
	return &hub{
		log:    log,
		subs:   make(map[int64]*wsSub),
		byAddr: make(map[solana.Pubkey]map[int64]*wsSub),
	}
}

func (h *hub) subscribe(conn *wsConn, address solana.Pubkey) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	sub := &wsSub{id: h.nextID, address: address, conn: conn}
	h.subs[sub.id] = sub
	if h.byAddr[address] == nil {
		h.byAddr[address] = make(map[int64]*wsSub)
	}
	h.byAddr[address][sub.id] = sub
	observability.AddSubscriptions(1)
	return sub.id
}

// unsubscribe removes id if it belongs to conn.
func (h *hub) unsubscribe(conn *wsConn, id int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub, ok := h.subs[id]
	if !ok || sub.conn != conn {
		return false
	}
	h.remove(sub)
	return true
}

func (h *hub) dropConn(conn *wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		if sub.conn == conn {
			h.remove(sub)
		}
	}
}

func (h *hub) remove(sub *wsSub) {
	delete(h.subs, sub.id)
	delete(h.byAddr[sub.address], sub.id)
	if len(h.byAddr[sub.address]) == 0 {
		delete(h.byAddr, sub.address)
	}
	observability.AddSubscriptions(-1)
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// publish is the bank's account listener.
func (h *hub) publish(address solana.Pubkey, info *solana.AccountInfo, slot uint64) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.byAddr[address] {
		var result solana.AccountResult
		result.Context.Slot = slot
		result.Value = solana.EncodeAccountValue(info)
		msg := &solana.WSNotification{
			JSONRPC: "2.0",
			Method:  "accountNotification",
			Params:  &solana.WSNotificationParams{Subscription: sub.id, Result: result},
		}
		select {
		case sub.conn.send <- msg:
			observability.RecordNotification()
		default:
			h.log.Warn().
				Int64("subscription", sub.id).
				Stringer("address", address).
				Msg("subscriber queue full, notification dropped")
		}
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn := &wsConn{
		conn: ws,
		send: make(chan interface{}, s.opts.NotificationBuffer),
		done: make(chan struct{}),
	}

	go s.writeLoop(conn)
	s.readLoop(conn)

	conn.close()
	s.hub.dropConn(conn)
	ws.Close()
}

func (s *Server) readLoop(conn *wsConn) {
	for {
		_, message, err := conn.conn.ReadMessage()
		if err != nil {
			return
		}

		var req solana.RPCRequest
		if err := json.Unmarshal(message, &req); err != nil {
			s.reply(conn, &solana.RPCResponse{JSONRPC: "2.0", Error: &solana.RPCError{Code: solana.CodeParseError, Message: "invalid JSON"}})
			continue
		}

		switch req.Method {
		case "accountSubscribe":
			var key string
			if len(req.Params) < 1 || json.Unmarshal(req.Params[0], &key) != nil {
				s.reply(conn, &solana.RPCResponse{JSONRPC: "2.0", ID: req.ID, Error: invalidParams("expected an address")})
				continue
			}
			address, err := solana.PubkeyFromString(key)
			if err != nil {
				s.reply(conn, &solana.RPCResponse{JSONRPC: "2.0", ID: req.ID, Error: invalidParams("address: %v", err)})
				continue
			}
			id := s.hub.subscribe(conn, address)
			s.reply(conn, &solana.WSSubscribeResponse{JSONRPC: "2.0", ID: req.ID, Result: id})

		case "accountUnsubscribe":
			var id int64
			if len(req.Params) < 1 || json.Unmarshal(req.Params[0], &id) != nil {
				s.reply(conn, &solana.RPCResponse{JSONRPC: "2.0", ID: req.ID, Error: invalidParams("expected a subscription id")})
				continue
			}
			ok := s.hub.unsubscribe(conn, id)
			raw, _ := json.Marshal(ok)
			s.reply(conn, &solana.RPCResponse{JSONRPC: "2.0", ID: req.ID, Result: raw})

		default:
			s.reply(conn, &solana.RPCResponse{JSONRPC: "2.0", ID: req.ID, Error: &solana.RPCError{
				Code:    solana.CodeMethodNotFound,
				Message: "method not found: " + req.Method,
			}})
		}
	}
}

func (s *Server) reply(conn *wsConn, msg interface{}) {
	select {
	case conn.send <- msg:
	case <-conn.done:
	}
}

func (s *Server) writeLoop(conn *wsConn) {
	for {
		select {
		case <-conn.done:
			return
		case msg := <-conn.send:
			conn.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := conn.conn.WriteJSON(msg); err != nil {
				s.log.Debug().Err(err).Msg("websocket write failed")
				conn.close()
				conn.conn.Close()
				return
			}
		}
	}
}
