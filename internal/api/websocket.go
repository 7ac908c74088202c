// Websocket subscribe endpoint. A client connects, optionally narrowing
// to a territory list via ?territories=1,2,3, receives a full snapshot
// dump of its topics, then a stream of idempotent snapshot messages.
// Clients that reconnect get the full dump again, which is the resync
// contract: delivery is at-least-once, not gap-free.
package api

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/frontline/internal/broadcast"
	"github.com/talgya/frontline/internal/territory"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16 * 1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // CORS handled above
}

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 45 * time.Second
)

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var ids []territory.TerritoryID
	if raw := r.URL.Query().Get("territories"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			id, err := strconv.ParseUint(strings.TrimSpace(part), 10, 64)
			if err != nil {
				http.Error(w, "bad territories param", http.StatusBadRequest)
				return
			}
			tid := territory.TerritoryID(id)
			if _, ok := s.Ledger.Definition(tid); !ok {
				http.Error(w, "unknown territory "+part, http.StatusNotFound)
				return
			}
			ids = append(ids, tid)
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := s.Hub.Subscribe(ids...)
	defer s.Hub.Unsubscribe(sub)

	// Initial full sync of the subscribed topics, in id order.
	if err := s.sendInitialState(conn, ids); err != nil {
		return
	}

	// Writer goroutine: fan-out messages plus keepalive pings.
	done := make(chan struct{})
	go func() {
		defer close(done)
		ping := time.NewTicker(pingPeriod)
		defer ping.Stop()
		for {
			select {
			case b, ok := <-sub.Out():
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					return
				}
			case <-ping.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop: clients send nothing meaningful; this just detects
	// disconnects and services pongs.
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	}

	s.Hub.Unsubscribe(sub)
	<-done
}

func (s *Server) sendInitialState(conn *websocket.Conn, ids []territory.TerritoryID) error {
	var snaps []territory.Snapshot
	if len(ids) == 0 {
		snaps = s.Ledger.Materializer().All()
		sort.Slice(snaps, func(i, j int) bool { return snaps[i].TerritoryID < snaps[j].TerritoryID })
	} else {
		for _, id := range ids {
			if snap, ok := s.Ledger.Materializer().Get(id); ok {
				snaps = append(snaps, snap)
			}
		}
	}

	for _, snap := range snaps {
		b, err := broadcast.EncodeSnapshot(snap)
		if err != nil {
			return err
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			return err
		}
	}
	return nil
}
