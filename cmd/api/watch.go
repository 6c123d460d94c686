package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"hairlab/internal/strategystore"
)

const (
	watchWSWriteWait = 10 * time.Second
	watchWSPongWait  = 60 * time.Second
	watchWSPingEvery = (watchWSPongWait * 9) / 10
)

var watchWSUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// handleStrategyWatchWS streams strategy status snapshots over a websocket:
// one snapshot on connect, then one after every recorded selection and
// evolution. Slow consumers get the newest snapshot, not a backlog.
func (s *apiServer) handleStrategyWatchWS(w http.ResponseWriter, r *http.Request) {
	conn, err := watchWSUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := conn.SetReadDeadline(time.Now().Add(watchWSPongWait)); err != nil {
		log.Printf("strategy watch ws set read deadline failed: %v", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(watchWSPongWait))
	})

	writeCh := make(chan strategystore.Status, 8)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(watchWSPingEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case st := <-writeCh:
				if err := conn.SetWriteDeadline(time.Now().Add(watchWSWriteWait)); err != nil {
					return
				}
				if err := conn.WriteJSON(st); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(watchWSWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	statusCh, unsubscribe := s.eng.Watch()
	defer unsubscribe()

	pushWatchWS(writeCh, s.eng.Status(ctx))

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case st, ok := <-statusCh:
				if !ok {
					return
				}
				pushWatchWS(writeCh, st)
			}
		}
	}()

	// Reads only service pong frames and client disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			cancel()
			<-writerDone
			return
		}
	}
}

// pushWatchWS drops the oldest queued snapshot when the buffer is full so
// the connection always converges on the latest state.
func pushWatchWS(writeCh chan strategystore.Status, st strategystore.Status) {
	select {
	case writeCh <- st:
		return
	default:
	}
	select {
	case <-writeCh:
	default:
	}
	select {
	case writeCh <- st:
	default:
	}
}
