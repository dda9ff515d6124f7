package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/evgeniums/hatn-go/internal/mqueue"
)

// tailHub fans out newly-accepted messages to any number of connected
// operators watching /debug/mq/tail. This is a best-effort live view for
// humans, independent of the at-least-once cursor-based delivery path
// internal/mqueue.Subscriber implements (spec §4.11.4) — a slow or absent
// websocket client never blocks message acceptance.
type tailHub struct {
	upgrader websocket.Upgrader

	mu   sync.Mutex
	subs map[chan mqueue.Message]struct{}
}

func newTailHub() *tailHub {
	return &tailHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		subs: make(map[chan mqueue.Message]struct{}),
	}
}

// Publish broadcasts msg to every connected tail client, dropping it for
// any subscriber whose buffer is full rather than blocking acceptance.
func (h *tailHub) Publish(msg mqueue.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *tailHub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch := make(chan mqueue.Message, 32)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
		close(ch)
	}()

	conn.SetReadDeadline(time.Now().Add(time.Hour))
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case msg := <-ch:
			payload, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}
}
