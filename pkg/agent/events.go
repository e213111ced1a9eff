package agent

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/savehub/savehub/pkg/logger"
	"github.com/savehub/savehub/pkg/state"
)

var upgrader = websocket.Upgrader{
	// the agent trusts its own LAN, the dashboard may be
	// served from a different origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

// broadcaster pushes a fresh snapshot to every connected client after
// each applied mutation. Polling GET /state stays the baseline
// contract; this channel only shortens the repaint delay.
type broadcaster struct {
	log *logger.Logger

	mu      sync.Mutex
	sockets map[*socket]struct{}

	q    chan state.Snapshot
	done chan struct{}
}

type socket struct {
	conn *websocket.Conn
	// write channel, drained by the socket's own writer
	q chan state.Snapshot
}

func newBroadcaster(log *logger.Logger) *broadcaster {
	b := &broadcaster{
		log:     log,
		sockets: map[*socket]struct{}{},
		q:       make(chan state.Snapshot, 8),
		done:    make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *broadcaster) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	k := &socket{conn: conn, q: make(chan state.Snapshot, 4)}

	b.mu.Lock()
	b.sockets[k] = struct{}{}
	b.mu.Unlock()

	go b.write(k)
	go b.read(k)
}

// broadcast fans a snapshot out to all sockets. A slow consumer drops
// intermediate snapshots instead of stalling the mutation worker.
func (b *broadcaster) broadcast(snap state.Snapshot) {
	select {
	case b.q <- snap:
	default:
	}
}

func (b *broadcaster) run() {
	for {
		select {
		case snap := <-b.q:
			b.mu.Lock()
			for k := range b.sockets {
				select {
				case k.q <- snap:
				default:
				}
			}
			b.mu.Unlock()
		case <-b.done:
			return
		}
	}
}

func (b *broadcaster) write(k *socket) {
	for {
		select {
		case snap := <-k.q:
			if err := k.conn.WriteJSON(snap); err != nil {
				b.log.Debug().Err(err).Msg("websocket write failed")
				return
			}
		case <-b.done:
			_ = k.conn.Close()
			return
		}
	}
}

// read discards client frames; its job is noticing the close.
func (b *broadcaster) read(k *socket) {
	defer func() {
		_ = k.conn.Close()
		b.mu.Lock()
		delete(b.sockets, k)
		b.mu.Unlock()
	}()
	for {
		if _, _, err := k.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (b *broadcaster) stop() { close(b.done) }
