package transport

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/signalsfoundry/mission-runtime/internal/observability"
)

const writeWait = 10 * time.Second

// frameConn is the slice of *websocket.Conn the outbox writes through.
type frameConn interface {
	WriteJSON(v any) error
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
}

// outbox is the bounded per-member mailbox between a session runtime and
// one websocket connection. It carries two lanes: a FIFO lane for acks, TC,
// alarm, and close events, and a single coalescing slot for state updates
// where only the freshest payload survives. A runtime send never blocks;
// the cost of a slow consumer is borne by that consumer alone.
type outbox struct {
	conn      frameConn
	metrics   *observability.RuntimeCollector
	highWater int
	// onOverflow runs once when the FIFO lane exceeds highWater. The owner
	// uses it to drop the connection.
	onOverflow func()

	mu     sync.Mutex
	fifo   []ServerFrame
	state  *ServerFrame
	closed bool

	notify chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newOutbox(conn frameConn, highWater int, metrics *observability.RuntimeCollector, onOverflow func()) *outbox {
	o := &outbox{
		conn:       conn,
		metrics:    metrics,
		highWater:  highWater,
		onOverflow: onOverflow,
		notify:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	go o.writeLoop()
	return o
}

// Send enqueues onto the FIFO lane. Implements session.Outbound.
func (o *outbox) Send(event string, payload any) {
	o.enqueue(ServerFrame{Type: event, Payload: payload})
}

// SendState replaces any pending state update. Implements session.Outbound.
func (o *outbox) SendState(payload any) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	if o.state != nil && o.metrics != nil {
		o.metrics.UpdatesCoalesced.Inc()
	}
	o.state = &ServerFrame{Type: "state:update", Payload: payload}
	o.mu.Unlock()
	o.kick()
}

// SendAck enqueues a reply frame onto the FIFO lane, preserving order with
// broadcasts already queued.
func (o *outbox) SendAck(id string, ack AckPayload) {
	o.enqueue(ServerFrame{Type: TypeAck, ID: id, Payload: ack})
}

func (o *outbox) enqueue(f ServerFrame) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	if len(o.fifo) >= o.highWater {
		o.closed = true
		overflow := o.onOverflow
		o.mu.Unlock()
		if overflow != nil {
			overflow()
		}
		o.Close()
		return
	}
	o.fifo = append(o.fifo, f)
	o.mu.Unlock()
	o.kick()
}

func (o *outbox) kick() {
	select {
	case o.notify <- struct{}{}:
	default:
	}
}

// Close stops the writer. Pending frames are discarded; the connection is
// closed by the owner.
func (o *outbox) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.once.Do(func() { close(o.done) })
}

// next pops one frame, FIFO lane first so events precede the state that
// summarizes them.
func (o *outbox) next() (ServerFrame, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.fifo) > 0 {
		f := o.fifo[0]
		o.fifo = o.fifo[1:]
		return f, true
	}
	if o.state != nil {
		f := *o.state
		o.state = nil
		return f, true
	}
	return ServerFrame{}, false
}

func (o *outbox) writeLoop() {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-o.done:
			return
		case <-ping.C:
			o.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := o.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				o.Close()
				return
			}
		case <-o.notify:
			for {
				f, ok := o.next()
				if !ok {
					break
				}
				o.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := o.conn.WriteJSON(f); err != nil {
					o.Close()
					return
				}
			}
		}
	}
}
