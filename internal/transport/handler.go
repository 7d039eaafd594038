package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/signalsfoundry/mission-runtime/internal/auth"
	"github.com/signalsfoundry/mission-runtime/internal/logging"
	"github.com/signalsfoundry/mission-runtime/internal/observability"
	"github.com/signalsfoundry/mission-runtime/internal/session"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler serves the websocket surface and the small REST ops surface.
type Handler struct {
	registry  *session.Registry
	assembler *session.Assembler
	verifier  *auth.Verifier
	log       logging.Logger
	metrics   *observability.RuntimeCollector
	highWater int
}

// NewHandler wires the transport over a registry and assembler.
func NewHandler(reg *session.Registry, asm *session.Assembler, verifier *auth.Verifier, highWater int, log logging.Logger, metrics *observability.RuntimeCollector) *Handler {
	return &Handler{
		registry:  reg,
		assembler: asm,
		verifier:  verifier,
		log:       log,
		metrics:   metrics,
		highWater: highWater,
	}
}

// Routes builds the HTTP mux.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics.Handler())
	}
	r.Get("/ws", h.handleWS)
	r.Route("/v1/sessions", func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Post("/", h.createSession)
		r.Get("/", h.listSessions)
		r.Get("/{sessionID}", h.getSession)
	})
	return r
}

// tokenFrom pulls the bearer token from the Authorization header or, for
// websocket clients that can not set headers, the token query parameter.
func tokenFrom(r *http.Request) string {
	if bearer := r.Header.Get("Authorization"); strings.HasPrefix(bearer, "Bearer ") {
		return strings.TrimPrefix(bearer, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := h.verifier.Verify(tokenFrom(r))
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), p)))
	})
}

// ---- REST ops surface ----

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())

	var req session.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	sess, err := h.assembler.Create(r.Context(), p, req)
	if err != nil {
		if errors.Is(err, session.ErrSourceNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		h.log.Error(r.Context(), "session create failed", logging.String("error", err.Error()))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"live": h.registry.List()})
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	id := chi.URLParam(r, "sessionID")

	rt, err := h.registry.Acquire(r.Context(), p, id)
	if err != nil {
		writeAcquireError(w, err)
		return
	}
	snap, err := rt.StateSnapshot(r.Context())
	if err != nil {
		http.Error(w, "session closed", http.StatusGone)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func writeAcquireError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		http.Error(w, "session not found", http.StatusNotFound)
	case errors.Is(err, session.ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ---- websocket surface ----

// client is one websocket connection. A connection joins at most one
// session at a time.
type client struct {
	conn      *websocket.Conn
	out       *outbox
	principal auth.Principal
	log       logging.Logger

	mu     sync.Mutex
	rt     *session.Runtime
	handle *session.MemberHandle
}

func (h *Handler) handleWS(w http.ResponseWriter, r *http.Request) {
	p, err := h.verifier.Verify(tokenFrom(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(r.Context(), "websocket upgrade failed", logging.String("error", err.Error()))
		return
	}

	ctx, log := logging.WithConnLogger(r.Context(), h.log)
	c := &client{conn: conn, principal: p, log: log}
	c.out = newOutbox(conn, h.highWater, h.metrics, func() {
		log.Warn(context.Background(), "member mailbox overflow, dropping connection",
			logging.String("uid", p.UID))
		conn.Close()
	})

	log.Info(ctx, "websocket connected", logging.String("uid", p.UID))
	h.readLoop(c)
}

func (h *Handler) readLoop(c *client) {
	defer func() {
		c.leave(context.Background())
		c.out.Close()
		c.conn.Close()
		c.log.Info(context.Background(), "websocket disconnected",
			logging.String("uid", c.principal.UID))
	}()

	c.conn.SetReadLimit(1 << 16)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var frame ClientFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			return
		}
		h.dispatch(c, frame)
	}
}

func (h *Handler) dispatch(c *client, frame ClientFrame) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	switch frame.Type {
	case TypeSessionJoin:
		h.handleJoin(ctx, c, frame)
	case TypeSessionLeave:
		c.leave(ctx)
		c.out.SendAck(frame.ID, AckPayload{OK: true})
	case TypeCommandSubmit:
		h.handleSubmit(ctx, c, frame)
	case TypeAlarmAck:
		h.handleAlarmAck(ctx, c, frame)
	default:
		c.out.SendAck(frame.ID, AckPayload{OK: false, Error: "unknown frame type"})
	}
}

func (h *Handler) handleJoin(ctx context.Context, c *client, frame ClientFrame) {
	var req JoinPayload
	if err := json.Unmarshal(frame.Payload, &req); err != nil || req.SessionID == "" {
		c.out.SendAck(frame.ID, AckPayload{OK: false, Error: "bad join payload"})
		return
	}

	c.mu.Lock()
	already := c.rt != nil
	c.mu.Unlock()
	if already {
		c.out.SendAck(frame.ID, AckPayload{OK: false, Error: "already joined"})
		return
	}

	rt, err := h.registry.Acquire(ctx, c.principal, req.SessionID)
	if err != nil {
		c.out.SendAck(frame.ID, AckPayload{OK: false, Error: acquireErrorString(err)})
		return
	}
	handle, snap, err := rt.Join(ctx, c.principal, c.out)
	if err != nil {
		c.out.SendAck(frame.ID, AckPayload{OK: false, Error: acquireErrorString(err)})
		return
	}

	c.mu.Lock()
	c.rt = rt
	c.handle = handle
	c.mu.Unlock()

	c.out.SendAck(frame.ID, AckPayload{OK: true, Result: snap})
}

func (h *Handler) handleSubmit(ctx context.Context, c *client, frame ClientFrame) {
	rt := c.joined()
	if rt == nil {
		c.out.SendAck(frame.ID, AckPayload{OK: false, Error: "not joined"})
		return
	}
	var req SubmitPayload
	if err := json.Unmarshal(frame.Payload, &req); err != nil || req.Name == "" {
		c.out.SendAck(frame.ID, AckPayload{OK: false, Error: "bad command payload"})
		return
	}
	res, err := rt.SubmitCommand(ctx, c.principal, req.Name, req.Parameters)
	if err != nil {
		c.out.SendAck(frame.ID, AckPayload{OK: false, Error: acquireErrorString(err)})
		return
	}
	c.out.SendAck(frame.ID, AckPayload{OK: true, Result: res})
}

func (h *Handler) handleAlarmAck(ctx context.Context, c *client, frame ClientFrame) {
	rt := c.joined()
	if rt == nil {
		c.out.SendAck(frame.ID, AckPayload{OK: false, Error: "not joined"})
		return
	}
	var req AlarmAckPayload
	if err := json.Unmarshal(frame.Payload, &req); err != nil || req.AlarmID == "" {
		c.out.SendAck(frame.ID, AckPayload{OK: false, Error: "bad ack payload"})
		return
	}
	res, err := rt.AcknowledgeAlarm(ctx, c.principal, req.AlarmID)
	if err != nil {
		c.out.SendAck(frame.ID, AckPayload{OK: false, Error: acquireErrorString(err)})
		return
	}
	c.out.SendAck(frame.ID, AckPayload{OK: true, Result: map[string]string{"result": string(res)}})
}

func (c *client) joined() *session.Runtime {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rt
}

// leave detaches from the joined session, if any. Idempotent.
func (c *client) leave(ctx context.Context) {
	c.mu.Lock()
	rt, handle := c.rt, c.handle
	c.rt, c.handle = nil, nil
	c.mu.Unlock()
	if rt == nil {
		return
	}
	leaveCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rt.Leave(leaveCtx, handle); err != nil && !errors.Is(err, session.ErrClosed) {
		c.log.Warn(ctx, "session leave failed", logging.String("error", err.Error()))
	}
}

func acquireErrorString(err error) string {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return "NotFound"
	case errors.Is(err, session.ErrForbidden):
		return "Forbidden"
	case errors.Is(err, session.ErrClosed):
		return "Closed"
	case errors.Is(err, context.DeadlineExceeded):
		return "Timeout"
	default:
		return "Internal"
	}
}
