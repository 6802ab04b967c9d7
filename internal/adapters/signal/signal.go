package signal

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/dkeye/Presence/internal/app/orch"
	"github.com/dkeye/Presence/internal/config"
	"github.com/dkeye/Presence/internal/core"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// SessionTokenKey is the cookie-session key holding the credential set by
// POST /api/session.
const SessionTokenKey = "token"

type SignalWSController struct {
	Orch    *orch.Orchestrator
	Cfg     *config.Config
	Limiter *RateLimiter
}

func NewSignalWSController(o *orch.Orchestrator, cfg *config.Config) *SignalWSController {
	ctl := &SignalWSController{Orch: o, Cfg: cfg}
	if cfg.RateLimit > 0 {
		ctl.Limiter = NewRateLimiter(cfg.RateLimit, cfg.RateInterval)
	}
	return ctl
}

// WsSignalConn is the outbound half of a websocket. Sends never block: a
// full buffer reports core.ErrBackpressure.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

var _ core.SignalConnection = (*WsSignalConn)(nil)

func newWsSignalConn(ws *websocket.Conn, buffer int) *WsSignalConn {
	return &WsSignalConn{conn: ws, send: make(chan core.Frame, buffer)}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Credential looks for a token in the query string, the Authorization
// header and the cookie session, in that order.
func Credential(c *gin.Context) string {
	if t := c.Query("token"); t != "" {
		return t
	}
	if h := c.GetHeader("Authorization"); h != "" {
		if t, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(t)
		}
	}
	if t, ok := sessions.Default(c).Get(SessionTokenKey).(string); ok {
		return t
	}
	return ""
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	meta := orch.ConnMeta{Remote: c.ClientIP(), Agent: c.Request.UserAgent()}
	id, err := ctl.Orch.Authenticate(Credential(c), meta)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication failed", "code": "AUTHENTICATION_FAILED"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.Cfg.ReadLimit)

	cid := core.ConnID(uuid.NewString())
	conn := newWsSignalConn(ws, ctl.Cfg.SendBuffer)
	if err := ctl.Orch.OnConnect(id, cid, conn, meta); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("conn", string(cid)).Msg("register connection")
		conn.Close()
		return
	}
	log.Info().Str("module", "signal").Str("conn", string(cid)).Str("user", string(id.ID)).Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, cid, id.ID, conn)
}
