// Package http holds the REST surface of the hub: health, presence and
// call inspection, plus the admin operations.
package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/dkeye/Presence/internal/app"
	"github.com/dkeye/Presence/internal/app/orch"
	"github.com/dkeye/Presence/internal/core"
	"github.com/dkeye/Presence/internal/domain"
	"github.com/gin-gonic/gin"
)

// IdentityKey is the gin context key under which auth middleware stores
// the caller's domain.Identity.
const IdentityKey = "identity"

type Handlers struct {
	Orch    *orch.Orchestrator
	started time.Time
}

func NewHandlers(o *orch.Orchestrator) *Handlers {
	return &Handlers{Orch: o, started: time.Now()}
}

type HealthResponse struct {
	Status      string  `json:"status"`
	Uptime      float64 `json:"uptime"`
	Connections int     `json:"connections"`
	OnlineUsers int     `json:"onlineUsers"`
	ActiveCalls int     `json:"activeCalls"`
	// Rooms counts live rooms by kind.
	Rooms map[domain.RoomKind]int `json:"rooms"`
}

func (h *Handlers) Health(c *gin.Context) {
	rooms := make(map[domain.RoomKind]int)
	for _, r := range h.Orch.Rooms.List() {
		rooms[r.Kind]++
	}
	c.JSON(http.StatusOK, HealthResponse{
		Status:      "ok",
		Uptime:      time.Since(h.started).Seconds(),
		Connections: h.Orch.Registry.ConnCount(),
		OnlineUsers: len(h.Orch.Registry.OnlineUsers()),
		ActiveCalls: h.Orch.Calls.Count(),
		Rooms:       rooms,
	})
}

type PresenceResponse struct {
	Users []domain.UserID `json:"users"`
	Count int             `json:"count"`
}

func (h *Handlers) ListPresence(c *gin.Context) {
	users := h.Orch.Registry.OnlineUsers()
	c.JSON(http.StatusOK, PresenceResponse{Users: users, Count: len(users)})
}

type UserPresence struct {
	UserID      domain.UserID   `json:"userId"`
	Online      bool            `json:"online"`
	Connections []core.ConnInfo `json:"connections"`
}

func (h *Handlers) GetPresence(c *gin.Context) {
	uid := domain.UserID(c.Param("userId"))
	conns := make([]core.ConnInfo, 0)
	for _, cid := range h.Orch.Registry.ConnectionsFor(uid) {
		if info, ok := h.Orch.Registry.Info(cid); ok {
			conns = append(conns, info)
		}
	}
	sort.Slice(conns, func(i, j int) bool { return conns[i].ConnectedAt.Before(conns[j].ConnectedAt) })
	c.JSON(http.StatusOK, UserPresence{UserID: uid, Online: len(conns) > 0, Connections: conns})
}

type CallsResponse struct {
	Calls []domain.Call `json:"calls"`
	Count int           `json:"count"`
}

// ListCalls lists live calls, optionally only those declaring ?userId= as a participant.
func (h *Handlers) ListCalls(c *gin.Context) {
	calls := h.Orch.Calls.List()
	if uid := domain.UserID(c.Query("userId")); uid != "" {
		filtered := calls[:0]
		for _, call := range calls {
			if call.HasParticipant(uid) {
				filtered = append(filtered, call)
			}
		}
		calls = filtered
	}
	c.JSON(http.StatusOK, CallsResponse{Calls: calls, Count: len(calls)})
}

type EndCallRequest struct {
	Reason string `json:"reason"`
}

func (h *Handlers) EndCall(c *gin.Context) {
	var req EndCallRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body", "code": app.CodeBadPayload})
			return
		}
	}
	by := caller(c)
	err := h.Orch.EndCall(domain.CallID(c.Param("callId")), by.ID, req.Reason)
	if errors.Is(err, app.ErrUnknownCall) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "code": app.CodeUnknownCall})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "code": app.CodeInternal})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "call ended"})
}

type NotifyRequest struct {
	Payload json.RawMessage `json:"payload" binding:"required"`
}

type NotifyResponse struct {
	Delivered int `json:"delivered"`
}

func (h *Handlers) Notify(c *gin.Context) {
	var req NotifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "payload is required", "code": app.CodeMissingField})
		return
	}
	n := h.Orch.Notify(domain.UserID(c.Param("userId")), req.Payload)
	c.JSON(http.StatusOK, NotifyResponse{Delivered: n})
}

func caller(c *gin.Context) domain.Identity {
	if v, ok := c.Get(IdentityKey); ok {
		if id, ok := v.(domain.Identity); ok {
			return id
		}
	}
	return domain.Identity{}
}
