package events

import (
	"encoding/json"
	"time"

	"github.com/dkeye/Presence/internal/core"
)

func (r *Router) handlePing(ctx Context, _ json.RawMessage) ([]core.Outbound, error) {
	resp := struct {
		Timestamp time.Time `json:"timestamp"`
	}{ctx.Now}
	return []core.Outbound{{Target: core.ToConn(ctx.Conn), Event: "pong", Payload: resp}}, nil
}
