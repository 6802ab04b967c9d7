// Package events is the inbound event router: a dispatch table from event
// name to handler. Handlers return outbound effects instead of writing to a
// transport, so they can be exercised without one.
package events

import (
	"encoding/json"
	"errors"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/dkeye/Presence/internal/app"
	"github.com/dkeye/Presence/internal/core"
	"github.com/dkeye/Presence/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

// Context is the routing context of one inbound event.
type Context struct {
	Conn core.ConnID
	User domain.Identity
	Now  time.Time
}

type HandlerFunc func(ctx Context, data json.RawMessage) ([]core.Outbound, error)

// Hooks lets the owner observe routing without coupling handlers to audit.
type Hooks struct {
	OnEvent       func(event string, code string)
	OnCallStarted func(call domain.Call, by domain.UserID)
	OnCallEnded   func(res app.LeaveResult, by domain.UserID)
}

type Router struct {
	calls    *app.CallManager
	validate *validator.Validate
	handlers map[string]HandlerFunc
	hooks    Hooks
	strict   bool
}

type Option func(*Router)

// WithStrict re-raises handler panics instead of reporting INTERNAL.
func WithStrict(strict bool) Option { return func(r *Router) { r.strict = strict } }

func WithHooks(h Hooks) Option { return func(r *Router) { r.hooks = h } }

func NewRouter(calls *app.CallManager, opts ...Option) *Router {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	r := &Router{
		calls:    calls,
		validate: v,
		handlers: make(map[string]HandlerFunc),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.Handle("ping", r.handlePing)

	r.Handle("send_message", r.handleSendMessage)
	r.Handle("typing_start", r.handleTyping(true))
	r.Handle("typing_stop", r.handleTyping(false))
	r.Handle("message_delivered", r.handleMessageStatus("delivered"))
	r.Handle("message_read", r.handleMessageStatus("read"))

	r.Handle("join_call", r.handleJoinCall)
	r.Handle("leave_call", r.handleLeaveCall)
	r.Handle("webrtc_offer", r.handleOffer)
	r.Handle("webrtc_answer", r.handleAnswer)
	r.Handle("webrtc_ice_candidate", r.handleCandidate)

	r.Handle("assignment_updated", r.handleAssignmentUpdated)
	r.Handle("grade_submitted", r.handleGradeSubmitted)
	r.Handle("query_updated", r.handleQueryUpdated)
	r.Handle("appointment_scheduled", r.handleAppointmentScheduled)
	r.Handle("appointment_cancelled", r.handleAppointmentCancelled)
	r.Handle("file_shared", r.handleFileShared)

	r.Handle("whiteboard_draw", r.handleWhiteboardDraw)
	r.Handle("whiteboard_clear", r.handleWhiteboardClear)
	r.Handle("start_screen_share", r.handleScreenShare("screen_share_started"))
	r.Handle("stop_screen_share", r.handleScreenShare("screen_share_stopped"))
	return r
}

// Handle registers h for event, replacing any previous handler.
func (r *Router) Handle(event string, h HandlerFunc) {
	r.handlers[event] = h
}

func (r *Router) Events() []string {
	out := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Dispatch runs the handler for event. It never returns an error: failures
// become a direct error event to the originating connection.
func (r *Router) Dispatch(ctx Context, event string, data json.RawMessage) (out []core.Outbound) {
	h, ok := r.handlers[event]
	if !ok {
		return r.fail(ctx, event, app.Errorf(app.CodeUnknownEvent, "unknown event %q", event))
	}
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		if r.strict {
			panic(rec)
		}
		log.Error().Str("module", "events").Str("event", event).Str("conn", string(ctx.Conn)).Interface("panic", rec).Msg("handler panic")
		out = r.fail(ctx, event, app.ErrInternal)
	}()

	res, err := h(ctx, data)
	if err != nil {
		return r.fail(ctx, event, err)
	}
	r.observe(event, "")
	return res
}

func (r *Router) fail(ctx Context, event string, err error) []core.Outbound {
	var appErr *app.Error
	if !errors.As(err, &appErr) {
		appErr = app.Errorf(app.CodeInternal, "%v", err)
	}
	log.Warn().Str("module", "events").Str("event", event).Str("conn", string(ctx.Conn)).Str("user", string(ctx.User.ID)).Str("code", appErr.Code).Msg(appErr.Error())
	r.observe(event, appErr.Code)
	return []core.Outbound{ErrorOutbound(ctx.Conn, event, appErr)}
}

func (r *Router) observe(event, code string) {
	if r.hooks.OnEvent != nil {
		r.hooks.OnEvent(event, code)
	}
}

// ErrorOutbound builds the direct error event for cid.
func ErrorOutbound(cid core.ConnID, event string, err *app.Error) core.Outbound {
	msg := err.Msg
	if msg == "" {
		msg = strings.ToLower(strings.ReplaceAll(err.Code, "_", " "))
	}
	return core.Outbound{
		Target: core.ToConn(cid),
		Event:  "error",
		Payload: errorPayload{
			Code:    err.Code,
			Message: msg,
			Event:   event,
		},
	}
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}

// bind decodes data into v and enforces `validate` tags.
func (r *Router) bind(data json.RawMessage, v any) error {
	if len(data) == 0 || isNull(data) {
		data = json.RawMessage("{}")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return app.Errorf(app.CodeBadPayload, "%v", err)
	}
	if err := r.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return app.Errorf(app.CodeMissingField, "%s is required", verrs[0].Field())
		}
		return app.Errorf(app.CodeBadPayload, "%v", err)
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

func requireRaw(name string, raw json.RawMessage) error {
	if len(raw) == 0 || isNull(raw) {
		return app.Errorf(app.CodeMissingField, "%s is required", name)
	}
	return nil
}
