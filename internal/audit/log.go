package audit

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogSink writes records through zerolog.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(l *zerolog.Logger) *LogSink {
	if l == nil {
		l = &log.Logger
	}
	return &LogSink{logger: l.With().Str("module", "audit").Logger()}
}

func (s *LogSink) Record(r Record) {
	ev := s.logger.Info()
	if r.Kind == KindAuthFailure {
		ev = s.logger.Warn()
	}
	ev = ev.Str("kind", string(r.Kind)).Time("at", r.At)
	if r.User != "" {
		ev = ev.Str("user", string(r.User))
	}
	if r.Role != "" {
		ev = ev.Str("role", string(r.Role))
	}
	if r.Conn != "" {
		ev = ev.Str("conn", r.Conn)
	}
	if r.Call != "" {
		ev = ev.Str("call", string(r.Call))
	}
	if r.Reason != "" {
		ev = ev.Str("reason", r.Reason)
	}
	if r.Duration > 0 {
		ev = ev.Dur("duration", r.Duration)
	}
	if r.Remote != "" {
		ev = ev.Str("remote", r.Remote)
	}
	if r.Agent != "" {
		ev = ev.Str("agent", r.Agent)
	}
	ev.Msg("audit")
}
