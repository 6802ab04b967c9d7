package events

import (
	"encoding/json"
	"time"

	"github.com/dkeye/Presence/internal/core"
	"github.com/dkeye/Presence/internal/domain"
)

// Pass-through notifications for the tutoring workflow. Content is not
// interpreted; only the target and attribution are set server-side.

type assignmentUpdatedPayload struct {
	AssignmentID string        `json:"assignmentId"`
	StudentID    domain.UserID `json:"studentId" validate:"required"`
	Action       string        `json:"action" validate:"required"`
}

func (r *Router) handleAssignmentUpdated(ctx Context, data json.RawMessage) ([]core.Outbound, error) {
	var p assignmentUpdatedPayload
	if err := r.bind(data, &p); err != nil {
		return nil, err
	}
	resp := struct {
		AssignmentID string        `json:"assignmentId,omitempty"`
		Action       string        `json:"action"`
		UpdatedBy    domain.UserID `json:"updatedBy"`
		Timestamp    time.Time     `json:"timestamp"`
	}{p.AssignmentID, p.Action, ctx.User.ID, ctx.Now}
	return []core.Outbound{{Target: core.ToRoom(domain.PersonalRoom(p.StudentID)), Event: "assignment_update", Payload: resp}}, nil
}

type gradeSubmittedPayload struct {
	AssignmentID string          `json:"assignmentId"`
	StudentID    domain.UserID   `json:"studentId" validate:"required"`
	Grade        json.RawMessage `json:"grade"`
}

func (r *Router) handleGradeSubmitted(ctx Context, data json.RawMessage) ([]core.Outbound, error) {
	var p gradeSubmittedPayload
	if err := r.bind(data, &p); err != nil {
		return nil, err
	}
	if err := requireRaw("grade", p.Grade); err != nil {
		return nil, err
	}
	resp := struct {
		AssignmentID string          `json:"assignmentId,omitempty"`
		Grade        json.RawMessage `json:"grade"`
		GradedBy     domain.UserID   `json:"gradedBy"`
		Timestamp    time.Time       `json:"timestamp"`
	}{p.AssignmentID, p.Grade, ctx.User.ID, ctx.Now}
	return []core.Outbound{{Target: core.ToRoom(domain.PersonalRoom(p.StudentID)), Event: "grade_submitted", Payload: resp}}, nil
}

type queryUpdatedPayload struct {
	QueryID    string        `json:"queryId"`
	Status     string        `json:"status"`
	AssignedTo domain.UserID `json:"assignedTo"`
}

// handleQueryUpdated only notifies when the query has an assignee.
func (r *Router) handleQueryUpdated(ctx Context, data json.RawMessage) ([]core.Outbound, error) {
	var p queryUpdatedPayload
	if err := r.bind(data, &p); err != nil {
		return nil, err
	}
	if p.AssignedTo == "" {
		return nil, nil
	}
	resp := struct {
		QueryID    string        `json:"queryId,omitempty"`
		Status     string        `json:"status,omitempty"`
		AssignedTo domain.UserID `json:"assignedTo"`
		AssignedBy domain.UserID `json:"assignedBy"`
		Timestamp  time.Time     `json:"timestamp"`
	}{p.QueryID, p.Status, p.AssignedTo, ctx.User.ID, ctx.Now}
	return []core.Outbound{{Target: core.ToRoom(domain.PersonalRoom(p.AssignedTo)), Event: "query_assigned", Payload: resp}}, nil
}

type appointmentScheduledPayload struct {
	AppointmentID string          `json:"appointmentId"`
	StudentID     domain.UserID   `json:"studentId" validate:"required"`
	TutorID       domain.UserID   `json:"tutorId" validate:"required"`
	StartTime     json.RawMessage `json:"startTime"`
}

type appointmentScheduled struct {
	AppointmentID string          `json:"appointmentId,omitempty"`
	StudentID     domain.UserID   `json:"studentId,omitempty"`
	TutorID       domain.UserID   `json:"tutorId,omitempty"`
	StartTime     json.RawMessage `json:"startTime"`
	ScheduledBy   domain.UserID   `json:"scheduledBy"`
	Timestamp     time.Time       `json:"timestamp"`
}

// handleAppointmentScheduled tells each side about the other party.
func (r *Router) handleAppointmentScheduled(ctx Context, data json.RawMessage) ([]core.Outbound, error) {
	var p appointmentScheduledPayload
	if err := r.bind(data, &p); err != nil {
		return nil, err
	}
	if err := requireRaw("startTime", p.StartTime); err != nil {
		return nil, err
	}
	toStudent := appointmentScheduled{AppointmentID: p.AppointmentID, TutorID: p.TutorID, StartTime: p.StartTime, ScheduledBy: ctx.User.ID, Timestamp: ctx.Now}
	toTutor := appointmentScheduled{AppointmentID: p.AppointmentID, StudentID: p.StudentID, StartTime: p.StartTime, ScheduledBy: ctx.User.ID, Timestamp: ctx.Now}
	return []core.Outbound{
		{Target: core.ToRoom(domain.PersonalRoom(p.StudentID)), Event: "appointment_scheduled", Payload: toStudent},
		{Target: core.ToRoom(domain.PersonalRoom(p.TutorID)), Event: "appointment_scheduled", Payload: toTutor},
	}, nil
}

type appointmentCancelledPayload struct {
	AppointmentID string        `json:"appointmentId"`
	StudentID     domain.UserID `json:"studentId" validate:"required"`
	TutorID       domain.UserID `json:"tutorId" validate:"required"`
	Reason        string        `json:"reason" validate:"required"`
}

func (r *Router) handleAppointmentCancelled(ctx Context, data json.RawMessage) ([]core.Outbound, error) {
	var p appointmentCancelledPayload
	if err := r.bind(data, &p); err != nil {
		return nil, err
	}
	resp := struct {
		AppointmentID string        `json:"appointmentId,omitempty"`
		CancelledBy   domain.UserID `json:"cancelledBy"`
		Reason        string        `json:"reason"`
		Timestamp     time.Time     `json:"timestamp"`
	}{p.AppointmentID, ctx.User.ID, p.Reason, ctx.Now}
	out := make([]core.Outbound, 0, 2)
	for _, uid := range []domain.UserID{p.StudentID, p.TutorID} {
		out = append(out, core.Outbound{Target: core.ToRoom(domain.PersonalRoom(uid)), Event: "appointment_cancelled", Payload: resp})
	}
	return out, nil
}

type fileSharedPayload struct {
	RecipientID domain.UserID `json:"recipientId" validate:"required"`
	FileName    string        `json:"fileName" validate:"required"`
	FileSize    *int64        `json:"fileSize" validate:"required"`
	FileType    string        `json:"fileType" validate:"required"`
	FileURL     string        `json:"fileUrl" validate:"required"`
}

func (r *Router) handleFileShared(ctx Context, data json.RawMessage) ([]core.Outbound, error) {
	var p fileSharedPayload
	if err := r.bind(data, &p); err != nil {
		return nil, err
	}
	resp := struct {
		From      domain.UserID `json:"from"`
		FileName  string        `json:"fileName"`
		FileSize  int64         `json:"fileSize"`
		FileType  string        `json:"fileType"`
		FileURL   string        `json:"fileUrl"`
		Timestamp time.Time     `json:"timestamp"`
	}{ctx.User.ID, p.FileName, *p.FileSize, p.FileType, p.FileURL, ctx.Now}
	return []core.Outbound{{Target: core.ToRoom(domain.PersonalRoom(p.RecipientID)), Event: "file_received", Payload: resp}}, nil
}
