package types

import (
	"encoding/json"
	"time"
)

// User types as stored by the LMS. Only the teacher-equivalent ones get
// routed into the teacher and moderation rooms of a class.
const (
	UserTypeSystemAdmin       = "SYSTEM_ADMIN"
	UserTypeSystemManager     = "SYSTEM_MANAGER"
	UserTypeCampusAdmin       = "CAMPUS_ADMIN"
	UserTypeCampusCoordinator = "CAMPUS_COORDINATOR"
	UserTypeCampusTeacher     = "CAMPUS_TEACHER"
	UserTypeCampusStudent     = "CAMPUS_STUDENT"
	UserTypeTeacher           = "TEACHER"
	UserTypeStudent           = "STUDENT"
)

// User is the authenticated user snapshot carried by a connection and
// embedded in every presence notice.
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	UserType string `json:"userType"`
}

// IsTeacherEquivalent reports whether the user joins the teacher and
// moderation rooms of a class in addition to the general room.
func (u User) IsTeacherEquivalent() bool {
	switch u.UserType {
	case UserTypeTeacher, UserTypeCampusTeacher, UserTypeCampusCoordinator:
		return true
	default:
		return false
	}
}

// SessionInfo is what a session token resolves to.
type SessionInfo struct {
	User    User      `json:"user"`
	Expires time.Time `json:"expires"`
}

// IsExpiredAt reports whether the session is no longer live at t.
func (s *SessionInfo) IsExpiredAt(t time.Time) bool {
	return !s.Expires.After(t)
}

// Frame is an outbound event frame written to a client.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// InboundFrame is an event frame read from a client. Data stays raw because
// typing contexts are opaque and relayed untouched.
type InboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}
