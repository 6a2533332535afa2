package interfaces

// Broadcaster is the surface the rest of the LMS uses to push server
// initiated events. Every call is fire-and-forget.
type Broadcaster interface {
	BroadcastToClass(classID, event string, data any)
	BroadcastToTeachers(classID, event string, data any)
	BroadcastToUser(userID, event string, data any)
}
