package types

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestUser_IsTeacherEquivalent(t *testing.T) {
	tests := []struct {
		userType string
		want     bool
	}{
		{UserTypeTeacher, true},
		{UserTypeCampusTeacher, true},
		{UserTypeCampusCoordinator, true},
		{UserTypeStudent, false},
		{UserTypeCampusStudent, false},
		{UserTypeCampusAdmin, false},
		{UserTypeSystemAdmin, false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.userType, func(t *testing.T) {
			u := User{ID: "u1", UserType: tt.userType}
			if got := u.IsTeacherEquivalent(); got != tt.want {
				t.Errorf("IsTeacherEquivalent(%q) = %v, want %v", tt.userType, got, tt.want)
			}
		})
	}
}

func TestSessionInfo_IsExpiredAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := &SessionInfo{Expires: now.Add(time.Minute)}

	if s.IsExpiredAt(now) {
		t.Error("session expiring in a minute should be live")
	}
	if !s.IsExpiredAt(now.Add(time.Minute)) {
		t.Error("session should be expired exactly at its expiry")
	}
	if !s.IsExpiredAt(now.Add(time.Hour)) {
		t.Error("session should be expired after its expiry")
	}
}

func TestUser_JSONShape(t *testing.T) {
	data, err := json.Marshal(User{ID: "u1", Name: "Ada", UserType: UserTypeTeacher})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"id":"u1","name":"Ada","userType":"TEACHER"}`
	if string(data) != want {
		t.Errorf("got %s, want %s", data, want)
	}
}

func TestInboundFrame_Validate(t *testing.T) {
	tests := []struct {
		name    string
		frame   InboundFrame
		wantErr error
	}{
		{"typing start", InboundFrame{Event: "typing:start", Data: json.RawMessage(`{"activityId":"a1"}`)}, nil},
		{"no data", InboundFrame{Event: "user:idle"}, nil},
		{"empty event", InboundFrame{Event: ""}, ErrInvalidEventName},
		{"uppercase event", InboundFrame{Event: "Typing:Start"}, ErrInvalidEventName},
		{"trailing colon", InboundFrame{Event: "typing:"}, ErrInvalidEventName},
		{"oversized", InboundFrame{Event: "typing:start", Data: json.RawMessage(`"` + strings.Repeat("a", MaxPayloadBytes) + `"`)}, ErrPayloadTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.frame.Validate(); err != tt.wantErr {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestIsValidIDs(t *testing.T) {
	valid := []string{"c1", "clx0abc123", "class_1", "550e8400-e29b-41d4-a716-446655440000"}
	invalid := []string{"", "has space", "semi;colon", strings.Repeat("x", 65)}

	for _, id := range valid {
		if !IsValidUserID(id) || !IsValidClassID(id) {
			t.Errorf("expected %q to be valid", id)
		}
	}
	for _, id := range invalid {
		if IsValidUserID(id) || IsValidClassID(id) {
			t.Errorf("expected %q to be invalid", id)
		}
	}
}
