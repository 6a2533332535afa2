package router

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestRouter_TeacherJoinsThreeRooms(t *testing.T) {
	rt := NewRouter()

	if err := rt.Join("c1", "teacher-conn", true); err != nil {
		t.Fatalf("teacher join failed: %v", err)
	}
	if err := rt.Join("c1", "student-conn", false); err != nil {
		t.Fatalf("student join failed: %v", err)
	}

	if got := rt.Members("c1"); !reflect.DeepEqual(got, []string{"student-conn", "teacher-conn"}) {
		t.Errorf("unexpected members: %v", got)
	}
	if got := rt.Teachers("c1"); !reflect.DeepEqual(got, []string{"teacher-conn"}) {
		t.Errorf("unexpected teachers: %v", got)
	}
	if got := rt.Moderators("c1"); !reflect.DeepEqual(got, []string{"teacher-conn"}) {
		t.Errorf("unexpected moderators: %v", got)
	}
	if err := rt.CheckInvariant("c1"); err != nil {
		t.Errorf("invariant violated: %v", err)
	}
}

func TestRouter_JoinIsIdempotent(t *testing.T) {
	rt := NewRouter()

	for i := 0; i < 3; i++ {
		if err := rt.Join("c1", "conn", true); err != nil {
			t.Fatalf("join %d failed: %v", i, err)
		}
	}

	if n := len(rt.Members("c1")); n != 1 {
		t.Errorf("expected 1 member, got %d", n)
	}
	if n := len(rt.Teachers("c1")); n != 1 {
		t.Errorf("expected 1 teacher, got %d", n)
	}
}

func TestRouter_JoinRejectsSecondClass(t *testing.T) {
	rt := NewRouter()

	if err := rt.Join("c1", "conn", false); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	err := rt.Join("c2", "conn", false)
	if !errors.Is(err, ErrClassMismatch) {
		t.Fatalf("expected ErrClassMismatch, got %v", err)
	}
	if classID, _ := rt.ClassOf("conn"); classID != "c1" {
		t.Errorf("class changed to %s", classID)
	}
	if len(rt.Members("c2")) != 0 {
		t.Error("connection leaked into second class")
	}
}

func TestRouter_JoinValidation(t *testing.T) {
	rt := NewRouter()

	if err := rt.Join("", "conn", false); !errors.Is(err, ErrInvalidClassID) {
		t.Errorf("expected ErrInvalidClassID, got %v", err)
	}
	if err := rt.Join("c1", "", false); !errors.Is(err, ErrInvalidConnection) {
		t.Errorf("expected ErrInvalidConnection, got %v", err)
	}
}

func TestRouter_LeaveReclaimsEmptyRooms(t *testing.T) {
	rt := NewRouter()
	_ = rt.Join("c1", "a", true)
	_ = rt.Join("c1", "b", false)
	_ = rt.Join("c2", "c", false)

	classID, ok := rt.Leave("a")
	if !ok || classID != "c1" {
		t.Fatalf("Leave(a) = %q, %v", classID, ok)
	}
	if len(rt.Teachers("c1")) != 0 || len(rt.Moderators("c1")) != 0 {
		t.Error("teacher still present in role rooms")
	}
	if !reflect.DeepEqual(rt.Classes(), []string{"c1", "c2"}) {
		t.Errorf("unexpected classes: %v", rt.Classes())
	}

	rt.Leave("b")
	if !reflect.DeepEqual(rt.Classes(), []string{"c2"}) {
		t.Errorf("empty room not reclaimed: %v", rt.Classes())
	}

	if _, ok := rt.Leave("b"); ok {
		t.Error("second leave should report no class")
	}
	if _, ok := rt.ClassOf("b"); ok {
		t.Error("ClassOf should forget departed connection")
	}
}

func TestRouter_QueriesOnUnknownClass(t *testing.T) {
	rt := NewRouter()

	if rt.Members("missing") != nil || rt.Teachers("missing") != nil || rt.Moderators("missing") != nil {
		t.Error("expected nil slices for unknown class")
	}
	if err := rt.CheckInvariant("missing"); err != nil {
		t.Errorf("unexpected invariant error: %v", err)
	}
}

func TestRouter_CheckInvariantDetectsOrphans(t *testing.T) {
	rt := NewRouter()
	_ = rt.Join("c1", "t", true)

	delete(rt.rooms["c1"].members, "t")

	if err := rt.CheckInvariant("c1"); !errors.Is(err, ErrRoleNotMember) {
		t.Errorf("expected ErrRoleNotMember, got %v", err)
	}
}

func TestNamespace(t *testing.T) {
	if got := NamespaceFor("abc"); got != "class-abc" {
		t.Errorf("NamespaceFor = %s", got)
	}

	tests := []struct {
		namespace string
		classID   string
		ok        bool
	}{
		{"class-abc", "abc", true},
		{"/class-abc_1", "abc_1", true},
		{"class-", "", false},
		{"room-abc", "", false},
		{"class-a b", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		classID, ok := ClassIDFromNamespace(tt.namespace)
		if classID != tt.classID || ok != tt.ok {
			t.Errorf("ClassIDFromNamespace(%q) = %q, %v; want %q, %v", tt.namespace, classID, ok, tt.classID, tt.ok)
		}
	}
}

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < DefaultSignalLimit; i++ {
		if !rl.Allow("u1", start.Add(time.Duration(i)*time.Millisecond)) {
			t.Fatalf("signal %d should be allowed", i+1)
		}
	}
	if rl.Allow("u1", start.Add(time.Second)) {
		t.Error("signal 101 should be rejected")
	}
	if !rl.Allow("u2", start.Add(time.Second)) {
		t.Error("other users have their own budget")
	}
	if !rl.Allow("u1", start.Add(time.Minute)) {
		t.Error("a new window should reset the budget")
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(10, time.Minute)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	rl.Allow("old", start)
	rl.Allow("recent", start.Add(4*time.Minute))

	removed := rl.Cleanup(start.Add(6 * time.Minute))
	if removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}
	if rl.Tracked() != 1 {
		t.Errorf("expected 1 tracked, got %d", rl.Tracked())
	}
}
