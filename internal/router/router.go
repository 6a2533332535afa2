// Package router keeps the per-class room table: the general room, the
// teacher room and the moderation room of every class with live members.
//
// A Router is not safe for concurrent use; the hub owns it and mutates it
// from its loop goroutine only.
package router

import (
	"fmt"
	"sort"
)

// Room holds the connection id sets of one class.
type Room struct {
	ClassID    string
	members    map[string]struct{}
	teachers   map[string]struct{}
	moderators map[string]struct{}
}

func newRoom(classID string) *Room {
	return &Room{
		ClassID:    classID,
		members:    make(map[string]struct{}),
		teachers:   make(map[string]struct{}),
		moderators: make(map[string]struct{}),
	}
}

func (r *Room) empty() bool {
	return len(r.members) == 0 && len(r.teachers) == 0 && len(r.moderators) == 0
}

// Router maps class ids to rooms and connections to their class.
type Router struct {
	rooms map[string]*Room
	conns map[string]string
}

// NewRouter creates an empty room table.
func NewRouter() *Router {
	return &Router{
		rooms: make(map[string]*Room),
		conns: make(map[string]string),
	}
}

// Join adds connID to the general room of classID. Teacher-equivalent
// connections also join the teacher and moderation rooms. Joining twice is
// a no-op; joining a second class is rejected.
func (rt *Router) Join(classID, connID string, teacherEquivalent bool) error {
	if classID == "" {
		return ErrInvalidClassID
	}
	if connID == "" {
		return ErrInvalidConnection
	}
	if current, ok := rt.conns[connID]; ok && current != classID {
		return fmt.Errorf("%w: %s is in %s", ErrClassMismatch, connID, current)
	}

	room, ok := rt.rooms[classID]
	if !ok {
		room = newRoom(classID)
		rt.rooms[classID] = room
	}

	room.members[connID] = struct{}{}
	if teacherEquivalent {
		room.teachers[connID] = struct{}{}
		room.moderators[connID] = struct{}{}
	}
	rt.conns[connID] = classID

	return rt.CheckInvariant(classID)
}

// Leave removes connID from every room it belongs to and reclaims rooms
// left empty. It returns the class the connection was in, if any.
func (rt *Router) Leave(connID string) (string, bool) {
	classID, ok := rt.conns[connID]
	if !ok {
		return "", false
	}
	delete(rt.conns, connID)

	if room, exists := rt.rooms[classID]; exists {
		delete(room.members, connID)
		delete(room.teachers, connID)
		delete(room.moderators, connID)
		if room.empty() {
			delete(rt.rooms, classID)
		}
	}
	return classID, true
}

// Members returns the general room of classID.
func (rt *Router) Members(classID string) []string {
	if room, ok := rt.rooms[classID]; ok {
		return sortedKeys(room.members)
	}
	return nil
}

// Teachers returns the teacher room of classID.
func (rt *Router) Teachers(classID string) []string {
	if room, ok := rt.rooms[classID]; ok {
		return sortedKeys(room.teachers)
	}
	return nil
}

// Moderators returns the moderation room of classID.
func (rt *Router) Moderators(classID string) []string {
	if room, ok := rt.rooms[classID]; ok {
		return sortedKeys(room.moderators)
	}
	return nil
}

// ClassOf returns the class connID joined.
func (rt *Router) ClassOf(connID string) (string, bool) {
	classID, ok := rt.conns[connID]
	return classID, ok
}

// Classes lists the classes that currently have a room.
func (rt *Router) Classes() []string {
	classes := make([]string, 0, len(rt.rooms))
	for classID := range rt.rooms {
		classes = append(classes, classID)
	}
	sort.Strings(classes)
	return classes
}

// CheckInvariant verifies that every teacher and moderator of classID is
// also a general member.
func (rt *Router) CheckInvariant(classID string) error {
	room, ok := rt.rooms[classID]
	if !ok {
		return nil
	}
	for connID := range room.teachers {
		if _, member := room.members[connID]; !member {
			return fmt.Errorf("%w: teacher %s in class %s", ErrRoleNotMember, connID, classID)
		}
	}
	for connID := range room.moderators {
		if _, member := room.members[connID]; !member {
			return fmt.Errorf("%w: moderator %s in class %s", ErrRoleNotMember, connID, classID)
		}
	}
	return nil
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
