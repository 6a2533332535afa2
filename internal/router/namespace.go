package router

import (
	"strings"

	"socialwall/pkg/types"
)

// NamespacePrefix prefixes every class-scoped namespace.
const NamespacePrefix = "class-"

// NamespaceFor returns the namespace a client connects to for classID.
func NamespaceFor(classID string) string {
	return NamespacePrefix + classID
}

// ClassIDFromNamespace extracts the class id from a "class-<id>" namespace.
// A leading slash is tolerated.
func ClassIDFromNamespace(namespace string) (string, bool) {
	namespace = strings.TrimPrefix(namespace, "/")
	classID, found := strings.CutPrefix(namespace, NamespacePrefix)
	if !found || !types.IsValidClassID(classID) {
		return "", false
	}
	return classID, true
}
