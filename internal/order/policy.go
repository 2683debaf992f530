package order

import (
	"sort"
	"strings"
)

// ApproverSet is the fixed allow-list of actors that may decide an order.
type ApproverSet map[string]struct{}

// NewApproverSet builds a set from ids, dropping blanks.
func NewApproverSet(ids ...string) ApproverSet {
	s := make(ApproverSet, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		s[id] = struct{}{}
	}
	return s
}

func (s ApproverSet) Contains(id string) bool {
	_, ok := s[id]
	return ok
}

// List returns the members sorted, so callers never depend on map order.
func (s ApproverSet) List() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// IsAuthorized is a pure membership test. An empty actor id is never authorized.
func IsAuthorized(actorID string, allowed ApproverSet) bool {
	if actorID == "" {
		return false
	}
	return allowed.Contains(actorID)
}
