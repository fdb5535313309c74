package session

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// unhandledTypesTracked bounds how many distinct ignored event types are
// remembered per session.
const unhandledTypesTracked = 64

// eventTypeSet remembers recently seen event type names. The server may send
// types this client has never heard of, so the set is bounded.
type eventTypeSet struct {
	seen *lru.Cache[string, struct{}]
}

func newEventTypeSet(size int) *eventTypeSet {
	cache, err := lru.New[string, struct{}](size)
	if err != nil {
		// Only a non-positive size fails.
		panic(err)
	}
	return &eventTypeSet{seen: cache}
}

// add records eventType and reports whether it was new.
func (s *eventTypeSet) add(eventType string) bool {
	found, _ := s.seen.ContainsOrAdd(eventType, struct{}{})
	return !found
}
