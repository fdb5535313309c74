package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventTypeSet(t *testing.T) {
	set := newEventTypeSet(2)

	assert.True(t, set.add("session.created"))
	assert.False(t, set.add("session.created"))
	assert.True(t, set.add("rate_limits.updated"))

	// A third type evicts the least recently used one.
	assert.True(t, set.add("response.created"))
	assert.True(t, set.add("session.created"))
}
