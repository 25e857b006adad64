package uuidx

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	id := New()
	assert.Equal(t, uuid.Version(7), id.Version())
	assert.Equal(t, uuid.RFC4122, id.Variant())
	assert.NotEqual(t, id, New())
}

func TestNewID(t *testing.T) {
	before := time.Now().Add(-time.Second)
	id := NewID(Turn)
	assert.True(t, strings.HasPrefix(id, "turn_"))
	assert.Regexp(t, "^turn_[0-9a-f]{8}-[0-9a-f]{4}-7[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$", id)

	kind, u, ok := Parse(id)
	require.True(t, ok)
	assert.Equal(t, Turn, kind)
	assert.Equal(t, uuid.Version(7), u.Version())

	created, ok := Time(id)
	require.True(t, ok)
	assert.True(t, created.After(before))
	assert.True(t, created.Before(time.Now().Add(time.Second)))
}

func TestParse_Invalid(t *testing.T) {
	for _, id := range []string{"", "r1", "req_not-a-uuid", NewString()} {
		_, _, ok := Parse(id)
		assert.False(t, ok, id)
		_, ok = Time(id)
		assert.False(t, ok, id)
	}
}
