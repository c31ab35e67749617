package chat

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionAppend_TimestampsNeverGoBackwards(t *testing.T) {
	var s Session
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s.Append(RoleUser, "hi", t0)
	s.Append(RoleModel, "hello", t0.Add(-time.Second))
	s.Append(RoleUser, "later", t0.Add(time.Minute))

	require.Len(t, s.Messages, 3)
	assert.True(t, s.Messages[1].Timestamp.Equal(t0))
	assert.True(t, s.Messages[2].Timestamp.Equal(t0.Add(time.Minute)))
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("model")
	require.NoError(t, err)
	assert.Equal(t, RoleModel, r)

	_, err = ParseRole("assistant")
	assert.Error(t, err)
	_, err = ParseRole("")
	assert.Error(t, err)
}

func TestRoleUnmarshal(t *testing.T) {
	var m Message
	require.NoError(t, json.Unmarshal([]byte(`{"role":"user","content":"x"}`), &m))
	assert.Equal(t, RoleUser, m.Role)

	assert.Error(t, json.Unmarshal([]byte(`{"role":"system","content":"x"}`), &m))
}
