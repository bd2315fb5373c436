package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryJoinIsKeyedByUser(t *testing.T) {
	r := NewRegistry()

	assert.False(t, r.Join("u1", "t1", User{ID: "u1"}).AlreadyPresent)
	assert.True(t, r.Join("u1", "t2", User{ID: "u1"}).AlreadyPresent)
	assert.Equal(t, 1, r.Size())

	// the first transport still owns the entry
	_, ok := r.LeaveByTransport("t2")
	assert.False(t, ok)
	userID, ok := r.LeaveByTransport("t1")
	assert.True(t, ok)
	assert.Equal(t, "u1", userID)
	assert.Equal(t, 0, r.Size())
}

func TestRegistryLeaveTwiceIsNoop(t *testing.T) {
	r := NewRegistry()
	r.Join("u1", "t1", User{ID: "u1"})

	_, ok := r.LeaveByTransport("t1")
	assert.True(t, ok)
	_, ok = r.LeaveByTransport("t1")
	assert.False(t, ok)
	assert.False(t, r.Has("u1"))
}

func TestRegistrySnapshotKeepsJoinOrder(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"a", "b", "c", "d"} {
		r.Join(id, "t-"+id, User{ID: id})
	}
	r.LeaveByTransport("t-b")
	r.Join("e", "t-e", User{ID: "e"})

	var ids []string
	for _, u := range r.Snapshot() {
		ids = append(ids, u.ID)
	}
	assert.Equal(t, []string{"a", "c", "d", "e"}, ids)

	// the index was rebuilt after the removal
	userID, ok := r.LeaveByTransport("t-d")
	assert.True(t, ok)
	assert.Equal(t, "d", userID)
	assert.True(t, r.Has("e"))
	assert.False(t, r.Join("d", "t-d2", User{ID: "d"}).AlreadyPresent)
}

func TestRegistrySnapshotIsACopy(t *testing.T) {
	r := NewRegistry()
	r.Join("a", "t-a", User{ID: "a", Name: "Ann"})

	snap := r.Snapshot()
	snap[0].Name = "changed"

	assert.Equal(t, "Ann", r.Snapshot()[0].Name)
}
