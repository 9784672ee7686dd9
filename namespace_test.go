package qcomtee

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQueuedCallback(t *testing.T, root *Root) *Object {
	t.Helper()
	o, err := NewCallback(&testHandler{}, root)
	require.NoError(t, err)
	_, err = root.ns.insert(o)
	require.NoError(t, err)
	return o
}

func TestNamespaceInsertAssignsSlots(t *testing.T) {
	root := quietRoot(t, NewStubConn())
	defer root.Release()

	a := newQueuedCallback(t, root)
	b := newQueuedCallback(t, root)

	assert.True(t, a.queued)
	assert.True(t, b.queued)
	assert.Equal(t, uint64(0), a.objectID)
	assert.Equal(t, uint64(1), b.objectID, "cursor advances past occupied slots")
	assert.Equal(t, int32(2), a.refs.Load(), "the table holds one reference")
}

func TestNamespaceReinsertKeepsID(t *testing.T) {
	root := quietRoot(t, NewStubConn())
	defer root.Release()

	o := newQueuedCallback(t, root)
	id := o.objectID

	fresh, err := root.ns.insert(o)
	require.NoError(t, err)
	assert.False(t, fresh)
	assert.Equal(t, id, o.objectID, "repeated transfers reuse the id")
	assert.Equal(t, int32(3), o.refs.Load(), "each transfer adds a reference")
}

func TestNamespaceFindRetains(t *testing.T) {
	root := quietRoot(t, NewStubConn())
	defer root.Release()

	o := newQueuedCallback(t, root)
	before := o.refs.Load()

	got := root.ns.find(o.objectID)
	require.Same(t, o, got)
	assert.Greater(t, got.refs.Load(), before, "find returns a counted reference")
	got.Release()

	assert.Nil(t, root.ns.find(uint64(NamespaceCapacity)), "out-of-range id is null")
	assert.Nil(t, root.ns.find(999), "empty slot is null")
}

func TestNamespaceDeleteClearsSlot(t *testing.T) {
	root := quietRoot(t, NewStubConn())
	defer root.Release()

	o := newQueuedCallback(t, root)
	id := o.objectID

	root.ns.delete(o)
	assert.False(t, o.queued)
	assert.Nil(t, root.ns.find(id))

	// delete of an unqueued object is a no-op
	root.ns.delete(o)
}

func TestNamespaceExhaustion(t *testing.T) {
	root := quietRoot(t, NewStubConn())
	defer root.Release()

	objs := make([]*Object, NamespaceCapacity)
	for i := range objs {
		objs[i] = newQueuedCallback(t, root)
		require.Equal(t, uint64(i), objs[i].objectID)
	}

	// The table is full: the next export fails deterministically and
	// the earlier exports are untouched.
	extra, err := NewCallback(&testHandler{}, root)
	require.NoError(t, err)
	_, err = root.ns.insert(extra)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeNamespaceFull))
	assert.False(t, extra.queued)
	for _, o := range objs {
		assert.True(t, o.queued)
	}

	// Releasing any one export frees its slot for reuse.
	victim := objs[123]
	victim.Release() // table's reference
	victim.Release() // caller's reference

	fresh, err := root.ns.insert(extra)
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.Equal(t, uint64(123), extra.objectID, "the freed slot index is reused")

	extra.Release()
	extra.Release()
	for i, o := range objs {
		if i == 123 {
			continue
		}
		o.Release()
		o.Release()
	}
}

func TestNamespaceFindRacingRelease(t *testing.T) {
	root := quietRoot(t, NewStubConn())
	defer root.Release()

	o := newQueuedCallback(t, root)
	id := o.objectID

	// Drive the object to zero references; the slot clears during the
	// release. A find racing the teardown must never produce the dead
	// object, no matter which side of the slot clear it reads.
	done := make(chan struct{})
	go func() {
		o.Release()
		o.Release()
		close(done)
	}()

	for {
		got := root.ns.find(id)
		if got == nil {
			select {
			case <-done:
				assert.Nil(t, root.ns.find(id))
				return
			default:
				continue
			}
		}
		assert.Greater(t, got.refs.Load(), int32(0))
		got.Release()
	}
}
