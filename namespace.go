package qcomtee

import (
	"sync"
	"sync/atomic"
)

// NamespaceCapacity is the number of callback objects that can be
// exported to QTEE per root object.
const NamespaceCapacity = 1024

// namespace scopes the callback-object ids exported to QTEE through one
// root object. QTEE can only reference callback objects in the namespace
// of the root the request arrives on; for TEE-hosted objects the driver
// provides the equivalent isolation.
//
// Invariant: a slot is either empty or holds a callback object o with
// o.objectID == slot index and o.queued == true.
type namespace struct {
	mu      sync.Mutex
	cursor  int
	entries [NamespaceCapacity]atomic.Pointer[Object]
}

// insert registers o in the namespace, allocating a slot id on the first
// insert. Every successful call adds one counted reference to o: the
// first one is held by the table, subsequent ones back the additional
// capabilities transferred to QTEE. The same id is reused for repeated
// transfers; the driver presents each transfer to QTEE as a distinct
// instance. fresh reports whether this call allocated the slot.
func (ns *namespace) insert(o *Object) (fresh bool, err error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	if o.queued {
		o.Retain()
		return false, nil
	}

	for i := 0; i < NamespaceCapacity; i++ {
		idx := (ns.cursor + i) % NamespaceCapacity
		if ns.entries[idx].Load() != nil {
			continue
		}
		// Fill the object before publishing the slot; find reads
		// without the mutex.
		o.objectID = uint64(idx)
		o.queued = true
		o.Retain()
		ns.entries[idx].Store(o)
		ns.cursor = (idx + 1) % NamespaceCapacity
		return true, nil
	}

	return false, newError("ns-insert", ErrCodeNamespaceFull, "callback object table exhausted")
}

// find resolves an id on behalf of QTEE and retains the object. It is
// deliberately not serialized with insert or delete: QTEE only uses ids
// it owns and has not released, so a concurrent delete of a live id
// cannot occur. The retain refuses objects already on their way down, so
// a racing release cannot hand out a dead object.
func (ns *namespace) find(id uint64) *Object {
	if id >= NamespaceCapacity {
		return nil
	}
	o := ns.entries[id].Load()
	if o == nil || !o.tryRetain() {
		return nil
	}
	return o
}

// delete clears o's slot. Called only from the decrement-to-zero path;
// the reference the table held has already been accounted for by the
// caller, so no refcount change happens here.
func (ns *namespace) delete(o *Object) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	if o.queued {
		ns.entries[o.objectID].Store(nil)
		o.queued = false
	}
}
