package qcomtee

import "sync/atomic"

// Kind discriminates the object variants.
type Kind int

const (
	// KindNull is the null object; represented by a nil *Object.
	KindNull Kind = iota
	// KindRoot is a root object anchoring one driver connection.
	KindRoot
	// KindRemote is a capability to a QTEE-hosted service.
	KindRemote
	// KindCallback is a capability to a locally hosted service.
	KindCallback
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindRoot:
		return "root"
	case KindRemote:
		return "remote"
	case KindCallback:
		return "callback"
	default:
		return "unknown"
	}
}

// Object is a reference-counted capability. Remote and callback objects
// hold a counted reference to the root they belong to; the root points
// to itself.
type Object struct {
	refs     atomic.Int32
	kind     Kind
	objectID uint64

	// queued is true while a callback object is registered in its
	// namespace table under objectID. Both fields are written only
	// under the namespace mutex.
	queued bool

	root *Root

	// handler is the behavior of a callback object.
	handler CallbackHandler

	// releaseFn overrides the kind-specific release; used by object
	// subclasses owning resources the default release does not know
	// about (shared-memory objects).
	releaseFn func(*Object)
}

// Kind returns the object's kind; the nil object is KindNull.
func (o *Object) Kind() Kind {
	if o == nil {
		return KindNull
	}
	return o.kind
}

// Root returns the root object o belongs to; nil for the null object.
func (o *Object) Root() *Root {
	if o == nil {
		return nil
	}
	return o.root
}

// Handler returns the callback handler supplied at initialization, or
// nil for non-callback objects.
func (o *Object) Handler() CallbackHandler {
	if o == nil {
		return nil
	}
	return o.handler
}

func initObject(o *Object, kind Kind) {
	*o = Object{kind: kind}
	o.refs.Store(1)
}

// Retain increments the object's reference count. Retaining the null
// object is a no-op.
func (o *Object) Retain() {
	if o == nil {
		return
	}
	o.refs.Add(1)
}

// tryRetain increments the reference count unless it has already reached
// zero. The namespace lookup uses it so a racing release cannot be
// resurrected.
func (o *Object) tryRetain() bool {
	for {
		n := o.refs.Load()
		if n == 0 {
			return false
		}
		if o.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release drops one reference. When the last reference goes, the
// kind-specific release runs: callback objects detach from their
// namespace and run the handler's Release, remote objects send the
// reserved release operation to QTEE, roots tear down the supplicant and
// close the driver. Releasing the null object is a no-op.
func (o *Object) Release() {
	if o == nil {
		return
	}
	if o.refs.Add(-1) != 0 {
		return
	}

	if o.releaseFn != nil {
		o.releaseFn(o)
		return
	}

	switch o.kind {
	case KindRoot:
		o.root.release()
	case KindRemote:
		releaseRemote(o)
	case KindCallback:
		releaseCallback(o)
	}
}

// NewCallback initializes a callback object for handler under root. The
// object starts with one reference, owned by the caller, and no
// namespace entry; an id is assigned on the first transfer to QTEE.
func NewCallback(handler CallbackHandler, root *Root) (*Object, error) {
	if handler == nil {
		return nil, newError("callback-init", ErrCodeInvalidArgument, "nil dispatch handler")
	}
	o := &Object{}
	initObject(o, KindCallback)
	o.handler = handler
	// The callback keeps its root alive; released with the last
	// reference to the callback.
	root.Retain()
	o.root = root
	return o, nil
}

// newRemote wraps a TEE-assigned id in a remote object. Always called on
// behalf of QTEE, while marshaling an invocation result or a callback
// request.
func newRemote(root *Root, id uint64) *Object {
	o := &Object{}
	initObject(o, KindRemote)
	o.objectID = id
	root.Retain()
	o.root = root
	return o
}

func releaseRemote(o *Object) {
	root := o.root
	if result, err := o.Invoke(OpRelease, nil); err != nil || result != OK {
		root.logger.Error("remote object release failed",
			"object_id", o.objectID, "result", result, "error", err)
	}
	root.Release()
}

func releaseCallback(o *Object) {
	root := o.root
	// Detach before the handler's release and before dropping the root
	// reference; the table must never point at a dead object.
	root.ns.delete(o)
	if r, ok := o.handler.(Releaser); ok {
		r.Release()
	}
	root.Release()
}
