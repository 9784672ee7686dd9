// Package qcomtee provides the user-space object-capability runtime for
// the Qualcomm TEE driver. It mediates object invocations between the
// host process and QTEE: callers invoke (object, operation, parameters)
// triples against TEE-hosted objects, and QTEE invokes locally hosted
// callback objects through the supplicant worker pool.
package qcomtee

import "github.com/ehrlich-b/go-qcomtee/internal/uapi"

// Op identifies an operation on an object. Values below OpRelease are
// service-defined; the range at and above it belongs to the transport.
type Op uint32

// OpRelease is the reserved operation that releases one reference to an
// object across the domain boundary. The driver and this library
// interpret it uniformly; it never reaches a dispatcher and the driver
// expects no response for it.
const OpRelease Op = uapi.OP_RELEASE

// Attr tags a parameter as a user buffer or an object reference, in the
// input or output direction.
type Attr uint64

const (
	AttrUBufInput    Attr = 0x8
	AttrUBufOutput   Attr = 0x9
	AttrObjRefInput  Attr = 0xb
	AttrObjRefOutput Attr = 0xc
)

// Param is one invocation parameter: either a user buffer or an object
// reference, tagged with a direction.
//
// A nil Object in an object-reference parameter is the null object; it
// crosses the boundary as the reserved null id and is accepted
// everywhere an object is.
type Param struct {
	Attr Attr

	// UBuf is the buffer for AttrUBufInput/AttrUBufOutput parameters.
	// It is shared with the driver only for the duration of the
	// invocation. Output buffers are resliced to the length reported
	// back by the driver.
	UBuf []byte

	// Object is the reference for AttrObjRefInput/AttrObjRefOutput
	// parameters. Output slots are filled in on return.
	Object *Object
}

// UBufIn returns an input buffer parameter.
func UBufIn(b []byte) Param { return Param{Attr: AttrUBufInput, UBuf: b} }

// UBufOut returns an output buffer parameter; the driver reports the
// produced length back into it.
func UBufOut(b []byte) Param { return Param{Attr: AttrUBufOutput, UBuf: b} }

// ObjectIn returns an input object-reference parameter. o may be nil for
// the null object.
func ObjectIn(o *Object) Param { return Param{Attr: AttrObjRefInput, Object: o} }

// ObjectOut returns an output object-reference slot.
func ObjectOut() Param { return Param{Attr: AttrObjRefOutput} }

// MaxDispatchParams is the largest parameter array delivered to a
// callback dispatcher.
const MaxDispatchParams = uapi.MaxDispatchParams

// CallbackHandler is the behavior of a locally hosted callback object.
// QTEE invokes it through the supplicant; concurrent reverse calls to
// the same object are dispatched from different workers, so
// implementations serialize internally if they need to.
type CallbackHandler interface {
	// Dispatch services one operation. params carries all of the
	// request's parameters: inputs with their contents, output buffers
	// as room the dispatcher may fill or replace, and empty output
	// object slots. Input object references arrive with one counted
	// reference each, owned by the dispatcher. The returned parameters
	// become the response. A non-OK result discards the returned
	// parameters and is sent as the response status.
	Dispatch(op Op, params []Param) ([]Param, Result)
}

// Releaser is an optional interface for handlers that own resources;
// Release runs once when the callback object's last reference is
// dropped, after the object has been detached from its namespace.
type Releaser interface {
	Release()
}

// TransportNotifier is an optional interface letting a handler perform
// compensating cleanup when the response to a dispatched request could
// not be delivered (response marshaling or the send ioctl failed).
type TransportNotifier interface {
	TransportError(err error)
}

// OpSupporter is an optional interface letting a handler reject
// operations before any parameter processing happens.
type OpSupporter interface {
	Supports(op Op) bool
}
