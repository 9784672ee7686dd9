package qcomtee

import (
	"unsafe"

	"github.com/ehrlich-b/go-qcomtee/internal/uapi"
)

// Marshaling translates between the Param shape of this package and the
// driver's wire parameters, in both directions of both paths:
//
//	forwardIn   caller -> driver    (object invoke, request)
//	forwardOut  driver -> caller    (object invoke, result)
//	reverseIn   driver -> dispatch  (callback request)
//	reverseOut  dispatch -> driver  (callback response)
//
// The object-capability transfer rules live in objToWire/objFromWire:
// callback objects become namespace ids flagged user-hosted, remote
// objects travel as their TEE-assigned id, and the null object as the
// reserved null id.

// bufAddr returns the address the driver should use for a user buffer.
func bufAddr(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&b[0])))
}

// scratchSlice resolves a driver-reported address range back into the
// scratch buffer it was serialized into.
func scratchSlice(scratch []byte, addr, size uint64) ([]byte, bool) {
	if size == 0 {
		return []byte{}, true
	}
	base := bufAddr(scratch)
	if addr < base || addr-base+size > uint64(len(scratch)) {
		return nil, false
	}
	off := addr - base
	return scratch[off : off+size : off+size], true
}

// objToWire converts an outgoing object reference. A callback transfer
// registers the object in root's namespace and takes one reference per
// capability handed to QTEE. A re-transfer's reference is returned so
// the forward path can undo it if the driver call never happens; the
// reference taken by a fresh insert belongs to the table and stays even
// then, keeping the object queued and its id reusable.
func objToWire(tp *uapi.Param, o *Object, root *Root) (*Object, error) {
	switch o.Kind() {
	case KindNull:
		tp.A = uapi.OBJREF_NULL
		tp.B = 0
	case KindRemote:
		tp.A = o.objectID
		tp.B = 0
	case KindCallback:
		// Only objects of this namespace can cross on this root.
		if o.root != root {
			return nil, newError("marshal", ErrCodeInvalidObject,
				"callback object belongs to a different root")
		}
		fresh, err := root.ns.insert(o)
		if err != nil {
			return nil, err
		}
		tp.A = o.objectID
		tp.B = uapi.OBJREF_USER
		if !fresh {
			return o, nil
		}
	default:
		return nil, newError("marshal", ErrCodeInvalidObject,
			"object kind cannot cross the boundary")
	}
	return nil, nil
}

// objFromWire converts an incoming object reference, always on behalf of
// QTEE. User-hosted ids resolve through root's namespace (retaining the
// callback object); anything else becomes a fresh remote object holding
// a new root reference.
func objFromWire(a, b uint64, root *Root) (*Object, bool) {
	if a == uapi.OBJREF_NULL {
		return nil, true
	}
	if b&uapi.OBJREF_USER != 0 {
		o := root.ns.find(a)
		if o == nil {
			return nil, false
		}
		return o, true
	}
	return newRemote(root, a), true
}

// forwardIn marshals an invocation's parameters into the argument buffer
// at offset. It returns the callback objects retained for re-transfers;
// on error those retains are dropped, while namespace entries and the
// table references behind them are kept: a queued id may already be
// observable and the slot stays reusable.
func forwardIn(buf []byte, offset int, params []Param, root *Root) ([]*Object, error) {
	var retained []*Object

	fail := func(err error) ([]*Object, error) {
		for _, o := range retained {
			o.Release()
		}
		return nil, err
	}

	for i := range params {
		var tp uapi.Param
		switch params[i].Attr {
		case AttrUBufInput, AttrUBufOutput:
			tp.Attr = uapi.ATTR_TYPE_UBUF_INPUT
			if params[i].Attr == AttrUBufOutput {
				tp.Attr = uapi.ATTR_TYPE_UBUF_OUTPUT
			}
			tp.A = bufAddr(params[i].UBuf)
			tp.B = uint64(len(params[i].UBuf))
		case AttrObjRefInput:
			tp.Attr = uapi.ATTR_TYPE_OBJREF_INPUT
			o, err := objToWire(&tp, params[i].Object, root)
			if err != nil {
				return fail(err)
			}
			if o != nil {
				retained = append(retained, o)
			}
		case AttrObjRefOutput:
			tp.Attr = uapi.ATTR_TYPE_OBJREF_OUTPUT
		default:
			return fail(newError("marshal", ErrCodeInvalidArgument,
				"unknown parameter attribute"))
		}
		uapi.PutParam(buf, offset, i, &tp)
	}

	return retained, nil
}

// forwardOut consumes the driver's updated parameter array after a
// successful invocation. Output buffers are resliced to the size the
// driver reports; output object slots are resolved into objects, each
// carrying one reference owned by the caller. On any slot failure the
// scan continues so every object already produced can be released, and
// the whole marshal fails.
func forwardOut(buf []byte, offset int, params []Param, root *Root) error {
	failed := false

	for i := range params {
		var tp uapi.Param
		if err := uapi.GetParam(buf, offset, i, &tp); err != nil {
			failed = true
			continue
		}
		switch params[i].Attr {
		case AttrUBufOutput:
			if tp.B <= uint64(cap(params[i].UBuf)) {
				params[i].UBuf = params[i].UBuf[:tp.B]
			} else {
				failed = true
			}
		case AttrObjRefOutput:
			o, ok := objFromWire(tp.A, tp.B, root)
			if !ok {
				failed = true
				continue
			}
			params[i].Object = o
		case AttrUBufInput, AttrObjRefInput:
			// Nothing comes back on this path.
		default:
			failed = true
		}
	}

	if !failed {
		return nil
	}

	for i := range params {
		if params[i].Attr == AttrObjRefOutput {
			params[i].Object.Release()
			params[i].Object = nil
		}
	}
	return newError("marshal", ErrCodeInvalidArgument, "output marshal failed")
}

// reverseIn builds the dispatcher's parameter array from a received
// callback request. UBUF_INPUT payloads were serialized by the driver
// into scratch; object references resolve as on the forward-out path.
// On failure every object already resolved is released.
func reverseIn(buf []byte, offset, n int, root *Root, scratch []byte) ([]Param, error) {
	params := make([]Param, n)
	failed := false

	for i := 0; i < n; i++ {
		var tp uapi.Param
		if err := uapi.GetParam(buf, offset, i, &tp); err != nil {
			failed = true
			continue
		}
		switch tp.Attr {
		case uapi.ATTR_TYPE_UBUF_INPUT:
			b, ok := scratchSlice(scratch, tp.A, tp.B)
			if !ok {
				failed = true
				continue
			}
			params[i] = UBufIn(b)
		case uapi.ATTR_TYPE_UBUF_OUTPUT:
			// The driver reserves room for the output in the scratch
			// buffer; the dispatcher may fill it or substitute its own.
			b, ok := scratchSlice(scratch, tp.A, tp.B)
			if !ok {
				failed = true
				continue
			}
			params[i] = UBufOut(b)
		case uapi.ATTR_TYPE_OBJREF_INPUT:
			o, ok := objFromWire(tp.A, tp.B, root)
			if !ok {
				failed = true
				continue
			}
			params[i] = ObjectIn(o)
		case uapi.ATTR_TYPE_OBJREF_OUTPUT:
			params[i] = ObjectOut()
		default:
			failed = true
		}
	}

	if !failed {
		return params, nil
	}

	for i := range params {
		if params[i].Attr == AttrObjRefInput {
			params[i].Object.Release()
		}
	}
	return nil, newError("marshal", ErrCodeInvalidArgument, "request marshal failed")
}

// reverseOut marshals a dispatcher's response parameters into the send
// buffer at offset, preserving the request's attribute tags: outputs are
// written in full, inputs attr-only. Callback objects returned to QTEE
// are registered and retained exactly as on the forward path; a failed
// send is compensated through the handler's TransportError, not by
// unwinding here.
func reverseOut(buf []byte, offset int, params []Param, root *Root) error {
	for i := range params {
		var tp uapi.Param
		switch params[i].Attr {
		case AttrUBufInput:
			tp.Attr = uapi.ATTR_TYPE_UBUF_INPUT
		case AttrObjRefInput:
			tp.Attr = uapi.ATTR_TYPE_OBJREF_INPUT
		case AttrUBufOutput:
			tp.Attr = uapi.ATTR_TYPE_UBUF_OUTPUT
			tp.A = bufAddr(params[i].UBuf)
			tp.B = uint64(len(params[i].UBuf))
		case AttrObjRefOutput:
			tp.Attr = uapi.ATTR_TYPE_OBJREF_OUTPUT
			if _, err := objToWire(&tp, params[i].Object, root); err != nil {
				return err
			}
		default:
			return newError("marshal", ErrCodeInvalidArgument,
				"unknown parameter attribute")
		}
		uapi.PutParam(buf, offset, i, &tp)
	}
	return nil
}
