package qcomtee

import (
	"runtime"
	"time"

	"github.com/ehrlich-b/go-qcomtee/internal/uapi"
)

// Invoke issues a forward-path invocation of op on the object with the
// given parameters. Only root and remote objects can be invoked.
//
// The returned error reports transport failures; the Result is only
// meaningful when the error is nil. A nil error with a non-OK Result is
// a domain failure reported by the other side: output parameters are
// untouched and input object references remain owned by the caller.
// ErrUnavail with a nil error is also returned when QTEE succeeded but
// the outputs could not be marshaled back; output object slots are then
// nil and output buffers may already be resliced.
//
// On full success, callback objects passed as input references are
// transferred: QTEE owns one capability per transfer, backed by the
// reference taken while marshaling and dropped again when QTEE sends the
// reserved release operation. The caller's own reference is unaffected.
// Objects returned in output slots arrive with one counted reference
// each, owned by the caller.
func (o *Object) Invoke(op Op, params []Param) (Result, error) {
	if o.Kind() != KindRoot && o.Kind() != KindRemote {
		return 0, newError("invoke", ErrCodeInvalidObject,
			"only root and remote objects can be invoked")
	}
	if len(params) > uapi.MaxInvokeParams {
		return 0, newError("invoke", ErrCodeInvalidArgument,
			"too many parameters")
	}

	root := o.root
	var start time.Time
	if root.observer != nil {
		start = time.Now()
	}

	result, err := o.invoke(op, params)

	if root.observer != nil {
		root.observer.ObserveInvoke(op,
			uint64(time.Since(start).Nanoseconds()), err == nil, result)
	}
	return result, err
}

func (o *Object) invoke(op Op, params []Param) (Result, error) {
	root := o.root
	n := len(params)

	buf := make([]byte, uapi.InvokeBufLen(n))
	uapi.PutObjectInvokeArg(buf, &uapi.ObjectInvokeArg{
		Object:    o.objectID,
		Op:        uint32(op),
		NumParams: uint32(n),
	})

	retained, err := forwardIn(buf, uapi.ObjectInvokeArgSize, params, root)
	if err != nil {
		return 0, wrapError("invoke", err)
	}

	if err := root.conn.ObjectInvoke(buf); err != nil {
		// The driver never saw the transfer; drop the capability
		// references taken in forwardIn. The objects stay queued, their
		// ids remain valid for the next attempt.
		for _, r := range retained {
			r.Release()
		}
		return 0, wrapError("OBJECT_INVOKE", err)
	}
	// The driver reads user buffers through raw addresses; keep the
	// backing slices reachable until the ioctl is done with them.
	runtime.KeepAlive(params)

	var arg uapi.ObjectInvokeArg
	if err := uapi.GetObjectInvokeArg(buf, &arg); err != nil {
		return 0, wrapError("invoke", err)
	}

	// A non-zero QTEE result is a domain failure: no outputs to marshal,
	// the transport itself succeeded.
	if result := resultFromWire(arg.Ret); result != OK {
		return result, nil
	}

	if err := forwardOut(buf, uapi.ObjectInvokeArgSize, params, root); err != nil {
		return ErrUnavail, nil
	}
	return OK, nil
}
