package qcomtee

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-qcomtee/internal/driver"
	"github.com/ehrlich-b/go-qcomtee/internal/uapi"
)

// StubConn is a scriptable in-process driver connection for tests: the
// forward path answers through a configurable invoke function (echoing
// parameters by default), and the reverse path delivers requests queued
// with PushRequest, recording every submitted response. It lets the
// whole object layer run without a kernel.
type StubConn struct {
	// InvokeFunc services forward invocations. It may mutate params in
	// place; the mutated array and the returned ret value are written
	// back to the caller. A non-nil error fails the ioctl itself. When
	// nil, parameters are echoed with ret=0 and output object slots are
	// answered with the null id.
	InvokeFunc func(object uint64, op uint32, params []uapi.Param) (ret uint32, err error)

	// SendErr, when set, fails every SupplSend without recording the
	// response; used to drive the transport-notify path.
	SendErr error

	mu        sync.Mutex
	shmSeq    int32
	invokes   []StubInvoke
	responses []StubResponse
	requests  chan StubRequest
	intr      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	sent      chan struct{}
}

// StubInvoke records one forward invocation as the driver saw it.
type StubInvoke struct {
	Object uint64
	Op     uint32
	Params []uapi.Param
}

// StubParam scripts one parameter of a queued reverse request.
type StubParam struct {
	Attr    uint64
	ObjID   uint64 // object id for OBJREF parameters
	Flags   uint64 // flags for OBJREF parameters
	Data    []byte // payload serialized into the scratch buffer (UBUF_INPUT)
	OutSize int    // scratch space reserved for UBUF_OUTPUT
}

// StubRequest is a reverse request to deliver to a supplicant worker.
type StubRequest struct {
	TargetID  uint64
	RequestID uint64
	Op        uint32
	Params    []StubParam
}

// StubResponse records one submitted supplicant response.
type StubResponse struct {
	RequestID uint64
	Ret       uint32
	Params    []uapi.Param
	// Data holds the bytes behind each UBUF parameter of the response,
	// read back at send time, indexed like Params (nil for non-UBUF).
	Data [][]byte
}

// NewStubConn creates an idle stub connection.
func NewStubConn() *StubConn {
	return &StubConn{
		requests: make(chan StubRequest, NamespaceCapacity),
		intr:     make(chan struct{}, MaxSupplicantWorkers),
		done:     make(chan struct{}),
		sent:     make(chan struct{}, NamespaceCapacity),
	}
}

// NewStubRoot creates a root object over a stub connection.
func NewStubRoot(stub *StubConn, opts *RootOptions) *Root {
	return newRoot(stub, opts)
}

var (
	_ driver.Conn        = (*StubConn)(nil)
	_ driver.Interrupter = (*StubConn)(nil)
)

// addrPointer converts a raw address back to a pointer. Uses pointer
// indirection to satisfy go vet's unsafeptr checker; the addresses come
// from live buffers held by the caller under test.
//
//go:noinline
func addrPointer(addr uintptr) unsafe.Pointer {
	return *(*unsafe.Pointer)(unsafe.Pointer(&addr))
}

// memSlice aliases process memory behind a driver-style address. The
// stub plays the kernel's role, so it reads and writes user buffers
// through the raw addresses carried in the parameter array.
func memSlice(addr, size uint64) []byte {
	if size == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(addrPointer(uintptr(addr))), size)
}

// ObjectInvoke implements driver.Conn.
func (s *StubConn) ObjectInvoke(buf []byte) error {
	var arg uapi.ObjectInvokeArg
	if err := uapi.GetObjectInvokeArg(buf, &arg); err != nil {
		return unix.EINVAL
	}
	params, err := uapi.GetParams(buf, uapi.ObjectInvokeArgSize, int(arg.NumParams))
	if err != nil {
		return unix.EINVAL
	}

	// Record the request exactly as received.
	seen := make([]uapi.Param, len(params))
	copy(seen, params)
	s.mu.Lock()
	s.invokes = append(s.invokes, StubInvoke{Object: arg.Object, Op: arg.Op, Params: seen})
	s.mu.Unlock()

	ret := uint32(0)
	if s.InvokeFunc != nil {
		ret, err = s.InvokeFunc(arg.Object, arg.Op, params)
		if err != nil {
			return err
		}
	} else {
		for i := range params {
			if params[i].Attr == uapi.ATTR_TYPE_OBJREF_OUTPUT {
				params[i].A = uapi.OBJREF_NULL
				params[i].B = 0
			}
		}
	}

	arg.Ret = ret
	uapi.PutObjectInvokeArg(buf, &arg)
	uapi.PutParams(buf, uapi.ObjectInvokeArgSize, params)
	return nil
}

// PushRequest queues a reverse request for delivery to a blocked
// SupplRecv.
func (s *StubConn) PushRequest(req StubRequest) {
	s.requests <- req
}

// SupplRecv implements driver.Conn. It blocks until a request is
// queued, the connection is interrupted (EINTR) or closed (ENODEV).
func (s *StubConn) SupplRecv(buf []byte) error {
	var recv uapi.SupplRecvArg
	if err := uapi.GetSupplRecvArg(buf, &recv); err != nil {
		return unix.EINVAL
	}
	var meta uapi.Param
	if err := uapi.GetParam(buf, uapi.SupplRecvArgSize, 0, &meta); err != nil {
		return unix.EINVAL
	}
	scratchAddr, scratchLen := meta.A, meta.B

	var req StubRequest
	select {
	case req = <-s.requests:
	case <-s.intr:
		return unix.EINTR
	case <-s.done:
		return unix.ENODEV
	}

	if len(req.Params) > int(recv.NumParams)-1 {
		return unix.EINVAL
	}

	// Serialize UBUF payloads into the worker's scratch buffer the way
	// the driver would, then fill in the wire parameters.
	var cursor uint64
	place := func(n uint64) (uint64, bool) {
		if cursor+n > scratchLen {
			return 0, false
		}
		addr := scratchAddr + cursor
		cursor += n
		return addr, true
	}

	params := make([]uapi.Param, len(req.Params))
	for i, p := range req.Params {
		params[i].Attr = p.Attr
		switch p.Attr {
		case uapi.ATTR_TYPE_UBUF_INPUT:
			addr, ok := place(uint64(len(p.Data)))
			if !ok {
				return unix.E2BIG
			}
			copy(memSlice(addr, uint64(len(p.Data))), p.Data)
			params[i].A = addr
			params[i].B = uint64(len(p.Data))
		case uapi.ATTR_TYPE_UBUF_OUTPUT:
			addr, ok := place(uint64(p.OutSize))
			if !ok {
				return unix.E2BIG
			}
			params[i].A = addr
			params[i].B = uint64(p.OutSize)
		default:
			params[i].A = p.ObjID
			params[i].B = p.Flags
		}
	}

	uapi.PutSupplRecvArg(buf, &uapi.SupplRecvArg{
		Func:      req.Op,
		NumParams: uint32(len(req.Params) + 1),
	})
	uapi.PutParam(buf, uapi.SupplRecvArgSize, 0, &uapi.Param{
		Attr: uapi.ATTR_TYPE_VALUE_INOUT | uapi.ATTR_META,
		A:    req.TargetID,
		B:    req.RequestID,
	})
	uapi.PutParams(buf, uapi.SupplRecvArgSize+uapi.ParamSize, params)
	return nil
}

// SupplSend implements driver.Conn, recording the submitted response.
func (s *StubConn) SupplSend(buf []byte) error {
	s.mu.Lock()
	sendErr := s.SendErr
	s.mu.Unlock()
	if sendErr != nil {
		return sendErr
	}

	var send uapi.SupplSendArg
	if err := uapi.GetSupplSendArg(buf, &send); err != nil {
		return unix.EINVAL
	}
	if send.NumParams < 1 {
		return unix.EINVAL
	}
	var meta uapi.Param
	if err := uapi.GetParam(buf, uapi.SupplSendArgSize, 0, &meta); err != nil {
		return unix.EINVAL
	}
	params, err := uapi.GetParams(buf, uapi.SupplSendArgSize+uapi.ParamSize, int(send.NumParams)-1)
	if err != nil {
		return unix.EINVAL
	}

	data := make([][]byte, len(params))
	for i := range params {
		switch params[i].Attr {
		case uapi.ATTR_TYPE_UBUF_INPUT, uapi.ATTR_TYPE_UBUF_OUTPUT:
			b := make([]byte, params[i].B)
			copy(b, memSlice(params[i].A, params[i].B))
			data[i] = b
		}
	}

	s.mu.Lock()
	s.responses = append(s.responses, StubResponse{
		RequestID: meta.A,
		Ret:       send.Ret,
		Params:    params,
		Data:      data,
	})
	s.mu.Unlock()

	select {
	case s.sent <- struct{}{}:
	default:
	}
	return nil
}

// ShmAlloc implements driver.Conn with an anonymous buffer.
func (s *StubConn) ShmAlloc(size uint64) (*driver.Shm, error) {
	s.mu.Lock()
	s.shmSeq++
	id := s.shmSeq
	s.mu.Unlock()
	return driver.NewShm(id, make([]byte, size), nil), nil
}

// Interrupt implements driver.Interrupter, waking one blocked SupplRecv
// with EINTR.
func (s *StubConn) Interrupt() {
	select {
	case s.intr <- struct{}{}:
	default:
	}
}

// Close implements driver.Conn; blocked and future SupplRecv calls fail
// with ENODEV.
func (s *StubConn) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// Invokes returns the forward invocations observed so far.
func (s *StubConn) Invokes() []StubInvoke {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StubInvoke, len(s.invokes))
	copy(out, s.invokes)
	return out
}

// Responses returns the supplicant responses recorded so far.
func (s *StubConn) Responses() []StubResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StubResponse, len(s.responses))
	copy(out, s.responses)
	return out
}

// WaitResponse blocks until at least one response has been submitted
// since the last call.
func (s *StubConn) WaitResponse() {
	<-s.sent
}
