package qcomtee

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-qcomtee/internal/driver"
	"github.com/ehrlich-b/go-qcomtee/internal/uapi"
)

// MaxSupplicantWorkers caps the reverse-path worker pool per root.
const MaxSupplicantWorkers = 4

// dispatchBufferSize is the scratch buffer handed to the driver per
// receive, into which it serializes the request's UBUF_INPUT payloads.
const dispatchBufferSize = 1024

// Response disposition of a dispatched request.
const (
	withResponse         = iota // respond; notify handler of transport state
	withResponseErr             // respond; response marshal needs cleanup notify
	withResponseNoNotify        // respond; no handler notification (not dispatched, or dispatch failed)
	withoutResponse             // reserved release: the driver expects no response
)

// supplicant services reverse-path requests for one root: workers block
// in the driver's receive ioctl, look the target callback up in the
// root's namespace, run its dispatcher and submit the response. Every
// received request is answered, except the reserved release operation,
// for which the driver expects no response.
//
// The pool is elastic: a worker that returns from the receive ioctl and
// observes no other waiter brings the next worker online, so one worker
// is always parked in the driver while QTEE issues concurrent requests,
// up to the pool cap.
type supplicant struct {
	root   *Root
	max    int
	logger hclog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	waiters int
	running [MaxSupplicantWorkers]bool

	tids [MaxSupplicantWorkers]atomic.Int32
}

func newSupplicant(root *Root, max int) *supplicant {
	s := &supplicant{
		root:   root,
		max:    max,
		logger: root.logger.Named("supplicant"),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

func (s *supplicant) start() {
	s.spawn(0)
}

func (s *supplicant) spawn(slot int) {
	if slot >= s.max {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[slot] || s.ctx.Err() != nil {
		return
	}
	s.running[slot] = true
	s.wg.Add(1)
	go s.worker(slot)
}

// worker runs the dispatcher loop on a pinned OS thread. Pinning keeps
// the thread id stable so teardown can nudge a receive ioctl out of the
// kernel with a signal.
func (s *supplicant) worker(slot int) {
	defer s.wg.Done()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	s.tids[slot].Store(int32(unix.Gettid()))
	s.logger.Debug("worker started", "slot", slot)

	for s.ctx.Err() == nil {
		err := s.processOne(slot)
		if err == nil {
			continue
		}
		if errors.Is(err, unix.EINTR) {
			// Signalled out of the receive ioctl: either a teardown
			// nudge (the loop condition ends the worker) or runtime
			// noise (retry).
			continue
		}
		s.logger.Error("worker stopping", "slot", slot, "error", err)
		break
	}

	s.mu.Lock()
	s.running[slot] = false
	s.mu.Unlock()
	s.tids[slot].Store(0)
	s.logger.Debug("worker stopped", "slot", slot)
}

func (s *supplicant) incWaiters() {
	s.mu.Lock()
	s.waiters++
	s.mu.Unlock()
}

func (s *supplicant) decWaiters() int {
	s.mu.Lock()
	s.waiters--
	w := s.waiters
	s.mu.Unlock()
	return w
}

// processOne receives one reverse request, dispatches it and submits the
// response. Its error reports the state of the worker's own transport,
// never of the request being processed.
func (s *supplicant) processOne(slot int) error {
	root := s.root
	scratch := make([]byte, dispatchBufferSize)

	// One meta parameter in front of up to MaxDispatchParams data
	// parameters; the same buffer is reused for the send.
	nparams := 1 + uapi.MaxDispatchParams
	buf := make([]byte, uapi.SupplBufLen(nparams))
	uapi.PutSupplRecvArg(buf, &uapi.SupplRecvArg{NumParams: uint32(nparams)})
	uapi.PutParam(buf, uapi.SupplRecvArgSize, 0, &uapi.Param{
		Attr: uapi.ATTR_TYPE_VALUE_INOUT | uapi.ATTR_META,
		A:    bufAddr(scratch),
		B:    dispatchBufferSize,
	})

	// Keep one worker parked in the driver: whoever stops being the
	// last waiter brings the next worker online.
	s.incWaiters()
	err := root.conn.SupplRecv(buf)
	if s.decWaiters() == 0 {
		s.spawn(slot + 1)
	}
	if err != nil {
		return wrapError("SUPPL_RECV", err)
	}

	var recv uapi.SupplRecvArg
	if err := uapi.GetSupplRecvArg(buf, &recv); err != nil {
		return wrapError("SUPPL_RECV", err)
	}
	var meta uapi.Param
	if err := uapi.GetParam(buf, uapi.SupplRecvArgSize, 0, &meta); err != nil {
		return wrapError("SUPPL_RECV", err)
	}

	op := Op(recv.Func)
	np := int(recv.NumParams) - 1
	if np < 0 || np > uapi.MaxDispatchParams {
		return newError("SUPPL_RECV", ErrCodeInvalidArgument,
			"malformed request parameter count")
	}
	targetID, requestID := meta.A, meta.B

	var start time.Time
	if root.observer != nil {
		start = time.Now()
	}

	ret := OK
	disp := withResponseNoNotify
	var out []Param
	var object *Object

	if np < 0 || np > uapi.MaxDispatchParams {
		// A malformed request is answered with an error, not dispatched.
		s.logger.Error("malformed request parameter count", "num_params", recv.NumParams)
		ret = ErrInvalid
	} else if object = root.ns.find(targetID); object == nil {
		s.logger.Error("callback object not found", "object_id", targetID)
		ret = ErrDefunct
	} else {
		disp, ret, out = s.dispatchRequest(object, op, buf, np, scratch)
		if disp == withoutResponse {
			// Reserved release: drop the reference found above and
			// answer nothing.
			object.Release()
			return nil
		}
	}

	// Response parameters fill the slots behind the send meta parameter.
	sendNP := 0
	if ret == OK {
		if err := reverseOut(buf, uapi.SupplSendArgSize+uapi.ParamSize, out, root); err != nil {
			s.logger.Error("response marshal failed", "op", op, "error", err)
			ret = ErrUnavail
			disp = withResponseErr
		} else {
			sendNP = len(out)
		}
	}

	uapi.PutSupplSendArg(buf, &uapi.SupplSendArg{
		Ret:       ret.wire(),
		NumParams: uint32(sendNP + 1),
	})
	uapi.PutParam(buf, uapi.SupplSendArgSize, 0, &uapi.Param{
		Attr: uapi.ATTR_TYPE_VALUE_OUTPUT | uapi.ATTR_META,
		A:    requestID,
	})

	// Losing the send leaves QTEE waiting on the request until it times
	// the call out; all that remains is telling the object.
	sendErr := root.conn.SupplSend(buf[:uapi.SupplBufLen(sendNP+1)])
	if sendErr != nil {
		s.logger.Error("SUPPL_SEND failed", "request_id", requestID, "error", sendErr)
		if disp == withResponse {
			disp = withResponseErr
		}
	}
	runtime.KeepAlive(scratch)
	runtime.KeepAlive(out)

	if object != nil {
		if disp == withResponseErr {
			if tn, ok := object.handler.(TransportNotifier); ok {
				err := sendErr
				if err == nil {
					err = newError("SUPPL_SEND", ErrCodeIOError, "response not delivered")
				}
				tn.TransportError(wrapError("SUPPL_SEND", err))
			}
		}
		if root.observer != nil {
			root.observer.ObserveCallback(op,
				uint64(time.Since(start).Nanoseconds()), ret == OK && sendErr == nil)
		}
		object.Release()
	}

	return nil
}

// dispatchRequest runs one request against the target object, handling
// the reserved release operation and the optional op predicate. The
// returned disposition says whether a response is due and whether the
// handler should hear about transport trouble afterwards.
func (s *supplicant) dispatchRequest(object *Object, op Op, buf []byte, np int, scratch []byte) (int, Result, []Param) {
	// Before doing any heavy work, make sure it is worth it.
	if sup, ok := object.handler.(OpSupporter); ok && !sup.Supports(op) {
		return withResponseNoNotify, ErrBadObj, nil
	}

	if op == OpRelease {
		// QTEE releases one of its capabilities to this object.
		object.Release()
		return withoutResponse, OK, nil
	}

	// Data parameters start behind the receive meta parameter.
	params, err := reverseIn(buf, uapi.SupplRecvArgSize+uapi.ParamSize, np, s.root, scratch)
	if err != nil {
		s.logger.Error("request marshal failed", "op", op, "error", err)
		return withResponseNoNotify, ErrUnavail, nil
	}

	out, res := object.handler.Dispatch(op, params)
	if res != OK {
		return withResponseNoNotify, res, nil
	}
	if len(out) > uapi.MaxDispatchParams {
		return withResponseErr, ErrUnavail, nil
	}
	return withResponse, OK, out
}

// ownsThread reports whether the calling goroutine is one of the pool's
// pinned workers.
func (s *supplicant) ownsThread() bool {
	tid := int32(unix.Gettid())
	for i := range s.tids {
		if s.tids[i].Load() == tid {
			return true
		}
	}
	return false
}

// interrupt nudges every worker blocked in the receive ioctl. Real
// driver connections are woken with a signal to the pinned thread; stub
// connections implement driver.Interrupter instead.
func (s *supplicant) interrupt() {
	pid := unix.Getpid()
	for i := range s.tids {
		if tid := s.tids[i].Load(); tid != 0 {
			_ = unix.Tgkill(pid, int(tid), unix.SIGURG)
		}
	}
	if in, ok := s.root.conn.(driver.Interrupter); ok {
		in.Interrupt()
	}
}

// stop cancels the pool and joins every worker, re-nudging workers still
// blocked in the driver until they have all come back.
func (s *supplicant) stop() {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	s.interrupt()
	for {
		select {
		case <-done:
			return
		case <-time.After(time.Millisecond):
			s.interrupt()
		}
	}
}
