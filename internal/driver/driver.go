// Package driver talks to the TEE character device. It exposes the three
// object-invoke ioctls plus shared-memory allocation behind the Conn
// interface so the object layer can run against a stub in tests.
package driver

// Conn is one open connection to the TEE driver. Each connection is an
// isolated object namespace on the driver side: QTEE objects received on
// one connection are not visible on another, and callback objects
// exported on a connection can only be invoked through it.
//
// The buf arguments are marshaled argument buffers (header + parameter
// array, see internal/uapi); the driver updates them in place.
type Conn interface {
	// ObjectInvoke issues TEE_IOC_OBJECT_INVOKE, blocking until QTEE
	// returns. Reverse requests issued by QTEE during the call are
	// delivered through SupplRecv on other threads.
	ObjectInvoke(buf []byte) error

	// SupplRecv issues TEE_IOC_SUPPL_RECV, blocking until QTEE issues a
	// request. May fail with unix.EINTR when the calling thread is
	// signalled; the caller decides whether to retry.
	SupplRecv(buf []byte) error

	// SupplSend issues TEE_IOC_SUPPL_SEND, submitting the response to a
	// previously received request.
	SupplSend(buf []byte) error

	// ShmAlloc allocates a driver-backed shared-memory region of at
	// least size bytes and maps it into the process.
	ShmAlloc(size uint64) (*Shm, error)

	// Close closes the connection. The driver releases every object in
	// the connection's namespace.
	Close() error
}

// Interrupter is implemented by connections whose blocked SupplRecv can
// be woken without a thread signal; the supplicant calls it during
// teardown. The real device is interrupted via tgkill instead.
type Interrupter interface {
	Interrupt()
}

// Shm is a driver-allocated shared-memory region mapped into the
// process. The TEE-side identity of the region is ID; Data is the local
// mapping. Closing the local mapping is independent of any mapping QTEE
// holds.
type Shm struct {
	ID   int32
	Data []byte

	release func() error
}

// NewShm wraps an existing mapping. release is invoked once on Close;
// it may be nil.
func NewShm(id int32, data []byte, release func() error) *Shm {
	return &Shm{ID: id, Data: data, release: release}
}

// Close unmaps the region and releases the backing descriptor.
func (s *Shm) Close() error {
	if s.release == nil {
		return nil
	}
	release := s.release
	s.release = nil
	s.Data = nil
	return release()
}
