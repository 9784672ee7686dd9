package driver

import (
	"fmt"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-qcomtee/internal/uapi"
)

// Device is the real TEE driver connection over a character device fd
// (canonically /dev/tee0).
type Device struct {
	fd int
}

var _ Conn = (*Device)(nil)

// Open opens the TEE device for read/write. Every open creates a fresh
// object namespace on the driver side.
func Open(path string) (*Device, error) {
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return &Device{fd: fd}, nil
}

// ioctlBufData issues one of the buf_data ioctls. The argument buffer
// must stay alive and unmoved for the duration of the call.
func (d *Device) ioctlBufData(req uint32, buf []byte) error {
	bd := uapi.BufData{
		BufPtr: uint64(uintptr(unsafe.Pointer(&buf[0]))),
		BufLen: uint64(len(buf)),
	}

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd),
		uintptr(req), uintptr(unsafe.Pointer(&bd)))
	runtime.KeepAlive(buf)
	if errno != 0 {
		return errno
	}
	return nil
}

// ObjectInvoke implements Conn.
func (d *Device) ObjectInvoke(buf []byte) error {
	return d.ioctlBufData(uapi.TEE_IOC_OBJECT_INVOKE, buf)
}

// SupplRecv implements Conn. EINTR is returned as-is so the supplicant
// loop can distinguish a teardown nudge from a received request.
func (d *Device) SupplRecv(buf []byte) error {
	return d.ioctlBufData(uapi.TEE_IOC_SUPPL_RECV, buf)
}

// SupplSend implements Conn.
func (d *Device) SupplSend(buf []byte) error {
	return d.ioctlBufData(uapi.TEE_IOC_SUPPL_SEND, buf)
}

// ShmAlloc implements Conn. The ioctl returns a new file descriptor
// referring to the shared region; the region is mapped through it and
// the Shm owns both the mapping and the descriptor.
func (d *Device) ShmAlloc(size uint64) (*Shm, error) {
	data := uapi.ShmAllocData{Size: size}
	buf := make([]byte, uapi.ShmAllocDataSize)
	uapi.PutShmAllocData(buf, &data)

	r1, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd),
		uintptr(uapi.TEE_IOC_SHM_ALLOC), uintptr(unsafe.Pointer(&buf[0])))
	runtime.KeepAlive(buf)
	if errno != 0 {
		return nil, errno
	}
	shmFd := int(r1)

	if err := uapi.GetShmAllocData(buf, &data); err != nil {
		unix.Close(shmFd)
		return nil, err
	}

	mem, err := unix.Mmap(shmFd, 0, int(data.Size),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(shmFd)
		return nil, fmt.Errorf("failed to mmap shm fd: %w", err)
	}

	return NewShm(data.ID, mem, func() error {
		merr := unix.Munmap(mem)
		cerr := unix.Close(shmFd)
		if merr != nil {
			return merr
		}
		return cerr
	}), nil
}

// Close implements Conn.
func (d *Device) Close() error {
	if d.fd < 0 {
		return nil
	}
	err := unix.Close(d.fd)
	d.fd = -1
	return err
}
