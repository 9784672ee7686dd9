// Package uapi provides Linux TEE subsystem UAPI definitions for the
// QTEE object-invoke interface.
package uapi

// Parameter attribute types as understood by the TEE driver.
const (
	ATTR_TYPE_NONE         = 0x0
	ATTR_TYPE_VALUE_INPUT  = 0x1
	ATTR_TYPE_VALUE_OUTPUT = 0x2
	ATTR_TYPE_VALUE_INOUT  = 0x3
	ATTR_TYPE_UBUF_INPUT    = 0x8
	ATTR_TYPE_UBUF_OUTPUT   = 0x9
	ATTR_TYPE_UBUF_INOUT    = 0xa
	ATTR_TYPE_OBJREF_INPUT  = 0xb
	ATTR_TYPE_OBJREF_OUTPUT = 0xc
	ATTR_TYPE_OBJREF_INOUT  = 0xd

	// ATTR_META marks the leading meta parameter of a supplicant
	// receive/send exchange.
	ATTR_META = 0x100
)

// Object reference sentinels.
const (
	// OBJREF_NULL is the reserved id denoting a null object reference.
	OBJREF_NULL = ^uint64(0)

	// OBJREF_USER flags an object reference as hosted in userspace;
	// the id is then a callback table index, not a TEE-assigned id.
	OBJREF_USER = 1 << 0
)

// OP_RELEASE is the reserved operation releasing one reference to an
// object; interpreted uniformly by the driver and this library. The
// driver expects no supplicant response for it.
const OP_RELEASE = 65536

// Limits imposed by the transport.
const (
	// MaxInvokeParams is the largest parameter array accepted by
	// TEE_IOC_OBJECT_INVOKE.
	MaxInvokeParams = 64

	// MaxDispatchParams is the largest data parameter array delivered
	// to a callback dispatcher. The supplicant exchange carries one
	// extra meta parameter in front of these.
	MaxDispatchParams = 10
)

// ioctl encoding constants
const (
	_IOC_WRITE     = 1
	_IOC_READ      = 2
	_IOC_NRBITS    = 8
	_IOC_TYPEBITS  = 8
	_IOC_SIZEBITS  = 14
	_IOC_NRSHIFT   = 0
	_IOC_TYPESHIFT = _IOC_NRSHIFT + _IOC_NRBITS
	_IOC_SIZESHIFT = _IOC_TYPESHIFT + _IOC_TYPEBITS
	_IOC_DIRSHIFT  = _IOC_SIZESHIFT + _IOC_SIZEBITS
)

// IoctlEncode creates an ioctl command number
func IoctlEncode(dir, typ, nr, size uint32) uint32 {
	return (dir << _IOC_DIRSHIFT) |
		(size << _IOC_SIZESHIFT) |
		(typ << _IOC_TYPESHIFT) |
		(nr << _IOC_NRSHIFT)
}

// TEE subsystem ioctl magic and command numbers.
const (
	teeIocMagic = 0xa4

	nrShmAlloc     = 1
	nrSupplRecv    = 6
	nrSupplSend    = 7
	nrObjectInvoke = 10
)

// Ioctl request codes used by this library. All argument payloads are a
// 16-byte struct: BufData for the invoke/supplicant calls, ShmAllocData
// for shared-memory allocation.
var (
	TEE_IOC_SHM_ALLOC     = IoctlEncode(_IOC_READ|_IOC_WRITE, teeIocMagic, nrShmAlloc, ShmAllocDataSize)
	TEE_IOC_SUPPL_RECV    = IoctlEncode(_IOC_READ, teeIocMagic, nrSupplRecv, BufDataSize)
	TEE_IOC_SUPPL_SEND    = IoctlEncode(_IOC_READ, teeIocMagic, nrSupplSend, BufDataSize)
	TEE_IOC_OBJECT_INVOKE = IoctlEncode(_IOC_READ, teeIocMagic, nrObjectInvoke, BufDataSize)
)
