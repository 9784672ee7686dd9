package uapi

import "unsafe"

// BufData must match the kernel struct tee_ioctl_buf_data exactly
// (16 bytes). It is the direct ioctl argument for the invoke and
// supplicant calls; the real argument buffer lives behind BufPtr.
//
//	struct tee_ioctl_buf_data {
//	  __u64 buf_ptr;  // address of the argument buffer
//	  __u64 buf_len;  // length of the argument buffer
//	};
type BufData struct {
	BufPtr uint64
	BufLen uint64
}

const BufDataSize = 16

// Compile-time size check - must match the kernel layout
var _ [BufDataSize]byte = [unsafe.Sizeof(BufData{})]byte{}

// Param must match the kernel struct tee_ioctl_param exactly (32 bytes).
// The meaning of A, B, C depends on Attr:
//
//	UBUF_INPUT / UBUF_OUTPUT:    A=buffer address, B=size, C unused
//	OBJREF_INPUT / OBJREF_OUTPUT: A=object id, B=flags, C unused
//	VALUE_* | META:              request/response meta values
type Param struct {
	Attr uint64
	A    uint64
	B    uint64
	C    uint64
}

const ParamSize = 32

var _ [ParamSize]byte = [unsafe.Sizeof(Param{})]byte{}

// ObjectInvokeArg is the header of the TEE_IOC_OBJECT_INVOKE argument
// buffer (24 bytes), followed by NumParams Param entries.
//
//	struct tee_ioctl_object_invoke_arg {
//	  __u64 object;      // id of the invoked object
//	  __u32 op;          // operation
//	  __u32 ret;         // result returned by QTEE
//	  __u32 num_params;  // parameters following this header
//	};
type ObjectInvokeArg struct {
	Object    uint64
	Op        uint32
	Ret       uint32
	NumParams uint32
	Pad       uint32 // reserved/padding
}

const ObjectInvokeArgSize = 24

var _ [ObjectInvokeArgSize]byte = [unsafe.Sizeof(ObjectInvokeArg{})]byte{}

// SupplRecvArg is the header of the TEE_IOC_SUPPL_RECV argument buffer
// (8 bytes), followed by NumParams Param entries. The first parameter is
// the meta parameter: on entry it describes the scratch buffer the driver
// serializes UBUF_INPUT payloads into; on return A holds the target
// object id and B the request id.
type SupplRecvArg struct {
	Func      uint32
	NumParams uint32
}

const SupplRecvArgSize = 8

var _ [SupplRecvArgSize]byte = [unsafe.Sizeof(SupplRecvArg{})]byte{}

// SupplSendArg is the header of the TEE_IOC_SUPPL_SEND argument buffer
// (8 bytes), followed by NumParams Param entries. The first parameter is
// the meta parameter carrying the request id being answered.
type SupplSendArg struct {
	Ret       uint32
	NumParams uint32
}

const SupplSendArgSize = 8

var _ [SupplSendArgSize]byte = [unsafe.Sizeof(SupplSendArg{})]byte{}

// ShmAllocData must match the kernel struct tee_ioctl_shm_alloc_data
// exactly (16 bytes). Size is in/out; the driver rounds it up to page
// granularity. ID identifies the allocation towards QTEE. The ioctl
// return value is a file descriptor for mapping the memory.
type ShmAllocData struct {
	Size  uint64
	Flags uint32
	ID    int32
}

const ShmAllocDataSize = 16

var _ [ShmAllocDataSize]byte = [unsafe.Sizeof(ShmAllocData{})]byte{}

// InvokeBufLen returns the length of an invoke argument buffer carrying
// n parameters.
func InvokeBufLen(n int) int {
	return ObjectInvokeArgSize + n*ParamSize
}

// SupplBufLen returns the length of a supplicant argument buffer
// carrying n parameters (the meta parameter included in n). The receive
// and send headers are the same size, so one buffer serves both ioctls.
func SupplBufLen(n int) int {
	return SupplRecvArgSize + n*ParamSize
}
