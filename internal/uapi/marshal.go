package uapi

import "encoding/binary"

// The argument buffers handed to the driver are raw little-endian byte
// ranges: a fixed header followed by an array of 32-byte Param entries.
// Everything below encodes into or decodes out of such a buffer; the
// buffer itself is what BufData.BufPtr points at.

// Error definitions
type MarshalError string

func (e MarshalError) Error() string {
	return string(e)
}

const (
	ErrInsufficientData MarshalError = "insufficient data for unmarshaling"
)

// PutObjectInvokeArg marshals the invoke header into buf.
func PutObjectInvokeArg(buf []byte, arg *ObjectInvokeArg) {
	binary.LittleEndian.PutUint64(buf[0:8], arg.Object)
	binary.LittleEndian.PutUint32(buf[8:12], arg.Op)
	binary.LittleEndian.PutUint32(buf[12:16], arg.Ret)
	binary.LittleEndian.PutUint32(buf[16:20], arg.NumParams)
	binary.LittleEndian.PutUint32(buf[20:24], arg.Pad)
}

// GetObjectInvokeArg unmarshals the invoke header from buf.
func GetObjectInvokeArg(buf []byte, arg *ObjectInvokeArg) error {
	if len(buf) < ObjectInvokeArgSize {
		return ErrInsufficientData
	}
	arg.Object = binary.LittleEndian.Uint64(buf[0:8])
	arg.Op = binary.LittleEndian.Uint32(buf[8:12])
	arg.Ret = binary.LittleEndian.Uint32(buf[12:16])
	arg.NumParams = binary.LittleEndian.Uint32(buf[16:20])
	arg.Pad = binary.LittleEndian.Uint32(buf[20:24])
	return nil
}

// PutSupplRecvArg marshals the supplicant receive header into buf.
func PutSupplRecvArg(buf []byte, arg *SupplRecvArg) {
	binary.LittleEndian.PutUint32(buf[0:4], arg.Func)
	binary.LittleEndian.PutUint32(buf[4:8], arg.NumParams)
}

// GetSupplRecvArg unmarshals the supplicant receive header from buf.
func GetSupplRecvArg(buf []byte, arg *SupplRecvArg) error {
	if len(buf) < SupplRecvArgSize {
		return ErrInsufficientData
	}
	arg.Func = binary.LittleEndian.Uint32(buf[0:4])
	arg.NumParams = binary.LittleEndian.Uint32(buf[4:8])
	return nil
}

// PutSupplSendArg marshals the supplicant send header into buf. It
// overwrites the receive header: the send exchange reuses the same
// argument buffer.
func PutSupplSendArg(buf []byte, arg *SupplSendArg) {
	binary.LittleEndian.PutUint32(buf[0:4], arg.Ret)
	binary.LittleEndian.PutUint32(buf[4:8], arg.NumParams)
}

// GetSupplSendArg unmarshals the supplicant send header from buf.
func GetSupplSendArg(buf []byte, arg *SupplSendArg) error {
	if len(buf) < SupplSendArgSize {
		return ErrInsufficientData
	}
	arg.Ret = binary.LittleEndian.Uint32(buf[0:4])
	arg.NumParams = binary.LittleEndian.Uint32(buf[4:8])
	return nil
}

// PutParam marshals one parameter into the i-th slot of the parameter
// array starting at offset within buf.
func PutParam(buf []byte, offset, i int, p *Param) {
	base := offset + i*ParamSize
	binary.LittleEndian.PutUint64(buf[base:base+8], p.Attr)
	binary.LittleEndian.PutUint64(buf[base+8:base+16], p.A)
	binary.LittleEndian.PutUint64(buf[base+16:base+24], p.B)
	binary.LittleEndian.PutUint64(buf[base+24:base+32], p.C)
}

// GetParam unmarshals the i-th parameter of the array starting at offset.
func GetParam(buf []byte, offset, i int, p *Param) error {
	base := offset + i*ParamSize
	if len(buf) < base+ParamSize {
		return ErrInsufficientData
	}
	p.Attr = binary.LittleEndian.Uint64(buf[base : base+8])
	p.A = binary.LittleEndian.Uint64(buf[base+8 : base+16])
	p.B = binary.LittleEndian.Uint64(buf[base+16 : base+24])
	p.C = binary.LittleEndian.Uint64(buf[base+24 : base+32])
	return nil
}

// PutParams marshals a parameter array starting at offset within buf.
func PutParams(buf []byte, offset int, params []Param) {
	for i := range params {
		PutParam(buf, offset, i, &params[i])
	}
}

// GetParams unmarshals n parameters starting at offset within buf.
func GetParams(buf []byte, offset, n int) ([]Param, error) {
	if len(buf) < offset+n*ParamSize {
		return nil, ErrInsufficientData
	}
	params := make([]Param, n)
	for i := range params {
		if err := GetParam(buf, offset, i, &params[i]); err != nil {
			return nil, err
		}
	}
	return params, nil
}

// PutShmAllocData marshals a shared-memory allocation request.
func PutShmAllocData(buf []byte, data *ShmAllocData) {
	binary.LittleEndian.PutUint64(buf[0:8], data.Size)
	binary.LittleEndian.PutUint32(buf[8:12], data.Flags)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(data.ID))
}

// GetShmAllocData unmarshals a shared-memory allocation response.
func GetShmAllocData(buf []byte, data *ShmAllocData) error {
	if len(buf) < ShmAllocDataSize {
		return ErrInsufficientData
	}
	data.Size = binary.LittleEndian.Uint64(buf[0:8])
	data.Flags = binary.LittleEndian.Uint32(buf[8:12])
	data.ID = int32(binary.LittleEndian.Uint32(buf[12:16]))
	return nil
}
