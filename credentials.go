package qcomtee

import (
	"encoding/binary"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Operations of the credentials object, as invoked by QTEE while
// validating a registering client.
const (
	// CredentialsOpGetLength returns the blob length as a little-endian
	// 64-bit value in the output buffer.
	CredentialsOpGetLength Op = 0
	// CredentialsOpReadAtOffset takes a 64-bit offset and returns the
	// blob's remaining bytes, clipped to the output buffer.
	CredentialsOpReadAtOffset Op = 1
)

// Credential blob attribute keys.
const (
	credAttrUID        = 1
	credAttrSystemTime = 6
)

// credentialsHandler serves the process credentials blob to QTEE.
type credentialsHandler struct {
	blob []byte
}

// NewCredentials creates a callback object serving this process's
// credentials: a CBOR map of the uid and the current system time in
// milliseconds. QTEE reads it while registering the client environment.
func NewCredentials(root *Root) (*Object, error) {
	blob, err := encodeCredentials()
	if err != nil {
		return nil, err
	}
	return NewCallback(&credentialsHandler{blob: blob}, root)
}

func encodeCredentials() ([]byte, error) {
	return cbor.Marshal(map[int64]int64{
		credAttrUID:        int64(os.Getuid()),
		credAttrSystemTime: time.Now().UnixMilli(),
	})
}

func (h *credentialsHandler) Dispatch(op Op, params []Param) ([]Param, Result) {
	switch op {
	case CredentialsOpGetLength:
		// Expect one argument: the output buffer.
		if len(params) != 1 || params[0].Attr != AttrUBufOutput {
			return nil, ErrInvalid
		}
		length := make([]byte, 8)
		binary.LittleEndian.PutUint64(length, uint64(len(h.blob)))
		params[0].UBuf = length
		return params, OK

	case CredentialsOpReadAtOffset:
		// Expect two arguments: input and output buffer.
		if len(params) != 2 || params[0].Attr != AttrUBufInput ||
			params[1].Attr != AttrUBufOutput {
			return nil, ErrInvalid
		}
		if len(params[0].UBuf) < 8 {
			return nil, ErrInvalid
		}
		offset := binary.LittleEndian.Uint64(params[0].UBuf)
		if offset >= uint64(len(h.blob)) {
			return nil, ErrInvalid
		}
		rest := h.blob[offset:]
		if len(rest) > len(params[1].UBuf) {
			rest = rest[:len(params[1].UBuf)]
		}
		params[1].UBuf = rest
		return params, OK
	}

	return nil, ErrInvalid
}

var _ CallbackHandler = (*credentialsHandler)(nil)
