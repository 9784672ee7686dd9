package qcomtee

import (
	"encoding/binary"
	"fmt"
)

// Operations of the QTEE client-environment service, reachable through
// the root object.
const (
	clientEnvOpOpen             Op = 0
	clientEnvOpRegisterAsClient Op = 2
)

// RegisterClient registers this process with QTEE and returns the
// client-environment object. A fresh credentials object is created and
// transferred for QTEE to validate; QTEE releases it when it is done.
func RegisterClient(root *Root) (*Object, error) {
	creds, err := NewCredentials(root)
	if err != nil {
		return nil, err
	}
	// Our handle; the capability transferred to QTEE holds its own
	// reference.
	defer creds.Release()

	params := []Param{ObjectIn(creds), ObjectOut()}
	result, err := root.Invoke(clientEnvOpRegisterAsClient, params)
	if err != nil {
		return nil, err
	}
	if result != OK {
		return nil, newError("register-client", ErrCodeIOError,
			fmt.Sprintf("registerAsClient: %s", result))
	}
	return params[1].Object, nil
}

// OpenService opens the QTEE service identified by uid through the
// client environment and returns its object. The caller owns the
// returned reference.
func OpenService(clientEnv *Object, uid uint32) (*Object, error) {
	raw := make([]byte, 4)
	binary.LittleEndian.PutUint32(raw, uid)

	params := []Param{UBufIn(raw), ObjectOut()}
	result, err := clientEnv.Invoke(clientEnvOpOpen, params)
	if err != nil {
		return nil, err
	}
	if result != OK {
		return nil, newError("open-service", ErrCodeIOError,
			fmt.Sprintf("open(%d): %s", uid, result))
	}
	return params[1].Object, nil
}
