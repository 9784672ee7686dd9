package qcomtee

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-qcomtee/internal/uapi"
)

func TestRegisterClient(t *testing.T) {
	stub := NewStubConn()
	stub.InvokeFunc = func(object uint64, op uint32, params []uapi.Param) (uint32, error) {
		if op == uint32(OpRelease) {
			return 0, nil
		}
		require.Equal(t, uint32(clientEnvOpRegisterAsClient), op)
		require.Equal(t, uapi.OBJREF_NULL, object, "registration goes through the root")
		require.Len(t, params, 2)
		assert.Equal(t, uint64(uapi.ATTR_TYPE_OBJREF_INPUT), params[0].Attr)
		assert.Equal(t, uint64(uapi.OBJREF_USER), params[0].B,
			"the credentials object is user-hosted")
		params[1].A = 0x900
		params[1].B = 0
		return 0, nil
	}
	root := quietRoot(t, stub)
	defer root.Release()

	env, err := RegisterClient(root)
	require.NoError(t, err)
	defer env.Release()

	assert.Equal(t, KindRemote, env.Kind())
	assert.Equal(t, uint64(0x900), env.objectID)

	// The transferred credentials object stays reachable for QTEE.
	creds := root.ns.find(0)
	require.NotNil(t, creds)
	assert.IsType(t, &credentialsHandler{}, creds.handler)
	creds.Release()
}

func TestRegisterClientDomainError(t *testing.T) {
	stub := NewStubConn()
	stub.InvokeFunc = func(_ uint64, _ uint32, _ []uapi.Param) (uint32, error) {
		return ErrBusy.wire(), nil
	}
	root := quietRoot(t, stub)
	defer root.Release()

	_, err := RegisterClient(root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "busy")
}

func TestOpenService(t *testing.T) {
	stub := NewStubConn()
	stub.InvokeFunc = func(object uint64, op uint32, params []uapi.Param) (uint32, error) {
		if op == uint32(OpRelease) {
			return 0, nil
		}
		require.Equal(t, uint32(clientEnvOpOpen), op)
		require.Equal(t, uint64(0x900), object)
		require.Len(t, params, 2)
		assert.Equal(t, uint64(uapi.ATTR_TYPE_UBUF_INPUT), params[0].Attr)
		uid := memSlice(params[0].A, params[0].B)
		assert.Equal(t, []byte{143, 0, 0, 0}, uid)
		params[1].A = 0x901
		return 0, nil
	}
	root := quietRoot(t, stub)
	defer root.Release()

	env := newRemote(root, 0x900)
	defer env.Release()

	svc, err := OpenService(env, 143)
	require.NoError(t, err)
	defer svc.Release()
	assert.Equal(t, uint64(0x901), svc.objectID)
}
