package qcomtee

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-qcomtee/internal/uapi"
)

func wireParams(t *testing.T, buf []byte, offset, n int) []uapi.Param {
	t.Helper()
	params, err := uapi.GetParams(buf, offset, n)
	require.NoError(t, err)
	return params
}

func TestForwardInTranslatesParams(t *testing.T) {
	root := quietRoot(t, NewStubConn())
	defer root.Release()

	in := []byte{1, 2, 3, 4}
	out := make([]byte, 8)
	remote := newRemote(root, 0x51)
	defer remote.Release()

	params := []Param{
		UBufIn(in),
		UBufOut(out),
		ObjectIn(nil),
		ObjectIn(remote),
		ObjectOut(),
	}

	buf := make([]byte, uapi.InvokeBufLen(len(params)))
	retained, err := forwardIn(buf, uapi.ObjectInvokeArgSize, params, root)
	require.NoError(t, err)
	assert.Empty(t, retained)

	tp := wireParams(t, buf, uapi.ObjectInvokeArgSize, len(params))
	assert.Equal(t, uint64(uapi.ATTR_TYPE_UBUF_INPUT), tp[0].Attr)
	assert.Equal(t, bufAddr(in), tp[0].A)
	assert.Equal(t, uint64(4), tp[0].B)
	assert.Equal(t, uint64(uapi.ATTR_TYPE_UBUF_OUTPUT), tp[1].Attr)
	assert.Equal(t, uint64(8), tp[1].B)
	assert.Equal(t, uint64(uapi.ATTR_TYPE_OBJREF_INPUT), tp[2].Attr)
	assert.Equal(t, uapi.OBJREF_NULL, tp[2].A, "null object crosses as the null id")
	assert.Equal(t, uint64(0x51), tp[3].A)
	assert.Equal(t, uint64(0), tp[3].B)
	assert.Equal(t, uint64(uapi.ATTR_TYPE_OBJREF_OUTPUT), tp[4].Attr)
	assert.Equal(t, uint64(0), tp[4].A, "output slots carry the attribute only")
}

func TestForwardInExportsCallback(t *testing.T) {
	root := quietRoot(t, NewStubConn())
	defer root.Release()

	cb, err := NewCallback(&testHandler{}, root)
	require.NoError(t, err)

	params := []Param{ObjectIn(cb)}
	buf := make([]byte, uapi.InvokeBufLen(1))
	retained, err := forwardIn(buf, uapi.ObjectInvokeArgSize, params, root)
	require.NoError(t, err)
	assert.Empty(t, retained, "the fresh insert's reference belongs to the table")

	require.True(t, cb.queued)
	assert.Equal(t, int32(2), cb.refs.Load())

	tp := wireParams(t, buf, uapi.ObjectInvokeArgSize, 1)
	assert.Equal(t, cb.objectID, tp[0].A)
	assert.Equal(t, uint64(uapi.OBJREF_USER), tp[0].B)

	// A second transfer reuses the id and is rollback-able.
	retained, err = forwardIn(buf, uapi.ObjectInvokeArgSize, params, root)
	require.NoError(t, err)
	require.Len(t, retained, 1)
	assert.Equal(t, int32(3), cb.refs.Load())
}

func TestForwardInRejectsForeignCallback(t *testing.T) {
	root := quietRoot(t, NewStubConn())
	defer root.Release()
	other := quietRoot(t, NewStubConn())
	defer other.Release()

	cb, err := NewCallback(&testHandler{}, other)
	require.NoError(t, err)
	defer cb.Release()

	buf := make([]byte, uapi.InvokeBufLen(1))
	_, err = forwardIn(buf, uapi.ObjectInvokeArgSize, []Param{ObjectIn(cb)}, root)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeInvalidObject))
	assert.False(t, cb.queued)
}

func TestForwardInRejectsRootAndUnknownAttr(t *testing.T) {
	root := quietRoot(t, NewStubConn())
	defer root.Release()

	buf := make([]byte, uapi.InvokeBufLen(1))
	_, err := forwardIn(buf, uapi.ObjectInvokeArgSize, []Param{ObjectIn(&root.Object)}, root)
	require.Error(t, err, "a root cannot cross the boundary")

	_, err = forwardIn(buf, uapi.ObjectInvokeArgSize, []Param{{Attr: Attr(0x77)}}, root)
	require.Error(t, err)
}

func TestForwardOutProducesObjects(t *testing.T) {
	root := quietRoot(t, NewStubConn())
	defer root.Release()

	cb := newQueuedCallback(t, root)
	out := make([]byte, 16)
	params := []Param{UBufOut(out), ObjectOut(), ObjectOut(), ObjectOut()}

	buf := make([]byte, uapi.InvokeBufLen(len(params)))
	uapi.PutParams(buf, uapi.ObjectInvokeArgSize, []uapi.Param{
		{Attr: uapi.ATTR_TYPE_UBUF_OUTPUT, A: bufAddr(out), B: 5},
		{Attr: uapi.ATTR_TYPE_OBJREF_OUTPUT, A: 0x99, B: 0},
		{Attr: uapi.ATTR_TYPE_OBJREF_OUTPUT, A: uapi.OBJREF_NULL},
		{Attr: uapi.ATTR_TYPE_OBJREF_OUTPUT, A: cb.objectID, B: uapi.OBJREF_USER},
	})

	require.NoError(t, forwardOut(buf, uapi.ObjectInvokeArgSize, params, root))

	assert.Len(t, params[0].UBuf, 5, "output buffer resliced to the driver-reported size")
	require.NotNil(t, params[1].Object)
	assert.Equal(t, KindRemote, params[1].Object.Kind())
	assert.Equal(t, uint64(0x99), params[1].Object.objectID)
	assert.Nil(t, params[2].Object)
	assert.Same(t, cb, params[3].Object, "user-flagged ids resolve through the namespace")
	assert.Equal(t, int32(3), cb.refs.Load(), "the produced reference is counted")

	params[1].Object.Release()
	params[3].Object.Release()
}

func TestForwardOutFailureReleasesProduced(t *testing.T) {
	root := quietRoot(t, NewStubConn())
	defer root.Release()
	rootRefs := root.refs.Load()

	params := []Param{ObjectOut(), {Attr: Attr(0x77)}}
	buf := make([]byte, uapi.InvokeBufLen(len(params)))
	uapi.PutParams(buf, uapi.ObjectInvokeArgSize, []uapi.Param{
		{Attr: uapi.ATTR_TYPE_OBJREF_OUTPUT, A: 0x42},
		{Attr: 0x77},
	})

	require.Error(t, forwardOut(buf, uapi.ObjectInvokeArgSize, params, root))
	assert.Nil(t, params[0].Object, "produced remotes are released on failure")
	assert.Equal(t, rootRefs, root.refs.Load(), "no root reference leaks")
}

func TestReverseInResolvesScratch(t *testing.T) {
	root := quietRoot(t, NewStubConn())
	defer root.Release()

	cb := newQueuedCallback(t, root)
	scratch := make([]byte, 64)
	copy(scratch, "abc")

	buf := make([]byte, uapi.SupplBufLen(1+4))
	offset := uapi.SupplRecvArgSize + uapi.ParamSize
	uapi.PutParams(buf, offset, []uapi.Param{
		{Attr: uapi.ATTR_TYPE_UBUF_INPUT, A: bufAddr(scratch), B: 3},
		{Attr: uapi.ATTR_TYPE_UBUF_OUTPUT, A: bufAddr(scratch) + 3, B: 8},
		{Attr: uapi.ATTR_TYPE_OBJREF_INPUT, A: cb.objectID, B: uapi.OBJREF_USER},
		{Attr: uapi.ATTR_TYPE_OBJREF_INPUT, A: 0x7788, B: 0},
	})

	params, err := reverseIn(buf, offset, 4, root, scratch)
	require.NoError(t, err)

	assert.Equal(t, []byte("abc"), params[0].UBuf)
	assert.Equal(t, AttrUBufOutput, params[1].Attr)
	assert.Len(t, params[1].UBuf, 8)
	assert.Same(t, cb, params[2].Object)
	require.NotNil(t, params[3].Object)
	assert.Equal(t, KindRemote, params[3].Object.Kind())

	params[2].Object.Release()
	params[3].Object.Release()
}

func TestReverseInBadAddressFails(t *testing.T) {
	root := quietRoot(t, NewStubConn())
	defer root.Release()
	rootRefs := root.refs.Load()

	scratch := make([]byte, 16)
	buf := make([]byte, uapi.SupplBufLen(1+2))
	offset := uapi.SupplRecvArgSize + uapi.ParamSize
	uapi.PutParams(buf, offset, []uapi.Param{
		{Attr: uapi.ATTR_TYPE_OBJREF_INPUT, A: 0x31, B: 0},
		{Attr: uapi.ATTR_TYPE_UBUF_INPUT, A: 12, B: 64},
	})

	_, err := reverseIn(buf, offset, 2, root, scratch)
	require.Error(t, err)
	assert.Equal(t, rootRefs, root.refs.Load(),
		"remotes resolved before the failure are released")
}

func TestReverseRoundTripPreservesTags(t *testing.T) {
	root := quietRoot(t, NewStubConn())
	defer root.Release()

	scratch := make([]byte, 64)
	copy(scratch, "payload")

	in := []uapi.Param{
		{Attr: uapi.ATTR_TYPE_UBUF_INPUT, A: bufAddr(scratch), B: 7},
		{Attr: uapi.ATTR_TYPE_UBUF_OUTPUT, A: bufAddr(scratch) + 7, B: 16},
		{Attr: uapi.ATTR_TYPE_OBJREF_OUTPUT},
	}
	buf := make([]byte, uapi.SupplBufLen(1+len(in)))
	offset := uapi.SupplRecvArgSize + uapi.ParamSize
	uapi.PutParams(buf, offset, in)

	params, err := reverseIn(buf, offset, len(in), root, scratch)
	require.NoError(t, err)

	require.NoError(t, reverseOut(buf, offset, params, root))
	tp := wireParams(t, buf, offset, len(in))
	for i := range in {
		assert.Equal(t, in[i].Attr, tp[i].Attr,
			"response tags mirror the request")
	}
}
