package qcomtee

import "github.com/ehrlich-b/go-qcomtee/internal/driver"

// Memory is a shared-memory object: a driver-allocated buffer mapped
// into this process and transferable to QTEE as an object reference.
// When transferred, the driver hands QTEE a distinct mapping of the same
// region; releasing the local object is independent of it.
type Memory struct {
	obj *Object
	shm *driver.Shm
}

// NewMemory allocates a driver-backed shared buffer of at least size
// bytes under root. The returned Memory owns one reference to its
// object; Release drops it.
func NewMemory(root *Root, size uint64) (*Memory, error) {
	shm, err := root.conn.ShmAlloc(size)
	if err != nil {
		return nil, wrapError("SHM_ALLOC", err)
	}

	o := &Object{}
	initObject(o, KindRemote)
	// The driver identifies the region to QTEE by its allocation id.
	o.objectID = uint64(shm.ID)
	root.Retain()
	o.root = root
	o.releaseFn = func(o *Object) {
		// Local teardown only: unmap and drop the backing fd. Any
		// mapping QTEE received stays alive on its side.
		if err := shm.Close(); err != nil {
			root.logger.Error("shm release failed", "shm_id", shm.ID, "error", err)
		}
		root.Release()
	}

	return &Memory{obj: o, shm: shm}, nil
}

// Object returns the transferable object reference for the region.
func (m *Memory) Object() *Object { return m.obj }

// Bytes returns the local mapping of the region.
func (m *Memory) Bytes() []byte { return m.shm.Data }

// Size returns the size of the region in bytes; the driver may have
// rounded the requested size up.
func (m *Memory) Size() int { return len(m.shm.Data) }

// Release drops the Memory's reference to its object.
func (m *Memory) Release() { m.obj.Release() }
