package qcomtee

import (
	"github.com/hashicorp/go-hclog"

	"github.com/ehrlich-b/go-qcomtee/internal/driver"
	"github.com/ehrlich-b/go-qcomtee/internal/logging"
	"github.com/ehrlich-b/go-qcomtee/internal/uapi"
)

// Root represents one open driver connection and anchors a namespace of
// exported callback objects. Every remote and callback object belongs to
// exactly one root and keeps it alive through a counted reference; the
// caller releases its own reference with a single Release.
type Root struct {
	Object

	ns       namespace
	conn     driver.Conn
	onClose  func()
	logger   hclog.Logger
	observer Observer
	supp     *supplicant
}

// RootOptions configures a root object.
type RootOptions struct {
	// OnClose is invoked exactly once when the root's last reference is
	// dropped, after all remote and callback objects under it are gone
	// and the supplicant workers have been joined, just before the
	// driver connection is closed. It must not invoke objects of this
	// root.
	OnClose func()

	// Logger for the root and its supplicant; logging.Default() if nil.
	Logger hclog.Logger

	// Observer for metrics collection; no metrics are recorded if nil.
	Observer Observer

	// SupplicantWorkers caps the reverse-path worker pool. Zero selects
	// MaxSupplicantWorkers; a negative value disables the supplicant
	// entirely, leaving reverse requests unserviced.
	SupplicantWorkers int
}

// DefaultRootOptions returns the default root configuration.
func DefaultRootOptions() *RootOptions {
	return &RootOptions{SupplicantWorkers: MaxSupplicantWorkers}
}

// NewRoot opens the TEE device (canonically /dev/tee0) and creates a
// root object over it. Each open creates a fresh object namespace on the
// driver side, so two roots never see each other's objects.
func NewRoot(devname string, opts *RootOptions) (*Root, error) {
	conn, err := driver.Open(devname)
	if err != nil {
		return nil, wrapError("root-init", err)
	}
	return newRoot(conn, opts), nil
}

func newRoot(conn driver.Conn, opts *RootOptions) *Root {
	if opts == nil {
		opts = DefaultRootOptions()
	}

	r := &Root{conn: conn}
	initObject(&r.Object, KindRoot)
	r.objectID = uapi.OBJREF_NULL
	r.Object.root = r

	r.onClose = opts.OnClose
	r.logger = opts.Logger
	if r.logger == nil {
		r.logger = logging.Default()
	}
	r.observer = opts.Observer

	workers := opts.SupplicantWorkers
	if workers == 0 {
		workers = MaxSupplicantWorkers
	}
	if workers > 0 {
		if workers > MaxSupplicantWorkers {
			workers = MaxSupplicantWorkers
		}
		r.supp = newSupplicant(r, workers)
		r.supp.start()
	}

	return r
}

// release tears the root down once the last reference is gone. A remote
// or callback release running on a supplicant worker can be the one that
// drops the final root reference; teardown then moves to a fresh
// goroutine so the pool join does not wait on the calling worker.
func (r *Root) release() {
	if r.supp != nil && r.supp.ownsThread() {
		go r.teardown()
		return
	}
	r.teardown()
}

func (r *Root) teardown() {
	if r.supp != nil {
		r.supp.stop()
	}
	if r.onClose != nil {
		r.onClose()
	}
	if err := r.conn.Close(); err != nil {
		r.logger.Error("driver close failed", "error", err)
	}
}
