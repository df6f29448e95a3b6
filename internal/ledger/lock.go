package ledger

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/rotisserie/eris"
)

// runLock guards a ledger for the lifetime of one run.
type runLock struct {
	path string
	fl   *flock.Flock
	held bool
}

func newRunLock(ledgerPath string) *runLock {
	p := ledgerPath + ".lock"
	return &runLock{path: p, fl: flock.New(p)}
}

func (l *runLock) acquire() error {
	if l.held {
		return nil
	}
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "ledger: mkdir %s", dir)
	}
	ok, err := l.fl.TryLock()
	if err != nil {
		return eris.Wrapf(err, "ledger: lock %s", l.path)
	}
	if !ok {
		return eris.Wrapf(ErrLocked, "ledger: %s", l.path)
	}
	l.held = true
	return nil
}

func (l *runLock) release() error {
	if !l.held {
		return nil
	}
	l.held = false
	return eris.Wrap(l.fl.Unlock(), "ledger: unlock")
}
