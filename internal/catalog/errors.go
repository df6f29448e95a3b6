package catalog

import "github.com/rotisserie/eris"

var (
	// ErrCatalogUnavailable means the reference catalog could not be read.
	// Classification cannot start without it.
	ErrCatalogUnavailable = eris.New("reference catalog unavailable")

	// ErrIndexBuild means a catalog entry is malformed and the index cannot
	// be constructed.
	ErrIndexBuild = eris.New("catalog index build failed")
)
