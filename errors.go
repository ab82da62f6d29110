package lsmgo

import "github.com/pkg/errors"

// Sentinel errors for conditions a caller can branch on. IO and
// corruption errors are wrapped with operation/path context via
// pkg/errors rather than carried as sentinels, since their identity is
// the underlying OS/format failure, not a fixed condition to match on.
var (
	// ErrClosed is returned by any operation on a DB after Close.
	ErrClosed = errors.New("lsmgo: closed")
	// ErrEmptyKey is returned by Set/Delete/Get for a null or empty key.
	ErrEmptyKey = errors.New("lsmgo: empty key")
)
