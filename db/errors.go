package db

import "github.com/pkg/errors"

// Error kinds surfaced by the store and sync engine. Crypto and Version
// failures carry the crypt package's sentinels; BlockTypeConflict never
// escapes this package.
var (
	ErrNotFound = errors.New("key not found")
	ErrState    = errors.New("invalid state")
	ErrSerdeDe  = errors.New("payload deserialize failed")
	ErrSerdeEn  = errors.New("payload serialize failed")
	ErrGit      = errors.New("git operation failed")
	ErrIO       = errors.New("io failure")
)

// wrapGit - fold a go-git error into the Git kind, keeping its text
func wrapGit(err error, op string) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(ErrGit, "%s: %v", op, err)
}

func wrapIO(err error, op string) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(ErrIO, "%s: %v", op, err)
}
