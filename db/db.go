// Package db is the reconciliation core: a conflict-free replicated
// key/value store whose persistence and replication substrate is a git
// repository of encrypted envelopes. Replicas write envelopes into the
// working tree, commit them, and converge by fetching peers and merging
// diverged files blob-by-blob in the plaintext domain.
package db

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/rcowham/crypticdb/crdt"
	"github.com/rcowham/crypticdb/crypt"
	"github.com/rcowham/crypticdb/node"
)

// DB - one replica: a git working tree of envelopes plus the decrypted
// entropy salt. A DB is a single logical actor; concurrent Write/Sync
// calls on the same replica are not supported.
type DB struct {
	root   string
	repo   *git.Repository
	wt     *git.Worktree
	logger *logrus.Logger
	salt   []byte
}

// Root - the replica root directory
func (d *DB) Root() string {
	return d.root
}

// PathIndex - index of every envelope currently materialized under
// cryptic/
func (d *DB) PathIndex() (*node.Node, error) {
	idx, err := node.BuildFromDir(filepath.Join(d.root, cryptTree))
	if err != nil {
		return nil, wrapIO(err, "index "+cryptTree)
	}
	return idx, nil
}

// Repository - the underlying git repository, exposed for tooling
// (cryptgraph walks it); mutating it outside Write/Sync is undefined.
func (d *DB) Repository() *git.Repository {
	return d.repo
}

func (d *DB) signature(sess *crypt.Session) *object.Signature {
	return &object.Signature{
		Name:  fmt.Sprintf("site-%d", sess.SiteID()),
		Email: fmt.Sprintf("site-%d@cryptic", sess.SiteID()),
		When:  time.Now(),
	}
}

// stage - add a worktree-relative path to the index
func (d *DB) stage(rel string) error {
	if _, err := d.wt.Add(rel); err != nil {
		return wrapGit(err, "stage "+rel)
	}
	return nil
}

// writeRaw - atomic write of arbitrary bytes at a worktree-relative path
func (d *DB) writeRaw(rel string, data []byte) error {
	abs := filepath.Join(d.root, rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return wrapIO(err, "mkdir for "+rel)
	}
	tmp := abs + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return wrapIO(err, "write "+rel)
	}
	if err := os.Rename(tmp, abs); err != nil {
		os.Remove(tmp)
		return wrapIO(err, "rename "+rel)
	}
	return nil
}

// decodeRegister - envelope plaintext back to a Register[Block]
func decodeRegister(plaintext []byte) (*crdt.Register[crdt.Block], error) {
	reg := &crdt.Register[crdt.Block]{}
	if err := msgpack.Unmarshal(plaintext, reg); err != nil {
		return nil, errors.Wrapf(ErrSerdeDe, "register: %v", err)
	}
	return reg, nil
}

// encodeRegister - Register[Block] to envelope plaintext
func encodeRegister(reg *crdt.Register[crdt.Block]) ([]byte, error) {
	data, err := msgpack.Marshal(reg)
	if err != nil {
		return nil, errors.Wrapf(ErrSerdeEn, "register: %v", err)
	}
	return data, nil
}
