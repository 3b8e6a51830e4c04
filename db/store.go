package db

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/rcowham/crypticdb/crdt"
	"github.com/rcowham/crypticdb/crypt"
)

// SuffixBlock - one (suffix, Block) pair emitted by a value's
// decomposition; the store writes it under prefix || suffix.
type SuffixBlock struct {
	Suffix string
	Block  crdt.Block
}

// BlockSet - anything writable under a prefix
type BlockSet interface {
	Blocks() []SuffixBlock
}

// Record - a flat structured value: field name to Block. Decomposes into
// one "$field" suffix per entry, in stable order.
type Record map[string]crdt.Block

func (r Record) Blocks() []SuffixBlock {
	fields := make([]string, 0, len(r))
	for f := range r {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	out := make([]SuffixBlock, 0, len(fields))
	for _, f := range fields {
		out = append(out, SuffixBlock{Suffix: "$" + f, Block: r[f]})
	}
	return out
}

// Write - store every (suffix, block) of val under prefix. Each key is
// merged over any existing value (a register over a stored register is a
// register update, Set and Map CRDT-merge, a variant change replaces the
// stored value), re-encrypted with fresh envelope parameters and staged.
// Nothing is written when any key falls under the reserved prefix. The
// first failing pair aborts the rest; already staged pairs stay staged.
func (d *DB) Write(prefix string, val BlockSet, sess *crypt.Session) error {
	blocks := val.Blocks()
	for _, sb := range blocks {
		if strings.HasPrefix(prefix+sb.Suffix, reservedPrefix) {
			return errors.Wrapf(ErrState, "key prefix %q is reserved", reservedPrefix)
		}
	}
	for _, sb := range blocks {
		if err := d.writeBlock(prefix+sb.Suffix, sb.Block, sess); err != nil {
			return err
		}
	}
	return nil
}

// ReadBlock - decrypt and return the Block stored under key
func (d *DB) ReadBlock(key string, sess *crypt.Session) (crdt.Block, error) {
	return d.readBlock(key, sess)
}

func (d *DB) readBlock(key string, sess *crypt.Session) (crdt.Block, error) {
	rel, err := d.keyPath(key)
	if err != nil {
		return crdt.Block{}, err
	}
	abs := filepath.Join(d.root, rel)
	if _, err := os.Stat(abs); err != nil {
		return crdt.Block{}, errors.Wrap(ErrNotFound, key)
	}
	env, err := crypt.ReadEnvelope(abs)
	if err != nil {
		return crdt.Block{}, wrapEnvErr(err, rel)
	}
	plaintext, err := sess.Decrypt(env)
	if err != nil {
		return crdt.Block{}, err
	}
	reg, err := decodeRegister(plaintext)
	if err != nil {
		return crdt.Block{}, err
	}
	return reg.Value(), nil
}

// writeBlock - the read-merge-write cycle for a single logical key
func (d *DB) writeBlock(key string, block crdt.Block, sess *crypt.Session) error {
	rel, err := d.keyPath(key)
	if err != nil {
		return err
	}
	abs := filepath.Join(d.root, rel)

	var reg *crdt.Register[crdt.Block]
	if _, serr := os.Stat(abs); serr == nil {
		env, err := crypt.ReadEnvelope(abs)
		if err != nil {
			return wrapEnvErr(err, rel)
		}
		plaintext, err := sess.Decrypt(env)
		if err != nil {
			return err
		}
		reg, err = decodeRegister(plaintext)
		if err != nil {
			return err
		}
		merged := reg.Value()
		switch {
		case merged.Kind == crdt.KindVal && block.Kind == crdt.KindVal:
			// A local register write supersedes the value it read; its
			// tag is bumped past the stored one, not merged against it.
			merged.Val.Update(block.Val.Value(), sess.SiteID())
		default:
			if err := merged.Merge(&block); err != nil {
				if !errors.Is(err, crdt.ErrTypeConflict) {
					return err
				}
				// Type changed under this key: last write wins wholesale.
				d.logger.Debugf("type conflict on %s: %v", key, err)
				merged = block
			}
		}
		reg.Update(merged, sess.SiteID())
	} else {
		reg = crdt.NewRegister(block, sess.SiteID())
	}

	plaintext, err := encodeRegister(reg)
	if err != nil {
		return err
	}
	env, err := sess.Encrypt(plaintext, crypt.FreshDefaultConfig())
	if err != nil {
		return err
	}
	if err := d.writeRaw(rel, env.Bytes()); err != nil {
		return err
	}
	d.logger.Debugf("wrote key %s -> %s", key, rel)
	return d.stage(rel)
}

// keyPath - worktree-relative envelope path for a logical key
func (d *DB) keyPath(key string) (string, error) {
	p, err := derivePath(d.salt, key)
	if err != nil {
		return "", err
	}
	return cryptTree + "/" + p, nil
}

// wrapEnvErr - parse failures on disk files are IO unless they are the
// crypt package's own kinds
func wrapEnvErr(err error, rel string) error {
	if errors.Is(err, crypt.ErrCrypto) || errors.Is(err, crypt.ErrVersion) {
		return err
	}
	return wrapIO(err, "read "+rel)
}
