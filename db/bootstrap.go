package db

import (
	"os"
	"path/filepath"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/rcowham/crypticdb/crypt"
)

// Init - open or create the replica at root and ensure its invariants:
// a git repository, the cryptic/ subtree and an encrypted 32-byte
// entropy salt at key_salt. Idempotent; an existing salt is left alone.
func Init(root string, sess *crypt.Session, logger *logrus.Logger) (*DB, error) {
	repo, err := openOrInitRepo(root)
	if err != nil {
		return nil, err
	}
	return finishInit(root, repo, sess, logger)
}

// InitFromRemote - create a replica by cloning remote's master. When the
// remote has no master yet, fall back to a plain Init. Either way the
// remote descriptor is persisted so later Sync calls find it.
func InitFromRemote(root string, rem *Remote, sess *crypt.Session, logger *logrus.Logger) (*DB, error) {
	repo, err := openOrInitRepo(root)
	if err != nil {
		return nil, err
	}
	d := &DB{root: root, repo: repo, logger: logger}
	if err := d.ensureGitRemote(rem); err != nil {
		return nil, err
	}
	head, ok, err := d.fetchRemoteHead(rem)
	if err != nil {
		return nil, err
	}
	if ok {
		if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.Master, head)); err != nil {
			return nil, wrapGit(err, "create master")
		}
		wt, err := repo.Worktree()
		if err != nil {
			return nil, wrapGit(err, "worktree")
		}
		if err := wt.Checkout(&git.CheckoutOptions{Force: true}); err != nil {
			return nil, wrapGit(err, "checkout")
		}
		logger.Debugf("init: checked out remote %s at %s", syncBranch, head)
	} else {
		logger.Debugf("init: remote %s has no %s, starting empty", rem.Name, syncBranch)
	}
	d, err = finishInit(root, repo, sess, logger)
	if err != nil {
		return nil, err
	}
	if err := d.WriteRemote(rem, sess); err != nil {
		return nil, err
	}
	return d, nil
}

func openOrInitRepo(root string) (*git.Repository, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, wrapIO(err, "mkdir "+root)
	}
	repo, err := git.PlainOpen(root)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, wrapGit(err, "open "+root)
	}
	repo, err = git.PlainInit(root, false)
	if err != nil {
		return nil, wrapGit(err, "init "+root)
	}
	return repo, nil
}

// finishInit - shared tail of both bootstrap paths: worktree, cryptic/
// dir, salt file, decrypted salt cached on the DB
func finishInit(root string, repo *git.Repository, sess *crypt.Session, logger *logrus.Logger) (*DB, error) {
	wt, err := repo.Worktree()
	if err != nil {
		return nil, wrapGit(err, "worktree")
	}
	d := &DB{root: root, repo: repo, wt: wt, logger: logger}
	if err := os.MkdirAll(filepath.Join(root, cryptTree), 0755); err != nil {
		return nil, wrapIO(err, "mkdir "+cryptTree)
	}
	salt, err := d.ensureSalt(sess)
	if err != nil {
		return nil, err
	}
	d.salt = salt
	return d, nil
}

// ensureSalt - load the entropy salt, creating and staging it on first
// init. The salt domain-separates path derivation across replica sets.
func (d *DB) ensureSalt(sess *crypt.Session) ([]byte, error) {
	abs := filepath.Join(d.root, saltFile)
	if _, err := os.Stat(abs); err == nil {
		env, err := crypt.ReadEnvelope(abs)
		if err != nil {
			return nil, wrapEnvErr(err, saltFile)
		}
		salt, err := sess.Decrypt(env)
		if err != nil {
			return nil, err
		}
		if len(salt) != 32 {
			return nil, errors.Wrapf(ErrState, "salt is %d bytes, want 32", len(salt))
		}
		return salt, nil
	}
	fresh, err := crypt.GenRand256()
	if err != nil {
		return nil, wrapIO(err, "entropy")
	}
	env, err := sess.Encrypt(fresh[:], crypt.FreshDefaultConfig())
	if err != nil {
		return nil, err
	}
	if err := crypt.WriteEnvelope(abs, env); err != nil {
		return nil, wrapIO(err, "write "+saltFile)
	}
	if err := d.stage(saltFile); err != nil {
		return nil, err
	}
	d.logger.Debugf("init: created %s", saltFile)
	return fresh[:], nil
}
