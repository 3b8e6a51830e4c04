package db

import (
	"fmt"
	"io"
	"runtime"

	"github.com/alitto/pond"
	git "github.com/go-git/go-git/v5"
	gitcfg "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/utils/merkletrie"
	"github.com/pkg/errors"

	"github.com/rcowham/crypticdb/crdt"
	"github.com/rcowham/crypticdb/crypt"
)

const syncBranch = "master"

// Sync - one reconciliation round with the configured remote:
//  1. commit the staged index (the site's outgoing history never regresses)
//  2. fetch the configured remote's master
//  3. analyze: up-to-date skips to push, fast-forward is handled as a
//     degenerate diverged case, otherwise diverged
//  4. per-file three-way merge of the diverged trees in plaintext
//  5. merge commit with parents (local, remote)
//  6. non-forced push
//
// Failures abort without rolling back staged files; the next invocation
// folds them into its commit.
func (d *DB) Sync(sess *crypt.Session) error {
	rem, err := d.ReadRemote(sess)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return errors.Wrap(ErrState, "no remote configured")
		}
		return err
	}

	local, err := d.localCommit(sess)
	if err != nil {
		return err
	}
	d.logger.Debugf("sync: committed %s", local)

	if err := d.ensureGitRemote(rem); err != nil {
		return err
	}
	remoteHead, ok, err := d.fetchRemoteHead(rem)
	if err != nil {
		return err
	}
	if !ok {
		d.logger.Debugf("sync: remote has no %s yet", syncBranch)
		return d.push(rem)
	}

	localC, err := d.repo.CommitObject(local)
	if err != nil {
		return wrapGit(err, "resolve local commit")
	}
	remoteC, err := d.repo.CommitObject(remoteHead)
	if err != nil {
		return wrapGit(err, "resolve remote commit")
	}

	upToDate, err := d.analyze(localC, remoteC)
	if err != nil {
		return err
	}
	if upToDate {
		d.logger.Debugf("sync: up to date with %s", remoteHead)
		return d.push(rem)
	}

	d.logger.Debugf("sync: diverged, local %s remote %s", local, remoteHead)
	if err := d.mergeTrees(localC, remoteC, sess); err != nil {
		return err
	}
	mergeHash, err := d.wt.Commit(
		fmt.Sprintf("merge commit from site: %d", sess.SiteID()),
		&git.CommitOptions{
			Author:            d.signature(sess),
			Parents:           []plumbing.Hash{local, remoteHead},
			AllowEmptyCommits: true,
		})
	if err != nil {
		return wrapGit(err, "merge commit")
	}
	d.logger.Debugf("sync: merge commit %s", mergeHash)
	if idx, err := d.PathIndex(); err == nil {
		d.logger.Debugf("sync: %d envelopes after merge", idx.Count())
	}
	return d.push(rem)
}

// localCommit - write the staged index to a commit and advance HEAD.
// The commit happens even when the index is clean, so every sync leaves
// a marker in the chain.
func (d *DB) localCommit(sess *crypt.Session) (plumbing.Hash, error) {
	hash, err := d.wt.Commit(
		fmt.Sprintf("sync commit from site: %d", sess.SiteID()),
		&git.CommitOptions{
			Author:            d.signature(sess),
			AllowEmptyCommits: true,
		})
	if err != nil {
		return plumbing.ZeroHash, wrapGit(err, "local commit")
	}
	return hash, nil
}

func (d *DB) ensureGitRemote(rem *Remote) error {
	_, err := d.repo.Remote(rem.Name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, git.ErrRemoteNotFound) {
		return wrapGit(err, "lookup remote "+rem.Name)
	}
	_, err = d.repo.CreateRemote(&gitcfg.RemoteConfig{
		Name: rem.Name,
		URLs: []string{rem.URL},
	})
	return wrapGit(err, "create remote "+rem.Name)
}

// fetchRemoteHead - fetch the remote's master and resolve its tracking
// ref. ok is false when the remote has no master at all.
func (d *DB) fetchRemoteHead(rem *Remote) (plumbing.Hash, bool, error) {
	spec := gitcfg.RefSpec(fmt.Sprintf("+refs/heads/%s:refs/remotes/%s/%s", syncBranch, rem.Name, syncBranch))
	err := d.repo.Fetch(&git.FetchOptions{
		RemoteName: rem.Name,
		RefSpecs:   []gitcfg.RefSpec{spec},
		Auth:       rem.Auth(),
	})
	switch {
	case err == nil, errors.Is(err, git.NoErrAlreadyUpToDate):
	case errors.Is(err, transport.ErrEmptyRemoteRepository):
		return plumbing.ZeroHash, false, nil
	default:
		var noMatch git.NoMatchingRefSpecError
		if errors.As(err, &noMatch) {
			return plumbing.ZeroHash, false, nil
		}
		return plumbing.ZeroHash, false, wrapGit(err, "fetch "+rem.Name)
	}
	ref, err := d.repo.Reference(plumbing.NewRemoteReferenceName(rem.Name, syncBranch), true)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return plumbing.ZeroHash, false, nil
		}
		return plumbing.ZeroHash, false, wrapGit(err, "resolve remote ref")
	}
	return ref.Hash(), true, nil
}

// analyze - merge analysis between local and remote heads. Fast-forward
// (local is an ancestor of remote) reports diverged: it runs through the
// same merge path with an empty local delta rather than moving HEAD
// under the worktree.
func (d *DB) analyze(localC, remoteC *object.Commit) (upToDate bool, err error) {
	if localC.Hash == remoteC.Hash {
		return true, nil
	}
	behind, err := remoteC.IsAncestor(localC)
	if err != nil {
		return false, wrapGit(err, "ancestry check")
	}
	return behind, nil
}

// modFile - a Modified delta queued for plaintext merge
type modFile struct {
	path     string
	from, to plumbing.Hash
}

// mergeTrees - walk the local→remote tree diff and reconcile each delta
// into the index. Deltas the protocol does not produce (renames, mode
// changes) are fatal.
func (d *DB) mergeTrees(localC, remoteC *object.Commit, sess *crypt.Session) error {
	localTree, err := localC.Tree()
	if err != nil {
		return wrapGit(err, "local tree")
	}
	remoteTree, err := remoteC.Tree()
	if err != nil {
		return wrapGit(err, "remote tree")
	}
	changes, err := object.DiffTree(localTree, remoteTree)
	if err != nil {
		return wrapGit(err, "diff trees")
	}

	var modified []modFile
	for _, ch := range changes {
		action, err := ch.Action()
		if err != nil {
			return wrapGit(err, "delta action")
		}
		switch action {
		case merkletrie.Insert:
			// Present only on the remote: take its envelope verbatim,
			// no decryption needed.
			if ch.To.Name == "" {
				return errors.Wrap(ErrState, "added delta without a path")
			}
			data, err := d.blobBytes(ch.To.TreeEntry.Hash)
			if err != nil {
				return err
			}
			if err := d.writeRaw(ch.To.Name, data); err != nil {
				return err
			}
			if err := d.stage(ch.To.Name); err != nil {
				return err
			}
			d.logger.Debugf("merge: added %s", ch.To.Name)
		case merkletrie.Delete:
			// The diff runs local→remote, so Delete means a local-only
			// addition. The file stays; nothing to stage.
			d.logger.Debugf("merge: keeping local-only %s", ch.From.Name)
		case merkletrie.Modify:
			modified = append(modified, modFile{path: ch.To.Name, from: ch.From.TreeEntry.Hash, to: ch.To.TreeEntry.Hash})
		default:
			return errors.Wrapf(ErrState, "unhandled delta %v for %s", action, ch.To.Name)
		}
	}
	return d.mergeModified(modified, sess)
}

// mergeModified - decrypt/merge/re-encrypt the diverged files on a
// worker pool (the work is CPU-bound), then stage the results serially.
func (d *DB) mergeModified(modified []modFile, sess *crypt.Session) error {
	if len(modified) == 0 {
		return nil
	}
	type result struct {
		data []byte
		err  error
	}
	results := make([]result, len(modified))
	pool := pond.New(runtime.NumCPU(), len(modified))
	for i, mf := range modified {
		i, mf := i, mf
		pool.Submit(func() {
			data, err := d.mergeModFile(mf, sess)
			results[i] = result{data: data, err: err}
		})
	}
	pool.StopAndWait()

	for i, mf := range modified {
		if results[i].err != nil {
			return results[i].err
		}
		if err := d.writeRaw(mf.path, results[i].data); err != nil {
			return err
		}
		if err := d.stage(mf.path); err != nil {
			return err
		}
		d.logger.Debugf("merge: reconciled %s", mf.path)
	}
	return nil
}

// mergeModFile - pairwise three-way merge of one file in the plaintext
// domain: CRDT-merge the Blocks (type conflicts take the remote side),
// union the register histories, then tag the merged value past both.
func (d *DB) mergeModFile(mf modFile, sess *crypt.Session) ([]byte, error) {
	oldReg, err := d.registerAt(mf.from, sess)
	if err != nil {
		return nil, err
	}
	newReg, err := d.registerAt(mf.to, sess)
	if err != nil {
		return nil, err
	}

	mergedBlock := oldReg.Value()
	other := newReg.Value()
	if err := mergedBlock.Merge(&other); err != nil {
		if !errors.Is(err, crdt.ErrTypeConflict) {
			return nil, err
		}
		mergedBlock = other
	}
	oldReg.Merge(newReg)
	oldReg.Update(mergedBlock, sess.SiteID())

	plaintext, err := encodeRegister(oldReg)
	if err != nil {
		return nil, err
	}
	env, err := sess.Encrypt(plaintext, crypt.FreshDefaultConfig())
	if err != nil {
		return nil, err
	}
	return env.Bytes(), nil
}

// registerAt - load a blob from the object store and decrypt it to a
// Register[Block]
func (d *DB) registerAt(hash plumbing.Hash, sess *crypt.Session) (*crdt.Register[crdt.Block], error) {
	data, err := d.blobBytes(hash)
	if err != nil {
		return nil, err
	}
	env, err := crypt.UnmarshalEnvelope(data)
	if err != nil {
		return nil, err
	}
	plaintext, err := sess.Decrypt(env)
	if err != nil {
		return nil, err
	}
	return decodeRegister(plaintext)
}

func (d *DB) blobBytes(hash plumbing.Hash) ([]byte, error) {
	blob, err := d.repo.BlobObject(hash)
	if err != nil {
		return nil, wrapGit(err, "find blob "+hash.String())
	}
	rdr, err := blob.Reader()
	if err != nil {
		return nil, wrapGit(err, "open blob "+hash.String())
	}
	defer rdr.Close()
	data, err := io.ReadAll(rdr)
	if err != nil {
		return nil, wrapGit(err, "read blob "+hash.String())
	}
	return data, nil
}

// push - non-forced push of master; a rejection surfaces as a Git error
// and the caller decides whether to re-invoke Sync
func (d *DB) push(rem *Remote) error {
	spec := gitcfg.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", syncBranch, syncBranch))
	err := d.repo.Push(&git.PushOptions{
		RemoteName: rem.Name,
		RefSpecs:   []gitcfg.RefSpec{spec},
		Auth:       rem.Auth(),
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return wrapGit(err, "push "+rem.Name)
	}
	d.logger.Debugf("sync: pushed %s to %s", syncBranch, rem.Name)
	return nil
}
