package db

import (
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/pkg/errors"

	"github.com/rcowham/crypticdb/crdt"
	"github.com/rcowham/crypticdb/crypt"
)

// reservedPrefix - keys under this prefix are managed by the store
// itself and rejected from the public Write API
const reservedPrefix = "db$config$"

// remoteKey - where the remote descriptor lives
const remoteKey = "db$config$remote"

// Remote - a named peer repository plus optional credentials. Stored
// encrypted like any other value, so cloning a replica carries its
// remote along.
type Remote struct {
	Name     string
	URL      string
	Username string
	Password string
}

// Auth - go-git credentials for fetch/push, nil when the remote is
// unauthenticated (e.g. a local path)
func (r *Remote) Auth() transport.AuthMethod {
	if r.Username == "" && r.Password == "" {
		return nil
	}
	return &githttp.BasicAuth{Username: r.Username, Password: r.Password}
}

func (r *Remote) block(actor uint64) crdt.Block {
	b := crdt.NewMap()
	b.Map.Put(crdt.Str("name"), crdt.NewVal(crdt.Str(r.Name), actor), actor)
	b.Map.Put(crdt.Str("url"), crdt.NewVal(crdt.Str(r.URL), actor), actor)
	b.Map.Put(crdt.Str("username"), crdt.NewVal(crdt.Str(r.Username), actor), actor)
	b.Map.Put(crdt.Str("password"), crdt.NewVal(crdt.Str(r.Password), actor), actor)
	return b
}

func remoteFromBlock(b crdt.Block) (*Remote, error) {
	if b.Kind != crdt.KindMap {
		return nil, errors.Wrapf(ErrState, "remote descriptor is %v, want Map", b.Kind)
	}
	r := &Remote{}
	for field, dst := range map[string]*string{
		"name": &r.Name, "url": &r.URL, "username": &r.Username, "password": &r.Password,
	} {
		v := b.Map.Get(crdt.Str(field))
		if v == nil || v.Kind != crdt.KindVal {
			continue
		}
		*dst = v.Val.Value().Str
	}
	if r.Name == "" || r.URL == "" {
		return nil, errors.Wrap(ErrState, "remote descriptor missing name or url")
	}
	return r, nil
}

// WriteRemote - persist the remote descriptor under its reserved key
func (d *DB) WriteRemote(r *Remote, sess *crypt.Session) error {
	return d.writeBlock(remoteKey, r.block(sess.SiteID()), sess)
}

// ReadRemote - load the remote descriptor; NotFound when none is configured
func (d *DB) ReadRemote(sess *crypt.Session) (*Remote, error) {
	b, err := d.readBlock(remoteKey, sess)
	if err != nil {
		return nil, err
	}
	return remoteFromBlock(b)
}
