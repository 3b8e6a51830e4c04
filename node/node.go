// Package node indexes the envelope paths of a replica's working tree.
// Hashed names carry no ordering of their own, so the tree is the
// cheapest way to answer "what is stored" queries without re-walking
// the filesystem per lookup.
package node

import (
	"io/fs"
	"path/filepath"
	"strings"
)

// Node - one directory or envelope file under the encrypted subtree
type Node struct {
	Name     string
	Path     string // full relative path, files only
	IsFile   bool
	Children []*Node
}

func New() *Node {
	return &Node{}
}

// BuildFromDir - index every regular file under dir. Paths are recorded
// relative to dir's parent, so entries read like "cryptic/63/b2c7...".
func BuildFromDir(dir string) (*Node, error) {
	n := New()
	base := filepath.Dir(dir)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.Contains(d.Name(), ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		n.AddFile(filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}

// AddFile - register a file by its slash-separated relative path
func (n *Node) AddFile(path string) {
	n.addSubFile(path, path)
}

func (n *Node) addSubFile(fullPath, subPath string) {
	parts := strings.SplitN(subPath, "/", 2)
	for _, c := range n.Children {
		if c.Name == parts[0] {
			if len(parts) > 1 {
				c.addSubFile(fullPath, parts[1])
			}
			return
		}
	}
	if len(parts) == 1 {
		n.Children = append(n.Children, &Node{Name: parts[0], Path: fullPath, IsFile: true})
		return
	}
	child := &Node{Name: parts[0]}
	n.Children = append(n.Children, child)
	child.addSubFile(fullPath, parts[1])
}

// DeleteFile - drop a file from the index; unknown paths are ignored
func (n *Node) DeleteFile(path string) {
	n.deleteSubFile(path)
}

func (n *Node) deleteSubFile(subPath string) {
	parts := strings.SplitN(subPath, "/", 2)
	for i, c := range n.Children {
		if c.Name != parts[0] {
			continue
		}
		if len(parts) == 1 {
			n.Children = append(n.Children[:i], n.Children[i+1:]...)
		} else {
			c.deleteSubFile(parts[1])
		}
		return
	}
}

// Files - every file at or below dir ("" for the whole index), in
// insertion order
func (n *Node) Files(dir string) []string {
	if dir == "" {
		return n.childFiles()
	}
	parts := strings.SplitN(dir, "/", 2)
	for _, c := range n.Children {
		if c.Name != parts[0] {
			continue
		}
		if len(parts) == 1 {
			if c.IsFile {
				return []string{c.Path}
			}
			return c.childFiles()
		}
		return c.Files(parts[1])
	}
	return nil
}

func (n *Node) childFiles() []string {
	files := make([]string, 0)
	for _, c := range n.Children {
		if c.IsFile {
			files = append(files, c.Path)
		} else {
			files = append(files, c.childFiles()...)
		}
	}
	return files
}

// FindFile - true when the exact path is indexed
func (n *Node) FindFile(path string) bool {
	parts := strings.SplitN(path, "/", 2)
	for _, c := range n.Children {
		if c.Name != parts[0] {
			continue
		}
		if len(parts) == 1 {
			return c.IsFile
		}
		return c.FindFile(parts[1])
	}
	return false
}

// Count - number of files indexed
func (n *Node) Count() int {
	total := 0
	for _, c := range n.Children {
		if c.IsFile {
			total++
		} else {
			total += c.Count()
		}
	}
	return total
}
