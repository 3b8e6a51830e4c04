package main

// cryptgraph program
// Walks a replica's commit DAG and writes a graph file (graphviz dot
// format) showing the sync chains and merge commits each site produced.
// Useful for checking that reconciliation is producing the expected
// two-parent merges rather than long unmerged forks.

import (
	"fmt"
	"os"
	"strings"

	"github.com/emicklei/dot"
	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"
)

var version = "0.9.0"

type CryptGraphOptions struct {
	repoRoot   string
	graphFile  string
	maxCommits int
}

// CryptGraph - builds the DOT rendering of a replica's history
type CryptGraph struct {
	logger  *logrus.Logger
	opts    CryptGraphOptions
	graph   *dot.Graph
	commits []*object.Commit
	nodes   map[plumbing.Hash]dot.Node
}

func NewCryptGraph(logger *logrus.Logger, opts *CryptGraphOptions) *CryptGraph {
	return &CryptGraph{logger: logger,
		opts:  *opts,
		nodes: make(map[plumbing.Hash]dot.Node)}
}

// Walk - collect commits reachable from any ref, newest first
func (g *CryptGraph) Walk() error {
	repo, err := git.PlainOpen(g.opts.repoRoot)
	if err != nil {
		return fmt.Errorf("failed to open repo '%s': %v", g.opts.repoRoot, err)
	}
	iter, err := repo.Log(&git.LogOptions{All: true})
	if err != nil {
		return fmt.Errorf("failed to walk log: %v", err)
	}
	err = iter.ForEach(func(c *object.Commit) error {
		if g.opts.maxCommits > 0 && len(g.commits) >= g.opts.maxCommits {
			return storer.ErrStop
		}
		g.commits = append(g.commits, c)
		return nil
	})
	if err != nil {
		return err
	}
	g.logger.Debugf("collected %d commits", len(g.commits))
	return nil
}

// Render - nodes for every collected commit, edges to parents. Merge
// commits (two parents) are boxed so reconciliation points stand out.
func (g *CryptGraph) Render() {
	g.graph = dot.NewGraph(dot.Directed)
	for _, c := range g.commits {
		label := fmt.Sprintf("%s\n%s", c.Hash.String()[:8], firstLine(c.Message))
		n := g.graph.Node(c.Hash.String()).Label(label)
		if c.NumParents() == 2 {
			n.Attr("shape", "box")
		}
		g.nodes[c.Hash] = n
	}
	for _, c := range g.commits {
		child := g.nodes[c.Hash]
		for _, p := range c.ParentHashes {
			parent, ok := g.nodes[p]
			if !ok {
				// Beyond maxCommits - show a stub so edges stay honest
				parent = g.graph.Node(p.String()).Label(p.String()[:8])
				g.nodes[p] = parent
			}
			g.graph.Edge(parent, child)
		}
	}
}

// WriteGraphFile - serialize the DOT graph
func (g *CryptGraph) WriteGraphFile() error {
	f, err := os.OpenFile(g.opts.graphFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write([]byte(g.graph.String()))
	return err
}

func firstLine(msg string) string {
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		return msg[:i]
	}
	return msg
}

func main() {
	var (
		repoRoot = kingpin.Arg(
			"repo",
			"Replica root (or bare repo) to graph.",
		).Required().String()
		graphFile = kingpin.Flag(
			"graphfile",
			"Graphviz dot file to output commit structure to.",
		).Default("commits.dot").String()
		maxCommits = kingpin.Flag(
			"max.commits",
			"Max no of commits to process.",
		).Short('m').Int()
		debug = kingpin.Flag(
			"debug",
			"Enable debugging level.",
		).Int()
	)
	kingpin.UsageTemplate(kingpin.CompactUsageTemplate).Version(version).Author("Robert Cowham")
	kingpin.CommandLine.Help = "Writes a graphviz DOT file showing a crypticdb replica's commit DAG\n"
	kingpin.HelpFlag.Short('h')
	kingpin.Parse()

	logger := logrus.New()
	logger.Level = logrus.InfoLevel
	if *debug > 0 {
		logger.Level = logrus.DebugLevel
	}

	g := NewCryptGraph(logger, &CryptGraphOptions{
		repoRoot:   *repoRoot,
		graphFile:  *graphFile,
		maxCommits: *maxCommits,
	})
	if err := g.Walk(); err != nil {
		logger.Errorf("%v", err)
		os.Exit(-1)
	}
	g.Render()
	if err := g.WriteGraphFile(); err != nil {
		logger.Errorf("failed to write graph: %v", err)
		os.Exit(-1)
	}
	logger.Infof("wrote %s", g.opts.graphFile)
}
