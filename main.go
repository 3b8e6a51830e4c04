package main

// crypticdb program
// An end-to-end encrypted, conflict-free replicated key/value store whose
// persistence and replication substrate is a git repository.
//
// Each replica writes encrypted envelopes into its working tree, commits
// them, and reconciles with peers by fetching and merging branches.
// Conflicting writes to the same logical key converge via CRDT merge over
// the decrypted value - never via textual merge of the ciphertext.
//
// Commands:
//   init  - create/open a replica at the configured root
//   clone - create a replica from the configured remote
//   set   - write fields of a record under a key prefix
//   get   - read and print the block stored under a key
//   ls    - list stored envelope paths
//   sync  - run one commit/fetch/merge/push round

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/h2non/filetype"
	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/rcowham/crypticdb/config"
	"github.com/rcowham/crypticdb/crdt"
	"github.com/rcowham/crypticdb/crypt"
	"github.com/rcowham/crypticdb/db"
)

var version = "0.9.0"

// parseValue - CLI literal to primitive. "@path" reads file contents as
// bytes; otherwise ints, floats and bools are recognised before falling
// back to a string.
func parseValue(s string) (crdt.Prim, error) {
	if strings.HasPrefix(s, "@") {
		content, err := os.ReadFile(s[1:])
		if err != nil {
			return crdt.Prim{}, fmt.Errorf("failed to read %s: %v", s[1:], err)
		}
		return crdt.Bytes(content), nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return crdt.Int(i), nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return crdt.Float(f), nil
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return crdt.Bool(b), nil
	}
	return crdt.Str(s), nil
}

// parseRecord - field=value args to a Record
func parseRecord(fields []string, actor uint64) (db.Record, error) {
	rec := db.Record{}
	for _, f := range fields {
		parts := strings.SplitN(f, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, fmt.Errorf("expected field=value, got '%s'", f)
		}
		prim, err := parseValue(parts[1])
		if err != nil {
			return nil, err
		}
		rec[parts[0]] = crdt.NewVal(prim, actor)
	}
	return rec, nil
}

// formatPrim - printable form; binary payloads are sniffed rather than
// dumped to the terminal
func formatPrim(p crdt.Prim) string {
	if p.Kind != crdt.PrimBytes {
		return p.String()
	}
	if t, err := filetype.Match(p.Bytes); err == nil && t != filetype.Unknown {
		return fmt.Sprintf("<%s, %d bytes>", t.MIME.Value, len(p.Bytes))
	}
	return fmt.Sprintf("<binary, %d bytes>", len(p.Bytes))
}

func formatBlock(b crdt.Block) string {
	switch b.Kind {
	case crdt.KindVal:
		return formatPrim(b.Val.Value())
	case crdt.KindSet:
		elems := b.Set.Elems()
		parts := make([]string, 0, len(elems))
		for _, e := range elems {
			parts = append(parts, formatPrim(e))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case crdt.KindMap:
		keys := b.Map.Keys()
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s: %s", formatPrim(k), formatBlock(*b.Map.Get(k))))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return "<empty>"
}

func main() {
	var (
		configFile = kingpin.Flag(
			"config",
			"Config file for crypticdb.",
		).Default("crypticdb.yaml").Short('c').String()
		rootOverride = kingpin.Flag(
			"root",
			"Replica root dir (overrides config).",
		).String()
		debug = kingpin.Flag(
			"debug",
			"Enable debugging level.",
		).Int()
		memProfile = kingpin.Flag(
			"profile.mem",
			"Write a memory profile on exit.",
		).Bool()

		initCmd  = kingpin.Command("init", "Create or open the replica at the configured root.")
		cloneCmd = kingpin.Command("clone", "Create the replica by cloning the configured remote.")

		setCmd    = kingpin.Command("set", "Write fields of a record under a key prefix.")
		setPrefix = setCmd.Arg("prefix", "Key prefix, e.g. users@bob").Required().String()
		setFields = setCmd.Arg("fields", "field=value pairs (use @file for binary values).").Required().Strings()

		getCmd = kingpin.Command("get", "Read and print the block stored under a key.")
		getKey = getCmd.Arg("key", "Full logical key, e.g. users@bob$name").Required().String()

		lsCmd   = kingpin.Command("ls", "List stored envelope paths.")
		syncCmd = kingpin.Command("sync", "Run one commit/fetch/merge/push round.")
	)
	kingpin.UsageTemplate(kingpin.CompactUsageTemplate).Version(version).Author("Robert Cowham")
	kingpin.CommandLine.Help = "End-to-end encrypted CRDT key/value store replicated over git\n"
	kingpin.HelpFlag.Short('h')
	cmd := kingpin.Parse()

	if *memProfile {
		defer profile.Start(profile.MemProfile).Stop()
	}

	logger := logrus.New()
	logger.Level = logrus.InfoLevel
	if *debug > 0 {
		logger.Level = logrus.DebugLevel
	}
	cfg, err := config.LoadConfigFile(*configFile)
	if err != nil {
		logger.Errorf("error loading config file: %v", err)
		os.Exit(-1)
	}
	if *rootOverride != "" {
		cfg.Root = *rootOverride
	}
	pass, err := cfg.Passphrase()
	if err != nil {
		logger.Errorf("error loading passphrase: %v", err)
		os.Exit(-1)
	}
	sess := crypt.NewSession(pass, cfg.SiteID)
	remote := &db.Remote{
		Name:     cfg.Remote.Name,
		URL:      cfg.Remote.URL,
		Username: cfg.Remote.User,
		Password: cfg.Remote.Password,
	}

	fail := func(err error) {
		logger.Errorf("%s failed: %v", cmd, err)
		os.Exit(-1)
	}

	switch cmd {
	case initCmd.FullCommand():
		d, err := db.Init(cfg.Root, sess, logger)
		if err != nil {
			fail(err)
		}
		if cfg.Remote.URL != "" {
			if err := d.WriteRemote(remote, sess); err != nil {
				fail(err)
			}
		}
		logger.Infof("replica ready at %s (site %d)", cfg.Root, cfg.SiteID)

	case cloneCmd.FullCommand():
		if cfg.Remote.URL == "" {
			fail(fmt.Errorf("remote.url is not configured"))
		}
		_, err := db.InitFromRemote(cfg.Root, remote, sess, logger)
		if err != nil {
			fail(err)
		}
		logger.Infof("replica cloned to %s from %s", cfg.Root, cfg.Remote.URL)

	case setCmd.FullCommand():
		d, err := db.Init(cfg.Root, sess, logger)
		if err != nil {
			fail(err)
		}
		rec, err := parseRecord(*setFields, sess.SiteID())
		if err != nil {
			fail(err)
		}
		if err := d.Write(*setPrefix, rec, sess); err != nil {
			fail(err)
		}
		logger.Infof("wrote %d fields under %s", len(rec), *setPrefix)

	case getCmd.FullCommand():
		d, err := db.Init(cfg.Root, sess, logger)
		if err != nil {
			fail(err)
		}
		b, err := d.ReadBlock(*getKey, sess)
		if err != nil {
			fail(err)
		}
		fmt.Println(formatBlock(b))

	case lsCmd.FullCommand():
		d, err := db.Init(cfg.Root, sess, logger)
		if err != nil {
			fail(err)
		}
		idx, err := d.PathIndex()
		if err != nil {
			fail(err)
		}
		for _, f := range idx.Files("") {
			fmt.Println(f)
		}
		logger.Infof("%d envelopes", idx.Count())

	case syncCmd.FullCommand():
		d, err := db.Init(cfg.Root, sess, logger)
		if err != nil {
			fail(err)
		}
		if err := d.Sync(sess); err != nil {
			fail(err)
		}
		logger.Infof("sync complete")
	}
}
