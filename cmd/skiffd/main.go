// Command skiffd runs a headless skiff node: it serves sync to peers,
// keeps imported documents converging, and persists everything under
// --dir. Hand it tickets with --import and it acts as a mirror.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/golang/glog"
	"gopkg.in/yaml.v3"

	"skiff.dev/skiff/model"
	"skiff.dev/skiff/node"
	"skiff.dev/skiff/storage"
	"skiff.dev/skiff/storage/casregistry"
	"skiff.dev/skiff/ticket"

	_ "skiff.dev/skiff/storage/localcas"
	_ "skiff.dev/skiff/storage/memcas"
)

// fileConfig mirrors the flag surface. Flags given on the command line
// win over the file.
type fileConfig struct {
	Dir            string            `yaml:"dir"`
	Bind           string            `yaml:"bind"`
	Advertise      []string          `yaml:"advertise"`
	BlobBackend    string            `yaml:"blob_backend"`
	BlobConfig     map[string]string `yaml:"blob_config"`
	ContentTimeout string            `yaml:"content_timeout"`
	Workers        int               `yaml:"workers"`
	AuxWorkers     int               `yaml:"aux_workers"`
	Imports        []string          `yaml:"imports"`
}

type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return fmt.Errorf("empty value")
	}
	*s = append(*s, v)
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	dir := flag.String("dir", "", "node data directory (ephemeral temp dir when empty)")
	bind := flag.String("bind", node.DefaultBindAddr, "sync listen address (empty disables the listener)")
	var advertise stringList
	flag.Var(&advertise, "advertise", "address minted tickets carry (repeatable; default: the bind address)")
	backend := flag.String("blob-backend", "", "blob store backend (default: fs under --dir, mem when ephemeral)")
	configPath := flag.String("config", "", "YAML config file; flags override it")
	contentTimeout := flag.Duration("content-timeout", 0, "how long reads wait for content still syncing (0 = default)")
	workers := flag.Int("workers", 0, "runtime executor workers (0 = default)")
	auxWorkers := flag.Int("aux-workers", 0, "auxiliary workers (0 = number of CPUs)")
	var imports stringList
	flag.Var(&imports, "import", "document ticket to import at startup (repeatable)")
	statsEvery := flag.Duration("stats-every", 0, "period for logging counter snapshots (0 = off)")
	listBackends := flag.Bool("list-backends", false, "List supported blob backends and exit")

	casregistry.RegisterFlags(flag.CommandLine, casregistry.UsageDaemon)
	flag.Parse()

	if *listBackends {
		for _, b := range casregistry.List(casregistry.UsageDaemon) {
			if b.Description == "" {
				fmt.Fprintf(os.Stdout, "%s\n", b.Name)
				continue
			}
			fmt.Fprintf(os.Stdout, "%s\t%s\n", b.Name, b.Description)
		}
		return 0
	}

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	var cfg fileConfig
	if *configPath != "" {
		b, err := os.ReadFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			fmt.Fprintf(os.Stderr, "config %s: %v\n", *configPath, err)
			return 2
		}
	}
	if !set["dir"] && cfg.Dir != "" {
		*dir = cfg.Dir
	}
	if !set["bind"] && cfg.Bind != "" {
		*bind = cfg.Bind
	}
	if !set["advertise"] && len(cfg.Advertise) > 0 {
		advertise = stringList(cfg.Advertise)
	}
	if !set["blob-backend"] && cfg.BlobBackend != "" {
		*backend = cfg.BlobBackend
	}
	if !set["workers"] && cfg.Workers > 0 {
		*workers = cfg.Workers
	}
	if !set["aux-workers"] && cfg.AuxWorkers > 0 {
		*auxWorkers = cfg.AuxWorkers
	}
	if !set["content-timeout"] && cfg.ContentTimeout != "" {
		d, err := time.ParseDuration(cfg.ContentTimeout)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config content_timeout: %v\n", err)
			return 2
		}
		*contentTimeout = d
	}
	if len(imports) == 0 {
		imports = stringList(cfg.Imports)
	}

	opts := []node.Option{node.WithBindAddr(*bind)}
	if *dir != "" {
		opts = append(opts, node.WithDir(*dir))
	}
	if len(advertise) > 0 {
		opts = append(opts, node.WithAdvertiseAddrs(advertise...))
	}
	if *contentTimeout > 0 {
		opts = append(opts, node.WithContentTimeout(*contentTimeout))
	}
	if *workers > 0 {
		opts = append(opts, node.WithWorkers(*workers))
	}
	if *auxWorkers > 0 {
		opts = append(opts, node.WithAuxWorkers(*auxWorkers))
	}

	if *backend != "" {
		var (
			cas     storage.CAS
			closeFn func() error
			err     error
		)
		// A backend named only in the config file opens from its
		// blob_config section; a --blob-backend flag opens from flags.
		if set["blob-backend"] || cfg.BlobBackend == "" {
			cas, closeFn, err = casregistry.Open(*backend, casregistry.UsageDaemon)
		} else {
			cas, closeFn, err = casregistry.OpenWithConfig(*backend, casregistry.UsageDaemon, cfg.BlobConfig)
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		if closeFn != nil {
			defer closeFn()
		}
		opts = append(opts, node.WithBlobStore(cas))
	}

	n, err := node.New(opts...)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer n.Close()

	for _, text := range imports {
		tk, err := ticket.Parse(text)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		d, err := n.ImportDoc(tk)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		fmt.Fprintf(os.Stderr, "skiffd: mirroring %s from %s\n", d.ID(), tk.Peer)
	}

	fmt.Fprintf(os.Stderr, "skiffd: node %s serving %s (dir=%s)\n",
		n.PeerID(), strings.Join(n.Addrs(), ","), n.Dir())

	if *statsEvery > 0 {
		go logStats(n, *statsEvery)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	sig := <-stop
	fmt.Fprintf(os.Stderr, "skiffd: %s, shutting down\n", sig)

	if err := n.Close(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// logStats snapshots the counters on a fixed period until the node
// closes underneath it.
func logStats(n *node.Node, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for range ticker.C {
		stats, err := n.Stats()
		if err != nil {
			return
		}
		glog.Infof("skiffd: %s", formatStats(stats))
	}
}

func formatStats(stats map[string]model.CounterStats) string {
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		if v := stats[name].Value; v != 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", name, v))
		}
	}
	if len(parts) == 0 {
		return "all counters zero"
	}
	return strings.Join(parts, " ")
}
