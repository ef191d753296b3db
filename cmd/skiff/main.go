// Command skiff drives a node from the shell: create and share
// documents, write and read entries, import tickets, follow live
// events, move bundles between machines.
//
// Every invocation stands up a full node on the data directory, runs
// one operation, and shuts the node down again. The directory is
// resolved from --dir, then $SKIFF_DIR, then ~/.skiff. Long-running
// serving belongs to skiffd; tickets minted here carry this process's
// ephemeral sync port and stop resolving when the command exits.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"skiff.dev/skiff/node"
)

func main() {
	// glog complains loudly when used before flag.Parse. The CLI
	// parses its own flags with cobra, so mark the default set parsed.
	_ = flag.CommandLine.Parse(nil)

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "skiff: %v\n", err)
		os.Exit(1)
	}
}

// rootOptions holds the global flags shared by every subcommand.
type rootOptions struct {
	Dir            string
	Bind           string
	Advertise      []string
	ContentTimeout time.Duration
	JSON           bool
	Verbose        bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "skiff",
		Short: "skiff - replicated documents from the shell",
		Long: `skiff manages a local replica of one or more shared documents.

A document is a multi-writer key/value space. Writers sign entries,
content rides in a blob store, and replicas converge by exchanging
entries with any peer that holds the same document.

Typical flow:
  skiff init
  skiff doc create
  skiff set <doc> greeting hello
  skiff share <doc> --mode write
  (elsewhere) skiff import <ticket> --wait 10s`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Verbose {
				_ = flag.Set("logtostderr", "true")
				_ = flag.Set("v", "1")
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Dir, "dir", "", "node data directory (default $SKIFF_DIR, else ~/.skiff)")
	cmd.PersistentFlags().StringVar(&opts.Bind, "bind", "127.0.0.1:0", "sync listen address while the command runs")
	cmd.PersistentFlags().StringSliceVar(&opts.Advertise, "advertise", nil, "addresses minted tickets carry (default: the bind address)")
	cmd.PersistentFlags().DurationVar(&opts.ContentTimeout, "content-timeout", 0, "how long reads wait for content that is still syncing")
	cmd.PersistentFlags().BoolVar(&opts.JSON, "json", false, "machine-readable output")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "node logs on stderr")

	cmd.AddCommand(newInitCommand(opts))
	cmd.AddCommand(newInfoCommand(opts))
	cmd.AddCommand(newStatsCommand(opts))
	cmd.AddCommand(newDocCommand(opts))
	cmd.AddCommand(newAuthorCommand(opts))
	cmd.AddCommand(newSetCommand(opts))
	cmd.AddCommand(newGetCommand(opts))
	cmd.AddCommand(newEntriesCommand(opts))
	cmd.AddCommand(newShareCommand(opts))
	cmd.AddCommand(newImportCommand(opts))
	cmd.AddCommand(newWatchCommand(opts))
	cmd.AddCommand(newExportCommand(opts))
	cmd.AddCommand(newBundleImportCommand(opts))
	cmd.AddCommand(newBlobCommand())

	return cmd
}

// resolveDir picks the node data directory.
func (o *rootOptions) resolveDir() (string, error) {
	if o.Dir != "" {
		return o.Dir, nil
	}
	if dir := os.Getenv("SKIFF_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve node dir: %w", err)
	}
	return filepath.Join(home, ".skiff"), nil
}

// openNode stands up the node for one command. The caller owns Close.
func (o *rootOptions) openNode() (*node.Node, error) {
	dir, err := o.resolveDir()
	if err != nil {
		return nil, err
	}
	nodeOpts := []node.Option{node.WithDir(dir), node.WithBindAddr(o.Bind)}
	if len(o.Advertise) > 0 {
		nodeOpts = append(nodeOpts, node.WithAdvertiseAddrs(o.Advertise...))
	}
	if o.ContentTimeout > 0 {
		nodeOpts = append(nodeOpts, node.WithContentTimeout(o.ContentTimeout))
	}
	return node.New(nodeOpts...)
}

// withNode runs fn against a freshly opened node and closes it after.
// A Close error surfaces only when fn itself succeeded, so write
// commands notice a failed flush.
func withNode(opts *rootOptions, fn func(n *node.Node) error) (err error) {
	n, err := opts.openNode()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := n.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(n)
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func newInitCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the node directory and identity",
		Long: `Create the node data directory, generate the node identity if none
exists, and print the peer id. Running init on an existing directory is
harmless; the persisted identity is reused.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withNode(opts, func(n *node.Node) error {
				if opts.JSON {
					return printJSON(cmd.OutOrStdout(), map[string]string{
						"peer": n.PeerID(),
						"dir":  n.Dir(),
					})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "initialized %s\n", n.Dir())
				fmt.Fprintf(cmd.OutOrStdout(), "peer %s\n", n.PeerID())
				return nil
			})
		},
	}
}

func newInfoCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "info",
		Short:         "Show the node identity, addresses and contents",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withNode(opts, func(n *node.Node) error {
				docs, err := n.ListDocs()
				if err != nil {
					return err
				}
				authors, err := n.ListAuthors()
				if err != nil {
					return err
				}
				if opts.JSON {
					return printJSON(cmd.OutOrStdout(), map[string]any{
						"peer":    n.PeerID(),
						"dir":     n.Dir(),
						"addrs":   n.Addrs(),
						"docs":    docs,
						"authors": authors,
					})
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "peer:    %s\n", n.PeerID())
				fmt.Fprintf(out, "dir:     %s\n", n.Dir())
				for _, a := range n.Addrs() {
					fmt.Fprintf(out, "addr:    %s\n", a)
				}
				fmt.Fprintf(out, "docs:    %d\n", len(docs))
				fmt.Fprintf(out, "authors: %d\n", len(authors))
				return nil
			})
		},
	}
}

func newStatsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "stats",
		Short:         "Dump node counters",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withNode(opts, func(n *node.Node) error {
				stats, err := n.Stats()
				if err != nil {
					return err
				}
				if opts.JSON {
					return printJSON(cmd.OutOrStdout(), stats)
				}
				names := make([]string, 0, len(stats))
				for name := range stats {
					names = append(names, name)
				}
				sort.Strings(names)
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "COUNTER\tVALUE\tDESCRIPTION")
				for _, name := range names {
					c := stats[name]
					fmt.Fprintf(tw, "%s\t%d\t%s\n", name, c.Value, c.Description)
				}
				return tw.Flush()
			})
		},
	}
}
