package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"skiff.dev/skiff/model"
	"skiff.dev/skiff/node"
	"skiff.dev/skiff/ticket"
)

func newDocCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doc",
		Short: "Create and list documents",
	}
	cmd.AddCommand(newDocCreateCommand(opts))
	cmd.AddCommand(newDocListCommand(opts))
	return cmd
}

func newDocCreateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "create",
		Short:         "Create a new writable document",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withNode(opts, func(n *node.Node) error {
				d, err := n.CreateDoc()
				if err != nil {
					return err
				}
				if opts.JSON {
					return printJSON(cmd.OutOrStdout(), map[string]string{"id": d.ID()})
				}
				fmt.Fprintln(cmd.OutOrStdout(), d.ID())
				return nil
			})
		},
	}
}

func newDocListCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List local replicas",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withNode(opts, func(n *node.Node) error {
				docs, err := n.ListDocs()
				if err != nil {
					return err
				}
				if opts.JSON {
					return printJSON(cmd.OutOrStdout(), docs)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tWRITABLE\tENTRIES")
				for _, info := range docs {
					fmt.Fprintf(tw, "%s\t%t\t%d\n", info.ID, info.Writable, info.Entries)
				}
				return tw.Flush()
			})
		},
	}
}

func newAuthorCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "author",
		Short: "Create and list writing identities",
	}
	cmd.AddCommand(newAuthorCreateCommand(opts))
	cmd.AddCommand(newAuthorListCommand(opts))
	return cmd
}

func newAuthorCreateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "create",
		Short:         "Create a new author keypair",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withNode(opts, func(n *node.Node) error {
				id, err := n.CreateAuthor()
				if err != nil {
					return err
				}
				if opts.JSON {
					return printJSON(cmd.OutOrStdout(), map[string]string{"id": id})
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			})
		},
	}
}

func newAuthorListCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List author ids stored on this node",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withNode(opts, func(n *node.Node) error {
				authors, err := n.ListAuthors()
				if err != nil {
					return err
				}
				if opts.JSON {
					return printJSON(cmd.OutOrStdout(), authors)
				}
				for _, id := range authors {
					fmt.Fprintln(cmd.OutOrStdout(), id)
				}
				return nil
			})
		},
	}
}

// pickAuthor resolves the writing identity: the --author flag if set,
// otherwise the node's only author, created on first use.
func pickAuthor(n *node.Node, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	authors, err := n.ListAuthors()
	if err != nil {
		return "", err
	}
	switch len(authors) {
	case 0:
		return n.CreateAuthor()
	case 1:
		return authors[0], nil
	default:
		return "", fmt.Errorf("node has %d authors, pick one with --author", len(authors))
	}
}

// readValue resolves the entry value for set: the positional argument,
// --file, or stdin when either names "-".
func readValue(arg, file string) ([]byte, error) {
	switch {
	case file != "" && arg != "":
		return nil, fmt.Errorf("pass the value as an argument or with --file, not both")
	case file == "-" || arg == "-":
		return io.ReadAll(os.Stdin)
	case file != "":
		return os.ReadFile(file)
	case arg != "":
		return []byte(arg), nil
	default:
		return nil, fmt.Errorf("missing value: pass it as an argument or with --file")
	}
}

type setOptions struct {
	*rootOptions
	Author string
	File   string
}

func newSetCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &setOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "set <doc> <key> [value]",
		Short: "Write one entry",
		Long: `Write a signed entry to a document. The value comes from the third
argument, from --file, or from stdin when either is "-".

Example:
  skiff set <doc> greeting hello
  tar czf - ./photos | skiff set <doc> photos -`,
		Args:          cobra.RangeArgs(2, 3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			valueArg := ""
			if len(args) == 3 {
				valueArg = args[2]
			}
			value, err := readValue(valueArg, opts.File)
			if err != nil {
				return err
			}
			return withNode(opts.rootOptions, func(n *node.Node) error {
				d, err := n.Doc(args[0])
				if err != nil {
					return err
				}
				author, err := pickAuthor(n, opts.Author)
				if err != nil {
					return err
				}
				e, err := d.SetBytes(author, []byte(args[1]), value)
				if err != nil {
					return err
				}
				if opts.JSON {
					return printJSON(cmd.OutOrStdout(), e)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%d bytes)\n", e.Content, e.Length)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&opts.Author, "author", "", "author id (default: the node's only author, created on first use)")
	cmd.Flags().StringVar(&opts.File, "file", "", `read the value from this file ("-" for stdin)`)

	return cmd
}

type getOptions struct {
	*rootOptions
	Out string
}

func newGetCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &getOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "get <doc> <key>",
		Short: "Read the newest value for a key",
		Long: `Fetch the newest entry for a key across all authors and write its raw
content bytes to stdout or --out. If the content is still syncing from
a peer, the read waits up to --content-timeout for it to arrive.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNode(opts.rootOptions, func(n *node.Node) error {
				d, err := n.Doc(args[0])
				if err != nil {
					return err
				}
				e, err := d.GetLatest([]byte(args[1]))
				if err != nil {
					return err
				}
				value, err := d.GetContentBytes(e)
				if err != nil {
					return err
				}
				if opts.Out == "" || opts.Out == "-" {
					_, err = cmd.OutOrStdout().Write(value)
					return err
				}
				return os.WriteFile(opts.Out, value, 0o644)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Out, "out", "", `write content to this file instead of stdout`)

	return cmd
}

type entriesOptions struct {
	*rootOptions
	All bool
}

func newEntriesCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &entriesOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "entries <doc>",
		Short: "List document entries",
		Long: `List the newest entry per author and key. With --all, superseded
entries this replica still remembers are listed too.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNode(opts.rootOptions, func(n *node.Node) error {
				d, err := n.Doc(args[0])
				if err != nil {
					return err
				}
				list := d.Latest
				if opts.All {
					list = d.Entries
				}
				entries, err := list()
				if err != nil {
					return err
				}
				if opts.JSON {
					return printJSON(cmd.OutOrStdout(), entries)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "AUTHOR\tKEY\tSIZE\tTIME\tCONTENT")
				for _, e := range entries {
					fmt.Fprintf(tw, "%s\t%q\t%d\t%s\t%s\n",
						e.Author, e.Key, e.Length, formatMicros(e.Timestamp), e.Content)
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().BoolVar(&opts.All, "all", false, "include superseded entries")

	return cmd
}

func formatMicros(ts uint64) string {
	return time.UnixMicro(int64(ts)).UTC().Format(time.RFC3339)
}

type shareOptions struct {
	*rootOptions
	Mode string
}

func newShareCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &shareOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "share <doc>",
		Short: "Mint a ticket for a document",
		Long: `Mint a ticket another node can import. A read ticket grants
replication only; a write ticket carries the document secret and lets
the importer sign entries of its own.

Tickets embed this process's sync address, which is gone once a
one-shot command exits. Mint from a running skiffd (or pass --bind and
--advertise) when the ticket must outlive this invocation.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNode(opts.rootOptions, func(n *node.Node) error {
				d, err := n.Doc(args[0])
				if err != nil {
					return err
				}
				var t *ticket.Doc
				switch opts.Mode {
				case "read":
					t, err = d.ShareRead()
				case "write":
					t, err = d.ShareWrite()
				default:
					return fmt.Errorf("invalid --mode %q: must be read or write", opts.Mode)
				}
				if err != nil {
					return err
				}
				text, err := t.Encode()
				if err != nil {
					return err
				}
				if opts.JSON {
					return printJSON(cmd.OutOrStdout(), map[string]any{
						"ticket":    text,
						"namespace": t.Namespace,
						"mode":      t.Mode(),
						"peer":      t.Peer,
						"addrs":     t.Addrs,
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), text)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&opts.Mode, "mode", "read", "capability the ticket grants (read|write)")

	return cmd
}

type importOptions struct {
	*rootOptions
	Wait time.Duration
}

func newImportCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &importOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import <ticket>",
		Short: "Import a document ticket and start syncing",
		Long: `Import a ticket minted elsewhere. The replica is created (or updated
with the ticket's peer address) and background sync starts against the
ticket's peer. With --wait, the command holds the node open until the
first entries arrive, so the initial sync completes before exit.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := ticket.Parse(args[0])
			if err != nil {
				return err
			}
			return withNode(opts.rootOptions, func(n *node.Node) error {
				d, err := n.ImportDoc(t)
				if err != nil {
					return err
				}
				writable := false
				docs, err := n.ListDocs()
				if err != nil {
					return err
				}
				for _, info := range docs {
					if info.ID == d.ID() {
						writable = info.Writable
					}
				}
				entries := 0
				if opts.Wait > 0 {
					entries, err = waitForEntries(d, opts.Wait)
					if err != nil {
						return err
					}
				}
				if opts.JSON {
					return printJSON(cmd.OutOrStdout(), map[string]any{
						"namespace": d.ID(),
						"writable":  writable,
						"entries":   entries,
					})
				}
				mode := "read-only"
				if writable {
					mode = "writable"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %s (%s)\n", d.ID(), mode)
				if opts.Wait > 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "%d entries\n", entries)
				}
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&opts.Wait, "wait", 0, "hold the node open until the first entries arrive")

	return cmd
}

// waitForEntries polls until the replica holds at least one entry.
func waitForEntries(d *node.Doc, wait time.Duration) (int, error) {
	deadline := time.Now().Add(wait)
	for {
		entries, err := d.Latest()
		if err != nil {
			return 0, err
		}
		if len(entries) > 0 {
			return len(entries), nil
		}
		if time.Now().After(deadline) {
			return 0, fmt.Errorf("no entries after %s, the ticket's peer may be unreachable", wait)
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func newWatchCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <doc>",
		Short: "Stream live replication events",
		Long: `Subscribe to a document and print each replication event as it
happens, one per line, until interrupted. Local writes, entries
arriving from peers, and content becoming readable all show up here.
With --json each line is one JSON object.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNode(opts, func(n *node.Node) error {
				d, err := n.Doc(args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				sub, err := d.Subscribe(node.OnEventFunc(func(ev model.LiveEvent) error {
					if opts.JSON {
						b, err := json.Marshal(ev)
						if err != nil {
							return err
						}
						fmt.Fprintln(out, string(b))
						return nil
					}
					fmt.Fprintln(out, formatEvent(ev))
					return nil
				}))
				if err != nil {
					return err
				}
				defer sub.Cancel()

				fmt.Fprintf(cmd.ErrOrStderr(), "watching %s, ctrl-c to stop\n", d.ID())
				sig := make(chan os.Signal, 1)
				signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
				defer signal.Stop(sig)
				<-sig
				return nil
			})
		},
	}
}

func formatEvent(ev model.LiveEvent) string {
	var b strings.Builder
	b.WriteString(string(ev.Kind))
	if ev.Author != "" {
		fmt.Fprintf(&b, " author=%s", ev.Author)
	}
	if len(ev.Key) > 0 {
		fmt.Fprintf(&b, " key=%q", ev.Key)
	}
	if ev.Content != "" {
		fmt.Fprintf(&b, " content=%s", ev.Content)
	}
	if ev.Timestamp > 0 {
		fmt.Fprintf(&b, " at=%s", formatMicros(ev.Timestamp))
	}
	return b.String()
}
