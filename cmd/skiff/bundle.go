package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"skiff.dev/skiff/docstore/bundle"
	"skiff.dev/skiff/node"
)

type exportOptions struct {
	*rootOptions
	SkipMissing bool
}

func newExportCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &exportOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export <doc> <file>",
		Short: "Write a document and its content to a bundle file",
		Long: `Export one document as a self-contained bundle: every entry plus the
content blobs they reference, in a single TAR stream. The bundle can be
imported on a node with no network path to this one. "-" writes to
stdout.

By default the export fails if a referenced blob has not finished
syncing to this replica; --skip-missing exports such rows anyway and
the importer sees their content as pending.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNode(opts.rootOptions, func(n *node.Node) error {
				var w io.Writer
				if args[1] == "-" {
					w = cmd.OutOrStdout()
				} else {
					f, err := os.Create(args[1])
					if err != nil {
						return err
					}
					defer f.Close()
					w = f
				}
				err := n.ExportBundle(w, args[0], bundle.ExportOptions{SkipMissing: opts.SkipMissing})
				if err != nil {
					return err
				}
				if args[1] != "-" {
					fmt.Fprintf(cmd.ErrOrStderr(), "exported %s to %s\n", args[0], args[1])
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&opts.SkipMissing, "skip-missing", false, "export rows whose content blob is not locally available")

	return cmd
}

func newBundleImportCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "bundle-import <file>",
		Short: "Fold a bundle file into the local store",
		Long: `Import a bundle written by export. Unknown documents are created
read-only; rows the replica already supersedes are skipped. "-" reads
from stdin.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNode(opts, func(n *node.Node) error {
				var r io.Reader
				if args[0] == "-" {
					r = cmd.InOrStdin()
				} else {
					f, err := os.Open(args[0])
					if err != nil {
						return err
					}
					defer f.Close()
					r = f
				}
				res, err := n.ImportBundle(r)
				if err != nil {
					return err
				}
				if opts.JSON {
					return printJSON(cmd.OutOrStdout(), res)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "imported %s: %d applied, %d stale, %d blobs\n",
					res.Namespace, res.Applied, res.Stale, res.Blobs)
				for _, cid := range res.Pending {
					fmt.Fprintf(out, "pending content %s\n", cid)
				}
				return nil
			})
		},
	}
}
