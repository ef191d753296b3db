package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"skiff.dev/skiff/cidutil"
	"skiff.dev/skiff/storage"
	"skiff.dev/skiff/storage/casregistry"

	_ "skiff.dev/skiff/rpc"
	_ "skiff.dev/skiff/storage/localcas"
	_ "skiff.dev/skiff/storage/memcas"
)

type blobOptions struct {
	Store string
}

func newBlobCommand() *cobra.Command {
	opts := &blobOptions{}

	cmd := &cobra.Command{
		Use:   "blob",
		Short: "Work a blob store directly",
		Long: `Put, fetch and probe raw content-addressed blobs without going
through a document. The --store flag picks the backend: "fs" is the
same on-disk layout a node keeps under <dir>/blobs, and "peer" reads
through a running node's sync port.

Example:
  skiff blob put --store fs --fs-dir ~/.skiff/blobs ./photo.jpg
  skiff blob get --store peer --peer-target 10.0.0.7:11220 <cid>`,
	}

	cmd.PersistentFlags().StringVar(&opts.Store, "store", "fs", "blob store backend (see: skiff blob backends)")
	backendFlags := flag.NewFlagSet("blob", flag.ContinueOnError)
	casregistry.RegisterFlags(backendFlags, casregistry.UsageCLI)
	cmd.PersistentFlags().AddGoFlagSet(backendFlags)

	cmd.AddCommand(newBlobPutCommand(opts))
	cmd.AddCommand(newBlobGetCommand(opts))
	cmd.AddCommand(newBlobHasCommand(opts))
	cmd.AddCommand(newBlobBackendsCommand())

	return cmd
}

// withStore opens the selected backend and closes it after fn.
func withStore(opts *blobOptions, fn func(cas storage.CAS) error) (err error) {
	cas, closeFn, err := casregistry.Open(opts.Store, casregistry.UsageCLI)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer func() {
			if cerr := closeFn(); err == nil {
				err = cerr
			}
		}()
	}
	return fn(cas)
}

func newBlobPutCommand(opts *blobOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "put <file>",
		Short:         "Store a file and print its CID",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			var err error
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}
			return withStore(opts, func(cas storage.CAS) error {
				id, err := cas.Put(data)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id.String())
				return nil
			})
		},
	}
}

type blobGetOptions struct {
	*blobOptions
	Out string
}

func newBlobGetCommand(blobOpts *blobOptions) *cobra.Command {
	opts := &blobGetOptions{blobOptions: blobOpts}

	cmd := &cobra.Command{
		Use:           "get <cid>",
		Short:         "Fetch a blob by CID",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := cidutil.Parse(args[0])
			if err != nil {
				return err
			}
			return withStore(opts.blobOptions, func(cas storage.CAS) error {
				data, err := cas.Get(id)
				if err != nil {
					return err
				}
				if opts.Out == "" || opts.Out == "-" {
					_, err = cmd.OutOrStdout().Write(data)
					return err
				}
				return os.WriteFile(opts.Out, data, 0o644)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Out, "out", "", "write the blob to this file instead of stdout")

	return cmd
}

func newBlobHasCommand(opts *blobOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "has <cid>",
		Short:         "Report whether the store holds a CID",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := cidutil.Parse(args[0])
			if err != nil {
				return err
			}
			return withStore(opts, func(cas storage.CAS) error {
				fmt.Fprintln(cmd.OutOrStdout(), cas.Has(id))
				return nil
			})
		},
	}
}

func newBlobBackendsCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "backends",
		Short:         "List compiled-in blob store backends",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, b := range casregistry.List(casregistry.UsageCLI) {
				fmt.Fprintf(tw, "%s\t%s\n", b.Name, b.Description)
			}
			return tw.Flush()
		},
	}
}
