package localcas

import (
	"flag"
	"fmt"

	"skiff.dev/skiff/storage"
	"skiff.dev/skiff/storage/casregistry"
)

var (
	flagFSDir string
)

func init() {
	casregistry.MustRegister(casregistry.Backend{
		Name:        "fs",
		Description: "Filesystem blob store (directory)",
		Usage:       casregistry.UsageCLI | casregistry.UsageDaemon,
		RegisterFlags: func(fs *flag.FlagSet) {
			fs.StringVar(&flagFSDir, "fs-dir", "", "blob store directory (for --store=fs)")
		},
		Open: func() (storage.CAS, func() error, error) {
			if flagFSDir == "" {
				return nil, nil, fmt.Errorf("missing --fs-dir")
			}
			cas, err := New(flagFSDir)
			return cas, nil, err
		},
		OpenConfig: func(cfg map[string]string) (storage.CAS, func() error, error) {
			dir := cfg["dir"]
			if dir == "" {
				return nil, nil, fmt.Errorf("fs store: missing dir")
			}
			cas, err := New(dir)
			return cas, nil, err
		},
	})
}
