package memcas

import (
	"flag"

	"skiff.dev/skiff/storage"
	"skiff.dev/skiff/storage/casregistry"
)

func init() {
	casregistry.MustRegister(casregistry.Backend{
		Name:        "mem",
		Description: "In-memory blob store (nothing survives the process)",
		Usage:       casregistry.UsageCLI | casregistry.UsageDaemon,
		RegisterFlags: func(fs *flag.FlagSet) {
			// No flags; the store has no configuration.
		},
		Open: func() (storage.CAS, func() error, error) {
			return New(), nil, nil
		},
		OpenConfig: func(cfg map[string]string) (storage.CAS, func() error, error) {
			return New(), nil, nil
		},
	})
}
