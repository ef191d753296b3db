package rpc

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"skiff.dev/skiff/storage"
	"skiff.dev/skiff/storage/casregistry"
)

var (
	flagPeerTarget      string
	flagPeerDialTimeout time.Duration
	flagPeerTimeout     time.Duration
	flagPeerMaxMsg      int
)

func init() {
	casregistry.MustRegister(casregistry.Backend{
		Name:        "peer",
		Description: "Read-only view of a running node's blob store, over its sync port",
		Usage:       casregistry.UsageCLI,
		RegisterFlags: func(fs *flag.FlagSet) {
			fs.StringVar(&flagPeerTarget, "peer-target", "", "peer sync address host:port (for --store=peer)")
			fs.DurationVar(&flagPeerDialTimeout, "peer-dial-timeout", 5*time.Second, "dial timeout (for --store=peer)")
			fs.DurationVar(&flagPeerTimeout, "peer-timeout", 30*time.Second, "per-fetch timeout (for --store=peer)")
			fs.IntVar(&flagPeerMaxMsg, "peer-max-msg-bytes", 0, "max gRPC message size in bytes; 0 uses grpc defaults")
		},
		Open: func() (storage.CAS, func() error, error) {
			target := strings.TrimSpace(flagPeerTarget)
			if target == "" {
				return nil, nil, fmt.Errorf("missing --peer-target")
			}
			conn, err := DialSync(target, DialOptions{Timeout: flagPeerDialTimeout, MaxMsgBytes: flagPeerMaxMsg})
			if err != nil {
				return nil, nil, err
			}
			return conn.Blobs(flagPeerTimeout), conn.Close, nil
		},
	})
}
