package node

import (
	"context"
	"io"

	"skiff.dev/skiff/docstore/bundle"
	"skiff.dev/skiff/internal/bridge"
	"skiff.dev/skiff/model"
)

// ExportBundle writes one document and its locally held content as a
// deterministic TAR bundle. Bundles move documents without a network
// path between the nodes; an import on the far side replays them under
// the normal signature checks.
func (n *Node) ExportBundle(w io.Writer, ns string, opts bundle.ExportOptions) error {
	_, err := bridge.RunBlocking(n.br, func(context.Context) (struct{}, error) {
		return struct{}{}, bundle.Export(w, n.store, n.blobs, ns, opts)
	})
	return wrapOp(model.ErrDoc, err)
}

// ImportBundle folds a bundle into the node, registering the namespace
// read-only when it is new. The result lists rows applied and content
// still missing. A failed import can leave earlier rows applied.
func (n *Node) ImportBundle(r io.Reader) (bundle.ImportResult, error) {
	res, err := bridge.RunBlocking(n.br, func(context.Context) (bundle.ImportResult, error) {
		return bundle.Import(r, n.store, n.blobs, bundle.ImportOptions{})
	})
	return res, wrapOp(model.ErrDoc, err)
}
