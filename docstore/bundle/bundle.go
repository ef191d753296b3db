// Package bundle moves whole documents through files. An exported
// bundle is a deterministic TAR holding the document manifest (every
// signed row) plus the referenced content blobs, so a replica can be
// seeded offline and the bytes can be diffed or content-addressed
// themselves.
package bundle

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"skiff.dev/skiff/cidutil"
	"skiff.dev/skiff/docstore"
	"skiff.dev/skiff/keys"
	"skiff.dev/skiff/storage"
)

// FormatVersion is the current manifest schema version.
const FormatVersion = 1

const (
	manifestName = "doc.json"
	blobPrefix   = "blobs/"
)

// All TAR headers carry the zero time; a bundle's bytes depend only on
// its content.
var epoch0 = time.Unix(0, 0).UTC()

type manifest struct {
	Version   int              `json:"version"`
	Namespace string           `json:"namespace"`
	Entries   []docstore.Entry `json:"entries"`
}

// ExportOptions controls bundle export behavior.
type ExportOptions struct {
	// SkipMissing exports entries whose content blob is not locally
	// available instead of failing. Importers see those rows as
	// pending content.
	SkipMissing bool
}

// Export writes one document as a deterministic TAR bundle: the
// manifest first, then every referenced blob in lexicographic CID
// order. Blob bytes are validated against their CIDs before they are
// written.
func Export(w io.Writer, st *docstore.Store, cas storage.CAS, ns string, opts ExportOptions) error {
	if st == nil || cas == nil {
		return fmt.Errorf("bundle: nil store or CAS")
	}
	entries, err := st.Entries(ns)
	if err != nil {
		return err
	}

	referenced := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		referenced[e.Content] = struct{}{}
	}
	cids := make([]string, 0, len(referenced))
	for s := range referenced {
		cids = append(cids, s)
	}
	sort.Strings(cids)

	tw := tar.NewWriter(w)

	m := manifest{Version: FormatVersion, Namespace: ns, Entries: entries}
	// manifest is structs and slices only, so the encoding is
	// deterministic.
	mb, err := json.Marshal(m)
	if err != nil {
		tw.Close()
		return fmt.Errorf("bundle: marshal manifest: %w", err)
	}
	if err := writeFile(tw, manifestName, append(mb, '\n')); err != nil {
		tw.Close()
		return err
	}

	for _, s := range cids {
		id, err := cidutil.Parse(s)
		if err != nil {
			tw.Close()
			return err
		}
		b, err := cas.Get(id)
		if err != nil {
			if storage.IsNotFound(err) && opts.SkipMissing {
				continue
			}
			tw.Close()
			return fmt.Errorf("bundle: blob %s: %w", s, err)
		}
		if err := cidutil.Verify(s, b); err != nil {
			tw.Close()
			return err
		}
		if err := writeFile(tw, blobPrefix+s, b); err != nil {
			tw.Close()
			return err
		}
	}

	return tw.Close()
}

// ImportOptions controls bundle import behavior.
type ImportOptions struct {
	// IgnoreUnknown skips TAR entries that are neither the manifest
	// nor referenced blobs. Default is fail-closed.
	IgnoreUnknown bool
}

// ImportResult reports what an import changed.
type ImportResult struct {
	// Namespace is the document id carried by the manifest.
	Namespace string
	// Applied counts rows that changed local state; Stale counts rows
	// the replica already superseded.
	Applied int
	Stale   int
	// Blobs counts content blobs written to the CAS.
	Blobs int
	// Pending lists content CIDs referenced by applied rows that are
	// still not locally available.
	Pending []string
}

// Import reads a bundle and folds it into the store: the namespace is
// registered read-only if unknown, blobs land in the CAS, and every
// manifest row is applied under the store's normal remote-insert
// rules, signatures included. Import is not atomic; a failed import
// can leave earlier rows applied.
func Import(r io.Reader, st *docstore.Store, cas storage.CAS, opts ImportOptions) (ImportResult, error) {
	var res ImportResult
	if st == nil || cas == nil {
		return res, fmt.Errorf("bundle: nil store or CAS")
	}

	var manifestBytes []byte
	blobs := map[string][]byte{}

	tr := tar.NewReader(r)
	for {
		h, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, err
		}
		name := cleanTarPath(h.Name)
		if name == "" {
			return res, fmt.Errorf("bundle: invalid entry path: %q", h.Name)
		}
		if h.Typeflag != tar.TypeReg {
			if opts.IgnoreUnknown {
				continue
			}
			return res, fmt.Errorf("bundle: unexpected tar entry type: %v (%s)", h.Typeflag, name)
		}

		switch {
		case name == manifestName:
			if manifestBytes != nil {
				return res, fmt.Errorf("bundle: duplicate manifest")
			}
			manifestBytes, err = io.ReadAll(tr)
			if err != nil {
				return res, err
			}
		case strings.HasPrefix(name, blobPrefix):
			s := strings.TrimPrefix(name, blobPrefix)
			payload, err := io.ReadAll(tr)
			if err != nil {
				return res, err
			}
			if err := cidutil.Verify(s, payload); err != nil {
				return res, err
			}
			if _, ok := blobs[s]; ok {
				return res, fmt.Errorf("bundle: duplicate blob entry: %s", s)
			}
			blobs[s] = payload
		default:
			if opts.IgnoreUnknown {
				io.Copy(io.Discard, tr)
				continue
			}
			return res, fmt.Errorf("bundle: unknown entry: %s", name)
		}
	}

	if manifestBytes == nil {
		return res, fmt.Errorf("bundle: missing %s", manifestName)
	}
	var m manifest
	if err := json.Unmarshal(manifestBytes, &m); err != nil {
		return res, fmt.Errorf("bundle: decode manifest: %w", err)
	}
	if m.Version != FormatVersion {
		return res, fmt.Errorf("bundle: manifest version %d not supported", m.Version)
	}
	if _, err := keys.DecodeID(m.Namespace); err != nil {
		return res, fmt.Errorf("bundle: manifest namespace: %w", err)
	}
	res.Namespace = m.Namespace

	referenced := make(map[string]struct{}, len(m.Entries))
	for _, e := range m.Entries {
		if e.Namespace != m.Namespace {
			return res, fmt.Errorf("bundle: entry namespace %s does not match manifest %s", e.Namespace, m.Namespace)
		}
		referenced[e.Content] = struct{}{}
	}
	for s := range blobs {
		if _, ok := referenced[s]; !ok {
			if opts.IgnoreUnknown {
				delete(blobs, s)
				continue
			}
			return res, fmt.Errorf("bundle: blob %s is not referenced by any entry", s)
		}
	}

	if err := st.ImportNamespace(m.Namespace, keys.Identity{}); err != nil {
		return res, err
	}

	pending := map[string]struct{}{}
	for _, e := range m.Entries {
		ready := false
		if payload, ok := blobs[e.Content]; ok {
			if _, err := cas.Put(payload); err != nil {
				return res, err
			}
			res.Blobs++
			delete(blobs, e.Content)
			ready = true
		} else {
			id, err := cidutil.Parse(e.Content)
			if err != nil {
				return res, err
			}
			ready = cas.Has(id)
		}
		applied, err := st.InsertRemote(e, ready)
		if err != nil {
			return res, err
		}
		if applied {
			res.Applied++
			if !ready {
				pending[e.Content] = struct{}{}
			}
		} else {
			res.Stale++
		}
	}
	for s := range pending {
		res.Pending = append(res.Pending, s)
	}
	sort.Strings(res.Pending)
	return res, nil
}

func writeFile(tw *tar.Writer, name string, content []byte) error {
	hdr := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(content)),
		ModTime:  epoch0,
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := io.Copy(tw, bytes.NewReader(content))
	return err
}

func cleanTarPath(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimPrefix(name, "./")
	name = strings.TrimPrefix(name, "/")
	if name == "" {
		return ""
	}
	parts := strings.Split(name, "/")
	for _, part := range parts {
		if part == "" || part == "." || part == ".." {
			return ""
		}
	}
	return strings.Join(parts, "/")
}
