package docstore

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"
	"github.com/golang/glog"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/xxh3"
)

const (
	walFileName  = "docs.wal"
	snapFileName = "docs.snap"

	recordKindNamespace = "ns"
	recordKindAuthor    = "author"
	recordKindEntry     = "entry"

	snapshotVersion = 1
)

// Shared zstd coders for snapshots. Construction is expensive; both
// are safe for concurrent use through EncodeAll and DecodeAll.
var (
	snapEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	snapDecoder, _ = zstd.NewReader(nil)
)

// walRecord is one line of the write-ahead log. Sum is the xxh3 of the
// record serialized with Sum empty, so a torn or corrupted line never
// verifies.
type walRecord struct {
	Kind   string    `json:"k"`
	Seq    uint64    `json:"seq,omitempty"`
	NS     *nsRecord `json:"ns,omitempty"`
	Author string    `json:"a,omitempty"`
	Entry  *Entry    `json:"e,omitempty"`
	Sum    string    `json:"x"`
}

type nsRecord struct {
	ID       string `json:"id"`
	Writable bool   `json:"w"`
}

// Row is an applied entry together with its local apply sequence. Seq
// is local bookkeeping for sync resumption and is never signed; peers
// treat it as an opaque cursor into this replica's feed.
type Row struct {
	Seq   uint64 `json:"seq" msgpack:"seq"`
	Entry Entry  `json:"entry" msgpack:"entry"`
}

type snapshotFile struct {
	Version    int        `json:"version"`
	Seq        uint64     `json:"seq"`
	Namespaces []nsRecord `json:"namespaces"`
	Authors    []string   `json:"authors"`
	Rows       []Row      `json:"rows"`
}

func (r *walRecord) seal() ([]byte, error) {
	r.Sum = ""
	unsummed, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("docstore: marshal wal record: %w", err)
	}
	r.Sum = fmt.Sprintf("%016x", xxh3.Hash(unsummed))
	line, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("docstore: marshal wal record: %w", err)
	}
	return append(line, '\n'), nil
}

func decodeWALLine(line []byte) (*walRecord, error) {
	var rec walRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil, fmt.Errorf("docstore: decode wal record: %w", err)
	}
	want := rec.Sum
	rec.Sum = ""
	unsummed, err := json.Marshal(&rec)
	if err != nil {
		return nil, fmt.Errorf("docstore: reserialize wal record: %w", err)
	}
	if got := fmt.Sprintf("%016x", xxh3.Hash(unsummed)); got != want {
		return nil, fmt.Errorf("docstore: wal record checksum mismatch: %s != %s", got, want)
	}
	return &rec, nil
}

// wal appends records to the log file. Every append is synced; losing
// an acknowledged write on crash is worse than the extra fsync.
type wal struct {
	path    string
	f       *os.File
	records int
}

func openWAL(path string) (*wal, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("docstore: open wal: %w", err)
	}
	return &wal{path: path, f: f}, nil
}

func (w *wal) append(rec *walRecord) error {
	line, err := rec.seal()
	if err != nil {
		return err
	}
	if _, err := w.f.Write(line); err != nil {
		return fmt.Errorf("docstore: append wal record: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("docstore: sync wal: %w", err)
	}
	w.records++
	return nil
}

// reset empties the log after its contents have been folded into a
// snapshot.
func (w *wal) reset() error {
	if err := w.f.Truncate(0); err != nil {
		return fmt.Errorf("docstore: truncate wal: %w", err)
	}
	if _, err := w.f.Seek(0, 0); err != nil {
		return fmt.Errorf("docstore: rewind wal: %w", err)
	}
	w.records = 0
	return nil
}

func (w *wal) close() error {
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

// replayWAL feeds every verifiable record to apply in file order. The
// first record that fails to decode marks a torn tail: the file is
// truncated there and replay stops. Anything after a bad record is
// unrecoverable either way, since later state may depend on it.
func replayWAL(path string, apply func(*walRecord) error) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("docstore: read wal: %w", err)
	}
	applied := 0
	offset := 0
	for offset < len(data) {
		nl := bytes.IndexByte(data[offset:], '\n')
		if nl < 0 {
			// Partial final line, a write cut short.
			return applied, truncateWAL(path, offset, len(data)-offset)
		}
		line := data[offset : offset+nl]
		rec, err := decodeWALLine(line)
		if err != nil {
			glog.Warningf("docstore: %v", err)
			return applied, truncateWAL(path, offset, len(data)-offset)
		}
		if err := apply(rec); err != nil {
			return applied, err
		}
		applied++
		offset += nl + 1
	}
	return applied, nil
}

func truncateWAL(path string, offset, lost int) error {
	glog.Warningf("docstore: truncating torn wal tail at %d, dropping %d bytes", offset, lost)
	if err := os.Truncate(path, int64(offset)); err != nil {
		return fmt.Errorf("docstore: truncate torn wal: %w", err)
	}
	return nil
}

// writeSnapshot serializes state to a compressed file next to the
// final path and renames it into place, so a crash mid-write leaves
// the previous snapshot intact.
func writeSnapshot(path string, snap *snapshotFile) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("docstore: marshal snapshot: %w", err)
	}
	packed := snapEncoder.EncodeAll(raw, nil)
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("docstore: create snapshot: %w", err)
	}
	if _, err := f.Write(packed); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("docstore: write snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("docstore: sync snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("docstore: close snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("docstore: install snapshot: %w", err)
	}
	return syncDir(filepath.Dir(path))
}

func readSnapshot(path string) (*snapshotFile, error) {
	packed, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("docstore: read snapshot: %w", err)
	}
	raw, err := snapDecoder.DecodeAll(packed, nil)
	if err != nil {
		return nil, fmt.Errorf("docstore: decompress snapshot: %w", err)
	}
	var snap snapshotFile
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("docstore: decode snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("docstore: snapshot version %d not supported", snap.Version)
	}
	return &snap, nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return nil
	}
	defer d.Close()
	// Directory fsync is advisory on some platforms; a failure here
	// does not invalidate the rename.
	_ = d.Sync()
	return nil
}
