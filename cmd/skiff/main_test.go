package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skiff.dev/skiff/docstore"
	"skiff.dev/skiff/model"
)

// runCLI executes one full invocation against a fresh root command,
// the way a shell would.
func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root := newRootCommand()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), errOut.String(), err
}

func TestCommandPresence(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{
		"init", "info", "stats",
		"doc", "author", "set", "get", "entries",
		"share", "import", "watch",
		"export", "bundle-import", "blob",
	} {
		sub, _, err := root.Find([]string{name})
		require.NoError(t, err, "command %s should exist", name)
		assert.Equal(t, name, sub.Name())
	}
}

func TestResolveDir(t *testing.T) {
	opts := &rootOptions{Dir: "/explicit"}
	dir, err := opts.resolveDir()
	require.NoError(t, err)
	assert.Equal(t, "/explicit", dir)

	opts = &rootOptions{}
	t.Setenv("SKIFF_DIR", "/from-env")
	dir, err = opts.resolveDir()
	require.NoError(t, err)
	assert.Equal(t, "/from-env", dir)

	t.Setenv("SKIFF_DIR", "")
	dir, err = opts.resolveDir()
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(dir, ".skiff"), "got %s", dir)
}

func TestReadValue(t *testing.T) {
	v, err := readValue("hello", "")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), v)

	file := filepath.Join(t.TempDir(), "value.txt")
	require.NoError(t, os.WriteFile(file, []byte("from file"), 0o644))
	v, err = readValue("", file)
	require.NoError(t, err)
	assert.Equal(t, []byte("from file"), v)

	_, err = readValue("arg", file)
	require.Error(t, err)

	_, err = readValue("", "")
	require.Error(t, err)
}

func TestFormatEvent(t *testing.T) {
	s := formatEvent(model.LiveEvent{
		Kind:      model.EventInsertRemote,
		Namespace: "ns",
		Author:    "auth",
		Key:       []byte("k"),
		Content:   "bafycid",
		Timestamp: 1_700_000_000_000_000,
	})
	assert.Contains(t, s, "insert-remote")
	assert.Contains(t, s, "author=auth")
	assert.Contains(t, s, `key="k"`)
	assert.Contains(t, s, "content=bafycid")
	assert.Contains(t, s, "at=2023-")

	s = formatEvent(model.LiveEvent{Kind: model.EventContentReady, Namespace: "ns", Content: "bafycid"})
	assert.Equal(t, "content-ready content=bafycid", s)
}

func TestInitInfoStats(t *testing.T) {
	dir := t.TempDir()
	out, _, err := runCLI(t, "init", "--dir", dir)
	require.NoError(t, err)

	var peer string
	for _, line := range strings.Split(out, "\n") {
		if rest, ok := strings.CutPrefix(line, "peer "); ok {
			peer = rest
		}
	}
	require.NotEmpty(t, peer)

	out, _, err = runCLI(t, "info", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, peer, "identity should survive across invocations")
	assert.Contains(t, out, "docs:    0")

	out, _, err = runCLI(t, "stats", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "bridge_tasks_run")
}

func TestSetGetEntriesList(t *testing.T) {
	dir := t.TempDir()
	out, _, err := runCLI(t, "doc", "create", "--dir", dir)
	require.NoError(t, err)
	id := strings.TrimSpace(out)
	require.NotEmpty(t, id)

	out, _, err = runCLI(t, "set", id, "greeting", "hello", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "(5 bytes)")

	out, _, err = runCLI(t, "get", id, "greeting", "--dir", dir)
	require.NoError(t, err)
	assert.Equal(t, "hello", out, "get writes raw bytes, no trailing newline")

	out, _, err = runCLI(t, "entries", id, "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, `"greeting"`)

	out, _, err = runCLI(t, "doc", "list", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "true")

	// set created the default author implicitly
	out, _, err = runCLI(t, "author", "list", "--dir", dir)
	require.NoError(t, err)
	assert.Len(t, strings.Fields(out), 1)

	_, _, err = runCLI(t, "get", id, "absent", "--dir", dir)
	require.Error(t, err)

	_, _, err = runCLI(t, "get", "no-such-doc", "greeting", "--dir", dir)
	require.Error(t, err)
}

func TestShareTicketImportsWritable(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()

	out, _, err := runCLI(t, "doc", "create", "--dir", dirA)
	require.NoError(t, err)
	id := strings.TrimSpace(out)

	out, _, err = runCLI(t, "share", id, "--mode", "write", "--dir", dirA)
	require.NoError(t, err)
	tk := strings.TrimSpace(out)
	require.NotEmpty(t, tk)

	out, _, err = runCLI(t, "import", tk, "--dir", dirB)
	require.NoError(t, err)
	assert.Contains(t, out, "imported "+id)
	assert.Contains(t, out, "(writable)")

	_, _, err = runCLI(t, "import", "not-a-ticket", "--dir", dirB)
	require.Error(t, err)

	_, _, err = runCLI(t, "share", id, "--mode", "bogus", "--dir", dirA)
	require.Error(t, err)
}

func TestBundleMovesDocumentBetweenDirs(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()

	out, _, err := runCLI(t, "doc", "create", "--dir", dirA)
	require.NoError(t, err)
	id := strings.TrimSpace(out)

	_, _, err = runCLI(t, "set", id, "greeting", "hello from A", "--dir", dirA)
	require.NoError(t, err)

	bundlePath := filepath.Join(t.TempDir(), "doc.bundle")
	_, _, err = runCLI(t, "export", id, bundlePath, "--dir", dirA)
	require.NoError(t, err)

	out, _, err = runCLI(t, "bundle-import", bundlePath, "--dir", dirB)
	require.NoError(t, err)
	assert.Contains(t, out, "1 applied")

	out, _, err = runCLI(t, "get", id, "greeting", "--dir", dirB)
	require.NoError(t, err)
	assert.Equal(t, "hello from A", out)
}

func TestJSONOutput(t *testing.T) {
	dir := t.TempDir()
	out, _, err := runCLI(t, "doc", "create", "--dir", dir, "--json")
	require.NoError(t, err)
	var created map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	require.NotEmpty(t, created["id"])

	out, _, err = runCLI(t, "doc", "list", "--dir", dir, "--json")
	require.NoError(t, err)
	var docs []docstore.NamespaceInfo
	require.NoError(t, json.Unmarshal([]byte(out), &docs))
	require.Len(t, docs, 1)
	assert.Equal(t, created["id"], docs[0].ID)
	assert.True(t, docs[0].Writable)
}

func TestBlobPutGetHas(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "payload.bin")
	require.NoError(t, os.WriteFile(file, []byte("blob bytes"), 0o644))

	store := filepath.Join(dir, "blobs")
	out, _, err := runCLI(t, "blob", "put", "--store", "fs", "--fs-dir", store, file)
	require.NoError(t, err)
	id := strings.TrimSpace(out)
	require.NotEmpty(t, id)

	out, _, err = runCLI(t, "blob", "has", "--fs-dir", store, id)
	require.NoError(t, err)
	assert.Equal(t, "true", strings.TrimSpace(out))

	out, _, err = runCLI(t, "blob", "get", "--fs-dir", store, id)
	require.NoError(t, err)
	assert.Equal(t, "blob bytes", out)

	out, _, err = runCLI(t, "blob", "backends", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "fs")
	assert.Contains(t, out, "peer")
}
