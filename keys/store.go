package keys

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// KeyStore persists node, author and namespace seeds as hex files
// under one directory:
//
//	<dir>/node.key
//	<dir>/authors/<id>.key
//	<dir>/namespaces/<id>.key
//
// Author and namespace files are named by the multibase identifier of
// the key they hold; loading verifies the name against the rebuilt key.
type KeyStore struct {
	Directory string
}

func CreateKeyStore(directory string) (*KeyStore, error) {
	if directory == "" {
		return nil, errors.New("keys: empty keystore directory")
	}
	if err := os.MkdirAll(directory, 0o700); err != nil {
		return nil, err
	}
	return &KeyStore{Directory: directory}, nil
}

func (ks *KeyStore) nodeKeyPath() string {
	return filepath.Join(ks.Directory, "node.key")
}

func (ks *KeyStore) authorKeyPath(id string) string {
	return filepath.Join(ks.Directory, "authors", id+".key")
}

func (ks *KeyStore) namespaceKeyPath(id string) string {
	return filepath.Join(ks.Directory, "namespaces", id+".key")
}

// checkIDForPath guards identifiers used as file names. Multibase
// base32 identifiers are lower-case alphanumerics, so anything else is
// rejected before it can reach the filesystem.
func checkIDForPath(id string) error {
	if id == "" {
		return errors.New("keys: empty identifier")
	}
	for _, char := range id {
		if (char >= 'a' && char <= 'z') || (char >= '0' && char <= '9') {
			continue
		}
		return fmt.Errorf("keys: invalid character %q in identifier", char)
	}
	return nil
}

// EnsureNode loads the node identity, creating and persisting a new
// one when none exists yet. The second return reports whether a new
// identity was created.
func (ks *KeyStore) EnsureNode(r io.Reader) (Identity, bool, error) {
	seed, err := LoadSeedFile(ks.nodeKeyPath())
	if err == nil {
		id, ferr := FromSeed(seed)
		return id, false, ferr
	}
	if !errors.Is(err, os.ErrNotExist) {
		return Identity{}, false, err
	}
	id, err := Generate(r)
	if err != nil {
		return Identity{}, false, err
	}
	if err := SaveSeedFile(ks.nodeKeyPath(), id.Seed(), false); err != nil {
		return Identity{}, false, err
	}
	return id, true, nil
}

func (ks *KeyStore) SaveAuthor(id Identity, overwrite bool) error {
	if err := checkIDForPath(id.ID()); err != nil {
		return err
	}
	return SaveSeedFile(ks.authorKeyPath(id.ID()), id.Seed(), overwrite)
}

func (ks *KeyStore) LoadAuthor(id string) (Identity, error) {
	if err := checkIDForPath(id); err != nil {
		return Identity{}, err
	}
	return ks.loadNamed(ks.authorKeyPath(id), id)
}

// ListAuthors returns every persisted author identity, sorted by id.
func (ks *KeyStore) ListAuthors() ([]Identity, error) {
	return ks.listDir(filepath.Join(ks.Directory, "authors"))
}

func (ks *KeyStore) SaveNamespace(id Identity, overwrite bool) error {
	if err := checkIDForPath(id.ID()); err != nil {
		return err
	}
	return SaveSeedFile(ks.namespaceKeyPath(id.ID()), id.Seed(), overwrite)
}

func (ks *KeyStore) LoadNamespace(id string) (Identity, error) {
	if err := checkIDForPath(id); err != nil {
		return Identity{}, err
	}
	return ks.loadNamed(ks.namespaceKeyPath(id), id)
}

// ListNamespaces returns every namespace identity this store holds a
// secret for, sorted by id. Read-only namespaces have no entry here.
func (ks *KeyStore) ListNamespaces() ([]Identity, error) {
	return ks.listDir(filepath.Join(ks.Directory, "namespaces"))
}

func (ks *KeyStore) loadNamed(path, want string) (Identity, error) {
	seed, err := LoadSeedFile(path)
	if err != nil {
		return Identity{}, err
	}
	id, err := FromSeed(seed)
	if err != nil {
		return Identity{}, err
	}
	if id.ID() != want {
		return Identity{}, fmt.Errorf("keys: file %s holds key %s", path, id.ID())
	}
	return id, nil
}

func (ks *KeyStore) listDir(dir string) ([]Identity, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".key") {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), ".key"))
	}
	sort.Strings(names)

	var result []Identity
	for _, name := range names {
		id, err := ks.loadNamed(filepath.Join(dir, name+".key"), name)
		if err != nil {
			return nil, err
		}
		result = append(result, id)
	}
	return result, nil
}
