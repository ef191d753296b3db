// Package ticket encodes document shares as self-contained strings. A
// ticket names the document, the issuing peer and its addresses, and,
// for write shares, carries the namespace secret. The text form is the
// "doc" prefix followed by the multibase base32 msgpack payload, so a
// ticket survives chat clients and shell quoting.
package ticket

import (
	"strings"

	"github.com/multiformats/go-multibase"
	"github.com/vmihailenco/msgpack/v5"

	"skiff.dev/skiff/keys"
	"skiff.dev/skiff/model"
)

// Prefix starts every document ticket.
const Prefix = "doc"

const formatVersion = 1

// Doc is a parsed document ticket.
type Doc struct {
	// Namespace is the document id the ticket grants access to.
	Namespace string
	// Secret is the namespace seed. Present only on write tickets;
	// holding it is what makes the imported replica writable.
	Secret []byte
	// Peer is the node id of the issuer, for sync authentication.
	Peer string
	// Addrs are dialable addresses of the issuer.
	Addrs []string
}

type wireTicket struct {
	Version   int      `msgpack:"version"`
	Namespace string   `msgpack:"namespace"`
	Secret    []byte   `msgpack:"secret,omitempty"`
	Peer      string   `msgpack:"peer"`
	Addrs     []string `msgpack:"addrs,omitempty"`
}

// NewRead builds a read-only ticket for the document.
func NewRead(namespace, peer string, addrs []string) *Doc {
	return &Doc{Namespace: namespace, Peer: peer, Addrs: addrs}
}

// NewWrite builds a write ticket. The secret must be the namespace
// identity itself; anything else would mint a ticket the importer can
// never sign with.
func NewWrite(namespace string, secret keys.Identity, peer string, addrs []string) (*Doc, error) {
	if secret.Zero() {
		return nil, model.NewError(model.ErrDoc, "write ticket needs the namespace secret")
	}
	if secret.ID() != namespace {
		return nil, model.Errorf(model.ErrDoc, "secret is for %s, not %s", secret.ID(), namespace)
	}
	return &Doc{Namespace: namespace, Secret: secret.Seed(), Peer: peer, Addrs: addrs}, nil
}

// Mode reports the capability the ticket grants.
func (t *Doc) Mode() model.ShareMode {
	if len(t.Secret) > 0 {
		return model.ShareWrite
	}
	return model.ShareRead
}

// SecretIdentity rebuilds the namespace identity from a write ticket.
// Returns the zero identity for read tickets.
func (t *Doc) SecretIdentity() (keys.Identity, error) {
	if len(t.Secret) == 0 {
		return keys.Identity{}, nil
	}
	return keys.FromSeed(t.Secret)
}

func (t *Doc) validate() error {
	if _, err := keys.DecodeID(t.Namespace); err != nil {
		return model.Errorf(model.ErrTicketParse, "namespace: %v", err)
	}
	if _, err := keys.DecodeID(t.Peer); err != nil {
		return model.Errorf(model.ErrTicketParse, "peer: %v", err)
	}
	if len(t.Secret) > 0 {
		id, err := keys.FromSeed(t.Secret)
		if err != nil {
			return model.Errorf(model.ErrTicketParse, "secret: %v", err)
		}
		if id.ID() != t.Namespace {
			return model.NewError(model.ErrTicketParse, "secret does not open the named namespace")
		}
	}
	return nil
}

// Encode renders the ticket's text form.
func (t *Doc) Encode() (string, error) {
	if err := t.validate(); err != nil {
		return "", err
	}
	payload, err := msgpack.Marshal(&wireTicket{
		Version:   formatVersion,
		Namespace: t.Namespace,
		Secret:    t.Secret,
		Peer:      t.Peer,
		Addrs:     t.Addrs,
	})
	if err != nil {
		return "", model.Wrap(model.ErrTicketParse, err)
	}
	text, err := multibase.Encode(multibase.Base32, payload)
	if err != nil {
		return "", model.Wrap(model.ErrTicketParse, err)
	}
	return Prefix + text, nil
}

// Parse decodes and validates a ticket string.
func Parse(s string) (*Doc, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, Prefix) || len(s) == len(Prefix) {
		return nil, model.Errorf(model.ErrTicketParse, "bad prefix %q", s)
	}
	_, payload, err := multibase.Decode(s[len(Prefix):])
	if err != nil {
		return nil, model.Errorf(model.ErrTicketParse, "decode: %v", err)
	}
	var w wireTicket
	if err := msgpack.Unmarshal(payload, &w); err != nil {
		return nil, model.Errorf(model.ErrTicketParse, "payload: %v", err)
	}
	if w.Version != formatVersion {
		return nil, model.Errorf(model.ErrTicketParse, "version %d not supported", w.Version)
	}
	t := &Doc{Namespace: w.Namespace, Secret: w.Secret, Peer: w.Peer, Addrs: w.Addrs}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return t, nil
}
