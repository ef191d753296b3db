package ticket

import (
	"reflect"
	"strings"
	"testing"

	"github.com/multiformats/go-multibase"
	"github.com/vmihailenco/msgpack/v5"

	"skiff.dev/skiff/keys"
	"skiff.dev/skiff/model"
)

func testIdentities(t *testing.T) (namespace, peer keys.Identity) {
	t.Helper()
	var err error
	namespace, err = keys.Generate(nil)
	if err != nil {
		t.Fatalf("generate namespace: %v", err)
	}
	peer, err = keys.Generate(nil)
	if err != nil {
		t.Fatalf("generate peer: %v", err)
	}
	return namespace, peer
}

func TestWriteTicketRoundTrip(t *testing.T) {
	namespace, peer := testIdentities(t)
	addrs := []string{"10.0.0.7:4780", "[::1]:4780"}

	tk, err := NewWrite(namespace.ID(), namespace, peer.ID(), addrs)
	if err != nil {
		t.Fatalf("new write ticket: %v", err)
	}
	if tk.Mode() != model.ShareWrite {
		t.Fatalf("mode = %s", tk.Mode())
	}

	text, err := tk.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.HasPrefix(text, Prefix) {
		t.Fatalf("ticket %q does not start with %q", text, Prefix)
	}

	got, err := Parse(text)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !reflect.DeepEqual(got, tk) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, tk)
	}
	secret, err := got.SecretIdentity()
	if err != nil {
		t.Fatalf("secret identity: %v", err)
	}
	if secret.ID() != namespace.ID() {
		t.Fatal("recovered secret does not open the namespace")
	}
}

func TestReadTicketCarriesNoSecret(t *testing.T) {
	namespace, peer := testIdentities(t)
	tk := NewRead(namespace.ID(), peer.ID(), nil)
	if tk.Mode() != model.ShareRead {
		t.Fatalf("mode = %s", tk.Mode())
	}

	text, err := tk.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Parse(text)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got.Secret) != 0 {
		t.Fatal("read ticket carries a secret")
	}
	secret, err := got.SecretIdentity()
	if err != nil || !secret.Zero() {
		t.Fatalf("SecretIdentity = %v, %v, want zero", secret, err)
	}
}

func TestNewWriteRejectsForeignSecret(t *testing.T) {
	namespace, peer := testIdentities(t)
	if _, err := NewWrite(namespace.ID(), peer, peer.ID(), nil); err == nil {
		t.Fatal("write ticket minted with the wrong secret")
	}
	if _, err := NewWrite(namespace.ID(), keys.Identity{}, peer.ID(), nil); err == nil {
		t.Fatal("write ticket minted with no secret")
	}
}

func TestParseRejectsMalformedTickets(t *testing.T) {
	namespace, peer := testIdentities(t)
	tk := NewRead(namespace.ID(), peer.ID(), []string{"127.0.0.1:4780"})
	text, err := tk.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	cases := []struct {
		name string
		in   string
	}{
		{"bad prefix", "xyz"},
		{"prefix only", "doc"},
		{"not multibase", "doc!!!"},
		{"truncated payload", text[:len(text)/2]},
		{"garbage payload", "docmzxw6ytboi"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.in)
			if err == nil {
				t.Fatalf("Parse(%q) succeeded", tc.in)
			}
			if !model.IsCode(err, model.ErrTicketParse) {
				t.Fatalf("Parse(%q) error code = %q", tc.in, model.CodeOf(err))
			}
		})
	}
}

func TestParseRejectsTamperedWirePayloads(t *testing.T) {
	namespace, peer := testIdentities(t)
	other, err := keys.Generate(nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	encode := func(w wireTicket) string {
		payload, err := msgpack.Marshal(&w)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		text, err := multibase.Encode(multibase.Base32, payload)
		if err != nil {
			t.Fatalf("multibase: %v", err)
		}
		return Prefix + text
	}

	cases := []struct {
		name string
		wire wireTicket
	}{
		{"future version", wireTicket{Version: formatVersion + 1, Namespace: namespace.ID(), Peer: peer.ID()}},
		{"bad namespace id", wireTicket{Version: formatVersion, Namespace: "???", Peer: peer.ID()}},
		{"bad peer id", wireTicket{Version: formatVersion, Namespace: namespace.ID(), Peer: "???"}},
		{"short secret", wireTicket{Version: formatVersion, Namespace: namespace.ID(), Peer: peer.ID(), Secret: []byte{1, 2, 3}}},
		{"secret for another namespace", wireTicket{Version: formatVersion, Namespace: namespace.ID(), Peer: peer.ID(), Secret: other.Seed()}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(encode(tc.wire))
			if err == nil {
				t.Fatal("tampered ticket accepted")
			}
			if !model.IsCode(err, model.ErrTicketParse) {
				t.Fatalf("error code = %q", model.CodeOf(err))
			}
		})
	}
}
