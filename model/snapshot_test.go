package model

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestSnapshot_LiveEvent_JSONShape(t *testing.T) {
	ev := LiveEvent{
		Kind:      EventInsertLocal,
		Namespace: "bnamespace1",
		Author:    "bauthor1",
		Key:       []byte("greeting"),
		Content:   "bafkr-content-1",
		Timestamp: 1700000000000000,
	}

	b, err := json.MarshalIndent(ev, "", "  ")
	if err != nil {
		t.Fatalf("MarshalIndent failed: %v", err)
	}

	const want = "{\n" +
		"  \"kind\": \"insert-local\",\n" +
		"  \"namespace\": \"bnamespace1\",\n" +
		"  \"author\": \"bauthor1\",\n" +
		"  \"key\": \"Z3JlZXRpbmc=\",\n" +
		"  \"content\": \"bafkr-content-1\",\n" +
		"  \"timestamp\": 1700000000000000\n" +
		"}"

	if string(b) != want {
		t.Fatalf("snapshot mismatch:\n%s", string(b))
	}
}

func TestCodedError_WrapAndCode(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(ErrNodeCreate, cause)

	if got := CodeOf(err); got != ErrNodeCreate {
		t.Fatalf("CodeOf: got %q want %q", got, ErrNodeCreate)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("wrapped cause not reachable via errors.Is")
	}

	// Wrapping an already-coded error must not re-code it.
	double := Wrap(ErrDoc, err)
	if got := CodeOf(double); got != ErrNodeCreate {
		t.Fatalf("re-wrap changed code: got %q", got)
	}

	if Wrap(ErrDoc, nil) != nil {
		t.Fatalf("Wrap(nil) must be nil")
	}
}

func TestCodedError_Message(t *testing.T) {
	err := Errorf(ErrTicketParse, "bad prefix %q", "xyz")
	const want = `DOC_TICKET_PARSE: bad prefix "xyz"`
	if err.Error() != want {
		t.Fatalf("Error(): got %q want %q", err.Error(), want)
	}
	if !IsCode(err, ErrTicketParse) {
		t.Fatalf("IsCode failed")
	}
}
