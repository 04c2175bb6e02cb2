package domain

import "testing"

func TestParseOp(t *testing.T) {
	line := []byte(`{"did":"did:plc:abc","operation":{"type":"plc_operation"},"cid":"bafy1","nullified":false,"createdAt":"2023-01-02T03:04:05.000Z"}`)
	op, err := ParseOp(line)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if op.DID != "did:plc:abc" || op.CID != "bafy1" || op.Nullified {
		t.Fatalf("unexpected parse result: %+v", op)
	}
	if op.CreatedAt.Year() != 2023 {
		t.Fatalf("unexpected createdAt: %v", op.CreatedAt)
	}
}

func TestParseOp_Invalid(t *testing.T) {
	if _, err := ParseOp([]byte(`not json`)); err == nil {
		t.Fatalf("expected an error for invalid JSON")
	}
}

func TestOpKeyString(t *testing.T) {
	k := OpKey{DID: "did:plc:abc", CID: "bafy1"}
	if got, want := k.String(), "did:plc:abc/bafy1"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}
