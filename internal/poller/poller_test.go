package poller

import "testing"

func TestParseExportBody_NewlineSeparated(t *testing.T) {
	body := []byte(`{"did":"did:plc:a","operation":{},"cid":"c1","nullified":false,"createdAt":"2023-01-01T00:00:00.000Z"}
{"did":"did:plc:b","operation":{},"cid":"c2","nullified":false,"createdAt":"2023-01-01T00:00:01.000Z"}
`)
	page := parseExportBody(body)
	if len(page.Ops) != 2 {
		t.Fatalf("got %d ops, want 2", len(page.Ops))
	}
	if page.Ops[0].DID != "did:plc:a" || page.Ops[1].DID != "did:plc:b" {
		t.Fatalf("unexpected ops: %+v", page.Ops)
	}
}

func TestParseExportBody_ConcatenatedObjects(t *testing.T) {
	body := []byte(`{"did":"did:plc:a","operation":{},"cid":"c1","nullified":false,"createdAt":"2023-01-01T00:00:00.000Z"}{"did":"did:plc:b","operation":{},"cid":"c2","nullified":false,"createdAt":"2023-01-01T00:00:01.000Z"}`)
	page := parseExportBody(body)
	if len(page.Ops) != 2 {
		t.Fatalf("got %d ops, want 2 (should split on concatenated objects)", len(page.Ops))
	}
}

func TestParseExportBody_SkipsUnparseableLines(t *testing.T) {
	body := []byte("not json\n" + `{"did":"did:plc:a","operation":{},"cid":"c1","nullified":false,"createdAt":"2023-01-01T00:00:00.000Z"}`)
	page := parseExportBody(body)
	if len(page.Ops) != 1 {
		t.Fatalf("expected unparseable lines to be skipped, got %d ops", len(page.Ops))
	}
}

func TestParseExportBody_Empty(t *testing.T) {
	page := parseExportBody([]byte("\n\n  \n"))
	if len(page.Ops) != 0 {
		t.Fatalf("expected no ops from whitespace-only body, got %d", len(page.Ops))
	}
}
