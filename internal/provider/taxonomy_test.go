package provider

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testLineage(t *testing.T) *Lineage {
	t.Helper()
	// 1 ← 2 ← 562 (E. coli), 1 ← 7742 ← 9606 (human)
	lineage, err := DecodeLineage([]byte("2\t1\n562\t2\n7742\t1\n9606\t7742\n"))
	if err != nil {
		t.Fatalf("DecodeLineage: %v", err)
	}
	return lineage
}

func TestLineage_Matches(t *testing.T) {
	lineage := testLineage(t)

	cases := []struct {
		a, b int
		want bool
	}{
		{9606, 9606, true},  // equal
		{7742, 9606, true},  // ancestor of
		{9606, 7742, true},  // descendant of
		{1, 562, true},      // root ancestor
		{562, 9606, false},  // different branches
		{9606, 562, false},  // different branches, reversed
		{99999, 9606, false}, // unknown taxon
	}
	for _, c := range cases {
		if got := lineage.Matches(c.a, c.b); got != c.want {
			t.Errorf("Matches(%d, %d) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestLineage_NilFallsBackToEquality(t *testing.T) {
	var lineage *Lineage
	if !lineage.Matches(5, 5) {
		t.Error("nil lineage should match equal taxa")
	}
	if lineage.Matches(5, 6) {
		t.Error("nil lineage should not match distinct taxa")
	}
}

func TestLineage_EncodeDecodeRoundtrip(t *testing.T) {
	lineage := testLineage(t)
	encoded := lineage.Encode()

	decoded, err := DecodeLineage(encoded)
	if err != nil {
		t.Fatalf("DecodeLineage: %v", err)
	}
	if decoded.Len() != lineage.Len() {
		t.Errorf("roundtrip changed size: %d vs %d", decoded.Len(), lineage.Len())
	}
	if !bytes.Equal(decoded.Encode(), encoded) {
		t.Error("re-encoding is not stable")
	}
}

func TestDecodeLineage_Malformed(t *testing.T) {
	for _, input := range []string{"9606\n", "abc\t1\n", "9606\tabc\n"} {
		if _, err := DecodeLineage([]byte(input)); err == nil {
			t.Errorf("expected error for %q", input)
		}
	}
}

func TestDecodeLineage_SkipsCommentsAndBlanks(t *testing.T) {
	lineage, err := DecodeLineage([]byte("# taxid\tparent\n\n9606\t7742\n"))
	if err != nil {
		t.Fatalf("DecodeLineage: %v", err)
	}
	if lineage.Len() != 1 {
		t.Errorf("expected 1 mapped taxon, got %d", lineage.Len())
	}
}

func TestTaxonomySource_FetchMapping(t *testing.T) {
	dump := "2\t1\n562\t2\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(dump))
	}))
	defer srv.Close()

	data, err := NewTaxonomySource(srv.URL).FetchMapping(context.Background())
	if err != nil {
		t.Fatalf("FetchMapping: %v", err)
	}
	if string(data) != dump {
		t.Errorf("unexpected mapping payload: %q", data)
	}
}

func TestTaxonomySource_RejectsInvalidDump(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not a lineage dump"))
	}))
	defer srv.Close()

	if _, err := NewTaxonomySource(srv.URL).FetchMapping(context.Background()); err == nil {
		t.Error("expected validation error for malformed dump")
	}
}

func TestTaxonomySource_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := NewTaxonomySource(srv.URL).FetchMapping(context.Background()); err == nil {
		t.Error("expected error for 5xx response")
	}
}
