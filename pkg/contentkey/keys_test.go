package contentkey

import "testing"

func TestBuildKey_DeterministicAndParsable(t *testing.T) {
	k1, err := BuildKey("Acme", "pair", "a", "b", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	k2, err := BuildKey("Acme", "pair", "a", "b", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if k1 != k2 {
		t.Fatalf("expected deterministic key, got %q vs %q", k1, k2)
	}

	parts, err := ParseKey(k1)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if parts.Version != KeyVersion || parts.Tenant != "acme" || parts.Scope != "pair" {
		t.Fatalf("unexpected parsed parts: %+v", parts)
	}
}

func TestBuildKey_DifferentPartsDifferentHash(t *testing.T) {
	k1, _ := BuildKey("acme", "pair", "a", "b")
	k2, _ := BuildKey("acme", "pair", "a", "c")
	if k1 == k2 {
		t.Fatal("expected different parts to produce different keys")
	}
}

func TestBuildKey_EmptyTenantDefaultsToLocal(t *testing.T) {
	k, err := BuildKey("", "pair")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	parts, err := ParseKey(k)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if parts.Tenant != "local" {
		t.Fatalf("expected tenant to default to local, got %q", parts.Tenant)
	}
}

func TestBuildKey_InvalidScopeRejected(t *testing.T) {
	if _, err := BuildKey("acme", ""); err == nil {
		t.Fatal("expected error for empty scope")
	}
}

func TestParseKey_RejectsMalformedKey(t *testing.T) {
	if _, err := ParseKey("not-a-valid-key"); err == nil {
		t.Fatal("expected error for malformed key")
	}
}

func TestBuildKeyFromMap_OrderIndependent(t *testing.T) {
	m1 := map[string]any{"title": "Stadtfest", "city": "Freiburg"}
	m2 := map[string]any{"city": "Freiburg", "title": "Stadtfest"}
	k1, err := BuildKeyFromMap("acme", "pair", m1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	k2, err := BuildKeyFromMap("acme", "pair", m2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if k1 != k2 {
		t.Fatalf("expected map key order to not affect hash, got %q vs %q", k1, k2)
	}
}

func TestPairHash_SymmetricOnArgumentOrder(t *testing.T) {
	a := PairFields{Title: "Stadtfest", City: "Freiburg"}
	b := PairFields{Title: "Stadtfest Freiburg", City: "Freiburg"}

	h1, err := PairHash("rec-a", a, "rec-b", b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h2, err := PairHash("rec-b", b, "rec-a", a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected symmetric pair hash, got %q vs %q", h1, h2)
	}
}

func TestPairHash_DifferentFieldsDifferentHash(t *testing.T) {
	a := PairFields{Title: "Stadtfest"}
	b := PairFields{Title: "Konzert"}
	h1, _ := PairHash("rec-a", a, "rec-b", a)
	h2, _ := PairHash("rec-a", a, "rec-b", b)
	if h1 == h2 {
		t.Fatal("expected different fields to produce different hashes")
	}
}
