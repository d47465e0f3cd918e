package normalize

import "testing"

func TestNormalize_UmlautExpansionAndIdempotence(t *testing.T) {
	n := NewNormalizer(nil, nil)
	got := n.Normalize("Stadtfest Freiburg – Grosses Fest!")
	twice := n.Normalize(got)
	if got != twice {
		t.Fatalf("Normalize is not idempotent: %q != %q", got, twice)
	}
	if got == "" {
		t.Fatal("expected non-empty normalization")
	}
}

func TestNormalize_SynonymFolding(t *testing.T) {
	n := NewNormalizer(map[string]string{"strasse": "str", "str.": "str"}, nil)
	got := n.Normalize("Hauptstrasse 5")
	want := n.Normalize("Hauptstr 5")
	if got != want {
		t.Fatalf("synonym folding mismatch: %q vs %q", got, want)
	}
}

func TestNormalizeCity_ResolvesDistrictToParent(t *testing.T) {
	n := NewNormalizer(nil, map[string]string{"herdern": "freiburg"})
	if got := n.NormalizeCity("Herdern"); got != "freiburg" {
		t.Fatalf("expected district resolved to parent city, got %q", got)
	}
}

func TestNormalizeCity_UnknownCityPassesThrough(t *testing.T) {
	n := NewNormalizer(nil, map[string]string{"herdern": "freiburg"})
	if got := n.NormalizeCity("Muenchen"); got != "muenchen" {
		t.Fatalf("expected unknown city normalized but unresolved, got %q", got)
	}
}

func TestPrefixStripper_StripsDashPrefix(t *testing.T) {
	p := NewPrefixStripper([]PrefixRule{{Text: "ANZEIGE", Class: PrefixDash}})
	got := p.Strip("ANZEIGE -- Stadtfest Freiburg")
	if got != "Stadtfest Freiburg" {
		t.Fatalf("expected prefix stripped, got %q", got)
	}
}

func TestPrefixStripper_StripsColonPrefix(t *testing.T) {
	p := NewPrefixStripper([]PrefixRule{{Text: "Veranstaltungstipp", Class: PrefixColon}})
	got := p.Strip("Veranstaltungstipp: Stadtfest Freiburg")
	if got != "Stadtfest Freiburg" {
		t.Fatalf("expected colon prefix stripped, got %q", got)
	}
}

func TestPrefixStripper_NoMatchLeavesTitleUnchanged(t *testing.T) {
	p := NewPrefixStripper([]PrefixRule{{Text: "ANZEIGE", Class: PrefixDash}})
	title := "Stadtfest Freiburg"
	if got := p.Strip(title); got != title {
		t.Fatalf("expected unchanged title, got %q", got)
	}
}
