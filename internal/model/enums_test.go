package model

import "testing"

func TestSourceRoundTrip(t *testing.T) {
	for _, name := range []string{"crossref", "datacite", "orcid"} {
		s := SourceFromString(name)

		if s.String() != name {
			t.Fatalf("Source %v stringified to %q, want %q", s, s.String(), name)
		}

		if SourceFromInt(int16(s)) != s {
			t.Fatalf("Source %v did not round-trip through its integer value", s)
		}
	}
}

func TestSourceUnknownIsDefault(t *testing.T) {
	if got := SourceFromString("BLEURGH"); got != SourceUnknown {
		t.Fatalf("unrecognized source name must map to SourceUnknown, got %v", got)
	}

	if got := SourceFromInt(9999); got != SourceUnknown {
		t.Fatalf("unrecognized source id must map to SourceUnknown, got %v", got)
	}
}

func TestAnalyzerKindRoundTrip(t *testing.T) {
	for _, name := range []string{"lifecycle", "reference", "contribution", "identifier", "organizations"} {
		a := AnalyzerFromString(name)

		if a.String() != name {
			t.Fatalf("AnalyzerKind %v stringified to %q, want %q", a, a.String(), name)
		}

		if AnalyzerFromInt(int16(a)) != a {
			t.Fatalf("AnalyzerKind %v did not round-trip through its integer value", a)
		}
	}
}

func TestAnalyzerKindUnknownIsDefault(t *testing.T) {
	if got := AnalyzerFromString("BLEURGH"); got != AnalyzerUnknown {
		t.Fatalf("unrecognized analyzer name must map to AnalyzerUnknown, got %v", got)
	}

	if got := AnalyzerFromInt(9999); got != AnalyzerUnknown {
		t.Fatalf("unrecognized analyzer id must map to AnalyzerUnknown, got %v", got)
	}
}

func TestHandlerStatusRoundTrip(t *testing.T) {
	for _, name := range []string{"enabled", "disabled"} {
		s := HandlerStatusFromString(name)
		if s.String() != name {
			t.Fatalf("HandlerStatus %v stringified to %q, want %q", s, s.String(), name)
		}
	}

	if got := HandlerStatusFromString("BLEURGH"); got != HandlerStatusUnknown {
		t.Fatalf("unrecognized handler status must map to HandlerStatusUnknown, got %v", got)
	}
}
