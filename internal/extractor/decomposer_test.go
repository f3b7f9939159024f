package extractor

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/pardalotus/metabeak/internal/identifier"
	"github.com/pardalotus/metabeak/internal/model"
	"github.com/pardalotus/metabeak/internal/storage"
)

var articleReferenceDOIs = []string{
	"10.1016/j.compedu.2015.11.008",
	"10.1080/10494820.2020.1813180",
	"10.3390/su13042247",
	"10.1007/s10639-020-10201-8",
	"10.1016/j.chb.2016.05.023",
	"10.19083/ridu.2019.1231",
	"10.35290/rcui.v9n1.2022.525",
	"10.37135/chk.002.08.04",
	"10.33262/concienciadigital.v4i3.1785",
	"10.26423/rctu.v6i2.455",
	"10.6018/red.450621",
	"10.17163/soph.n28.2020.01",
}

// articleAssertion builds a Crossref work record for a journal article with
// three authors (one carrying an ORCID whose checksum doesn't verify) and
// twelve linked references.
func articleAssertion(t *testing.T) storage.QueuedAssertion {
	t.Helper()

	refs := make([]map[string]string, 0, len(articleReferenceDOIs))
	for _, doi := range articleReferenceDOIs {
		refs = append(refs, map[string]string{"DOI": doi})
	}

	body, err := json.Marshal(map[string]any{
		"DOI": "10.33262/exploradordigital.v8i4.3221",
		"author": []map[string]string{
			{"ORCID": "http://orcid.org/0009-0005-5061-2894"},
			{"ORCID": "http://orcid.org/0009-0009-8606-9140"},
			{"ORCID": "http://orcid.org/0009-0009-8606-9149"},
		},
		"reference": refs,
	})
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}

	return storage.QueuedAssertion{
		AssertionID:     1,
		SourceID:        model.SourceCrossref,
		JSONBody:        body,
		SubjectEntityID: 1,
		SubjectIDType:   string(identifier.KindDOI),
		SubjectIDValue:  "10.33262/exploradordigital.v8i4.3221",
	}
}

func byAnalyzer(events []DecomposedEvent, kind model.AnalyzerKind) []DecomposedEvent {
	var out []DecomposedEvent

	for _, e := range events {
		if e.Analyzer == kind {
			out = append(out, e)
		}
	}

	return out
}

func TestCrossrefDecomposeArticle(t *testing.T) {
	events, err := CrossrefDecomposer{}.Decompose(articleAssertion(t))
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}

	lifecycle := byAnalyzer(events, model.AnalyzerLifecycle)
	if len(lifecycle) != 1 {
		t.Fatalf("got %d lifecycle events, want 1", len(lifecycle))
	}

	if lifecycle[0].ObjectIdentity != nil {
		t.Fatalf("lifecycle event has an object identity, want none")
	}

	var payload struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(lifecycle[0].JSONBody, &payload); err != nil || payload.Type != "indexed" {
		t.Fatalf("lifecycle payload = %s, want type indexed", lifecycle[0].JSONBody)
	}

	contributions := byAnalyzer(events, model.AnalyzerContribution)
	if len(contributions) != 3 {
		t.Fatalf("got %d contribution events, want 3", len(contributions))
	}

	var orcids, uris []string

	for _, c := range contributions {
		if c.ObjectIdentity == nil {
			t.Fatalf("contribution event missing object identity")
		}

		switch c.ObjectIdentity.Kind {
		case identifier.KindOrcid:
			orcids = append(orcids, c.ObjectIdentity.Value)
		case identifier.KindURI:
			uris = append(uris, c.ObjectIdentity.Value)
		default:
			t.Fatalf("contribution object kind = %s, want orcid or uri", c.ObjectIdentity.Kind)
		}
	}

	if len(orcids) != 2 || orcids[0] != "0009-0005-5061-2894" || orcids[1] != "0009-0009-8606-9140" {
		t.Fatalf("valid ORCID objects = %v", orcids)
	}

	// The third author's ORCID fails its checksum: the event still carries
	// the raw value, downgraded to a uri object.
	if len(uris) != 1 || uris[0] != "http://orcid.org/0009-0009-8606-9149" {
		t.Fatalf("downgraded ORCID objects = %v", uris)
	}

	references := byAnalyzer(events, model.AnalyzerReference)
	if len(references) != len(articleReferenceDOIs) {
		t.Fatalf("got %d reference events, want %d", len(references), len(articleReferenceDOIs))
	}

	for i, ref := range references {
		if ref.ObjectIdentity == nil || ref.ObjectIdentity.Kind != identifier.KindDOI {
			t.Fatalf("reference[%d] object = %+v, want a doi", i, ref.ObjectIdentity)
		}

		if ref.ObjectIdentity.Value != articleReferenceDOIs[i] {
			t.Fatalf("reference[%d] = %s, want %s", i, ref.ObjectIdentity.Value, articleReferenceDOIs[i])
		}
	}
}

func TestCrossrefDecomposeBookISBNs(t *testing.T) {
	body := []byte(`{
		"DOI": "10.1017/cbo9780511806223",
		"isbn-type": [
			{"type": "electronic", "value": "9780511806223"},
			{"type": "print", "value": "9780521643863"},
			{"type": "print", "value": "9780521643658"},
			{"type": "print", "value": "9780521643869"}
		]
	}`)

	assertion := storage.QueuedAssertion{
		AssertionID:     2,
		SourceID:        model.SourceCrossref,
		JSONBody:        body,
		SubjectEntityID: 2,
		SubjectIDType:   string(identifier.KindDOI),
		SubjectIDValue:  "10.1017/cbo9780511806223",
	}

	events, err := CrossrefDecomposer{}.Decompose(assertion)
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}

	idEvents := byAnalyzer(events, model.AnalyzerIdentifier)
	if len(idEvents) != 4 {
		t.Fatalf("got %d identifier events, want 4", len(idEvents))
	}

	var isbnCount, uriCount int

	for _, e := range idEvents {
		var payload struct {
			Type     string `json:"type"`
			IsbnType string `json:"isbn-type"`
		}

		if err := json.Unmarshal(e.JSONBody, &payload); err != nil {
			t.Fatalf("identifier payload %s: %v", e.JSONBody, err)
		}

		if payload.Type != "has-isbn" {
			t.Fatalf("identifier payload type = %q, want has-isbn", payload.Type)
		}

		if e.ObjectIdentity == nil {
			t.Fatalf("identifier event missing object identity")
		}

		switch e.ObjectIdentity.Kind {
		case identifier.KindIsbn:
			isbnCount++
		case identifier.KindURI:
			uriCount++

			// 9780521643869 fails its ISBN-13 check digit.
			if e.ObjectIdentity.Value != "9780521643869" {
				t.Fatalf("downgraded ISBN value = %s, want 9780521643869", e.ObjectIdentity.Value)
			}
		default:
			t.Fatalf("identifier object kind = %s, want isbn or uri", e.ObjectIdentity.Kind)
		}
	}

	if isbnCount != 3 || uriCount != 1 {
		t.Fatalf("got %d isbn / %d uri identifier events, want 3 / 1", isbnCount, uriCount)
	}
}

func TestCrossrefDecomposeSkipsReferencesWithoutDOI(t *testing.T) {
	body := []byte(`{
		"DOI": "10.5555/12345678",
		"reference": [
			{"unstructured": "Some citation with no DOI"},
			{"DOI": "10.5555/87654321"}
		]
	}`)

	events, err := CrossrefDecomposer{}.Decompose(storage.QueuedAssertion{
		SourceID: model.SourceCrossref,
		JSONBody: body,
	})
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}

	references := byAnalyzer(events, model.AnalyzerReference)
	if len(references) != 1 {
		t.Fatalf("got %d reference events, want 1", len(references))
	}

	if references[0].ObjectIdentity.Value != "10.5555/87654321" {
		t.Fatalf("reference object = %s, want 10.5555/87654321", references[0].ObjectIdentity.Value)
	}
}

func TestCrossrefDecomposeMalformedBodyStillYieldsLifecycle(t *testing.T) {
	events, err := CrossrefDecomposer{}.Decompose(storage.QueuedAssertion{
		SourceID: model.SourceCrossref,
		JSONBody: []byte(`"just a string"`),
	})
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}

	if len(events) != 1 || events[0].Analyzer != model.AnalyzerLifecycle {
		t.Fatalf("events = %+v, want exactly one lifecycle event", events)
	}
}

func TestRegistryIgnoresUnregisteredSource(t *testing.T) {
	registry := NewRegistry()
	registry.Register(model.SourceCrossref, CrossrefDecomposer{})

	events, err := registry.Decompose(storage.QueuedAssertion{
		SourceID: model.SourceDatacite,
		JSONBody: []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}

	if events != nil {
		t.Fatalf("events = %+v, want nil for an unregistered source", events)
	}
}

func TestCrossrefDecomposeManyAuthors(t *testing.T) {
	var authors []string
	for i := 0; i < 5; i++ {
		authors = append(authors, fmt.Sprintf(`{"given":"A%d","family":"B%d"}`, i, i))
	}

	// Authors without an ORCID produce no contribution event at all.
	body := []byte(`{"DOI":"10.5555/1","author":[` + strings.Join(authors, ",") + `]}`)

	events, err := CrossrefDecomposer{}.Decompose(storage.QueuedAssertion{
		SourceID: model.SourceCrossref,
		JSONBody: body,
	})
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}

	if got := byAnalyzer(events, model.AnalyzerContribution); len(got) != 0 {
		t.Fatalf("got %d contribution events for ORCID-less authors, want 0", len(got))
	}
}
