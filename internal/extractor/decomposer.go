// Package extractor drains the metadata assertion queue, decomposing each
// assertion into typed events and opportunistically enriching the
// entities those events reference.
package extractor

import (
	"encoding/json"

	"github.com/pardalotus/metabeak/internal/identifier"
	"github.com/pardalotus/metabeak/internal/model"
	"github.com/pardalotus/metabeak/internal/storage"
)

// DecomposedEvent is one event produced by a Decomposer, before its object
// identifier has been resolved to an entity id.
type DecomposedEvent struct {
	Analyzer       model.AnalyzerKind
	ObjectIdentity *identifier.Identifier // nil when the event has no object
	JSONBody       []byte
}

// Decomposer interprets one queued metadata assertion and produces the
// events it implies.
type Decomposer interface {
	Decompose(assertion storage.QueuedAssertion) ([]DecomposedEvent, error)
}

// Registry dispatches a queued assertion to the decomposer registered for
// its source.
type Registry struct {
	bySource map[model.Source]Decomposer
}

// NewRegistry creates an empty decomposer registry.
func NewRegistry() *Registry {
	return &Registry{bySource: make(map[model.Source]Decomposer)}
}

// Register binds a decomposer to a source.
func (r *Registry) Register(source model.Source, d Decomposer) {
	r.bySource[source] = d
}

// Decompose dispatches to the decomposer registered for the assertion's
// source, returning no events (not an error) for an unregistered source.
func (r *Registry) Decompose(assertion storage.QueuedAssertion) ([]DecomposedEvent, error) {
	d, ok := r.bySource[assertion.SourceID]
	if !ok {
		return nil, nil
	}

	return d.Decompose(assertion)
}

// CrossrefDecomposer interprets Crossref work records.
type CrossrefDecomposer struct{}

type crossrefWork struct {
	Author []struct {
		ORCID string `json:"ORCID"`
	} `json:"author"`
	ISBNType []struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	} `json:"isbn-type"`
	Reference []struct {
		DOI string `json:"DOI"`
	} `json:"reference"`
}

type lifecycleEventPayload struct {
	Type string `json:"type"`
}

type contributionEventPayload struct {
	Type string `json:"type"`
}

type identifierEventPayload struct {
	Type     string `json:"type"`
	IsbnType string `json:"isbn-type"`
}

type referenceEventPayload struct {
	Type string `json:"type"`
}

// Decompose implements Decomposer for Crossref assertions, emitting one
// Lifecycle/indexed event, one Contribution/author event per ORCID author,
// one Identifier/has-isbn event per isbn-type entry, and one
// Reference/references event per reference that carries a DOI.
func (CrossrefDecomposer) Decompose(assertion storage.QueuedAssertion) ([]DecomposedEvent, error) {
	events := []DecomposedEvent{lifecycleEvent()}

	var work crossrefWork
	if err := json.Unmarshal(assertion.JSONBody, &work); err != nil {
		// A body that doesn't parse as the expected shape still yields the
		// lifecycle event; downstream analyzers simply find nothing more.
		return events, nil
	}

	for _, author := range work.Author {
		if author.ORCID == "" {
			continue
		}

		id := identifier.ParseOrcid(author.ORCID)
		events = append(events, contributionEvent(id))
	}

	for _, entry := range work.ISBNType {
		if entry.Value == "" {
			continue
		}

		id := identifier.ParseISBN(entry.Value)
		events = append(events, identifierEvent(id, entry.Type))
	}

	for _, ref := range work.Reference {
		if ref.DOI == "" {
			continue
		}

		id := identifier.ParseDOI(ref.DOI)
		events = append(events, referenceEvent(id))
	}

	return events, nil
}

func lifecycleEvent() DecomposedEvent {
	body, _ := json.Marshal(lifecycleEventPayload{Type: "indexed"})

	return DecomposedEvent{Analyzer: model.AnalyzerLifecycle, JSONBody: body}
}

func contributionEvent(object identifier.Identifier) DecomposedEvent {
	body, _ := json.Marshal(contributionEventPayload{Type: "author"})

	return DecomposedEvent{Analyzer: model.AnalyzerContribution, ObjectIdentity: &object, JSONBody: body}
}

func identifierEvent(object identifier.Identifier, isbnType string) DecomposedEvent {
	body, _ := json.Marshal(identifierEventPayload{Type: "has-isbn", IsbnType: isbnType})

	return DecomposedEvent{Analyzer: model.AnalyzerIdentifier, ObjectIdentity: &object, JSONBody: body}
}

func referenceEvent(object identifier.Identifier) DecomposedEvent {
	body, _ := json.Marshal(referenceEventPayload{Type: "references"})

	return DecomposedEvent{Analyzer: model.AnalyzerReference, ObjectIdentity: &object, JSONBody: body}
}
