// Package hydration reconstructs a full JSON event from its stored
// non-derivable fields plus identifier table lookups, and performs the
// inverse operation for externally submitted events.
package hydration

import (
	"encoding/json"
	"fmt"

	"github.com/pardalotus/metabeak/internal/identifier"
	"github.com/pardalotus/metabeak/internal/model"
)

// Identified is the (kind, canonical value) pair an entity id resolves to,
// as looked up from the entity table.
type Identified struct {
	Kind  identifier.Kind
	Value string
}

// reservedFields are injected by Hydrate and stripped by Dehydrate. The
// *_id_uri fields are purely derivable from kind+value, so they are
// reserved alongside the analyzer/source/id fields. Without stripping
// them too, a hydrate/dehydrate round trip would leak them into the
// non-reserved field set it is supposed to preserve byte-identical.
var reservedFields = []string{
	"analyzer", "source",
	"subject_id", "subject_id_type", "subject_id_uri",
	"object_id", "object_id_type", "object_id_uri",
}

// Hydrate reconstructs the full JSON object a handler receives for one
// event: the stored non-derivable body fields, plus analyzer/source as
// strings and, for each present identified endpoint, its canonical id,
// vocabulary-tagged type, and resolvable URI (when one exists).
func Hydrate(e model.Event, subject, object *Identified) (json.RawMessage, error) {
	body := map[string]any{}

	if len(e.JSONBody) > 0 {
		if err := json.Unmarshal(e.JSONBody, &body); err != nil {
			return nil, fmt.Errorf("hydrate event %d: decode stored body: %w", e.ID, err)
		}
	}

	body["analyzer"] = e.AnalyzerID.String()
	body["source"] = e.SourceID.String()

	injectIdentified(body, "subject", subject)
	injectIdentified(body, "object", object)

	out, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("hydrate event %d: encode: %w", e.ID, err)
	}

	return out, nil
}

func injectIdentified(body map[string]any, prefix string, id *Identified) {
	if id == nil {
		return
	}

	body[prefix+"_id"] = id.Value
	body[prefix+"_id_type"] = string(id.Kind)

	if uri := identifier.CanonicalURI(identifier.Identifier{Kind: id.Kind, Value: id.Value}); uri != "" {
		body[prefix+"_id_uri"] = uri
	}
}

// Dehydrated is the result of parsing an externally submitted event: the
// reserved fields split out into their typed forms, and the remaining body
// as stored in the event table.
type Dehydrated struct {
	Analyzer model.AnalyzerKind
	Source   model.Source
	Subject  *Identified
	Object   *Identified
	JSONBody json.RawMessage
}

// Dehydrate parses an externally submitted event JSON object (such as one
// loaded via --load-events), splitting out the reserved fields and
// stripping them from the body that gets stored. It is the exact inverse
// of Hydrate: hydrating an event then dehydrating the result reproduces
// the same (analyzer, source, subject, object) values and leaves the
// non-reserved fields byte-identical to what was stored originally.
func Dehydrate(raw json.RawMessage) (Dehydrated, error) {
	body := map[string]any{}
	if err := json.Unmarshal(raw, &body); err != nil {
		return Dehydrated{}, fmt.Errorf("dehydrate: decode: %w", err)
	}

	var out Dehydrated

	if v, ok := body["analyzer"].(string); ok {
		out.Analyzer = model.AnalyzerFromString(v)
	}

	if v, ok := body["source"].(string); ok {
		out.Source = model.SourceFromString(v)
	}

	out.Subject = extractIdentified(body, "subject")
	out.Object = extractIdentified(body, "object")

	for _, f := range reservedFields {
		delete(body, f)
	}

	stripped, err := json.Marshal(body)
	if err != nil {
		return Dehydrated{}, fmt.Errorf("dehydrate: re-encode: %w", err)
	}

	out.JSONBody = stripped

	return out, nil
}

func extractIdentified(body map[string]any, prefix string) *Identified {
	value, ok := body[prefix+"_id"].(string)
	if !ok || value == "" {
		return nil
	}

	kind, ok := body[prefix+"_id_type"].(string)
	if !ok || kind == "" {
		return nil
	}

	return &Identified{Kind: identifier.Kind(kind), Value: value}
}
