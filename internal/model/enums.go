// Package model holds the small, stable vocabulary types shared across
// metabeak's storage, extraction, and API layers: the enumerations that are
// encoded as integers in the database and as lowercase strings in JSON, and
// the core record shapes (assertions, events, handlers) built from them.
package model

// Source identifies who asserted a MetadataAssertion: the harvester that
// pulled a record, or the API that ingested one directly. Values are
// stored as small integers; unrecognized integers or strings map to
// SourceUnknown rather than failing, so schema drift never blocks a read.
type Source int16

const (
	SourceUnknown Source = iota
	SourceCrossref
	SourceDatacite
	SourceOrcid
)

var sourceNames = map[Source]string{
	SourceUnknown:  "unknown",
	SourceCrossref: "crossref",
	SourceDatacite: "datacite",
	SourceOrcid:    "orcid",
}

var sourceValues = map[string]Source{
	"crossref": SourceCrossref,
	"datacite": SourceDatacite,
	"orcid":    SourceOrcid,
}

// String renders the stable lowercase JSON form of a Source.
func (s Source) String() string {
	if name, ok := sourceNames[s]; ok {
		return name
	}

	return sourceNames[SourceUnknown]
}

// SourceFromString parses a lowercase source name, returning SourceUnknown
// for anything unrecognized.
func SourceFromString(value string) Source {
	if s, ok := sourceValues[value]; ok {
		return s
	}

	return SourceUnknown
}

// SourceFromInt parses a raw integer source id, returning SourceUnknown for
// anything outside the known range.
func SourceFromInt(value int16) Source {
	if _, ok := sourceNames[Source(value)]; ok {
		return Source(value)
	}

	return SourceUnknown
}

// AnalyzerKind identifies which decomposer produced an Event.
type AnalyzerKind int16

const (
	AnalyzerUnknown AnalyzerKind = iota
	AnalyzerLifecycle
	AnalyzerReference
	AnalyzerContribution
	AnalyzerIdentifier
	AnalyzerOrganizations
)

var analyzerNames = map[AnalyzerKind]string{
	AnalyzerUnknown:       "unknown",
	AnalyzerLifecycle:     "lifecycle",
	AnalyzerReference:     "reference",
	AnalyzerContribution:  "contribution",
	AnalyzerIdentifier:    "identifier",
	AnalyzerOrganizations: "organizations",
}

var analyzerValues = map[string]AnalyzerKind{
	"lifecycle":     AnalyzerLifecycle,
	"reference":     AnalyzerReference,
	"contribution":  AnalyzerContribution,
	"identifier":    AnalyzerIdentifier,
	"organizations": AnalyzerOrganizations,
}

// String renders the stable lowercase JSON form of an AnalyzerKind.
func (a AnalyzerKind) String() string {
	if name, ok := analyzerNames[a]; ok {
		return name
	}

	return analyzerNames[AnalyzerUnknown]
}

// AnalyzerFromString parses a lowercase analyzer name, returning
// AnalyzerUnknown for anything unrecognized.
func AnalyzerFromString(value string) AnalyzerKind {
	if a, ok := analyzerValues[value]; ok {
		return a
	}

	return AnalyzerUnknown
}

// AnalyzerFromInt parses a raw integer analyzer id, returning
// AnalyzerUnknown for anything outside the known range.
func AnalyzerFromInt(value int16) AnalyzerKind {
	if _, ok := analyzerNames[AnalyzerKind(value)]; ok {
		return AnalyzerKind(value)
	}

	return AnalyzerUnknown
}

// HandlerStatus is the lifecycle state of an uploaded handler.
type HandlerStatus int16

const (
	HandlerStatusUnknown HandlerStatus = iota
	HandlerStatusEnabled
	HandlerStatusDisabled
)

var handlerStatusNames = map[HandlerStatus]string{
	HandlerStatusUnknown:  "unknown",
	HandlerStatusEnabled:  "enabled",
	HandlerStatusDisabled: "disabled",
}

var handlerStatusValues = map[string]HandlerStatus{
	"enabled":  HandlerStatusEnabled,
	"disabled": HandlerStatusDisabled,
}

// String renders the stable lowercase JSON form of a HandlerStatus.
func (h HandlerStatus) String() string {
	if name, ok := handlerStatusNames[h]; ok {
		return name
	}

	return handlerStatusNames[HandlerStatusUnknown]
}

// HandlerStatusFromString parses a lowercase handler status, returning
// HandlerStatusUnknown for anything unrecognized.
func HandlerStatusFromString(value string) HandlerStatus {
	if h, ok := handlerStatusValues[value]; ok {
		return h
	}

	return HandlerStatusUnknown
}

// AssertionReason distinguishes assertions that drive downstream event
// extraction (Primary) from those fetched opportunistically to enrich an
// entity without re-triggering work (Secondary).
type AssertionReason string

const (
	ReasonPrimary   AssertionReason = "primary"
	ReasonSecondary AssertionReason = "secondary"
)
