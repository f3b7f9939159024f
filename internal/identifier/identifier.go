// Package identifier parses and normalizes the scholarly identifiers
// metabeak deals with (DOIs, ORCIDs, RORs, ISBNs, and bare URIs/strings)
// into a single canonical form so that two syntactically distinct inputs
// denoting the same thing resolve to the same entity.
package identifier

import (
	"fmt"
	"strings"
)

// Kind is the vocabulary tag stored alongside a canonical identifier value
// and surfaced to handlers as "{subject|object}_id_type".
type Kind string

// The fixed set of identifier kinds. Unrecognized kinds are never produced
// by Parse; a failed validation downgrades to KindURI instead.
const (
	KindDOI    Kind = "doi"
	KindOrcid  Kind = "orcid"
	KindRor    Kind = "ror"
	KindURI    Kind = "uri"
	KindIsbn   Kind = "isbn"
	KindString Kind = "string"
)

// Identifier is a tagged, canonicalized external identifier.
type Identifier struct {
	Kind  Kind
	Value string // canonical form: lowercase DOI, hyphenated ORCID, bare ISBN digits, ...
}

// Parse normalizes raw input (URL forms, case, scheme prefixes) into a
// canonical Identifier. It recognizes DOIs, ORCIDs, and RORs by their
// well-known URL/prefix forms; anything else becomes a URI (if it parses
// as one) or a raw String.
func Parse(raw string) Identifier {
	trimmed := strings.TrimSpace(raw)

	switch {
	case looksLikeDOI(trimmed):
		return ParseDOI(trimmed)
	case looksLikeOrcid(trimmed):
		return ParseOrcid(trimmed)
	case looksLikeRor(trimmed):
		return parseRor(trimmed)
	case strings.Contains(trimmed, "://"):
		return Identifier{Kind: KindURI, Value: trimmed}
	default:
		return Identifier{Kind: KindString, Value: trimmed}
	}
}

func looksLikeDOI(s string) bool {
	lower := strings.ToLower(s)

	return strings.HasPrefix(lower, "10.") ||
		strings.HasPrefix(lower, "doi:") ||
		strings.Contains(lower, "doi.org/")
}

// ParseDOI normalizes a DOI in any of its common forms (bare "10.x/y",
// "doi:10.x/y", or a doi.org URL) to its lowercase bare form.
func ParseDOI(raw string) Identifier {
	value := strings.TrimSpace(raw)
	lower := strings.ToLower(value)

	switch {
	case strings.Contains(lower, "doi.org/"):
		idx := strings.Index(lower, "doi.org/")
		value = value[idx+len("doi.org/"):]
	case strings.HasPrefix(lower, "doi:"):
		value = value[len("doi:"):]
	}

	return Identifier{Kind: KindDOI, Value: strings.ToLower(strings.TrimSpace(value))}
}

func looksLikeOrcid(s string) bool {
	lower := strings.ToLower(s)
	if strings.Contains(lower, "orcid.org/") {
		return true
	}

	return isOrcidShape(s)
}

// ParseOrcid normalizes an ORCID iD in bare ("0000-0000-0000-0000") or URL
// form and validates its ISO/IEC 7064 MOD 11-2 checksum. A checksum
// failure downgrades the result to a KindURI identifier that preserves the
// raw value in its orcid.org URL form, per the Crossref decomposer's
// "preserve the raw value" rule.
func ParseOrcid(raw string) Identifier {
	value := strings.TrimSpace(raw)
	lower := strings.ToLower(value)

	if idx := strings.Index(lower, "orcid.org/"); idx >= 0 {
		value = value[idx+len("orcid.org/"):]
	}

	value = strings.TrimSuffix(value, "/")

	if !isOrcidShape(value) || !validOrcidChecksum(value) {
		return Identifier{Kind: KindURI, Value: "http://orcid.org/" + value}
	}

	return Identifier{Kind: KindOrcid, Value: strings.ToUpper(value)}
}

// isOrcidShape reports whether s has the form XXXX-XXXX-XXXX-XXXX where the
// last character may be a checksum 'X'.
func isOrcidShape(s string) bool {
	parts := strings.Split(s, "-")
	if len(parts) != 4 {
		return false
	}

	for i, p := range parts {
		if len(p) != 4 {
			return false
		}

		for j, c := range p {
			isLastChar := i == 3 && j == 3
			if isLastChar && (c == 'X' || c == 'x') {
				continue
			}

			if c < '0' || c > '9' {
				return false
			}
		}
	}

	return true
}

// validOrcidChecksum implements ISO/IEC 7064 MOD 11-2 over the 15 digits
// preceding the checksum character.
func validOrcidChecksum(orcid string) bool {
	digits := strings.ReplaceAll(orcid, "-", "")
	if len(digits) != 16 {
		return false
	}

	var total int

	for i := range 15 {
		d := int(digits[i] - '0')
		total = (total + d) * 2
	}

	remainder := total % 11
	result := (12 - remainder) % 11

	want := byte('0' + result)
	if result == 10 {
		want = 'X'
	}

	got := digits[15]
	if got >= 'a' && got <= 'z' {
		got -= 'a' - 'A'
	}

	return got == want
}

func looksLikeRor(s string) bool {
	return strings.Contains(strings.ToLower(s), "ror.org/")
}

func parseRor(raw string) Identifier {
	lower := strings.ToLower(raw)

	idx := strings.Index(lower, "ror.org/")
	value := raw[idx+len("ror.org/"):]

	return Identifier{Kind: KindRor, Value: strings.TrimSuffix(value, "/")}
}

// ParseISBN normalizes a bare ISBN-10 or ISBN-13 string (digits and
// optional hyphens) and validates its check digit. A checksum failure
// downgrades the result to a KindURI identifier, per the Crossref
// decomposer's ISBN handling.
func ParseISBN(raw string) Identifier {
	digits := strings.ToUpper(strings.ReplaceAll(strings.ReplaceAll(raw, "-", ""), " ", ""))

	var valid bool

	switch len(digits) {
	case 10:
		valid = validISBN10(digits)
	case 13:
		valid = validISBN13(digits)
	default:
		valid = false
	}

	if !valid {
		// A checksum failure means this isn't recognized as an ISBN; fall
		// back to treating the raw digit string as an opaque URI value
		// rather than discarding it.
		return Identifier{Kind: KindURI, Value: digits}
	}

	return Identifier{Kind: KindIsbn, Value: digits}
}

func validISBN10(s string) bool {
	var sum int

	for i := range 10 {
		c := s[i]

		var v int

		switch {
		case c >= '0' && c <= '9':
			v = int(c - '0')
		case c == 'X' && i == 9:
			v = 10
		default:
			return false
		}

		sum += (10 - i) * v
	}

	return sum%11 == 0
}

func validISBN13(s string) bool {
	var sum int

	for i := range 13 {
		c := s[i]
		if c < '0' || c > '9' {
			return false
		}

		v := int(c - '0')
		if i%2 == 1 {
			v *= 3
		}

		sum += v
	}

	return sum%10 == 0
}

// CanonicalURI returns the resolvable URI form of an identifier when one
// exists (doi.org / orcid.org / ror.org), or the empty string otherwise.
func CanonicalURI(id Identifier) string {
	switch id.Kind {
	case KindDOI:
		return "https://doi.org/" + id.Value
	case KindOrcid:
		return "https://orcid.org/" + id.Value
	case KindRor:
		return "https://ror.org/" + id.Value
	case KindURI:
		return id.Value
	case KindIsbn, KindString:
		return ""
	default:
		return ""
	}
}

// String renders the identifier for diagnostic/log output only; storage
// and hydration use Kind and Value directly.
func (id Identifier) String() string {
	return fmt.Sprintf("%s:%s", id.Kind, id.Value)
}
