package fhir

import (
	"fmt"
	"strings"
)

// ParsedReference is a literal FHIR reference broken into its parts.
type ParsedReference struct {
	ResourceType string
	ID           string
	Version      string
}

// ParseReference accepts relative ("Patient/123"), absolute
// ("https://host/fhir/Patient/123") and versioned ("Patient/123/_history/2")
// references. The id is always the segment after the last "/" once any
// _history suffix is removed. Contained ("#x") and slash-free references do
// not parse.
func ParseReference(ref string) (ParsedReference, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "#") {
		return ParsedReference{}, false
	}

	var version string
	if base, v, found := strings.Cut(ref, "/_history/"); found {
		ref, version = base, v
	}

	idx := strings.LastIndex(ref, "/")
	if idx < 0 {
		return ParsedReference{}, false
	}
	id := ref[idx+1:]
	if id == "" {
		return ParsedReference{}, false
	}

	rest := ref[:idx]
	resourceType := rest
	if j := strings.LastIndex(rest, "/"); j >= 0 {
		resourceType = rest[j+1:]
	}

	return ParsedReference{ResourceType: resourceType, ID: id, Version: version}, true
}

// FormatReference creates a FHIR reference string.
func FormatReference(resourceType, id string) string {
	return fmt.Sprintf("%s/%s", resourceType, id)
}
