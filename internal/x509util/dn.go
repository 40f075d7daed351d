package x509util

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"sort"
	"strings"
)

// CanonicalizeName produces a canonical string form of a distinguished name:
// RDNs sorted by attribute type, values lowercased and whitespace-collapsed.
// Two names canonicalise equal iff they identify the same subject.
func CanonicalizeName(name pkix.Name) string {
	rdns := name.ToRDNSequence()
	return CanonicalizeRDNSequence(rdns)
}

// CanonicalizeRDNSequence is CanonicalizeName for a raw RDNSequence. RDNs
// are compared as a set: two names canonicalise equal regardless of RDN
// order.
func CanonicalizeRDNSequence(rdns pkix.RDNSequence) string {
	var parts []string
	for _, rdn := range rdns {
		var attrs []string
		for _, atv := range rdn {
			value := canonicalizeValue(atv.Value)
			attrs = append(attrs, atv.Type.String()+"="+value)
		}
		sort.Strings(attrs)
		parts = append(parts, strings.Join(attrs, "+"))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func canonicalizeValue(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	s = strings.ToLower(strings.TrimSpace(s))
	// Collapse internal whitespace runs.
	return strings.Join(strings.Fields(s), " ")
}

// RemoveEmptyRDNs strips attributes whose value is blank. Clients of some
// enrollment protocols send placeholder RDNs with empty values.
func RemoveEmptyRDNs(rdns pkix.RDNSequence) pkix.RDNSequence {
	var out pkix.RDNSequence
	for _, rdn := range rdns {
		var kept pkix.RelativeDistinguishedNameSET
		for _, atv := range rdn {
			if s, ok := atv.Value.(string); ok && strings.TrimSpace(s) == "" {
				continue
			}
			kept = append(kept, atv)
		}
		if len(kept) > 0 {
			out = append(out, kept)
		}
	}
	return out
}

// AttributeValues returns all string values of the given attribute type in
// the RDN sequence, in order of appearance.
func AttributeValues(rdns pkix.RDNSequence, oid asn1.ObjectIdentifier) []string {
	var values []string
	for _, rdn := range rdns {
		for _, atv := range rdn {
			if !atv.Type.Equal(oid) {
				continue
			}
			if s, ok := atv.Value.(string); ok {
				values = append(values, s)
			}
		}
	}
	return values
}

// FirstAttributeValue returns the first string value of the given attribute
// type, or "".
func FirstAttributeValue(rdns pkix.RDNSequence, oid asn1.ObjectIdentifier) string {
	values := AttributeValues(rdns, oid)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// HasAttribute reports whether the RDN sequence contains the attribute type.
func HasAttribute(rdns pkix.RDNSequence, oid asn1.ObjectIdentifier) bool {
	return len(AttributeValues(rdns, oid)) > 0
}

// AppendAttribute returns rdns with one extra single-attribute RDN appended.
func AppendAttribute(rdns pkix.RDNSequence, oid asn1.ObjectIdentifier, value string) pkix.RDNSequence {
	return append(rdns, pkix.RelativeDistinguishedNameSET{
		pkix.AttributeTypeAndValue{Type: oid, Value: value},
	})
}

// NameFromRDNSequence fills a pkix.Name from a raw RDN sequence.
func NameFromRDNSequence(rdns pkix.RDNSequence) pkix.Name {
	var name pkix.Name
	name.FillFromRDNSequence(&rdns)
	return name
}
