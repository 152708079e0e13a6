package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Canonicalization turns declared content into a deterministic byte string so
// that fingerprints and version ids are stable across producers:
//
//   - strings are trimmed of surrounding whitespace
//   - tag sets are deduplicated and sorted (declaration order is not content)
//   - fields keep their declared order (a dataset's field sequence is ordered)
//   - every value is length-prefix-free delimited with unit/record separators
//     so concatenation cannot collide across field boundaries
//
// The fingerprint is the SHA-256 hex digest of the canonical form. The version
// id is a UUIDv5 over identity + fingerprint, which makes identical
// re-declarations resolve to byte-identical version ids without coordination.

const (
	fieldSep  = "\x1f" // unit separator between values of one record
	recordSep = "\x1e" // record separator between repeated records
)

// versionIDNamespace is the fixed UUID namespace for content-addressed
// version ids. Generated once (UUIDv5 of the DNS namespace and the project
// host name) and hard-coded so ids are stable across releases.
var versionIDNamespace = uuid.MustParse("8171fe95-e506-5f74-9c9a-2e7ca1dcc191")

// DatasetFingerprint computes the content fingerprint of a dataset
// declaration.
//
// Returns: 64-character lowercase hex string (SHA-256 output).
func DatasetFingerprint(meta *DatasetMeta) string {
	var b strings.Builder

	writeValue(&b, "dataset")
	writeValue(&b, meta.SourceName)
	writeValue(&b, meta.PhysicalName)
	writeValue(&b, meta.Description)
	writeTags(&b, meta.Tags)

	for _, field := range meta.Fields {
		b.WriteString(recordSep)
		writeValue(&b, field.Name)
		writeValue(&b, field.Type)
		writeValue(&b, field.Description)
		writeTags(&b, field.Tags)
	}

	return hashSHA256(b.String())
}

// JobFingerprint computes the content fingerprint of a job declaration.
// Inputs and outputs are normalized as unordered sets: declaring the same
// datasets in a different order is the same job.
//
// Returns: 64-character lowercase hex string (SHA-256 output).
func JobFingerprint(meta *JobMeta) string {
	var b strings.Builder

	writeValue(&b, "job")
	writeValue(&b, string(meta.Type))
	writeValue(&b, meta.Location)
	writeValue(&b, meta.Description)
	writeTags(&b, meta.Tags)
	writeDatasetRefs(&b, meta.Inputs)
	writeDatasetRefs(&b, meta.Outputs)

	return hashSHA256(b.String())
}

// VersionID derives the content-addressed version id for an identity and
// content fingerprint. Deterministic: same identity + same content always
// yields the same UUID.
func VersionID(identity Identity, fingerprint string) string {
	var b strings.Builder

	writeValue(&b, string(identity.Kind))
	writeValue(&b, identity.Namespace)
	writeValue(&b, identity.Name)
	writeValue(&b, fingerprint)

	return uuid.NewSHA1(versionIDNamespace, []byte(b.String())).String()
}

// NormalizeTags returns the canonical form of a tag set: trimmed,
// deduplicated, sorted. Empty names are dropped.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	normalized := make([]string, 0, len(tags))

	for _, tag := range tags {
		trimmed := strings.TrimSpace(tag)
		if trimmed == "" || seen[trimmed] {
			continue
		}

		seen[trimmed] = true

		normalized = append(normalized, trimmed)
	}

	sort.Strings(normalized)

	return normalized
}

func writeValue(b *strings.Builder, value string) {
	b.WriteString(strings.TrimSpace(value))
	b.WriteString(fieldSep)
}

func writeTags(b *strings.Builder, tags []string) {
	for _, tag := range NormalizeTags(tags) {
		writeValue(b, tag)
	}

	b.WriteString(recordSep)
}

func writeDatasetRefs(b *strings.Builder, refs []DatasetRef) {
	keys := make([]string, 0, len(refs))
	seen := make(map[string]bool, len(refs))

	for _, ref := range refs {
		key := strings.TrimSpace(ref.Namespace) + fieldSep + strings.TrimSpace(ref.Name)
		if seen[key] {
			continue
		}

		seen[key] = true

		keys = append(keys, key)
	}

	sort.Strings(keys)

	for _, key := range keys {
		b.WriteString(key)
		b.WriteString(recordSep)
	}

	b.WriteString(recordSep)
}

// hashSHA256 computes the SHA-256 hash of the input string.
//
// Returns: 64-character lowercase hex string.
func hashSHA256(input string) string {
	hash := sha256.Sum256([]byte(input))

	return hex.EncodeToString(hash[:])
}
