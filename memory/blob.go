package memory

import (
	"fmt"
	"reflect"
)

// BlobThresholdBytes is the default size above which a value is replaced by
// a blob reference before trace serialization (spec §4.3.6).
const BlobThresholdBytes = 200

// BlobRef is the sentinel pointer a deduplicated value is replaced with.
type BlobRef struct {
	Ref   string `json:"ref"`
	Type_ string `json:"_type"`
}

const blobRefType = "blob_reference"

// BlobDeduplicator walks a trace event tree, replacing large string/map
// payloads with content-hash references once they're referenced at least
// twice, and breaking reference cycles (spec §9 "Blob deduplication": "The
// walker must detect and break cycles -- record visited object ids on the
// current path; replace a revisit with a sentinel <circular_reference>").
type BlobDeduplicator struct {
	threshold int
	usage     map[string]int
	blobs     map[string]interface{}
}

// NewBlobDeduplicator builds a deduplicator with the given size threshold
// (bytes); pass 0 to use BlobThresholdBytes.
func NewBlobDeduplicator(threshold int) *BlobDeduplicator {
	if threshold <= 0 {
		threshold = BlobThresholdBytes
	}
	return &BlobDeduplicator{
		threshold: threshold,
		usage:     make(map[string]int),
		blobs:     make(map[string]interface{}),
	}
}

// Walk replaces qualifying values in v with BlobRef pointers, tracking
// in-flight object identity (by pointer value of maps/slices) to detect
// cycles along the current path only -- a DAG shared across branches (the
// same map reachable twice via different paths, but not a cycle) must not
// be falsely flagged.
func (b *BlobDeduplicator) Walk(v interface{}) interface{} {
	seen := map[uintptr]bool{}
	return b.walk(v, seen)
}

func (b *BlobDeduplicator) walk(v interface{}, seen map[uintptr]bool) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		ptr := mapIdentity(t)
		if ptr != 0 {
			if seen[ptr] {
				return "<circular_reference>"
			}
			branchSeen := copySeen(seen)
			branchSeen[ptr] = true
			seen = branchSeen
		}
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = b.walk(val, seen)
		}
		return b.maybeDeduplicate(out)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = b.walk(val, seen)
		}
		return out
	case string:
		if len(t) > b.threshold {
			return b.maybeDeduplicate(t)
		}
		return t
	default:
		return v
	}
}

func (b *BlobDeduplicator) maybeDeduplicate(v interface{}) interface{} {
	size := approxSize(v)
	if size <= b.threshold {
		return v
	}
	hash := hashValue(v)
	b.usage[hash]++
	b.blobs[hash] = v
	if b.usage[hash] >= 2 {
		return BlobRef{Ref: hash, Type_: blobRefType}
	}
	return v
}

// BlobStore returns the hash -> value map of blobs that reached the
// usage-count >= 2 threshold and were therefore replaced with references at
// least once (spec §4.3.6 "the blob body goes into a blob_store map").
func (b *BlobDeduplicator) BlobStore() map[string]interface{} {
	out := make(map[string]interface{}, len(b.blobs))
	for hash, v := range b.blobs {
		if b.usage[hash] >= 2 {
			out[hash] = v
		}
	}
	return out
}

func approxSize(v interface{}) int {
	switch t := v.(type) {
	case string:
		return len(t)
	case map[string]interface{}:
		n := 0
		for k, val := range t {
			n += len(k) + approxSize(val)
		}
		return n
	default:
		return len(fmt.Sprintf("%v", t))
	}
}

func hashValue(v interface{}) string {
	return hashContent(fmt.Sprintf("%v", v))
}

// mapIdentity returns the underlying pointer of a map header for
// cycle-detection purposes, or 0 for a nil map (which can't participate in a
// cycle).
func mapIdentity(m map[string]interface{}) uintptr {
	if m == nil {
		return 0
	}
	return reflect.ValueOf(m).Pointer()
}

// copySeen clones the visited-on-this-path set so sibling branches of a
// map/slice don't share cycle-detection state with each other -- only an
// ancestor->descendant revisit counts as a cycle.
func copySeen(seen map[uintptr]bool) map[uintptr]bool {
	out := make(map[uintptr]bool, len(seen)+1)
	for k, v := range seen {
		out[k] = v
	}
	return out
}
