// Package integrity derives content digests for spans and resources.
// All functions are pure and deterministic.
package integrity

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/ashita-ai/tsuiseki/internal/model"
)

// Hash scopes.
const (
	ScopeAttributes = "attributes"
	ScopeEvents     = "events"
	ScopeLinks      = "links"
	ScopeSpan       = "span"

	kindSHA256 = "sha256"
)

// ResourceID returns the hex SHA-256 of the JSON serialization of attrs with
// every internal ("ag."-prefixed) key removed. encoding/json writes map keys
// in sorted order, so the digest does not depend on insertion order.
func ResourceID(attrs map[string]any) (string, error) {
	public := PublicAttributes(attrs)
	b, err := json.Marshal(public)
	if err != nil {
		return "", fmt.Errorf("integrity: encode resource: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// PublicAttributes returns attrs without internal keys.
func PublicAttributes(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		if strings.HasPrefix(k, "ag.") {
			continue
		}
		out[k] = v
	}
	return out
}

// SpanHashes digests the mutable parts of a span: one hash per scope plus a
// "span" hash binding the three together.
func SpanHashes(attrs map[string]any, events []model.SpanEvent, links []model.Link) ([]model.Hash, error) {
	parts := []struct {
		scope string
		value any
	}{
		{ScopeAttributes, attrs},
		{ScopeEvents, events},
		{ScopeLinks, links},
	}

	hashes := make([]model.Hash, 0, len(parts)+1)
	leaves := make([]string, 0, len(parts))
	for _, p := range parts {
		digest, err := digest(p.scope, p.value)
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, model.Hash{Kind: kindSHA256, Scope: p.scope, Value: digest})
		leaves = append(leaves, digest)
	}
	sort.Strings(leaves)
	hashes = append(hashes, model.Hash{Kind: kindSHA256, Scope: ScopeSpan, Value: BuildMerkleRoot(leaves)})
	return hashes, nil
}

// digest produces a length-prefixed SHA-256 over the scope name and the
// JSON encoding of v. The prefix avoids collisions between scopes whose
// encodings happen to match.
func digest(scope string, v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("integrity: encode %s: %w", scope, err)
	}
	h := sha256.New()
	writeField := func(p []byte) {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(p))) //nolint:gosec // bounded by request body limits
		h.Write(lenBuf[:])
		h.Write(p)
	}
	writeField([]byte(scope))
	writeField(b)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// hashPair produces SHA-256(0x01 || a || b) as a hex string.
// The 0x01 prefix is a domain separator for internal Merkle tree nodes (per RFC 6962),
// ensuring internal node hashes can never collide with leaf content hashes.
func hashPair(a, b string) string {
	h := sha256.New()
	h.Write([]byte{0x01})
	h.Write([]byte(a))
	h.Write([]byte(b))
	return hex.EncodeToString(h.Sum(nil))
}

// BuildMerkleRoot constructs a Merkle tree from leaf hashes and returns the root.
// Leaves must be sorted lexicographically by the caller for determinism.
// If leaves is empty, returns an empty string.
// If leaves has one element, the root is that element.
// Odd-length levels hash the last node with itself.
func BuildMerkleRoot(leaves []string) string {
	if len(leaves) == 0 {
		return ""
	}
	if len(leaves) == 1 {
		return leaves[0]
	}

	level := make([]string, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		var next []string
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				next = append(next, hashPair(level[i], level[i]))
			}
		}
		level = next
	}

	return level[0]
}
