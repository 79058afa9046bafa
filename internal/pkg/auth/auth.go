// Package auth computes and verifies polip message authentication tags.
//
// A tag is the hex-encoded HMAC-SHA-256 digest of the canonical JSON
// serialization of a document, computed with the document's tag field set
// to a sentinel placeholder. Canonical here means the byte form produced
// by encoding/json, which emits map keys in sorted order, so both peers
// hash identical bytes for identical fields.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/pkg/errors"
)

// TagPlaceholder is the literal value the tag field holds while the tag
// itself is being computed.
const TagPlaceholder = "0"

// TagField is the document field carrying the authentication tag.
const TagField = "tag"

// ComputeTag returns the authentication tag for doc under key.
// The caller's document is not modified; the tag field is overwritten
// with the placeholder in a shallow copy before hashing.
func ComputeTag(key []byte, doc map[string]interface{}) (string, error) {
	cpy := make(map[string]interface{}, len(doc)+1)
	for k, v := range doc {
		cpy[k] = v
	}
	cpy[TagField] = TagPlaceholder
	raw, err := json.Marshal(cpy)
	if err != nil {
		return "", errors.Wrap(err, "marshal canonical document failed")
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(raw) // never returns an error
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify recomputes the tag for doc under key and compares it against
// receivedTag. The comparison is exact-match; a partially matching tag
// is a mismatch.
func Verify(key []byte, receivedTag string, doc map[string]interface{}) (bool, error) {
	computed, err := ComputeTag(key, doc)
	if err != nil {
		return false, errors.Wrap(err, "compute tag failed")
	}
	return computed == receivedTag, nil
}
