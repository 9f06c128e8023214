package payload

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes. The version suffix allows the
// algorithm to change without colliding with stored hashes.
const (
	DomainEventPayload = "sadhana/event-payload/v1"
	DomainDecision     = "sadhana/decision/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Hash returns the content hash of a document under the given domain.
func Hash(domain string, doc Document) (string, error) {
	if doc == nil {
		doc = Document{}
	}
	canonical, err := MarshalCanonical(doc)
	if err != nil {
		return "", fmt.Errorf("hash payload: %w", err)
	}
	return hashWithDomain(domain, canonical), nil
}

// EventHash is Hash under DomainEventPayload.
func EventHash(doc Document) (string, error) {
	return Hash(DomainEventPayload, doc)
}
