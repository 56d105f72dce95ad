package snapshot

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// CanonicalJSON produces a deterministic compact encoding of a record:
// object keys sorted, no insignificant whitespace, no HTML escaping.
func CanonicalJSON(record any) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)

	if err := encoder.Encode(record); err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}

	// Remove trailing newline added by Encode
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// ComputeRev returns the sha256 of data in "sha256:<hex>" form.
func ComputeRev(data []byte) string {
	hash := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(hash[:])
}

// RecordHash hashes the canonical encoding of a record.
func RecordHash(record any) (string, error) {
	data, err := CanonicalJSON(record)
	if err != nil {
		return "", err
	}
	return ComputeRev(data), nil
}
