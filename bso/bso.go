// Package bso defines the Basic Storage Object: the record type that
// clients PUT, POST, GET and DELETE, and the validation rules a BSO must
// pass before any side effect is allowed.
package bso

import (
	"regexp"

	"github.com/pkg/errors"
)

// Limits bounds the sizes accepted for BSO fields and request batches.
// The server-configured values are reported verbatim by info/configuration.
type Limits struct {
	MaxPayloadBytes int
	MaxPostBytes    int
	MaxPostRecords  int
	MaxTotalBytes   int
	MaxTotalRecords int
	MaxRecordIDSize int
}

// DefaultLimits mirrors the values the original protocol shipped with.
var DefaultLimits = Limits{
	MaxPayloadBytes: 256 * 1024,
	MaxPostBytes:    1024 * 1024,
	MaxPostRecords:  100,
	MaxTotalBytes:   1024 * 1024 * 100,
	MaxTotalRecords: 1000,
	MaxRecordIDSize: 64,
}

// validIDRegex accepts URL-safe base64-ish strings: letters, digits, '-',
// '_', '.', '~'. A slash is explicitly forbidden (spec §3).
var validIDRegex = regexp.MustCompile(`^[A-Za-z0-9._~-]{1,64}$`)

const (
	minSortIndex = -(1 << 31)
	maxSortIndex = (1 << 31) - 1
)

// BSO is the strongly-typed wire record. Payload is nil when the field was
// omitted from the request (a metadata-only write); Sortindex and TTL are
// pointers for the same reason.
type BSO struct {
	ID         string  `json:"id"`
	Collection string  `json:"collection,omitempty"`
	Modified   float64 `json:"modified,omitempty"`
	SortIndex  *int64  `json:"sortindex,omitempty"`
	TTL        *int64  `json:"ttl,omitempty"`
	Payload    *string `json:"payload,omitempty"`
}

// PayloadSize returns the byte length of Payload, or 0 if it is unset.
func (b *BSO) PayloadSize() int {
	if b.Payload == nil {
		return 0
	}
	return len(*b.Payload)
}

// ValidateID reports whether id is an acceptable BSO or collection name.
func ValidateID(id string, maxLen int) error {
	if id == "" {
		return errors.New("invalid id")
	}
	if len(id) > maxLen {
		return errors.New("invalid id")
	}
	if !validIDRegex.MatchString(id) {
		return errors.New("invalid id")
	}
	return nil
}

// Validate checks id, sortindex, ttl and payload against limits. It does not
// check the id against the URL id (the caller does that, since only the
// caller knows the URL).
func (b *BSO) Validate(limits Limits) error {
	if err := ValidateID(b.ID, limits.MaxRecordIDSize); err != nil {
		return err
	}
	if b.SortIndex != nil {
		if *b.SortIndex < minSortIndex || *b.SortIndex > maxSortIndex {
			return errors.New("invalid sortindex")
		}
	}
	if b.TTL != nil && *b.TTL < 0 {
		return errors.New("invalid ttl")
	}
	if b.Payload != nil && len(*b.Payload) > limits.MaxPayloadBytes {
		return errors.New("payload too large")
	}
	return nil
}
