package storage

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// offset encodes the position to resume a paginated scan from. Spec §4.1
// mandates an opaque token rather than a numeric offset, "though a
// monotonic-integer implementation is acceptable" — we encode the actual
// sort key and the tiebreaking id, which is sort-stable across any future
// change to page size and requires no re-scan of skipped rows.
type offset struct {
	sortKey string // decimal: modified (centiseconds) or sortindex
	id      string
}

func encodeOffset(sortKey int64, id string) string {
	raw := fmt.Sprintf("%d|%s", sortKey, id)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeOffset(token string) (offset, error) {
	if token == "" {
		return offset{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return offset{}, fmt.Errorf("invalid offset token")
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return offset{}, fmt.Errorf("invalid offset token")
	}
	return offset{sortKey: parts[0], id: parts[1]}, nil
}

func (o offset) empty() bool { return o.sortKey == "" && o.id == "" }

func (o offset) sortKeyInt() (int64, error) {
	return strconv.ParseInt(o.sortKey, 10, 64)
}
