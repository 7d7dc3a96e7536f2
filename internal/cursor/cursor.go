// Package cursor encodes and decodes the opaque continuation tokens used by
// paged endpoints. Callers never see raw offsets; a cursor is a base64-encoded
// JSON payload bound to the query that produced it.
package cursor

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/0xqtpie/pm-indexer/internal/domain"
)

const (
	typeOffset = "offset"
	typeKeyset = "keyset"
)

// Offset is the cursor shape for relevance-ranked vector search. The
// fingerprint binds the cursor to the query text, filters, and sort options
// it was issued for.
type Offset struct {
	Offset      int
	Fingerprint string
}

// Keyset is the cursor shape for list endpoints sorted by a persisted column.
type Keyset struct {
	Sort      string
	Order     domain.SortOrder
	LastValue string
	LastID    string
}

type payload struct {
	Type        string           `json:"t"`
	Offset      int              `json:"o,omitempty"`
	Fingerprint string           `json:"f,omitempty"`
	Sort        string           `json:"s,omitempty"`
	Order       domain.SortOrder `json:"d,omitempty"`
	LastValue   string           `json:"v,omitempty"`
	LastID      string           `json:"i,omitempty"`
}

// Fingerprint digests the normalized query text plus every active filter and
// sort option. Two requests produce the same fingerprint iff interchanging
// their cursors is safe.
func Fingerprint(query string, filters map[string]string, sortField string, order domain.SortOrder) string {
	keys := make([]string, 0, len(filters))
	for k, v := range filters {
		if v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(strings.ToLower(strings.TrimSpace(query)))
	for _, k := range keys {
		b.WriteByte('\x00')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(filters[k])
	}
	b.WriteByte('\x00')
	b.WriteString(sortField)
	b.WriteByte('\x00')
	b.WriteString(string(order))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:8])
}

// EncodeOffset serializes an offset cursor.
func EncodeOffset(c Offset) string {
	return encode(payload{Type: typeOffset, Offset: c.Offset, Fingerprint: c.Fingerprint})
}

// EncodeKeyset serializes a keyset cursor.
func EncodeKeyset(c Keyset) string {
	return encode(payload{
		Type:      typeKeyset,
		Sort:      c.Sort,
		Order:     c.Order,
		LastValue: c.LastValue,
		LastID:    c.LastID,
	})
}

func encode(p payload) string {
	data, _ := json.Marshal(p)
	return base64.URLEncoding.EncodeToString(data)
}

// DecodeOffset parses an offset cursor and verifies it against the
// fingerprint recomputed from the current request. A mismatch means the
// caller changed query or filters mid-pagination; the cursor is rejected
// rather than silently serving wrong pages.
func DecodeOffset(token, wantFingerprint string) (Offset, error) {
	p, err := decode(token)
	if err != nil {
		return Offset{}, err
	}
	if p.Type != typeOffset {
		return Offset{}, fmt.Errorf("%w: expected offset cursor, got %q", domain.ErrInvalidCursor, p.Type)
	}
	if p.Offset < 0 {
		return Offset{}, fmt.Errorf("%w: negative offset", domain.ErrInvalidCursor)
	}
	if p.Fingerprint == "" || p.Fingerprint != wantFingerprint {
		return Offset{}, fmt.Errorf("%w: cursor does not match current query", domain.ErrInvalidCursor)
	}
	return Offset{Offset: p.Offset, Fingerprint: p.Fingerprint}, nil
}

// DecodeKeyset parses a keyset cursor and rejects it when its sort or order
// do not match the current request.
func DecodeKeyset(token, wantSort string, wantOrder domain.SortOrder) (Keyset, error) {
	p, err := decode(token)
	if err != nil {
		return Keyset{}, err
	}
	if p.Type != typeKeyset {
		return Keyset{}, fmt.Errorf("%w: expected keyset cursor, got %q", domain.ErrInvalidCursor, p.Type)
	}
	if p.Sort != wantSort || p.Order != wantOrder {
		return Keyset{}, fmt.Errorf("%w: cursor sort %s/%s does not match request %s/%s",
			domain.ErrInvalidCursor, p.Sort, p.Order, wantSort, wantOrder)
	}
	if p.LastID == "" {
		return Keyset{}, fmt.Errorf("%w: missing keyset anchor", domain.ErrInvalidCursor)
	}
	return Keyset{Sort: p.Sort, Order: p.Order, LastValue: p.LastValue, LastID: p.LastID}, nil
}

func decode(token string) (payload, error) {
	data, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return payload{}, fmt.Errorf("%w: not base64", domain.ErrInvalidCursor)
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return payload{}, fmt.Errorf("%w: malformed payload", domain.ErrInvalidCursor)
	}
	return p, nil
}
