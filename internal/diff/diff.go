// Package diff implements the content-diff engine that buckets freshly
// fetched markets against the stored mirror. It is pure: no I/O, and the same
// inputs always produce the same bucketing.
package diff

import "github.com/0xqtpie/pm-indexer/internal/domain"

// Result holds the disjoint write buckets for one source's sync pass.
//
// ToInsert and ToUpdatePrices never overlap. NeedingEmbedding contains every
// unseen market plus every seen market whose content hash changed.
type Result struct {
	ToInsert         []domain.Market
	ToUpdatePrices   []domain.Market
	NeedingEmbedding []domain.Market

	NewMarkets int
	// UpdatedPrices counts every record whose price fields are written this
	// pass. Inserts carry prices too, so they count toward this total.
	UpdatedPrices  int
	ContentChanged int
}

// Compute buckets incoming markets against the stored refs for the same
// source. For every already-known sourceID the stored market's id is written
// back onto the incoming record, so identity survives across syncs; a known
// upstream record is never assigned a second id.
func Compute(incoming []domain.Market, existing map[string]domain.StoredRef) Result {
	var r Result

	for i := range incoming {
		m := incoming[i]

		r.UpdatedPrices++

		ref, known := existing[m.SourceID]
		if !known {
			r.ToInsert = append(r.ToInsert, m)
			r.NeedingEmbedding = append(r.NeedingEmbedding, m)
			r.NewMarkets++
			continue
		}

		// Identity continuity: reuse the stored id.
		m.ID = ref.ID
		r.ToUpdatePrices = append(r.ToUpdatePrices, m)

		if ref.ContentHash != m.ContentHash {
			r.NeedingEmbedding = append(r.NeedingEmbedding, m)
			r.ContentChanged++
		}
	}

	return r
}

// RefMap builds the sourceID-keyed lookup Compute expects.
func RefMap(refs []domain.StoredRef) map[string]domain.StoredRef {
	m := make(map[string]domain.StoredRef, len(refs))
	for _, ref := range refs {
		m[ref.SourceID] = ref
	}
	return m
}
