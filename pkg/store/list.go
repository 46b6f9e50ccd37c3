// ABOUTME: Filtered, ordered, token-paged listings over the per-kind order indexes
// ABOUTME: DESC walks the index backwards; ties on the sort key still come out id ascending

package store

import (
	"bytes"
	"context"
	"time"

	"github.com/nainya/modelregistry/pkg/query"
	"github.com/nainya/modelregistry/pkg/storage"
)

// Page is one page of a listing
type Page struct {
	Items         []*Node
	NextPageToken string
	PageSize      int
}

type orderEntry struct {
	sortKey int64
	id      int64
}

// List returns one page of nodes of kind matching q
func (s *Store) List(ctx context.Context, kind string, q query.Query) (page *Page, err error) {
	defer s.observe("list", kind, time.Now(), &err)

	typeID, err := s.mustType(kind)
	if err != nil {
		return nil, err
	}
	if q, err = q.Normalize(s.limits); err != nil {
		return nil, err
	}
	filter, err := query.ParseFilter(q.Filter)
	if err != nil {
		return nil, err
	}
	fingerprint := query.Fingerprint(kind, q.ScopeID, filter)

	var after *query.PageToken
	if q.PageToken != "" {
		tok, err := query.DecodePageToken(q.PageToken, q, fingerprint)
		if err != nil {
			return nil, err
		}
		after = &tok
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var items []*Node
	err = s.kv.View(func(r storage.Reader) error {
		var verr error
		accept := func(e orderEntry) bool {
			n, ok, rerr := readNode(r, e.id)
			if rerr != nil {
				verr = rerr
				return false
			}
			if ok && filter.Match(n.resolver()) {
				items = append(items, n)
			}
			// One extra item tells whether another page exists
			return len(items) <= q.PageSize
		}

		if q.Direction == query.Desc {
			scanDesc(r, q.OrderBy, typeID, q.ScopeID, after, accept)
		} else {
			scanAsc(r, q.OrderBy, typeID, q.ScopeID, after, accept)
		}
		return verr
	})
	if err != nil {
		return nil, err
	}

	page = &Page{PageSize: q.PageSize}
	if len(items) > q.PageSize {
		items = items[:q.PageSize]
		last := items[len(items)-1]
		page.NextPageToken = query.PageToken{
			Order:       q.OrderBy,
			Direction:   q.Direction,
			Fingerprint: fingerprint,
			SortKey:     sortKey(last, q.OrderBy),
			LastID:      last.ID,
		}.Encode()
	}
	page.Items = items
	return page, nil
}

// decodeOrderKey returns the (sortKey, id) suffix of an order index key
func decodeOrderKey(key []byte) (orderEntry, bool) {
	vals, err := storage.ExtractValues(key)
	if err != nil || len(vals) != 4 {
		return orderEntry{}, false
	}
	return orderEntry{sortKey: vals[2].I64, id: vals[3].I64}, true
}

// scanAsc visits entries in (sortKey, id) ascending order, starting after
// the token position
func scanAsc(r storage.Reader, field query.OrderField, typeID, scopeID int64, after *query.PageToken, fn func(orderEntry) bool) {
	prefixVals := []storage.Value{i64(typeID), i64(scopeID)}
	prefix := storage.EncodeKey(orderPrefix(field), prefixVals)

	start := prefix
	if after != nil {
		start = storage.EncodeKeyPartial(orderPrefix(field),
			append(prefixVals, i64(after.SortKey), i64(after.LastID)), storage.CMP_GT)
	}

	r.Scan(start, func(key, val []byte) bool {
		if !bytes.HasPrefix(key, prefix) {
			return false
		}
		e, ok := decodeOrderKey(key)
		if !ok {
			return true
		}
		return fn(e)
	})
}

// scanDesc visits entries by sortKey descending and id ascending. The index
// is walked backwards, so each run of equal sort keys is buffered and
// replayed in reverse.
func scanDesc(r storage.Reader, field query.OrderField, typeID, scopeID int64, after *query.PageToken, fn func(orderEntry) bool) {
	prefixVals := []storage.Value{i64(typeID), i64(scopeID)}
	prefix := storage.EncodeKey(orderPrefix(field), prefixVals)

	start := storage.EncodeKeyPartial(orderPrefix(field), prefixVals, storage.CMP_LE)
	if after != nil {
		start = storage.EncodeKeyPartial(orderPrefix(field),
			append(prefixVals, i64(after.SortKey)), storage.CMP_LE)
	}

	var group []orderEntry
	stopped := false
	flush := func() bool {
		for i := len(group) - 1; i >= 0; i-- {
			e := group[i]
			if after != nil && e.sortKey == after.SortKey && e.id <= after.LastID {
				continue
			}
			if !fn(e) {
				return false
			}
		}
		group = group[:0]
		return true
	}

	r.ScanReverse(start, func(key, val []byte) bool {
		if !bytes.HasPrefix(key, prefix) {
			return false
		}
		e, ok := decodeOrderKey(key)
		if !ok {
			return true
		}
		if len(group) > 0 && group[0].sortKey != e.sortKey {
			if !flush() {
				stopped = true
				return false
			}
		}
		group = append(group, e)
		return true
	})

	if !stopped {
		flush()
	}
}
