// ABOUTME: Append-only numeric series keyed by owner and name (metric history)
// ABOUTME: Points sort by (step, timestamp), then by insertion order

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/nainya/modelregistry/pkg/errdefs"
	"github.com/nainya/modelregistry/pkg/storage"
)

// Point is one value of a series
type Point struct {
	Value     float64
	Step      int64
	Timestamp int64 // Unix milliseconds
	// Seq is assigned by the store and breaks (step, timestamp) ties
	Seq int64
}

// appendPoint stores p and sets its Seq
func appendPoint(tx *storage.KVTX, ownerID int64, name string, p *Point) {
	p.Seq = nextSeq(tx, seqPoint)
	tx.Set(seriesKey(ownerID, name, *p), storage.EncodeValues([]storage.Value{storage.NewFloat64Value(p.Value)}))
}

// AppendPoint adds a point to the series name of ownerID
func (s *Store) AppendPoint(ctx context.Context, ownerID int64, name string, p Point) (out Point, err error) {
	defer s.observe("append_point", "series", time.Now(), &err)

	if name == "" || len(name) > MaxNameSize {
		return out, errdefs.InvalidArgument("series name %q", name)
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}

	err = s.kv.Update(func(tx *storage.KVTX) error {
		if _, ok, err := readNode(tx, ownerID); err != nil {
			return err
		} else if !ok {
			return errdefs.NotFound("node %d", ownerID)
		}
		appendPoint(tx, ownerID, name, &p)
		out = p
		return ctx.Err()
	})
	return out, err
}

// Points returns the series name of ownerID in order
func (s *Store) Points(ctx context.Context, ownerID int64, name string) ([]Point, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var points []Point
	err := s.kv.View(func(r storage.Reader) error {
		var bad error
		scanPrefix(r, seriesPrefix(ownerID, name), func(key, val []byte) bool {
			kv, kerr := storage.ExtractValues(key)
			vv, verr := storage.DecodeValues(val)
			if kerr != nil || verr != nil || len(kv) != 5 || len(vv) != 1 {
				bad = fmt.Errorf("corrupt series entry for %d/%s", ownerID, name)
				return false
			}
			points = append(points, Point{
				Step:      kv[2].I64,
				Timestamp: kv[3].I64,
				Seq:       kv[4].I64,
				Value:     vv[0].F64,
			})
			return true
		})
		return bad
	})
	if err != nil {
		return nil, err
	}
	return points, nil
}
