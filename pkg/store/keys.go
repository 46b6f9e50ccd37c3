// ABOUTME: Key layout of the registry inside the ordered key-value store
// ABOUTME: Every key is a prefix plus an order-preserving tuple

package store

import (
	"bytes"

	"github.com/nainya/modelregistry/pkg/query"
	"github.com/nainya/modelregistry/pkg/storage"
)

// Prefixes for registry storage
const (
	PREFIX_TYPE = uint32(1000) // (typeName) -> typeID
	PREFIX_SEQ  = uint32(1100) // (sequenceName) -> next value

	PREFIX_NODE  = uint32(2000) // (id, chunk) -> record blob
	PREFIX_NAME  = uint32(2100) // (typeID, scopeID, name) -> id
	PREFIX_EXTID = uint32(2200) // (typeID, externalID) -> id

	PREFIX_ORDER_ID     = uint32(3000) // (typeID, scopeID, id, id)
	PREFIX_ORDER_CREATE = uint32(3100) // (typeID, scopeID, createTime, id)
	PREFIX_ORDER_UPDATE = uint32(3200) // (typeID, scopeID, lastUpdateTime, id)

	PREFIX_PARENT   = uint32(4000) // (childID) -> parentID
	PREFIX_CHILD    = uint32(4100) // (parentID, childID)
	PREFIX_ATTR     = uint32(4200) // (artifactID) -> containerID
	PREFIX_ATTR_REV = uint32(4300) // (containerID, artifactID)

	PREFIX_SERIES = uint32(5000) // (ownerID, name, step, timestamp, seq) -> value
)

const (
	seqType  = "type"
	seqNode  = "node"
	seqPoint = "point"
)

func i64(v int64) storage.Value { return storage.NewInt64Value(v) }
func str(s string) storage.Value { return storage.NewStringValue(s) }

func typeKey(name string) []byte {
	return storage.EncodeKey(PREFIX_TYPE, []storage.Value{str(name)})
}

func seqKey(name string) []byte {
	return storage.EncodeKey(PREFIX_SEQ, []storage.Value{str(name)})
}

func nodeVals(id int64) []storage.Value {
	return []storage.Value{i64(id)}
}

func nameKey(typeID, scopeID int64, name string) []byte {
	return storage.EncodeKey(PREFIX_NAME, []storage.Value{i64(typeID), i64(scopeID), str(name)})
}

func extIDKey(typeID int64, extID string) []byte {
	return storage.EncodeKey(PREFIX_EXTID, []storage.Value{i64(typeID), str(extID)})
}

func orderPrefix(field query.OrderField) uint32 {
	switch field {
	case query.OrderCreateTime:
		return PREFIX_ORDER_CREATE
	case query.OrderLastUpdateTime:
		return PREFIX_ORDER_UPDATE
	default:
		return PREFIX_ORDER_ID
	}
}

// sortKey returns the value n is ordered by under field
func sortKey(n *Node, field query.OrderField) int64 {
	switch field {
	case query.OrderCreateTime:
		return n.CreateTime
	case query.OrderLastUpdateTime:
		return n.LastUpdateTime
	default:
		return n.ID
	}
}

func orderKey(field query.OrderField, typeID, scopeID, sk, id int64) []byte {
	return storage.EncodeKey(orderPrefix(field), []storage.Value{i64(typeID), i64(scopeID), i64(sk), i64(id)})
}

// orderScopes lists the scopes a node is listed under: the whole kind, and
// its container when it has one
func orderScopes(n *Node) []int64 {
	if n.ScopeID == 0 {
		return []int64{0}
	}
	return []int64{0, n.ScopeID}
}

func parentKey(childID int64) []byte {
	return storage.EncodeKey(PREFIX_PARENT, []storage.Value{i64(childID)})
}

func childKey(parentID, childID int64) []byte {
	return storage.EncodeKey(PREFIX_CHILD, []storage.Value{i64(parentID), i64(childID)})
}

func attrKey(artifactID int64) []byte {
	return storage.EncodeKey(PREFIX_ATTR, []storage.Value{i64(artifactID)})
}

func attrRevKey(containerID, artifactID int64) []byte {
	return storage.EncodeKey(PREFIX_ATTR_REV, []storage.Value{i64(containerID), i64(artifactID)})
}

func seriesPrefix(ownerID int64, name string) []byte {
	return storage.EncodeKey(PREFIX_SERIES, []storage.Value{i64(ownerID), str(name)})
}

func seriesKey(ownerID int64, name string, p Point) []byte {
	return storage.EncodeKey(PREFIX_SERIES, []storage.Value{
		i64(ownerID), str(name), i64(p.Step), i64(p.Timestamp), i64(p.Seq),
	})
}

func encodeID(id int64) []byte {
	return storage.EncodeValues([]storage.Value{i64(id)})
}

func decodeID(val []byte) (int64, bool) {
	vals, err := storage.DecodeValues(val)
	if err != nil || len(vals) != 1 || vals[0].Type != storage.TYPE_INT64 {
		return 0, false
	}
	return vals[0].I64, true
}

// scanPrefix calls fn for every key starting with prefix, in order
func scanPrefix(r storage.Reader, prefix []byte, fn func(key, val []byte) bool) {
	r.Scan(prefix, func(key, val []byte) bool {
		if !bytes.HasPrefix(key, prefix) {
			return false
		}
		return fn(key, val)
	})
}

// lastValue decodes the trailing int64 of a key
func lastValue(key []byte) (int64, bool) {
	vals, err := storage.ExtractValues(key)
	if err != nil || len(vals) == 0 {
		return 0, false
	}
	v := vals[len(vals)-1]
	if v.Type != storage.TYPE_INT64 {
		return 0, false
	}
	return v.I64, true
}
