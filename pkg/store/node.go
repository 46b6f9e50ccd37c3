// ABOUTME: Node is the generic stored entity: identity, timestamps and two property bags
// ABOUTME: Records are encoded as a single tuple and stored as a chunked blob

package store

import (
	"fmt"

	"github.com/nainya/modelregistry/pkg/properties"
	"github.com/nainya/modelregistry/pkg/query"
	"github.com/nainya/modelregistry/pkg/storage"
)

const recordVersion = 1

// MaxNameSize bounds names and external ids in bytes
const MaxNameSize = 256

// Node is one stored entity
type Node struct {
	ID   int64
	Kind string

	// Name is unique within (Kind, ScopeID)
	Name string
	// ScopeID is the id of the container the name is scoped to, or zero
	// for kinds with global names. Fixed at creation.
	ScopeID int64

	ExternalID  string
	Description string

	// Unix milliseconds
	CreateTime     int64
	LastUpdateTime int64

	// Properties holds the typed fields of the kind
	Properties       properties.Map
	CustomProperties properties.Map
}

// Clone returns a copy whose maps can be modified independently
func (n *Node) Clone() *Node {
	c := *n
	c.Properties = n.Properties.Clone()
	c.CustomProperties = n.CustomProperties.Clone()
	return &c
}

// String returns a typed field as a string, or "" when absent
func (n *Node) String(key string) string {
	if v, ok := n.Properties[key].(properties.String); ok {
		return string(v)
	}
	return ""
}

// Int returns a typed field as an int64, or 0 when absent
func (n *Node) Int(key string) int64 {
	if v, ok := n.Properties[key].(properties.Int); ok {
		return int64(v)
	}
	return 0
}

// Double returns a typed field as a float64, or 0 when absent
func (n *Node) Double(key string) float64 {
	switch v := n.Properties[key].(type) {
	case properties.Double:
		return float64(v)
	case properties.Int:
		return float64(v)
	}
	return 0
}

// resolver exposes the node's fields to filter matching
func (n *Node) resolver() query.Resolver {
	var typed map[string]properties.Value
	return func(c query.Condition) (properties.Value, bool) {
		if c.Custom {
			v, ok := n.CustomProperties[c.Key]
			return v, ok
		}

		switch c.Key {
		case "id":
			return properties.Int(n.ID), true
		case "name":
			return properties.String(n.Name), true
		case "externalid":
			return properties.String(n.ExternalID), true
		case "description":
			return properties.String(n.Description), true
		case "createtimesinceepoch", "createtime":
			return properties.Int(n.CreateTime), true
		case "lastupdatetimesinceepoch", "lastupdatetime":
			return properties.Int(n.LastUpdateTime), true
		}

		if typed == nil {
			typed = make(map[string]properties.Value, len(n.Properties))
			for k, v := range n.Properties {
				typed[query.NormalizeField(k)] = v
			}
		}
		v, ok := typed[c.Key]
		return v, ok
	}
}

func appendMap(vals []storage.Value, m properties.Map) []storage.Value {
	vals = append(vals, i64(int64(len(m))))
	for _, k := range m.Keys() {
		vals = append(vals, str(k), properties.ToStorage(m[k]))
	}
	return vals
}

func encodeNode(n *Node) []byte {
	vals := []storage.Value{
		i64(recordVersion),
		str(n.Kind),
		str(n.Name),
		i64(n.ScopeID),
		str(n.ExternalID),
		str(n.Description),
		i64(n.CreateTime),
		i64(n.LastUpdateTime),
	}
	vals = appendMap(vals, n.Properties)
	vals = appendMap(vals, n.CustomProperties)
	return storage.EncodeValues(vals)
}

func decodeNode(id int64, data []byte) (*Node, error) {
	vals, err := storage.DecodeValues(data)
	if err != nil {
		return nil, fmt.Errorf("decode node %d: %w", id, err)
	}
	if len(vals) < 10 || vals[0].I64 != recordVersion {
		return nil, fmt.Errorf("decode node %d: bad record header", id)
	}

	n := &Node{
		ID:             id,
		Kind:           string(vals[1].Str),
		Name:           string(vals[2].Str),
		ScopeID:        vals[3].I64,
		ExternalID:     string(vals[4].Str),
		Description:    string(vals[5].Str),
		CreateTime:     vals[6].I64,
		LastUpdateTime: vals[7].I64,
	}

	rest := vals[8:]
	if n.Properties, rest, err = readMap(rest); err != nil {
		return nil, fmt.Errorf("decode node %d: %w", id, err)
	}
	if n.CustomProperties, rest, err = readMap(rest); err != nil {
		return nil, fmt.Errorf("decode node %d: %w", id, err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("decode node %d: %d trailing values", id, len(rest))
	}
	return n, nil
}

func readMap(vals []storage.Value) (properties.Map, []storage.Value, error) {
	if len(vals) == 0 || vals[0].Type != storage.TYPE_INT64 {
		return nil, nil, fmt.Errorf("missing map length")
	}
	count := int(vals[0].I64)
	vals = vals[1:]
	if count < 0 || len(vals) < 2*count {
		return nil, nil, fmt.Errorf("truncated map")
	}

	m := make(properties.Map, count)
	for i := 0; i < count; i++ {
		v, err := properties.FromStorage(vals[2*i+1])
		if err != nil {
			return nil, nil, err
		}
		m[string(vals[2*i].Str)] = v
	}
	return m, vals[2*count:], nil
}

// readNode loads a node by id from r
func readNode(r storage.Reader, id int64) (*Node, bool, error) {
	data, ok := storage.GetBlob(r, PREFIX_NODE, nodeVals(id))
	if !ok {
		return nil, false, nil
	}
	n, err := decodeNode(id, data)
	if err != nil {
		return nil, false, err
	}
	return n, true, nil
}
