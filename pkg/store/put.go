// ABOUTME: Upsert, read-modify-write and point reads of nodes
// ABOUTME: Each write is one transaction: uniqueness check, record, indexes, edges, series

package store

import (
	"context"
	"time"

	"github.com/nainya/modelregistry/pkg/errdefs"
	"github.com/nainya/modelregistry/pkg/storage"
)

// EdgeKind distinguishes containment from attribution
type EdgeKind uint8

const (
	// EdgeParent links a container to a child (model -> version, experiment -> run)
	EdgeParent EdgeKind = iota + 1
	// EdgeAttribution links a container to an artifact it owns
	EdgeAttribution
)

func (k EdgeKind) String() string {
	switch k {
	case EdgeParent:
		return "parent"
	case EdgeAttribution:
		return "attribution"
	default:
		return "unknown"
	}
}

type putOptions struct {
	linkKind   EdgeKind
	linkTo     int64
	seriesName string
	point      *Point
	existing   func(old, node *Node)
}

// PutOption adjusts a Put
type PutOption func(*putOptions)

// WithLink creates an edge from container to the new node in the same
// transaction and scopes the node's name to container
func WithLink(kind EdgeKind, containerID int64) PutOption {
	return func(o *putOptions) {
		o.linkKind = kind
		o.linkTo = containerID
	}
}

// WithPoint appends a series point owned by the node's container in the
// same transaction
func WithPoint(name string, p Point) PutOption {
	return func(o *putOptions) {
		o.seriesName = name
		o.point = &p
	}
}

// WithExisting lets fn carry fields of the stored node into an update. fn
// runs inside the write transaction and only when the put replaces a node.
func WithExisting(fn func(old, node *Node)) PutOption {
	return func(o *putOptions) {
		o.existing = fn
	}
}

// ChildFunc adjusts a node contained by parent after parent was rewritten.
// It reports whether child changed.
type ChildFunc func(parent, child *Node) bool

type mutateOptions struct {
	children ChildFunc
}

// MutateOption adjusts a Mutate
type MutateOption func(*mutateOptions)

// WithChildren rewrites the nodes contained by the mutated node in the same
// transaction
func WithChildren(fn ChildFunc) MutateOption {
	return func(o *mutateOptions) {
		o.children = fn
	}
}

func validateNode(n *Node) error {
	if n.Name == "" {
		return errdefs.InvalidArgument("%s name is required", n.Kind)
	}
	if len(n.Name) > MaxNameSize {
		return errdefs.InvalidArgument("%s name exceeds %d bytes", n.Kind, MaxNameSize)
	}
	if len(n.ExternalID) > MaxNameSize {
		return errdefs.InvalidArgument("%s externalId exceeds %d bytes", n.Kind, MaxNameSize)
	}
	if err := n.Properties.Validate(); err != nil {
		return err
	}
	return n.CustomProperties.Validate()
}

// Put inserts or updates a node and returns the stored copy.
//
// Without an id, a node whose externalId is already known updates that
// node; otherwise a new id is assigned. With an id, the node must exist.
// Names and external ids must stay unique per kind.
func (s *Store) Put(ctx context.Context, n *Node, opts ...PutOption) (out *Node, err error) {
	defer s.observe("put", n.Kind, time.Now(), &err)

	var o putOptions
	for _, opt := range opts {
		opt(&o)
	}

	typeID, err := s.mustType(n.Kind)
	if err != nil {
		return nil, err
	}
	if err := validateNode(n); err != nil {
		return nil, err
	}

	err = s.kv.Update(func(tx *storage.KVTX) error {
		node := n.Clone()

		var old *Node
		if node.ID == 0 && node.ExternalID != "" {
			if id, ok := lookup(tx, extIDKey(typeID, node.ExternalID)); ok {
				node.ID = id
			}
		}
		if node.ID != 0 {
			existing, ok, err := readNode(tx, node.ID)
			if err != nil {
				return err
			}
			if !ok || existing.Kind != node.Kind {
				return errdefs.NotFound("%s %d", node.Kind, node.ID)
			}
			old = existing
		}

		if old == nil && o.linkKind != 0 {
			node.ScopeID = o.linkTo
		}
		if old != nil && o.existing != nil {
			o.existing(old, node)
		}

		out, err = s.write(ctx, tx, typeID, node, old)
		if err != nil {
			return err
		}

		if o.linkKind != 0 {
			if err := s.link(tx, o.linkKind, o.linkTo, out.ID, true); err != nil {
				return err
			}
		}
		if o.point != nil {
			owner := out.ScopeID
			if owner == 0 {
				owner = out.ID
			}
			appendPoint(tx, owner, o.seriesName, o.point)
		}

		return ctx.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Mutate applies fn to the current node under the writer lock and stores
// the result. fn must not change ID or Kind.
func (s *Store) Mutate(ctx context.Context, kind string, id int64, fn func(n *Node) error, opts ...MutateOption) (out *Node, err error) {
	defer s.observe("mutate", kind, time.Now(), &err)

	var o mutateOptions
	for _, opt := range opts {
		opt(&o)
	}

	typeID, err := s.mustType(kind)
	if err != nil {
		return nil, err
	}

	err = s.kv.Update(func(tx *storage.KVTX) error {
		old, ok, err := readNode(tx, id)
		if err != nil {
			return err
		}
		if !ok || old.Kind != kind {
			return errdefs.NotFound("%s %d", kind, id)
		}

		node := old.Clone()
		if err := fn(node); err != nil {
			return err
		}
		if node.ID != old.ID || node.Kind != old.Kind {
			return errdefs.InvalidArgument("%s %d: id and kind are immutable", kind, id)
		}
		if err := validateNode(node); err != nil {
			return err
		}

		out, err = s.write(ctx, tx, typeID, node, old)
		if err != nil {
			return err
		}
		if o.children != nil {
			if err := s.rewriteChildren(ctx, tx, out, o.children); err != nil {
				return err
			}
		}
		return ctx.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// rewriteChildren stores every child of parent that fn changes
func (s *Store) rewriteChildren(ctx context.Context, tx *storage.KVTX, parent *Node, fn ChildFunc) error {
	ids, err := edgeSources(tx, EdgeParent, parent.ID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		old, ok, err := readNode(tx, id)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		child := old.Clone()
		if !fn(parent, child) {
			continue
		}
		if child.ID != old.ID || child.Kind != old.Kind {
			return errdefs.InvalidArgument("%s %d: id and kind are immutable", old.Kind, id)
		}
		typeID, err := s.mustType(child.Kind)
		if err != nil {
			return err
		}
		if _, err := s.write(ctx, tx, typeID, child, old); err != nil {
			return err
		}
	}
	return nil
}

// write stores node, replacing old when it is not nil
func (s *Store) write(ctx context.Context, tx *storage.KVTX, typeID int64, node, old *Node) (*Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := s.nowMillis()
	if old != nil {
		node.ID = old.ID
		node.ScopeID = old.ScopeID
		node.CreateTime = old.CreateTime
	} else {
		node.ID = 0
		node.CreateTime = now
	}
	node.LastUpdateTime = now

	if err := checkUnique(tx, typeID, node); err != nil {
		return nil, err
	}

	if old != nil {
		dropIndex(tx, typeID, old)
	} else {
		node.ID = nextSeq(tx, seqNode)
	}

	storage.PutBlob(tx, PREFIX_NODE, nodeVals(node.ID), encodeNode(node))
	writeIndex(tx, typeID, node)
	return node, nil
}

// Get returns the node of kind with id
func (s *Store) Get(ctx context.Context, kind string, id int64) (n *Node, err error) {
	defer s.observe("get", kind, time.Now(), &err)

	if _, err := s.mustType(kind); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var ok bool
	err = s.kv.View(func(r storage.Reader) error {
		var rerr error
		n, ok, rerr = readNode(r, id)
		return rerr
	})
	if err != nil {
		return nil, err
	}
	if !ok || n.Kind != kind {
		return nil, errdefs.NotFound("%s %d", kind, id)
	}
	return n, nil
}

// GetByName returns the node of kind named name within scope
func (s *Store) GetByName(ctx context.Context, kind string, scopeID int64, name string) (*Node, error) {
	id, err := s.Resolve(ctx, kind, scopeID, name)
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, kind, id)
}

// GetByExternalID returns the node of kind with externalID
func (s *Store) GetByExternalID(ctx context.Context, kind, externalID string) (*Node, error) {
	id, err := s.ResolveExternalID(ctx, kind, externalID)
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, kind, id)
}

// Lookup returns a node of any kind
func (s *Store) Lookup(ctx context.Context, id int64) (n *Node, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var ok bool
	err = s.kv.View(func(r storage.Reader) error {
		var rerr error
		n, ok, rerr = readNode(r, id)
		return rerr
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errdefs.NotFound("node %d", id)
	}
	return n, nil
}
