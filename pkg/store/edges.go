// ABOUTME: Containment and attribution edges between nodes
// ABOUTME: A node has at most one parent and an artifact at most one owner

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/nainya/modelregistry/pkg/errdefs"
	"github.com/nainya/modelregistry/pkg/storage"
)

func edgeKeys(kind EdgeKind) (forward func(int64) []byte, reverse func(int64, int64) []byte, reversePrefix uint32) {
	if kind == EdgeAttribution {
		return attrKey, attrRevKey, PREFIX_ATTR_REV
	}
	return parentKey, childKey, PREFIX_CHILD
}

// link writes an edge container -> child. With idempotent set, an existing
// identical edge is accepted.
func (s *Store) link(tx *storage.KVTX, kind EdgeKind, containerID, childID int64, idempotent bool) error {
	if containerID == childID {
		return errdefs.InvalidArgument("%s edge from node %d to itself", kind, childID)
	}
	if _, ok, err := readNode(tx, containerID); err != nil {
		return err
	} else if !ok {
		return errdefs.NotFound("container %d", containerID)
	}
	if _, ok, err := readNode(tx, childID); err != nil {
		return err
	} else if !ok {
		return errdefs.NotFound("node %d", childID)
	}

	forward, reverse, _ := edgeKeys(kind)
	if cur, ok := lookup(tx, forward(childID)); ok {
		if cur == containerID && idempotent {
			return nil
		}
		if cur == containerID {
			return errdefs.AlreadyExists("%s edge %d -> %d", kind, containerID, childID)
		}
		return errdefs.AlreadyExists("node %d already has %s %d", childID, kind, cur)
	}

	tx.Set(forward(childID), encodeID(containerID))
	tx.Set(reverse(containerID, childID), []byte{})
	return nil
}

func (s *Store) putEdge(ctx context.Context, kind EdgeKind, containerID, childID int64) (err error) {
	defer s.observe("put_edge", kind.String(), time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return err
	}
	return s.kv.Update(func(tx *storage.KVTX) error {
		if err := s.link(tx, kind, containerID, childID, false); err != nil {
			return err
		}
		return ctx.Err()
	})
}

// PutEdge records that parentID contains childID
func (s *Store) PutEdge(ctx context.Context, parentID, childID int64) error {
	return s.putEdge(ctx, EdgeParent, parentID, childID)
}

// PutAttribution records that containerID owns artifactID
func (s *Store) PutAttribution(ctx context.Context, containerID, artifactID int64) error {
	return s.putEdge(ctx, EdgeAttribution, containerID, artifactID)
}

func (s *Store) target(ctx context.Context, kind EdgeKind, childID int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	forward, _, _ := edgeKeys(kind)

	var id int64
	var ok bool
	err := s.kv.View(func(r storage.Reader) error {
		id, ok = lookup(r, forward(childID))
		return nil
	})
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errdefs.NotFound("%s of node %d", kind, childID)
	}
	return id, nil
}

func (s *Store) sources(ctx context.Context, kind EdgeKind, containerID int64) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var ids []int64
	err := s.kv.View(func(r storage.Reader) error {
		var err error
		ids, err = edgeSources(r, kind, containerID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// edgeSources lists the nodes containerID points to through kind edges
func edgeSources(r storage.Reader, kind EdgeKind, containerID int64) ([]int64, error) {
	_, _, prefix := edgeKeys(kind)
	start := storage.EncodeKey(prefix, []storage.Value{i64(containerID)})

	var ids []int64
	var bad []byte
	scanPrefix(r, start, func(key, _ []byte) bool {
		id, ok := lastValue(key)
		if !ok {
			bad = key
			return false
		}
		ids = append(ids, id)
		return true
	})
	if bad != nil {
		return nil, fmt.Errorf("corrupt %s edge key %x", kind, bad)
	}
	return ids, nil
}

// Parent returns the container of childID
func (s *Store) Parent(ctx context.Context, childID int64) (int64, error) {
	return s.target(ctx, EdgeParent, childID)
}

// Children returns the ids contained by parentID in ascending order
func (s *Store) Children(ctx context.Context, parentID int64) ([]int64, error) {
	return s.sources(ctx, EdgeParent, parentID)
}

// Owner returns the container an artifact is attributed to
func (s *Store) Owner(ctx context.Context, artifactID int64) (int64, error) {
	return s.target(ctx, EdgeAttribution, artifactID)
}

// Attributions returns the artifacts attributed to containerID in ascending order
func (s *Store) Attributions(ctx context.Context, containerID int64) ([]int64, error) {
	return s.sources(ctx, EdgeAttribution, containerID)
}
