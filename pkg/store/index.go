// ABOUTME: Identity and uniqueness index: (kind, scope, name) and (kind, external id) to id
// ABOUTME: Checked and rewritten inside the write transaction of the owning put

package store

import (
	"context"
	"time"

	"github.com/nainya/modelregistry/pkg/errdefs"
	"github.com/nainya/modelregistry/pkg/query"
	"github.com/nainya/modelregistry/pkg/storage"
)

var orderFields = []query.OrderField{query.OrderID, query.OrderCreateTime, query.OrderLastUpdateTime}

// lookup reads an index entry
func lookup(r storage.Reader, key []byte) (int64, bool) {
	val, ok := r.Get(key)
	if !ok {
		return 0, false
	}
	return decodeID(val)
}

// checkUnique fails when n's name or external id belongs to another node
func checkUnique(r storage.Reader, typeID int64, n *Node) error {
	if id, ok := lookup(r, nameKey(typeID, n.ScopeID, n.Name)); ok && id != n.ID {
		if n.ScopeID != 0 {
			return errdefs.Duplicate("%s %q already exists in %d (id %d)", n.Kind, n.Name, n.ScopeID, id)
		}
		return errdefs.Duplicate("%s %q already exists (id %d)", n.Kind, n.Name, id)
	}
	if n.ExternalID != "" {
		if id, ok := lookup(r, extIDKey(typeID, n.ExternalID)); ok && id != n.ID {
			return errdefs.Duplicate("%s externalId %q already used by id %d", n.Kind, n.ExternalID, id)
		}
	}
	return nil
}

// dropIndex removes every index entry of old
func dropIndex(tx *storage.KVTX, typeID int64, old *Node) {
	tx.Del(nameKey(typeID, old.ScopeID, old.Name))
	if old.ExternalID != "" {
		tx.Del(extIDKey(typeID, old.ExternalID))
	}
	for _, f := range orderFields {
		for _, scope := range orderScopes(old) {
			tx.Del(orderKey(f, typeID, scope, sortKey(old, f), old.ID))
		}
	}
}

// writeIndex adds every index entry of n
func writeIndex(tx *storage.KVTX, typeID int64, n *Node) {
	tx.Set(nameKey(typeID, n.ScopeID, n.Name), encodeID(n.ID))
	if n.ExternalID != "" {
		tx.Set(extIDKey(typeID, n.ExternalID), encodeID(n.ID))
	}
	for _, f := range orderFields {
		for _, scope := range orderScopes(n) {
			tx.Set(orderKey(f, typeID, scope, sortKey(n, f), n.ID), []byte{})
		}
	}
}

// Resolve returns the id of the node of kind named name within scope
func (s *Store) Resolve(ctx context.Context, kind string, scopeID int64, name string) (id int64, err error) {
	defer s.observe("resolve", kind, time.Now(), &err)

	typeID, err := s.mustType(kind)
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var ok bool
	err = s.kv.View(func(r storage.Reader) error {
		id, ok = lookup(r, nameKey(typeID, scopeID, name))
		return nil
	})
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errdefs.NotFound("%s %q", kind, name)
	}
	return id, nil
}

// ResolveExternalID returns the id of the node of kind with externalID
func (s *Store) ResolveExternalID(ctx context.Context, kind, externalID string) (id int64, err error) {
	defer s.observe("resolve", kind, time.Now(), &err)

	typeID, err := s.mustType(kind)
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var ok bool
	err = s.kv.View(func(r storage.Reader) error {
		id, ok = lookup(r, extIDKey(typeID, externalID))
		return nil
	})
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errdefs.NotFound("%s with externalId %q", kind, externalID)
	}
	return id, nil
}
