// ABOUTME: Registered models and their versions
// ABOUTME: A version is contained by one model and its name is unique within that model

package registry

import (
	"context"

	"github.com/nainya/modelregistry/pkg/errdefs"
	"github.com/nainya/modelregistry/pkg/lifecycle"
	"github.com/nainya/modelregistry/pkg/properties"
	"github.com/nainya/modelregistry/pkg/query"
	"github.com/nainya/modelregistry/pkg/store"
)

// CreateRegisteredModel registers a model. A model whose externalId is
// already known is updated in place.
func (r *Registry) CreateRegisteredModel(ctx context.Context, m *RegisteredModel) (out *RegisteredModel, err error) {
	ctx, end := r.span(ctx, "CreateRegisteredModel", KindRegisteredModel)
	defer func() { end(err) }()

	n, requested, err := newNode(registeredModels, m)
	if err != nil {
		return nil, err
	}
	state, err := lifecycle.ContainerInitialState(requested)
	if err != nil {
		return nil, err
	}
	setInitialState(n, state)
	return put(ctx, r, registeredModels, n)
}

func (r *Registry) GetRegisteredModel(ctx context.Context, id string) (out *RegisteredModel, err error) {
	ctx, end := r.span(ctx, "GetRegisteredModel", KindRegisteredModel, idAttr(id))
	defer func() { end(err) }()
	return get(ctx, r, registeredModels, id)
}

// FindRegisteredModel looks a model up by name or externalId
func (r *Registry) FindRegisteredModel(ctx context.Context, name, externalID string) (out *RegisteredModel, err error) {
	ctx, end := r.span(ctx, "FindRegisteredModel", KindRegisteredModel)
	defer func() { end(err) }()
	return find(ctx, r, registeredModels, 0, name, externalID)
}

// UpdateRegisteredModel applies the set fields of patch. A rename is
// carried to the modelName of every version in the same write.
func (r *Registry) UpdateRegisteredModel(ctx context.Context, id string, patch *RegisteredModel) (out *RegisteredModel, err error) {
	ctx, end := r.span(ctx, "UpdateRegisteredModel", KindRegisteredModel, idAttr(id))
	defer func() { end(err) }()
	return update(ctx, r, registeredModels, id, patch, store.WithChildren(syncModelName))
}

func syncModelName(model, child *store.Node) bool {
	if child.Kind != KindModelVersion || child.String(propModelName) == model.Name {
		return false
	}
	setProp(child, propModelName, properties.String(model.Name))
	return true
}

func (r *Registry) ListRegisteredModels(ctx context.Context, q query.Query) (out *List[RegisteredModel], err error) {
	ctx, end := r.span(ctx, "ListRegisteredModels", KindRegisteredModel)
	defer func() { end(err) }()
	q.ScopeID = 0
	return list(ctx, r, registeredModels, q)
}

// ArchiveRegisteredModel moves a LIVE model to ARCHIVED. Its versions keep
// their state.
func (r *Registry) ArchiveRegisteredModel(ctx context.Context, id string) (out *RegisteredModel, err error) {
	ctx, end := r.span(ctx, "ArchiveRegisteredModel", KindRegisteredModel, idAttr(id))
	defer func() { end(err) }()
	return transition(ctx, r, registeredModels, id, lifecycle.Archive)
}

func (r *Registry) RestoreRegisteredModel(ctx context.Context, id string) (out *RegisteredModel, err error) {
	ctx, end := r.span(ctx, "RestoreRegisteredModel", KindRegisteredModel, idAttr(id))
	defer func() { end(err) }()
	return transition(ctx, r, registeredModels, id, lifecycle.Restore)
}

// CreateModelVersion adds a version under v.RegisteredModelID. The
// version's modelName follows the model's name.
func (r *Registry) CreateModelVersion(ctx context.Context, v *ModelVersion) (out *ModelVersion, err error) {
	ctx, end := r.span(ctx, "CreateModelVersion", KindModelVersion)
	defer func() { end(err) }()

	n, requested, err := newNode(modelVersions, v)
	if err != nil {
		return nil, err
	}
	if v.RegisteredModelID == "" {
		return nil, errdefs.InvalidArgument("registeredModelId is required")
	}
	model, err := getNode(ctx, r, KindRegisteredModel, "registeredModelId", v.RegisteredModelID)
	if err != nil {
		return nil, err
	}

	state, err := lifecycle.ContainerInitialState(requested)
	if err != nil {
		return nil, err
	}
	setInitialState(n, state)
	setProp(n, propRegisteredModelID, properties.Int(model.ID))
	setProp(n, propModelName, properties.String(model.Name))

	return put(ctx, r, modelVersions, n, store.WithLink(store.EdgeParent, model.ID))
}

func (r *Registry) GetModelVersion(ctx context.Context, id string) (out *ModelVersion, err error) {
	ctx, end := r.span(ctx, "GetModelVersion", KindModelVersion, idAttr(id))
	defer func() { end(err) }()
	return get(ctx, r, modelVersions, id)
}

// FindModelVersion looks a version up by externalId, or by name within the
// model registeredModelID
func (r *Registry) FindModelVersion(ctx context.Context, name, externalID, registeredModelID string) (out *ModelVersion, err error) {
	ctx, end := r.span(ctx, "FindModelVersion", KindModelVersion)
	defer func() { end(err) }()

	scope, err := findScope(name, externalID, "registeredModelId", registeredModelID)
	if err != nil {
		return nil, err
	}
	return find(ctx, r, modelVersions, scope, name, externalID)
}

func (r *Registry) UpdateModelVersion(ctx context.Context, id string, patch *ModelVersion) (out *ModelVersion, err error) {
	ctx, end := r.span(ctx, "UpdateModelVersion", KindModelVersion, idAttr(id))
	defer func() { end(err) }()
	return update(ctx, r, modelVersions, id, patch)
}

// ListModelVersions lists the versions of one model, or of every model
// when registeredModelID is empty
func (r *Registry) ListModelVersions(ctx context.Context, registeredModelID string, q query.Query) (out *List[ModelVersion], err error) {
	ctx, end := r.span(ctx, "ListModelVersions", KindModelVersion)
	defer func() { end(err) }()

	q, err = scoped(ctx, r, KindRegisteredModel, "registeredModelId", registeredModelID, q)
	if err != nil {
		return nil, err
	}
	return list(ctx, r, modelVersions, q)
}

func (r *Registry) ArchiveModelVersion(ctx context.Context, id string) (out *ModelVersion, err error) {
	ctx, end := r.span(ctx, "ArchiveModelVersion", KindModelVersion, idAttr(id))
	defer func() { end(err) }()
	return transition(ctx, r, modelVersions, id, lifecycle.Archive)
}

func (r *Registry) RestoreModelVersion(ctx context.Context, id string) (out *ModelVersion, err error) {
	ctx, end := r.span(ctx, "RestoreModelVersion", KindModelVersion, idAttr(id))
	defer func() { end(err) }()
	return transition(ctx, r, modelVersions, id, lifecycle.Restore)
}

// findScope parses the parent id of a scoped name lookup. A lookup by
// name alone needs the parent; a lookup by externalId does not.
func findScope(name, externalID, field, parentID string) (int64, error) {
	if parentID == "" {
		if name != "" && externalID == "" {
			return 0, errdefs.InvalidArgument("%s is required to find by name", field)
		}
		return 0, nil
	}
	return parseID(field, parentID)
}
