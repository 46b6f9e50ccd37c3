// ABOUTME: Model artifacts, attributed to one model version or one experiment run
// ABOUTME: The attribution edge is written in the same transaction as the artifact

package registry

import (
	"context"

	"github.com/nainya/modelregistry/pkg/errdefs"
	"github.com/nainya/modelregistry/pkg/lifecycle"
	"github.com/nainya/modelregistry/pkg/properties"
	"github.com/nainya/modelregistry/pkg/query"
	"github.com/nainya/modelregistry/pkg/store"
)

// artifactOwner resolves the container an artifact is created under
func (r *Registry) artifactOwner(ctx context.Context, a *ModelArtifact) (*store.Node, string, error) {
	switch {
	case a.ModelVersionID != "" && a.ExperimentRunID != "":
		return nil, "", errdefs.InvalidArgument("artifact takes modelVersionId or experimentRunId, not both")
	case a.ModelVersionID != "":
		n, err := getNode(ctx, r, KindModelVersion, "modelVersionId", a.ModelVersionID)
		return n, propModelVersionID, err
	case a.ExperimentRunID != "":
		n, err := getNode(ctx, r, KindExperimentRun, "experimentRunId", a.ExperimentRunID)
		return n, propExperimentRunID, err
	default:
		return nil, "", errdefs.InvalidArgument("artifact needs a modelVersionId or an experimentRunId")
	}
}

// CreateModelArtifact creates an artifact under its version or run. It
// starts PENDING unless it already has a uri or asks for LIVE.
func (r *Registry) CreateModelArtifact(ctx context.Context, a *ModelArtifact) (out *ModelArtifact, err error) {
	ctx, end := r.span(ctx, "CreateModelArtifact", KindModelArtifact)
	defer func() { end(err) }()

	n, requested, err := newNode(modelArtifacts, a)
	if err != nil {
		return nil, err
	}
	owner, ownerProp, err := r.artifactOwner(ctx, a)
	if err != nil {
		return nil, err
	}

	state, err := lifecycle.ArtifactInitialState(requested, n.String(propURI))
	if err != nil {
		return nil, err
	}
	setInitialState(n, state)
	setProp(n, ownerProp, properties.Int(owner.ID))

	return put(ctx, r, modelArtifacts, n, store.WithLink(store.EdgeAttribution, owner.ID))
}

func (r *Registry) GetModelArtifact(ctx context.Context, id string) (out *ModelArtifact, err error) {
	ctx, end := r.span(ctx, "GetModelArtifact", KindModelArtifact, idAttr(id))
	defer func() { end(err) }()
	return get(ctx, r, modelArtifacts, id)
}

// FindModelArtifact looks an artifact up by externalId, or by name within
// its owning version or run
func (r *Registry) FindModelArtifact(ctx context.Context, name, externalID, ownerID string) (out *ModelArtifact, err error) {
	ctx, end := r.span(ctx, "FindModelArtifact", KindModelArtifact)
	defer func() { end(err) }()

	scope, err := findScope(name, externalID, "parentResourceId", ownerID)
	if err != nil {
		return nil, err
	}
	return find(ctx, r, modelArtifacts, scope, name, externalID)
}

// UpdateModelArtifact applies the set fields of patch. A state change must
// follow the artifact lifecycle.
func (r *Registry) UpdateModelArtifact(ctx context.Context, id string, patch *ModelArtifact) (out *ModelArtifact, err error) {
	ctx, end := r.span(ctx, "UpdateModelArtifact", KindModelArtifact, idAttr(id))
	defer func() { end(err) }()
	return update(ctx, r, modelArtifacts, id, patch)
}

func (r *Registry) ListModelArtifacts(ctx context.Context, q query.Query) (out *List[ModelArtifact], err error) {
	ctx, end := r.span(ctx, "ListModelArtifacts", KindModelArtifact)
	defer func() { end(err) }()
	q.ScopeID = 0
	return list(ctx, r, modelArtifacts, q)
}

// ListModelVersionArtifacts lists the artifacts attributed to a version
func (r *Registry) ListModelVersionArtifacts(ctx context.Context, versionID string, q query.Query) (out *List[ModelArtifact], err error) {
	ctx, end := r.span(ctx, "ListModelVersionArtifacts", KindModelArtifact, idAttr(versionID))
	defer func() { end(err) }()

	if versionID == "" {
		return nil, errdefs.InvalidArgument("modelVersionId is required")
	}
	q, err = scoped(ctx, r, KindModelVersion, "modelVersionId", versionID, q)
	if err != nil {
		return nil, err
	}
	return list(ctx, r, modelArtifacts, q)
}

// ListExperimentRunArtifacts lists the artifacts attributed to a run
func (r *Registry) ListExperimentRunArtifacts(ctx context.Context, runID string, q query.Query) (out *List[ModelArtifact], err error) {
	ctx, end := r.span(ctx, "ListExperimentRunArtifacts", KindModelArtifact, idAttr(runID))
	defer func() { end(err) }()

	if runID == "" {
		return nil, errdefs.InvalidArgument("experimentRunId is required")
	}
	q, err = scoped(ctx, r, KindExperimentRun, "experimentRunId", runID, q)
	if err != nil {
		return nil, err
	}
	return list(ctx, r, modelArtifacts, q)
}

// FinalizeModelArtifact ends an upload: PENDING becomes LIVE on success and
// ABANDONED on failure
func (r *Registry) FinalizeModelArtifact(ctx context.Context, id string, success bool) (out *ModelArtifact, err error) {
	ctx, end := r.span(ctx, "FinalizeModelArtifact", KindModelArtifact, idAttr(id))
	defer func() { end(err) }()

	ev := lifecycle.FinalizeFailure
	if success {
		ev = lifecycle.FinalizeSuccess
	}
	return transition(ctx, r, modelArtifacts, id, ev)
}

// DeleteModelArtifact marks a LIVE artifact for deletion. Nothing is
// removed from storage.
func (r *Registry) DeleteModelArtifact(ctx context.Context, id string) (out *ModelArtifact, err error) {
	ctx, end := r.span(ctx, "DeleteModelArtifact", KindModelArtifact, idAttr(id))
	defer func() { end(err) }()
	return transition(ctx, r, modelArtifacts, id, lifecycle.Delete)
}

// PurgeModelArtifact records that a marked artifact's bytes are gone
func (r *Registry) PurgeModelArtifact(ctx context.Context, id string) (out *ModelArtifact, err error) {
	ctx, end := r.span(ctx, "PurgeModelArtifact", KindModelArtifact, idAttr(id))
	defer func() { end(err) }()
	return transition(ctx, r, modelArtifacts, id, lifecycle.Purge)
}
