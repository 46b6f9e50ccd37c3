// ABOUTME: Kind-keyed entry points used by the transports
// ABOUTME: Fire applies a lifecycle event by kind; PutEdge and PutAttribution link existing entities

package registry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nainya/modelregistry/pkg/errdefs"
	"github.com/nainya/modelregistry/pkg/lifecycle"
)

// anyOf drops the typed nil a failed call returns
func anyOf[T any](t *T, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Fire applies ev to the entity kind/id and returns the updated entity
func (r *Registry) Fire(ctx context.Context, kind, id string, ev lifecycle.Event) (out any, err error) {
	ctx, end := r.span(ctx, "Fire", kind, idAttr(id), attribute.String("registry.event", string(ev)))
	defer func() { end(err) }()

	switch kind {
	case KindRegisteredModel:
		return anyOf(transition(ctx, r, registeredModels, id, ev))
	case KindModelVersion:
		return anyOf(transition(ctx, r, modelVersions, id, ev))
	case KindModelArtifact:
		return anyOf(transition(ctx, r, modelArtifacts, id, ev))
	case KindExperiment:
		return anyOf(transition(ctx, r, experiments, id, ev))
	case KindExperimentRun:
		return anyOf(transition(ctx, r, experimentRuns, id, ev))
	case KindMetric, KindParameter, KindDataSet:
		return nil, errdefs.InvalidArgument("%s has no lifecycle", kind)
	default:
		return nil, errdefs.TypeNotFound("%q", kind)
	}
}

// PutEdge records that parentID contains childID
func (r *Registry) PutEdge(ctx context.Context, parentID, childID string) (err error) {
	ctx, end := r.span(ctx, "PutEdge", "", idAttr(childID))
	defer func() { end(err) }()

	pid, err := parseID("parentId", parentID)
	if err != nil {
		return err
	}
	cid, err := parseID("childId", childID)
	if err != nil {
		return err
	}
	return r.store.PutEdge(ctx, pid, cid)
}

// PutAttribution records that containerID owns artifactID
func (r *Registry) PutAttribution(ctx context.Context, containerID, artifactID string) (err error) {
	ctx, end := r.span(ctx, "PutAttribution", KindModelArtifact, idAttr(artifactID))
	defer func() { end(err) }()

	cid, err := parseID("containerId", containerID)
	if err != nil {
		return err
	}
	aid, err := parseID("artifactId", artifactID)
	if err != nil {
		return err
	}
	return r.store.PutAttribution(ctx, cid, aid)
}
