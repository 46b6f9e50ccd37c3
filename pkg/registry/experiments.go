// ABOUTME: Experiments and their runs
// ABOUTME: A run is contained by one experiment and its name is unique within it

package registry

import (
	"context"

	"github.com/nainya/modelregistry/pkg/errdefs"
	"github.com/nainya/modelregistry/pkg/lifecycle"
	"github.com/nainya/modelregistry/pkg/properties"
	"github.com/nainya/modelregistry/pkg/query"
	"github.com/nainya/modelregistry/pkg/store"
)

func (r *Registry) CreateExperiment(ctx context.Context, e *Experiment) (out *Experiment, err error) {
	ctx, end := r.span(ctx, "CreateExperiment", KindExperiment)
	defer func() { end(err) }()

	n, requested, err := newNode(experiments, e)
	if err != nil {
		return nil, err
	}
	state, err := lifecycle.ContainerInitialState(requested)
	if err != nil {
		return nil, err
	}
	setInitialState(n, state)
	return put(ctx, r, experiments, n)
}

func (r *Registry) GetExperiment(ctx context.Context, id string) (out *Experiment, err error) {
	ctx, end := r.span(ctx, "GetExperiment", KindExperiment, idAttr(id))
	defer func() { end(err) }()
	return get(ctx, r, experiments, id)
}

func (r *Registry) FindExperiment(ctx context.Context, name, externalID string) (out *Experiment, err error) {
	ctx, end := r.span(ctx, "FindExperiment", KindExperiment)
	defer func() { end(err) }()
	return find(ctx, r, experiments, 0, name, externalID)
}

func (r *Registry) UpdateExperiment(ctx context.Context, id string, patch *Experiment) (out *Experiment, err error) {
	ctx, end := r.span(ctx, "UpdateExperiment", KindExperiment, idAttr(id))
	defer func() { end(err) }()
	return update(ctx, r, experiments, id, patch)
}

func (r *Registry) ListExperiments(ctx context.Context, q query.Query) (out *List[Experiment], err error) {
	ctx, end := r.span(ctx, "ListExperiments", KindExperiment)
	defer func() { end(err) }()
	q.ScopeID = 0
	return list(ctx, r, experiments, q)
}

func (r *Registry) ArchiveExperiment(ctx context.Context, id string) (out *Experiment, err error) {
	ctx, end := r.span(ctx, "ArchiveExperiment", KindExperiment, idAttr(id))
	defer func() { end(err) }()
	return transition(ctx, r, experiments, id, lifecycle.Archive)
}

func (r *Registry) RestoreExperiment(ctx context.Context, id string) (out *Experiment, err error) {
	ctx, end := r.span(ctx, "RestoreExperiment", KindExperiment, idAttr(id))
	defer func() { end(err) }()
	return transition(ctx, r, experiments, id, lifecycle.Restore)
}

// CreateExperimentRun adds a run under run.ExperimentID
func (r *Registry) CreateExperimentRun(ctx context.Context, run *ExperimentRun) (out *ExperimentRun, err error) {
	ctx, end := r.span(ctx, "CreateExperimentRun", KindExperimentRun)
	defer func() { end(err) }()

	n, requested, err := newNode(experimentRuns, run)
	if err != nil {
		return nil, err
	}
	if run.ExperimentID == "" {
		return nil, errdefs.InvalidArgument("experimentId is required")
	}
	exp, err := getNode(ctx, r, KindExperiment, "experimentId", run.ExperimentID)
	if err != nil {
		return nil, err
	}

	state, err := lifecycle.ContainerInitialState(requested)
	if err != nil {
		return nil, err
	}
	setInitialState(n, state)
	setProp(n, propExperimentID, properties.Int(exp.ID))

	return put(ctx, r, experimentRuns, n, store.WithLink(store.EdgeParent, exp.ID))
}

func (r *Registry) GetExperimentRun(ctx context.Context, id string) (out *ExperimentRun, err error) {
	ctx, end := r.span(ctx, "GetExperimentRun", KindExperimentRun, idAttr(id))
	defer func() { end(err) }()
	return get(ctx, r, experimentRuns, id)
}

func (r *Registry) FindExperimentRun(ctx context.Context, name, externalID, experimentID string) (out *ExperimentRun, err error) {
	ctx, end := r.span(ctx, "FindExperimentRun", KindExperimentRun)
	defer func() { end(err) }()

	scope, err := findScope(name, externalID, "experimentId", experimentID)
	if err != nil {
		return nil, err
	}
	return find(ctx, r, experimentRuns, scope, name, externalID)
}

func (r *Registry) UpdateExperimentRun(ctx context.Context, id string, patch *ExperimentRun) (out *ExperimentRun, err error) {
	ctx, end := r.span(ctx, "UpdateExperimentRun", KindExperimentRun, idAttr(id))
	defer func() { end(err) }()
	return update(ctx, r, experimentRuns, id, patch)
}

// ListExperimentRuns lists the runs of one experiment, or of every
// experiment when experimentID is empty
func (r *Registry) ListExperimentRuns(ctx context.Context, experimentID string, q query.Query) (out *List[ExperimentRun], err error) {
	ctx, end := r.span(ctx, "ListExperimentRuns", KindExperimentRun)
	defer func() { end(err) }()

	q, err = scoped(ctx, r, KindExperiment, "experimentId", experimentID, q)
	if err != nil {
		return nil, err
	}
	return list(ctx, r, experimentRuns, q)
}

func (r *Registry) ArchiveExperimentRun(ctx context.Context, id string) (out *ExperimentRun, err error) {
	ctx, end := r.span(ctx, "ArchiveExperimentRun", KindExperimentRun, idAttr(id))
	defer func() { end(err) }()
	return transition(ctx, r, experimentRuns, id, lifecycle.Archive)
}

func (r *Registry) RestoreExperimentRun(ctx context.Context, id string) (out *ExperimentRun, err error) {
	ctx, end := r.span(ctx, "RestoreExperimentRun", KindExperimentRun, idAttr(id))
	defer func() { end(err) }()
	return transition(ctx, r, experimentRuns, id, lifecycle.Restore)
}
