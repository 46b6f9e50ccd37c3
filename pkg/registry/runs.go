// ABOUTME: Metrics, parameters and datasets logged against an experiment run
// ABOUTME: Logging upserts by name within the run; every metric value is also appended to its history

package registry

import (
	"context"
	"time"

	"github.com/nainya/modelregistry/pkg/errdefs"
	"github.com/nainya/modelregistry/pkg/properties"
	"github.com/nainya/modelregistry/pkg/query"
	"github.com/nainya/modelregistry/pkg/store"
)

// mergeNode copies the fields set on incoming onto existing
func mergeNode(existing, incoming *store.Node) error {
	if incoming.Description != "" {
		existing.Description = incoming.Description
	}
	if incoming.ExternalID != "" {
		existing.ExternalID = incoming.ExternalID
	}
	if incoming.CustomProperties != nil {
		existing.CustomProperties = incoming.CustomProperties.Clone()
	}
	for k, v := range incoming.Properties {
		setProp(existing, k, v)
	}
	return nil
}

func (r *Registry) runNode(ctx context.Context, runID string) (*store.Node, error) {
	if runID == "" {
		return nil, errdefs.InvalidArgument("experimentRunId is required")
	}
	return getNode(ctx, r, KindExperimentRun, "experimentRunId", runID)
}

// LogMetric records the latest value of a metric in a run and appends the
// value to the metric's history
func (r *Registry) LogMetric(ctx context.Context, runID string, m *Metric) (out *Metric, err error) {
	ctx, end := r.span(ctx, "LogMetric", KindMetric, idAttr(runID))
	defer func() { end(err) }()

	if m != nil && m.Value == nil {
		return nil, errdefs.InvalidArgument("metric value is required")
	}
	n, _, err := newNode(metrics, m)
	if err != nil {
		return nil, err
	}
	run, err := r.runNode(ctx, runID)
	if err != nil {
		return nil, err
	}

	if _, ok := n.Properties[propStep]; !ok {
		setProp(n, propStep, properties.Int(0))
	}
	if _, ok := n.Properties[propTimestamp]; !ok {
		setProp(n, propTimestamp, properties.Int(time.Now().UnixMilli()))
	}
	setProp(n, propExperimentRunID, properties.Int(run.ID))

	point := store.Point{
		Value:     n.Double(propValue),
		Step:      n.Int(propStep),
		Timestamp: n.Int(propTimestamp),
	}
	return upsertByName(ctx, r, metrics, run.ID, n, mergeNode, store.WithPoint(n.Name, point))
}

// GetMetricHistory returns every value logged for a metric, ordered by
// step, then timestamp, then logging order
func (r *Registry) GetMetricHistory(ctx context.Context, runID, name string) (out *List[Metric], err error) {
	ctx, end := r.span(ctx, "GetMetricHistory", KindMetric, idAttr(runID))
	defer func() { end(err) }()

	if name == "" {
		return nil, errdefs.InvalidArgument("metric name is required")
	}
	run, err := r.runNode(ctx, runID)
	if err != nil {
		return nil, err
	}
	points, err := r.store.Points(ctx, run.ID, name)
	if err != nil {
		return nil, err
	}

	out = &List[Metric]{Items: make([]*Metric, 0, len(points))}
	for _, p := range points {
		out.Items = append(out.Items, &Metric{
			Base:            Base{Name: name},
			Value:           Ptr(p.Value),
			Step:            Ptr(p.Step),
			Timestamp:       formatMillis(p.Timestamp),
			ExperimentRunID: formatID(run.ID),
		})
	}
	out.Size = len(out.Items)
	out.PageSize = out.Size
	return out, nil
}

// ListMetrics lists the metrics of a run
func (r *Registry) ListMetrics(ctx context.Context, runID string, q query.Query) (out *List[Metric], err error) {
	ctx, end := r.span(ctx, "ListMetrics", KindMetric, idAttr(runID))
	defer func() { end(err) }()

	run, err := r.runNode(ctx, runID)
	if err != nil {
		return nil, err
	}
	q.ScopeID = run.ID
	return list(ctx, r, metrics, q)
}

// LogParameter sets a parameter of a run. OBJECT values are kept as JSON.
func (r *Registry) LogParameter(ctx context.Context, runID string, p *Parameter) (out *Parameter, err error) {
	ctx, end := r.span(ctx, "LogParameter", KindParameter, idAttr(runID))
	defer func() { end(err) }()

	if p != nil && p.Value == nil {
		return nil, errdefs.InvalidArgument("parameter value is required")
	}
	n, _, err := newNode(parameters, p)
	if err != nil {
		return nil, err
	}
	run, err := r.runNode(ctx, runID)
	if err != nil {
		return nil, err
	}
	setProp(n, propExperimentRunID, properties.Int(run.ID))

	return upsertByName(ctx, r, parameters, run.ID, n, mergeNode)
}

// ListParameters lists the parameters of a run
func (r *Registry) ListParameters(ctx context.Context, runID string, q query.Query) (out *List[Parameter], err error) {
	ctx, end := r.span(ctx, "ListParameters", KindParameter, idAttr(runID))
	defer func() { end(err) }()

	run, err := r.runNode(ctx, runID)
	if err != nil {
		return nil, err
	}
	q.ScopeID = run.ID
	return list(ctx, r, parameters, q)
}

// LogDataSet records a dataset used by a run
func (r *Registry) LogDataSet(ctx context.Context, runID string, d *DataSet) (out *DataSet, err error) {
	ctx, end := r.span(ctx, "LogDataSet", KindDataSet, idAttr(runID))
	defer func() { end(err) }()

	n, _, err := newNode(dataSets, d)
	if err != nil {
		return nil, err
	}
	run, err := r.runNode(ctx, runID)
	if err != nil {
		return nil, err
	}
	setProp(n, propExperimentRunID, properties.Int(run.ID))

	return upsertByName(ctx, r, dataSets, run.ID, n, mergeNode)
}

// ListDataSets lists the datasets of a run
func (r *Registry) ListDataSets(ctx context.Context, runID string, q query.Query) (out *List[DataSet], err error) {
	ctx, end := r.span(ctx, "ListDataSets", KindDataSet, idAttr(runID))
	defer func() { end(err) }()

	run, err := r.runNode(ctx, runID)
	if err != nil {
		return nil, err
	}
	q.ScopeID = run.ID
	return list(ctx, r, dataSets, q)
}
