// ABOUTME: Kind-keyed table of registry operations over JSON bodies, shared by REST and gRPC
// ABOUTME: Bodies are schema-checked, decoded into typed entities and dispatched to the registry

package resource

import (
	"context"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/nainya/modelregistry/pkg/errdefs"
	"github.com/nainya/modelregistry/pkg/lifecycle"
	"github.com/nainya/modelregistry/pkg/query"
	"github.com/nainya/modelregistry/pkg/registry"
	"github.com/nainya/modelregistry/pkg/store"
)

// Parent names the container a scoped create or list runs under
type Parent struct {
	Kind string
	ID   string
}

// FindParams select one entity by externalId, or by name within a parent
type FindParams struct {
	Name       string
	ExternalID string
	ParentID   string
}

// Child is a collection nested under an entity
type Child struct {
	Segment string
	Kind    string
}

// Handler serves one entity kind
type Handler struct {
	Kind       string
	Collection string
	// Singular is the find route; empty when the kind cannot be found directly
	Singular string
	Children []Child
	// Events are the transitions exposed as POST /<id>/<event>
	Events []string

	create func(context.Context, Parent, []byte) (any, error)
	get    func(context.Context, string) (any, error)
	find   func(context.Context, FindParams) (any, error)
	update func(context.Context, string, []byte) (any, error)
	list   func(context.Context, Parent, query.Query) (any, error)
}

type ops[T any] struct {
	create func(context.Context, Parent, *T) (*T, error)
	get    func(context.Context, string) (*T, error)
	find   func(context.Context, FindParams) (*T, error)
	update func(context.Context, string, *T) (*T, error)
	list   func(context.Context, Parent, query.Query) (*registry.List[T], error)
}

func unsupported(kind, op string) error {
	return errdefs.InvalidArgument("%s does not support %s", kind, op)
}

func result[T any](t *T, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return t, nil
}

// bind turns typed operations into the JSON-facing handler funcs
func bind[T any](h *Handler, o ops[T]) *Handler {
	kind := h.Kind
	h.create = func(ctx context.Context, p Parent, body []byte) (any, error) {
		if o.create == nil {
			return nil, unsupported(kind, "create")
		}
		t, err := decodeBody[T](kind, body)
		if err != nil {
			return nil, err
		}
		return result(o.create(ctx, p, t))
	}
	h.get = func(ctx context.Context, id string) (any, error) {
		if o.get == nil {
			return nil, unsupported(kind, "get")
		}
		return result(o.get(ctx, id))
	}
	h.find = func(ctx context.Context, fp FindParams) (any, error) {
		if o.find == nil {
			return nil, unsupported(kind, "find")
		}
		return result(o.find(ctx, fp))
	}
	h.update = func(ctx context.Context, id string, body []byte) (any, error) {
		if o.update == nil {
			return nil, unsupported(kind, "update")
		}
		t, err := decodeBody[T](kind, body)
		if err != nil {
			return nil, err
		}
		return result(o.update(ctx, id, t))
	}
	h.list = func(ctx context.Context, p Parent, q query.Query) (any, error) {
		if o.list == nil {
			return nil, unsupported(kind, "list")
		}
		return result(o.list(ctx, p, q))
	}
	return h
}

// attach fills the parent id field of a create body from the route. A body
// naming a different parent is rejected.
func attach(field *string, name string, p Parent, kinds ...string) error {
	if p.ID == "" {
		return nil
	}
	if !parentAllowed(p, kinds) {
		return errdefs.InvalidArgument("cannot nest under %s", p.Kind)
	}
	if *field != "" && *field != p.ID {
		return errdefs.InvalidArgument("%s %q does not match parent %q", name, *field, p.ID)
	}
	*field = p.ID
	return nil
}

func parentAllowed(p Parent, kinds []string) bool {
	for _, k := range kinds {
		if p.Kind == k {
			return true
		}
	}
	return false
}

// Table holds the handler of every registry kind
type Table struct {
	reg      *registry.Registry
	handlers map[string]*Handler
	order    []*Handler
	schemas  map[string]*jsonschema.Schema
}

// New builds the handler table over reg
func New(reg *registry.Registry) (*Table, error) {
	schemas, err := compileSchemas(registry.Kinds)
	if err != nil {
		return nil, err
	}
	t := &Table{
		reg:      reg,
		handlers: make(map[string]*Handler),
		schemas:  schemas,
	}
	for _, h := range handlers(reg) {
		t.handlers[h.Kind] = h
		t.order = append(t.order, h)
	}
	return t, nil
}

// Handlers returns every handler in registration order
func (t *Table) Handlers() []*Handler {
	return t.order
}

// Lookup returns the handler of kind
func (t *Table) Lookup(kind string) (*Handler, error) {
	h, ok := t.handlers[kind]
	if !ok {
		return nil, errdefs.TypeNotFound("%q", kind)
	}
	return h, nil
}

func (t *Table) Create(ctx context.Context, kind string, p Parent, body []byte) (any, error) {
	h, err := t.Lookup(kind)
	if err != nil {
		return nil, err
	}
	if err := validateBody(t.schemas[kind], kind, body); err != nil {
		return nil, err
	}
	return h.create(ctx, p, body)
}

func (t *Table) Get(ctx context.Context, kind, id string) (any, error) {
	h, err := t.Lookup(kind)
	if err != nil {
		return nil, err
	}
	return h.get(ctx, id)
}

func (t *Table) Find(ctx context.Context, kind string, fp FindParams) (any, error) {
	h, err := t.Lookup(kind)
	if err != nil {
		return nil, err
	}
	return h.find(ctx, fp)
}

func (t *Table) Update(ctx context.Context, kind, id string, body []byte) (any, error) {
	h, err := t.Lookup(kind)
	if err != nil {
		return nil, err
	}
	if err := validateBody(t.schemas[kind], kind, body); err != nil {
		return nil, err
	}
	return h.update(ctx, id, body)
}

func (t *Table) List(ctx context.Context, kind string, p Parent, q query.Query) (any, error) {
	h, err := t.Lookup(kind)
	if err != nil {
		return nil, err
	}
	return h.list(ctx, p, q)
}

// Transition applies the named event (archive, restore, delete, purge,
// finalize) to kind/id. success only matters for finalize.
func (t *Table) Transition(ctx context.Context, kind, id, event string, success bool) (any, error) {
	if _, err := t.Lookup(kind); err != nil {
		return nil, err
	}
	ev, err := lifecycle.ParseEvent(event, success)
	if err != nil {
		return nil, err
	}
	return t.reg.Fire(ctx, kind, id, ev)
}

func (t *Table) MetricHistory(ctx context.Context, runID, name string) (*registry.List[registry.Metric], error) {
	return t.reg.GetMetricHistory(ctx, runID, name)
}

func (t *Table) PutEdge(ctx context.Context, parentID, childID string) error {
	return t.reg.PutEdge(ctx, parentID, childID)
}

func (t *Table) PutAttribution(ctx context.Context, containerID, artifactID string) error {
	return t.reg.PutAttribution(ctx, containerID, artifactID)
}

func (t *Table) Stats(ctx context.Context) (*store.Stats, error) {
	return t.reg.Stats(ctx)
}

var containerEvents = []string{"archive", "restore"}

func handlers(reg *registry.Registry) []*Handler {
	return []*Handler{
		bind(&Handler{
			Kind:       registry.KindRegisteredModel,
			Collection: "registered_models",
			Singular:   "registered_model",
			Children:   []Child{{"versions", registry.KindModelVersion}},
			Events:     containerEvents,
		}, ops[registry.RegisteredModel]{
			create: func(ctx context.Context, _ Parent, m *registry.RegisteredModel) (*registry.RegisteredModel, error) {
				return reg.CreateRegisteredModel(ctx, m)
			},
			get: reg.GetRegisteredModel,
			find: func(ctx context.Context, fp FindParams) (*registry.RegisteredModel, error) {
				return reg.FindRegisteredModel(ctx, fp.Name, fp.ExternalID)
			},
			update: reg.UpdateRegisteredModel,
			list: func(ctx context.Context, _ Parent, q query.Query) (*registry.List[registry.RegisteredModel], error) {
				return reg.ListRegisteredModels(ctx, q)
			},
		}),

		bind(&Handler{
			Kind:       registry.KindModelVersion,
			Collection: "model_versions",
			Singular:   "model_version",
			Children:   []Child{{"artifacts", registry.KindModelArtifact}},
			Events:     containerEvents,
		}, ops[registry.ModelVersion]{
			create: func(ctx context.Context, p Parent, v *registry.ModelVersion) (*registry.ModelVersion, error) {
				if err := attach(&v.RegisteredModelID, "registeredModelId", p, registry.KindRegisteredModel); err != nil {
					return nil, err
				}
				return reg.CreateModelVersion(ctx, v)
			},
			get: reg.GetModelVersion,
			find: func(ctx context.Context, fp FindParams) (*registry.ModelVersion, error) {
				return reg.FindModelVersion(ctx, fp.Name, fp.ExternalID, fp.ParentID)
			},
			update: reg.UpdateModelVersion,
			list: func(ctx context.Context, p Parent, q query.Query) (*registry.List[registry.ModelVersion], error) {
				return reg.ListModelVersions(ctx, p.ID, q)
			},
		}),

		bind(&Handler{
			Kind:       registry.KindModelArtifact,
			Collection: "model_artifacts",
			Singular:   "model_artifact",
			Events:     []string{"finalize", "purge"},
		}, ops[registry.ModelArtifact]{
			create: func(ctx context.Context, p Parent, a *registry.ModelArtifact) (*registry.ModelArtifact, error) {
				var err error
				switch p.Kind {
				case registry.KindExperimentRun:
					err = attach(&a.ExperimentRunID, "experimentRunId", p, registry.KindExperimentRun)
				default:
					err = attach(&a.ModelVersionID, "modelVersionId", p, registry.KindModelVersion)
				}
				if err != nil {
					return nil, err
				}
				return reg.CreateModelArtifact(ctx, a)
			},
			get: reg.GetModelArtifact,
			find: func(ctx context.Context, fp FindParams) (*registry.ModelArtifact, error) {
				return reg.FindModelArtifact(ctx, fp.Name, fp.ExternalID, fp.ParentID)
			},
			update: reg.UpdateModelArtifact,
			list: func(ctx context.Context, p Parent, q query.Query) (*registry.List[registry.ModelArtifact], error) {
				switch {
				case p.ID == "":
					return reg.ListModelArtifacts(ctx, q)
				case p.Kind == registry.KindExperimentRun:
					return reg.ListExperimentRunArtifacts(ctx, p.ID, q)
				case p.Kind == registry.KindModelVersion:
					return reg.ListModelVersionArtifacts(ctx, p.ID, q)
				default:
					return nil, errdefs.InvalidArgument("artifacts cannot be listed under %s", p.Kind)
				}
			},
		}),

		bind(&Handler{
			Kind:       registry.KindExperiment,
			Collection: "experiments",
			Singular:   "experiment",
			Children:   []Child{{"experiment_runs", registry.KindExperimentRun}},
			Events:     containerEvents,
		}, ops[registry.Experiment]{
			create: func(ctx context.Context, _ Parent, e *registry.Experiment) (*registry.Experiment, error) {
				return reg.CreateExperiment(ctx, e)
			},
			get: reg.GetExperiment,
			find: func(ctx context.Context, fp FindParams) (*registry.Experiment, error) {
				return reg.FindExperiment(ctx, fp.Name, fp.ExternalID)
			},
			update: reg.UpdateExperiment,
			list: func(ctx context.Context, _ Parent, q query.Query) (*registry.List[registry.Experiment], error) {
				return reg.ListExperiments(ctx, q)
			},
		}),

		bind(&Handler{
			Kind:       registry.KindExperimentRun,
			Collection: "experiment_runs",
			Singular:   "experiment_run",
			Children: []Child{
				{"artifacts", registry.KindModelArtifact},
				{"metrics", registry.KindMetric},
				{"parameters", registry.KindParameter},
				{"datasets", registry.KindDataSet},
			},
			Events: containerEvents,
		}, ops[registry.ExperimentRun]{
			create: func(ctx context.Context, p Parent, r *registry.ExperimentRun) (*registry.ExperimentRun, error) {
				if err := attach(&r.ExperimentID, "experimentId", p, registry.KindExperiment); err != nil {
					return nil, err
				}
				return reg.CreateExperimentRun(ctx, r)
			},
			get: reg.GetExperimentRun,
			find: func(ctx context.Context, fp FindParams) (*registry.ExperimentRun, error) {
				return reg.FindExperimentRun(ctx, fp.Name, fp.ExternalID, fp.ParentID)
			},
			update: reg.UpdateExperimentRun,
			list: func(ctx context.Context, p Parent, q query.Query) (*registry.List[registry.ExperimentRun], error) {
				return reg.ListExperimentRuns(ctx, p.ID, q)
			},
		}),

		bind(&Handler{
			Kind:       registry.KindMetric,
			Collection: "metrics",
		}, ops[registry.Metric]{
			create: func(ctx context.Context, p Parent, m *registry.Metric) (*registry.Metric, error) {
				if err := attach(&m.ExperimentRunID, "experimentRunId", p, registry.KindExperimentRun); err != nil {
					return nil, err
				}
				return reg.LogMetric(ctx, m.ExperimentRunID, m)
			},
			list: func(ctx context.Context, p Parent, q query.Query) (*registry.List[registry.Metric], error) {
				return reg.ListMetrics(ctx, p.ID, q)
			},
		}),

		bind(&Handler{
			Kind:       registry.KindParameter,
			Collection: "parameters",
		}, ops[registry.Parameter]{
			create: func(ctx context.Context, p Parent, prm *registry.Parameter) (*registry.Parameter, error) {
				if err := attach(&prm.ExperimentRunID, "experimentRunId", p, registry.KindExperimentRun); err != nil {
					return nil, err
				}
				return reg.LogParameter(ctx, prm.ExperimentRunID, prm)
			},
			list: func(ctx context.Context, p Parent, q query.Query) (*registry.List[registry.Parameter], error) {
				return reg.ListParameters(ctx, p.ID, q)
			},
		}),

		bind(&Handler{
			Kind:       registry.KindDataSet,
			Collection: "datasets",
		}, ops[registry.DataSet]{
			create: func(ctx context.Context, p Parent, d *registry.DataSet) (*registry.DataSet, error) {
				if err := attach(&d.ExperimentRunID, "experimentRunId", p, registry.KindExperimentRun); err != nil {
					return nil, err
				}
				return reg.LogDataSet(ctx, d.ExperimentRunID, d)
			},
			list: func(ctx context.Context, p Parent, q query.Query) (*registry.List[registry.DataSet], error) {
				return reg.ListDataSets(ctx, p.ID, q)
			},
		}),
	}
}
