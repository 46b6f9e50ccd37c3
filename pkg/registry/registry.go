// ABOUTME: Registry service: typed operations per entity kind over the entity store
// ABOUTME: Every public operation runs in a "registry.<Op>" trace span

package registry

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nainya/modelregistry/pkg/errdefs"
	"github.com/nainya/modelregistry/pkg/lifecycle"
	"github.com/nainya/modelregistry/pkg/properties"
	"github.com/nainya/modelregistry/pkg/query"
	"github.com/nainya/modelregistry/pkg/store"
)

const instrumentationName = "github.com/nainya/modelregistry/pkg/registry"

// Registry maps typed entities onto the store and enforces their lifecycle
type Registry struct {
	store  *store.Store
	tracer trace.Tracer
	logger zerolog.Logger
}

// Option configures a Registry
type Option func(*Registry)

// WithTracerProvider sets the provider spans are created from. The global
// provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Registry) {
		r.tracer = tp.Tracer(instrumentationName)
	}
}

// WithLogger sets the registry logger
func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// New registers every entity kind in st and returns a registry over it
func New(ctx context.Context, st *store.Store, opts ...Option) (*Registry, error) {
	r := &Registry{
		store:  st,
		tracer: otel.GetTracerProvider().Tracer(instrumentationName),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, kind := range Kinds {
		if _, err := st.RegisterType(ctx, kind); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Store returns the underlying entity store
func (r *Registry) Store() *store.Store {
	return r.store
}

// span starts "registry.<op>" and returns a func that ends it with err
func (r *Registry) span(ctx context.Context, op, kind string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	attrs = append(attrs, attribute.String("registry.kind", kind))
	ctx, span := r.tracer.Start(ctx, "registry."+op, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

func idAttr(id string) attribute.KeyValue {
	return attribute.String("registry.id", id)
}

// codec binds a typed entity to its store kind
type codec[T any] struct {
	kind    string
	machine *lifecycle.Machine
	base    func(*T) *Base
	apply   func(*store.Node, *T) error
	read    func(*store.Node) (*T, error)
	// validate checks the merged node before it is written
	validate func(*store.Node) error
}

var (
	registeredModels = &codec[RegisteredModel]{
		kind:    KindRegisteredModel,
		machine: lifecycle.Container,
		base:    func(m *RegisteredModel) *Base { return &m.Base },
		apply:   applyRegisteredModel,
		read:    readRegisteredModel,
	}
	modelVersions = &codec[ModelVersion]{
		kind:    KindModelVersion,
		machine: lifecycle.Container,
		base:    func(v *ModelVersion) *Base { return &v.Base },
		apply:   applyModelVersion,
		read:    readModelVersion,
	}
	modelArtifacts = &codec[ModelArtifact]{
		kind:     KindModelArtifact,
		machine:  lifecycle.Artifact,
		base:     func(a *ModelArtifact) *Base { return &a.Base },
		apply:    applyModelArtifact,
		read:     readModelArtifact,
		validate: validateStoragePathway,
	}
	experiments = &codec[Experiment]{
		kind:    KindExperiment,
		machine: lifecycle.Container,
		base:    func(e *Experiment) *Base { return &e.Base },
		apply:   applyExperiment,
		read:    readExperiment,
	}
	experimentRuns = &codec[ExperimentRun]{
		kind:    KindExperimentRun,
		machine: lifecycle.Container,
		base:    func(r *ExperimentRun) *Base { return &r.Base },
		apply:   applyExperimentRun,
		read:    readExperimentRun,
	}
	metrics = &codec[Metric]{
		kind:  KindMetric,
		base:  func(m *Metric) *Base { return &m.Base },
		apply: applyMetric,
		read:  readMetric,
	}
	parameters = &codec[Parameter]{
		kind:  KindParameter,
		base:  func(p *Parameter) *Base { return &p.Base },
		apply: applyParameter,
		read:  readParameter,
	}
	dataSets = &codec[DataSet]{
		kind:  KindDataSet,
		base:  func(d *DataSet) *Base { return &d.Base },
		apply: applyDataSet,
		read:  readDataSet,
	}
)

// newNode maps a create request onto a fresh node. The requested state is
// returned separately so the caller can pick the initial state.
func newNode[T any](c *codec[T], t *T) (*store.Node, lifecycle.State, error) {
	if t == nil {
		return nil, "", errdefs.InvalidArgument("%s body is required", c.kind)
	}
	b := c.base(t)
	if b.ID != "" {
		return nil, "", errdefs.InvalidArgument("%s id is assigned by the registry", c.kind)
	}
	if b.Name == "" {
		return nil, "", errdefs.InvalidArgument("%s name is required", c.kind)
	}

	n := &store.Node{Kind: c.kind}
	if err := c.apply(n, t); err != nil {
		return nil, "", err
	}
	requested := stateOf(n)
	delete(n.Properties, propState)
	return n, requested, nil
}

// setInitialState stores the creation state of n
func setInitialState(n *store.Node, initial lifecycle.State) {
	setProp(n, propState, properties.String(initial))
}

// keepState makes a create that lands on an existing entity, through its
// externalId, keep the stored state. Only transitions change state.
func keepState(old, n *store.Node) {
	if st, ok := old.Properties[propState]; ok {
		setProp(n, propState, st)
	}
}

// put writes n and maps the stored node back
func put[T any](ctx context.Context, r *Registry, c *codec[T], n *store.Node, opts ...store.PutOption) (*T, error) {
	if c.validate != nil {
		if err := c.validate(n); err != nil {
			return nil, err
		}
	}
	out, err := r.store.Put(ctx, n, append(opts, store.WithExisting(keepState))...)
	if err != nil {
		return nil, err
	}
	return c.read(out)
}

func get[T any](ctx context.Context, r *Registry, c *codec[T], id string) (*T, error) {
	nid, err := parseID("id", id)
	if err != nil {
		return nil, err
	}
	n, err := r.store.Get(ctx, c.kind, nid)
	if err != nil {
		return nil, err
	}
	return c.read(n)
}

// getNode is get for callers that need the raw node
func getNode(ctx context.Context, r *Registry, kind, field, id string) (*store.Node, error) {
	nid, err := parseID(field, id)
	if err != nil {
		return nil, err
	}
	return r.store.Get(ctx, kind, nid)
}

// find looks an entity up by external id or by name within scope. With
// both given they must name the same entity.
func find[T any](ctx context.Context, r *Registry, c *codec[T], scopeID int64, name, externalID string) (*T, error) {
	var n *store.Node
	var err error

	switch {
	case externalID != "":
		n, err = r.store.GetByExternalID(ctx, c.kind, externalID)
		if err == nil && name != "" && (n.Name != name || (scopeID != 0 && n.ScopeID != scopeID)) {
			err = errdefs.NotFound("%s %q with externalId %q", c.kind, name, externalID)
		}
	case name != "":
		n, err = r.store.GetByName(ctx, c.kind, scopeID, name)
	default:
		return nil, errdefs.InvalidArgument("name or externalId is required")
	}
	if err != nil {
		return nil, err
	}
	return c.read(n)
}

// update applies the set fields of patch to the stored entity
func update[T any](ctx context.Context, r *Registry, c *codec[T], id string, patch *T, opts ...store.MutateOption) (*T, error) {
	nid, err := parseID("id", id)
	if err != nil {
		return nil, err
	}
	if patch == nil {
		return nil, errdefs.InvalidArgument("%s body is required", c.kind)
	}
	if bid := c.base(patch).ID; bid != "" && bid != id {
		return nil, errdefs.InvalidArgument("body id %q does not match %q", bid, id)
	}

	out, err := r.store.Mutate(ctx, c.kind, nid, func(n *store.Node) error {
		from := stateOf(n)
		if err := c.apply(n, patch); err != nil {
			return err
		}
		if c.machine != nil {
			if err := c.machine.Validate(from, stateOf(n)); err != nil {
				return err
			}
		}
		if c.validate != nil {
			return c.validate(n)
		}
		return nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	return c.read(out)
}

// transition fires ev on the stored entity's state
func transition[T any](ctx context.Context, r *Registry, c *codec[T], id string, ev lifecycle.Event) (*T, error) {
	nid, err := parseID("id", id)
	if err != nil {
		return nil, err
	}
	if c.machine == nil {
		return nil, errdefs.InvalidArgument("%s has no lifecycle", c.kind)
	}

	var from lifecycle.State
	out, err := r.store.Mutate(ctx, c.kind, nid, func(n *store.Node) error {
		from = stateOf(n)
		to, err := c.machine.Fire(from, ev)
		if err != nil {
			return err
		}
		setProp(n, propState, properties.String(to))
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Debug().
		Str("kind", c.kind).
		Int64("id", nid).
		Str("event", string(ev)).
		Str("from", string(from)).
		Str("to", out.String(propState)).
		Msg("state transition")
	return c.read(out)
}

func list[T any](ctx context.Context, r *Registry, c *codec[T], q query.Query) (*List[T], error) {
	page, err := r.store.List(ctx, c.kind, q)
	if err != nil {
		return nil, err
	}

	out := &List[T]{
		Items:         make([]*T, 0, len(page.Items)),
		PageSize:      page.PageSize,
		NextPageToken: page.NextPageToken,
	}
	for _, n := range page.Items {
		t, err := c.read(n)
		if err != nil {
			return nil, err
		}
		out.Items = append(out.Items, t)
	}
	out.Size = len(out.Items)
	return out, nil
}

// scoped resolves a parent id for a scoped listing; "" lists the whole kind
func scoped(ctx context.Context, r *Registry, kind, field, parentID string, q query.Query) (query.Query, error) {
	if parentID == "" {
		q.ScopeID = 0
		return q, nil
	}
	n, err := getNode(ctx, r, kind, field, parentID)
	if err != nil {
		return q, err
	}
	q.ScopeID = n.ID
	return q, nil
}

// upsertByName creates n under the run, or updates the entity of the same
// name in place. A concurrent create of the same name is retried once as
// an update.
func upsertByName[T any](ctx context.Context, r *Registry, c *codec[T], runID int64, n *store.Node, merge func(existing, incoming *store.Node) error, opts ...store.PutOption) (*T, error) {
	opts = append(opts, store.WithLink(store.EdgeAttribution, runID))

	for attempt := 0; ; attempt++ {
		existing, err := r.store.GetByName(ctx, c.kind, runID, n.Name)
		switch {
		case errors.Is(err, errdefs.ErrNotFound):
			out, err := put(ctx, r, c, n.Clone(), opts...)
			if errors.Is(err, errdefs.ErrDuplicate) && attempt == 0 {
				continue
			}
			return out, err
		case err != nil:
			return nil, err
		}

		if err := merge(existing, n); err != nil {
			return nil, err
		}
		return put(ctx, r, c, existing, opts...)
	}
}

// Stats reports entity counts and storage usage
func (r *Registry) Stats(ctx context.Context) (st *store.Stats, err error) {
	ctx, end := r.span(ctx, "Stats", "")
	defer func() { end(err) }()
	return r.store.Stats(ctx)
}
