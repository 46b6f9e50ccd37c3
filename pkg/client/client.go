// ABOUTME: Go client for the registry gRPC service
// ABOUTME: Decodes Struct replies into registry types and gRPC statuses into registry errors

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nainya/modelregistry/pkg/errdefs"
	"github.com/nainya/modelregistry/pkg/query"
	"github.com/nainya/modelregistry/pkg/registry"
)

const serviceName = "modelregistry.v1.ModelRegistry"

// Parent names the container a nested resource is created or listed under
type Parent struct {
	Kind string
	ID   string
}

// Client talks to one registry server
type Client struct {
	conn    *grpc.ClientConn
	owned   bool
	timeout time.Duration
}

type options struct {
	timeout  time.Duration
	dialOpts []grpc.DialOption
}

// Option configures Dial
type Option func(*options)

// WithTimeout bounds every call that has no deadline of its own
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithDialOptions replaces the default insecure transport options
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *options) { o.dialOpts = opts }
}

// Dial connects to the server at target
func Dial(target string, opts ...Option) (*Client, error) {
	o := options{
		timeout:  30 * time.Second,
		dialOpts: []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())},
	}
	for _, opt := range opts {
		opt(&o)
	}
	conn, err := grpc.NewClient(target, o.dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return &Client{conn: conn, owned: true, timeout: o.timeout}, nil
}

// New wraps an existing connection. Close leaves conn open.
func New(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Close releases the connection when Dial created it
func (c *Client) Close() error {
	if !c.owned {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, req map[string]any, body any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, errdefs.InvalidArgument("request: %v", err)
	}
	if body != nil {
		s, err := toStruct(body)
		if err != nil {
			return nil, err
		}
		in.Fields["body"] = structpb.NewStructValue(s)
	}

	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/"+method, in, out); err != nil {
		return nil, fromStatus(err)
	}
	return out, nil
}

func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errdefs.InvalidArgument("encode body: %v", err)
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(data, s); err != nil {
		return nil, errdefs.InvalidArgument("body must be an object: %v", err)
	}
	return s, nil
}

func decode[T any](s *structpb.Struct) (*T, error) {
	data, err := protojson.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	return out, nil
}

func withParent(req map[string]any, p Parent) map[string]any {
	if p.Kind != "" {
		req["parentKind"] = p.Kind
		req["parentId"] = p.ID
	}
	return req
}

// Create creates a resource of kind, nested under p when p is set
func Create[T any](ctx context.Context, c *Client, kind string, p Parent, body *T) (*T, error) {
	out, err := c.invoke(ctx, "Create", withParent(map[string]any{"kind": kind}, p), body)
	if err != nil {
		return nil, err
	}
	return decode[T](out)
}

// Get reads one resource by id
func Get[T any](ctx context.Context, c *Client, kind, id string) (*T, error) {
	out, err := c.invoke(ctx, "Get", map[string]any{"kind": kind, "id": id}, nil)
	if err != nil {
		return nil, err
	}
	return decode[T](out)
}

// FindParams selects a resource by name, optionally within a parent, or by
// external id
type FindParams struct {
	Name       string
	ExternalID string
	ParentID   string
}

// Find looks a resource up by its identity
func Find[T any](ctx context.Context, c *Client, kind string, fp FindParams) (*T, error) {
	out, err := c.invoke(ctx, "Find", map[string]any{
		"kind":             kind,
		"name":             fp.Name,
		"externalId":       fp.ExternalID,
		"parentResourceId": fp.ParentID,
	}, nil)
	if err != nil {
		return nil, err
	}
	return decode[T](out)
}

// Update merges the set fields of body into the resource
func Update[T any](ctx context.Context, c *Client, kind, id string, body *T) (*T, error) {
	out, err := c.invoke(ctx, "Update", map[string]any{"kind": kind, "id": id}, body)
	if err != nil {
		return nil, err
	}
	return decode[T](out)
}

// Transition fires a lifecycle event on the resource
func Transition[T any](ctx context.Context, c *Client, kind, id, event string, success bool) (*T, error) {
	out, err := c.invoke(ctx, "Transition", map[string]any{
		"kind":    kind,
		"id":      id,
		"event":   event,
		"success": success,
	}, nil)
	if err != nil {
		return nil, err
	}
	return decode[T](out)
}

// List fetches one page
func List[T any](ctx context.Context, c *Client, kind string, p Parent, q query.Query) (*registry.List[T], error) {
	req := withParent(map[string]any{"kind": kind}, p)
	if q.Filter != "" {
		req["filterQuery"] = q.Filter
	}
	if q.OrderBy != "" {
		req["orderBy"] = string(q.OrderBy)
	}
	if q.Direction != "" {
		req["sortOrder"] = string(q.Direction)
	}
	if q.PageSize > 0 {
		req["pageSize"] = q.PageSize
	}
	if q.PageToken != "" {
		req["nextPageToken"] = q.PageToken
	}

	out, err := c.invoke(ctx, "List", req, nil)
	if err != nil {
		return nil, err
	}
	return decode[registry.List[T]](out)
}

// ListAll follows page tokens until the listing is exhausted
func ListAll[T any](ctx context.Context, c *Client, kind string, p Parent, q query.Query) ([]*T, error) {
	return query.Collect[*T](ctx, func(ctx context.Context, token string) ([]*T, string, error) {
		q.PageToken = token
		page, err := List[T](ctx, c, kind, p, q)
		if err != nil {
			return nil, "", err
		}
		return page.Items, page.NextPageToken, nil
	})
}

// CreateRegisteredModel creates a top level model
func (c *Client) CreateRegisteredModel(ctx context.Context, m *registry.RegisteredModel) (*registry.RegisteredModel, error) {
	return Create(ctx, c, registry.KindRegisteredModel, Parent{}, m)
}

// CreateModelVersion creates a version of the model modelID
func (c *Client) CreateModelVersion(ctx context.Context, modelID string, v *registry.ModelVersion) (*registry.ModelVersion, error) {
	return Create(ctx, c, registry.KindModelVersion, Parent{Kind: registry.KindRegisteredModel, ID: modelID}, v)
}

// CreateModelArtifact creates an artifact owned by the version versionID
func (c *Client) CreateModelArtifact(ctx context.Context, versionID string, a *registry.ModelArtifact) (*registry.ModelArtifact, error) {
	return Create(ctx, c, registry.KindModelArtifact, Parent{Kind: registry.KindModelVersion, ID: versionID}, a)
}

// CreateExperiment creates a top level experiment
func (c *Client) CreateExperiment(ctx context.Context, e *registry.Experiment) (*registry.Experiment, error) {
	return Create(ctx, c, registry.KindExperiment, Parent{}, e)
}

// CreateExperimentRun creates a run of the experiment experimentID
func (c *Client) CreateExperimentRun(ctx context.Context, experimentID string, r *registry.ExperimentRun) (*registry.ExperimentRun, error) {
	return Create(ctx, c, registry.KindExperimentRun, Parent{Kind: registry.KindExperiment, ID: experimentID}, r)
}

// LogMetric records a metric value on the run runID
func (c *Client) LogMetric(ctx context.Context, runID string, m *registry.Metric) (*registry.Metric, error) {
	out, err := c.invoke(ctx, "LogMetric", map[string]any{"experimentRunId": runID}, m)
	if err != nil {
		return nil, err
	}
	return decode[registry.Metric](out)
}

// MetricHistory returns every value logged for the metric name on runID
func (c *Client) MetricHistory(ctx context.Context, runID, name string) (*registry.List[registry.Metric], error) {
	out, err := c.invoke(ctx, "GetMetricHistory", map[string]any{"experimentRunId": runID, "name": name}, nil)
	if err != nil {
		return nil, err
	}
	return decode[registry.List[registry.Metric]](out)
}

// PutEdge links childID under parentID
func (c *Client) PutEdge(ctx context.Context, parentID, childID string) error {
	_, err := c.invoke(ctx, "PutEdge", map[string]any{"parentId": parentID, "childId": childID}, nil)
	return err
}

// PutAttribution attributes artifactID to containerID
func (c *Client) PutAttribution(ctx context.Context, containerID, artifactID string) error {
	_, err := c.invoke(ctx, "PutAttribution", map[string]any{"containerId": containerID, "artifactId": artifactID}, nil)
	return err
}

// Health is the reply of the Health call
type Health struct {
	Status        string  `json:"status"`
	Service       string  `json:"service"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

// Health checks the server is serving
func (c *Client) Health(ctx context.Context) (*Health, error) {
	out, err := c.invoke(ctx, "Health", map[string]any{}, nil)
	if err != nil {
		return nil, err
	}
	return decode[Health](out)
}

// KindCount is the number of stored resources of one kind
type KindCount struct {
	Kind  string `json:"kind"`
	Count int    `json:"count"`
}

// Stats is the reply of the Stats call
type Stats struct {
	Kinds     []KindCount `json:"kinds"`
	Pages     uint64      `json:"pages"`
	FreePages int         `json:"freePages"`
	SizeBytes int64       `json:"sizeBytes"`
	LastLSN   uint64      `json:"lastLsn"`
}

// Stats reports per kind counts and storage usage
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	out, err := c.invoke(ctx, "Stats", map[string]any{}, nil)
	if err != nil {
		return nil, err
	}
	return decode[Stats](out)
}

// Error is a failed call. It unwraps to the registry sentinel it carries so
// errors.Is and errdefs.CategoryOf work on it.
type Error struct {
	Code    codes.Code
	Message string
	Reason  string
	err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.err
}

func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	e := &Error{Code: st.Code(), Message: st.Message()}
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok {
			e.Reason = info.GetReason()
			e.err = errdefs.FromReason(e.Reason)
		}
	}
	if e.err != nil {
		return e
	}

	switch st.Code() {
	case codes.Unavailable:
		e.err = errdefs.ErrUnavailable
	case codes.NotFound:
		e.err = errdefs.ErrNotFound
	case codes.AlreadyExists:
		e.err = errdefs.ErrAlreadyExists
	case codes.InvalidArgument:
		e.err = errdefs.ErrInvalidArgument
	case codes.FailedPrecondition:
		e.err = errdefs.ErrStateTransition
	case codes.DeadlineExceeded:
		e.err = context.DeadlineExceeded
	case codes.Canceled:
		e.err = context.Canceled
	}
	return e
}
