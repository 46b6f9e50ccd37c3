// ABOUTME: gRPC transport of the model registry
// ABOUTME: Every method takes and returns a google.protobuf.Struct carrying the resource JSON

package server

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nainya/modelregistry/internal/logger"
	"github.com/nainya/modelregistry/internal/resource"
	"github.com/nainya/modelregistry/pkg/errdefs"
	"github.com/nainya/modelregistry/pkg/query"
)

const (
	ServiceName = "modelregistry.v1.ModelRegistry"

	// ErrorDomain is the domain of the ErrorInfo detail attached to failures
	ErrorDomain = "modelregistry.nainya.github.com"
)

// ModelRegistryServer is the service implemented by Server
type ModelRegistryServer interface {
	Create(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Get(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Find(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Update(context.Context, *structpb.Struct) (*structpb.Struct, error)
	List(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Transition(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PutEdge(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PutAttribution(context.Context, *structpb.Struct) (*structpb.Struct, error)
	LogMetric(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetMetricHistory(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Health(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Stats(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type method func(ModelRegistryServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, fn method) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(ModelRegistryServer)
			if interceptor == nil {
				return fn(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return fn(s, ctx, req.(*structpb.Struct))
			})
		},
	}
}

// ServiceDesc describes the registry service for grpc.Server.RegisterService
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ModelRegistryServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Create", ModelRegistryServer.Create),
		unary("Get", ModelRegistryServer.Get),
		unary("Find", ModelRegistryServer.Find),
		unary("Update", ModelRegistryServer.Update),
		unary("List", ModelRegistryServer.List),
		unary("Transition", ModelRegistryServer.Transition),
		unary("PutEdge", ModelRegistryServer.PutEdge),
		unary("PutAttribution", ModelRegistryServer.PutAttribution),
		unary("LogMetric", ModelRegistryServer.LogMetric),
		unary("GetMetricHistory", ModelRegistryServer.GetMetricHistory),
		unary("Health", ModelRegistryServer.Health),
		unary("Stats", ModelRegistryServer.Stats),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "modelregistry/v1/registry",
}

// Server implements ModelRegistryServer on a resource table
type Server struct {
	table     *resource.Table
	log       *logger.Logger
	startTime time.Time
}

// NewServer creates a gRPC server backed by table
func NewServer(table *resource.Table, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	return &Server{table: table, log: log, startTime: time.Now()}
}

// Register registers s on gs
func Register(gs *grpc.Server, s ModelRegistryServer) {
	gs.RegisterService(&ServiceDesc, s)
}

var _ ModelRegistryServer = (*Server)(nil)

func (s *Server) Create(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	body, err := bodyOf(in)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(s.table.Create(ctx, str(in, "kind"), parentOf(in), body))
}

func (s *Server) Get(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return reply(s.table.Get(ctx, str(in, "kind"), str(in, "id")))
}

func (s *Server) Find(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return reply(s.table.Find(ctx, str(in, "kind"), resource.FindParams{
		Name:       str(in, "name"),
		ExternalID: str(in, "externalId"),
		ParentID:   str(in, "parentResourceId"),
	}))
}

func (s *Server) Update(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	body, err := bodyOf(in)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(s.table.Update(ctx, str(in, "kind"), str(in, "id"), body))
}

func (s *Server) List(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	q, err := queryOf(in)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(s.table.List(ctx, str(in, "kind"), parentOf(in), q))
}

func (s *Server) Transition(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	success := true
	if v, ok := in.GetFields()["success"]; ok {
		success = v.GetBoolValue()
	}
	return reply(s.table.Transition(ctx, str(in, "kind"), str(in, "id"), str(in, "event"), success))
}

func (s *Server) PutEdge(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.table.PutEdge(ctx, str(in, "parentId"), str(in, "childId")); err != nil {
		return nil, toStatus(err)
	}
	return &structpb.Struct{}, nil
}

func (s *Server) PutAttribution(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.table.PutAttribution(ctx, str(in, "containerId"), str(in, "artifactId")); err != nil {
		return nil, toStatus(err)
	}
	return &structpb.Struct{}, nil
}

// LogMetric is Create of a Metric under the run named by experimentRunId
func (s *Server) LogMetric(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	body, err := bodyOf(in)
	if err != nil {
		return nil, toStatus(err)
	}
	p := resource.Parent{Kind: "ExperimentRun", ID: str(in, "experimentRunId")}
	return reply(s.table.Create(ctx, "Metric", p, body))
}

func (s *Server) GetMetricHistory(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	out, err := s.table.MetricHistory(ctx, str(in, "experimentRunId"), str(in, "name"))
	return reply(out, err)
}

func (s *Server) Health(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return reply(map[string]any{
		"status":        "SERVING",
		"service":       "model-registry",
		"uptimeSeconds": time.Since(s.startTime).Seconds(),
	}, nil)
}

func (s *Server) Stats(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	st, err := s.table.Stats(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	kinds := make([]any, 0, len(st.Kinds))
	for _, k := range st.Kinds {
		kinds = append(kinds, map[string]any{"kind": k.Kind, "count": k.Count})
	}
	return reply(map[string]any{
		"kinds":     kinds,
		"pages":     st.Storage.Pages,
		"freePages": st.Storage.FreePages,
		"sizeBytes": st.Storage.SizeBytes,
		"lastLsn":   st.LastLSN,
	}, nil)
}

func str(in *structpb.Struct, key string) string {
	return in.GetFields()[key].GetStringValue()
}

func parentOf(in *structpb.Struct) resource.Parent {
	return resource.Parent{Kind: str(in, "parentKind"), ID: str(in, "parentId")}
}

func bodyOf(in *structpb.Struct) ([]byte, error) {
	body := in.GetFields()["body"].GetStructValue()
	if body == nil {
		return nil, errdefs.InvalidArgument("body must be an object")
	}
	data, err := protojson.Marshal(body)
	if err != nil {
		return nil, errdefs.InvalidArgument("body: %v", err)
	}
	return data, nil
}

func queryOf(in *structpb.Struct) (query.Query, error) {
	q := query.Query{
		Filter:    str(in, "filterQuery"),
		PageToken: str(in, "nextPageToken"),
	}
	var err error
	if q.OrderBy, err = query.ParseOrderField(str(in, "orderBy")); err != nil {
		return q, err
	}
	if q.Direction, err = query.ParseDirection(str(in, "sortOrder")); err != nil {
		return q, err
	}
	if v, ok := in.GetFields()["pageSize"]; ok {
		n := v.GetNumberValue()
		if n != float64(int(n)) {
			return q, errdefs.InvalidArgument("pageSize %v", n)
		}
		q.PageSize = int(n)
	}
	return q, nil
}

// reply converts a registry result into a Struct, or err into a status
func reply(out any, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, toStatus(err)
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(data, s); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return s, nil
}

func codeOf(err error) codes.Code {
	switch {
	case errors.Is(err, errdefs.ErrNotFound), errors.Is(err, errdefs.ErrTypeNotFound):
		return codes.NotFound
	case errors.Is(err, errdefs.ErrDuplicate), errors.Is(err, errdefs.ErrAlreadyExists):
		return codes.AlreadyExists
	case errors.Is(err, errdefs.ErrStateTransition):
		return codes.FailedPrecondition
	case errors.Is(err, errdefs.ErrInvalidArgument),
		errors.Is(err, errdefs.ErrInvalidPageToken),
		errors.Is(err, errdefs.ErrUnsupportedType):
		return codes.InvalidArgument
	case errors.Is(err, errdefs.ErrUnavailable):
		return codes.Unavailable
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}

// toStatus maps err onto a gRPC status carrying an ErrorInfo whose reason
// names the registry error
func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	st := status.New(codeOf(err), err.Error())
	reason := errdefs.Reason(err)
	if reason == "" {
		return st.Err()
	}
	detailed, derr := st.WithDetails(&errdetails.ErrorInfo{Reason: reason, Domain: ErrorDomain})
	if derr != nil {
		return st.Err()
	}
	return detailed.Err()
}
