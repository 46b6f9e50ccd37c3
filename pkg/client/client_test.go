package client

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/nainya/modelregistry/internal/resource"
	"github.com/nainya/modelregistry/internal/server"
	"github.com/nainya/modelregistry/pkg/errdefs"
	"github.com/nainya/modelregistry/pkg/query"
	"github.com/nainya/modelregistry/pkg/registry"
	"github.com/nainya/modelregistry/pkg/store"
)

func setupClient(t *testing.T) *Client {
	t.Helper()

	st, err := store.Open(store.Options{
		Path:   filepath.Join(t.TempDir(), "registry.db"),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	reg, err := registry.New(context.Background(), st)
	require.NoError(t, err)
	table, err := resource.New(reg)
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	server.Register(gs, server.NewServer(table, nil))
	go func() { _ = gs.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		gs.Stop()
		st.Close()
	})
	return New(conn)
}

func TestModelFlow(t *testing.T) {
	c := setupClient(t)
	ctx := context.Background()

	model, err := c.CreateRegisteredModel(ctx, &registry.RegisteredModel{Base: registry.Base{Name: "mnist"}})
	require.NoError(t, err)
	require.NotEmpty(t, model.ID)

	version, err := c.CreateModelVersion(ctx, model.ID, &registry.ModelVersion{Base: registry.Base{Name: "v1"}})
	require.NoError(t, err)
	assert.Equal(t, model.ID, version.RegisteredModelID)

	artifact, err := c.CreateModelArtifact(ctx, version.ID, &registry.ModelArtifact{Base: registry.Base{Name: "weights"}})
	require.NoError(t, err)
	assert.Equal(t, "PENDING", string(*artifact.State))

	artifact, err = Transition[registry.ModelArtifact](ctx, c, registry.KindModelArtifact, artifact.ID, "finalize", true)
	require.NoError(t, err)
	assert.Equal(t, "LIVE", string(*artifact.State))

	found, err := Find[registry.ModelVersion](ctx, c, registry.KindModelVersion, FindParams{Name: "v1", ParentID: model.ID})
	require.NoError(t, err)
	assert.Equal(t, version.ID, found.ID)

	got, err := Get[registry.RegisteredModel](ctx, c, registry.KindRegisteredModel, model.ID)
	require.NoError(t, err)
	assert.Equal(t, "mnist", got.Name)

	h, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "SERVING", h.Status)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	counts := map[string]int{}
	for _, k := range stats.Kinds {
		counts[k.Kind] = k.Count
	}
	assert.Equal(t, 1, counts[registry.KindModelArtifact])
}

func TestListAllFollowsTokens(t *testing.T) {
	c := setupClient(t)
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c", "d", "e"} {
		_, err := c.CreateExperiment(ctx, &registry.Experiment{Base: registry.Base{Name: name}})
		require.NoError(t, err)
	}

	q := query.NewQueryBuilder().OrderBy(query.OrderID, query.Asc).PageSize(2).Build()
	all, err := ListAll[registry.Experiment](ctx, c, registry.KindExperiment, Parent{}, q)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "a", all[0].Name)
	assert.Equal(t, "e", all[4].Name)
}

func TestRunMetrics(t *testing.T) {
	c := setupClient(t)
	ctx := context.Background()

	exp, err := c.CreateExperiment(ctx, &registry.Experiment{Base: registry.Base{Name: "tuning"}})
	require.NoError(t, err)
	run, err := c.CreateExperimentRun(ctx, exp.ID, &registry.ExperimentRun{Base: registry.Base{Name: "r1"}})
	require.NoError(t, err)

	for i, v := range []float64{0.2, 0.4, 0.6} {
		_, err := c.LogMetric(ctx, run.ID, &registry.Metric{
			Base:  registry.Base{Name: "loss"},
			Value: registry.Ptr(v),
			Step:  registry.Ptr(int64(i)),
		})
		require.NoError(t, err)
	}

	history, err := c.MetricHistory(ctx, run.ID, "loss")
	require.NoError(t, err)
	require.Len(t, history.Items, 3)
	assert.Equal(t, 0.6, *history.Items[2].Value)
	assert.Equal(t, int64(2), *history.Items[2].Step)
}

func TestErrorsKeepTheirSentinel(t *testing.T) {
	c := setupClient(t)
	ctx := context.Background()

	_, err := Get[registry.RegisteredModel](ctx, c, registry.KindRegisteredModel, "404")
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
	assert.Equal(t, errdefs.CategoryNotFound, errdefs.CategoryOf(err))

	_, err = c.CreateRegisteredModel(ctx, &registry.RegisteredModel{Base: registry.Base{Name: "dup"}})
	require.NoError(t, err)
	_, err = c.CreateRegisteredModel(ctx, &registry.RegisteredModel{Base: registry.Base{Name: "dup"}})
	assert.ErrorIs(t, err, errdefs.ErrDuplicate)

	var ce *Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, codes.AlreadyExists, ce.Code)
	assert.Equal(t, "DUPLICATE", ce.Reason)

	_, err = List[registry.RegisteredModel](ctx, c, registry.KindRegisteredModel, Parent{}, query.Query{PageToken: "nope"})
	assert.ErrorIs(t, err, errdefs.ErrInvalidPageToken)
	assert.Equal(t, errdefs.CategoryValidation, errdefs.CategoryOf(err))
}

func TestFromStatusWithoutDetails(t *testing.T) {
	tests := []struct {
		code codes.Code
		want error
		cat  errdefs.Category
	}{
		{codes.Unavailable, errdefs.ErrUnavailable, errdefs.CategoryConnection},
		{codes.NotFound, errdefs.ErrNotFound, errdefs.CategoryNotFound},
		{codes.InvalidArgument, errdefs.ErrInvalidArgument, errdefs.CategoryValidation},
		{codes.FailedPrecondition, errdefs.ErrStateTransition, errdefs.CategoryValidation},
		{codes.DeadlineExceeded, context.DeadlineExceeded, errdefs.CategoryOther},
	}

	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			err := fromStatus(status.Error(tt.code, "boom"))
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.cat, errdefs.CategoryOf(err))
			assert.Equal(t, "boom", err.Error())
		})
	}

	plain := errors.New("plain")
	assert.Same(t, plain, fromStatus(plain))
}

func TestUnreachableServerIsConnectionError(t *testing.T) {
	lis := bufconn.Listen(1024)
	lis.Close()

	c, err := Dial("passthrough:///closed",
		WithDialOptions(
			grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		),
	)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Health(context.Background())
	require.Error(t, err)
	assert.Equal(t, errdefs.CategoryConnection, errdefs.CategoryOf(err))
}
