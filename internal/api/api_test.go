package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/modelregistry/internal/resource"
	"github.com/nainya/modelregistry/pkg/registry"
	"github.com/nainya/modelregistry/pkg/store"
)

func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st, err := store.Open(store.Options{
		Path:   filepath.Join(t.TempDir(), "registry.db"),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	reg, err := registry.New(context.Background(), st)
	require.NoError(t, err)
	table, err := resource.New(reg)
	require.NoError(t, err)

	return NewRouter(Dependencies{Table: table})
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != nil {
		var data []byte
		switch b := body.(type) {
		case string:
			data = []byte(b)
		default:
			var err error
			data, err = json.Marshal(b)
			require.NoError(t, err)
		}
		req = httptest.NewRequest(method, BasePath+path, bytes.NewReader(data))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, BasePath+path, nil)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestModelLifecycleOverREST(t *testing.T) {
	r := setupRouter(t)

	w := do(t, r, http.MethodPost, "/registered_models", `{"name":"mnist","owner":"alice"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	model := decode[registry.RegisteredModel](t, w)
	assert.Equal(t, "mnist", model.Name)
	assert.NotEmpty(t, model.ID)

	w = do(t, r, http.MethodPost, "/registered_models/"+model.ID+"/versions", `{"name":"v1"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	version := decode[registry.ModelVersion](t, w)
	assert.Equal(t, model.ID, version.RegisteredModelID)

	w = do(t, r, http.MethodPost, "/model_versions/"+version.ID+"/artifacts", `{"name":"onnx"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	artifact := decode[registry.ModelArtifact](t, w)
	assert.Equal(t, "PENDING", string(*artifact.State))

	w = do(t, r, http.MethodPost, "/model_artifacts/"+artifact.ID+"/finalize?success=true", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	artifact = decode[registry.ModelArtifact](t, w)
	assert.Equal(t, "LIVE", string(*artifact.State))

	w = do(t, r, http.MethodPost, "/model_artifacts/"+artifact.ID+"/finalize", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, r, http.MethodGet, "/model_versions/"+version.ID+"/artifacts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[registry.List[registry.ModelArtifact]](t, w)
	assert.Equal(t, 1, page.Size)

	w = do(t, r, http.MethodDelete, "/registered_models/"+model.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ARCHIVED", string(*decode[registry.RegisteredModel](t, w).State))

	w = do(t, r, http.MethodPost, "/registered_models/"+model.ID+"/restore", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = do(t, r, http.MethodPost, "/registered_models/"+model.ID+"/restore", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestErrorMapping(t *testing.T) {
	r := setupRouter(t)
	require.Equal(t, http.StatusCreated, do(t, r, http.MethodPost, "/registered_models", `{"name":"m"}`).Code)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"missing", http.MethodGet, "/registered_models/42", nil, http.StatusNotFound, "NOT_FOUND"},
		{"duplicate", http.MethodPost, "/registered_models", `{"name":"m"}`, http.StatusConflict, "DUPLICATE"},
		{"bad body", http.MethodPost, "/registered_models", `{"name":1}`, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"bad id", http.MethodGet, "/registered_models/abc", nil, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"bad page size", http.MethodGet, "/registered_models?pageSize=ten", nil, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"bad order", http.MethodGet, "/registered_models?orderBy=NAME", nil, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"bad token", http.MethodGet, "/registered_models?nextPageToken=garbage", nil, http.StatusBadRequest, "INVALID_PAGE_TOKEN"},
		{"bad filter", http.MethodGet, "/registered_models?filterQuery=" + url.QueryEscape("name =="), nil, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"find without params", http.MethodGet, "/registered_model", nil, http.StatusBadRequest, "INVALID_ARGUMENT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, r, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			resp := decode[ErrorResponse](t, w)
			assert.Equal(t, tt.code, resp.Code)
			assert.NotEmpty(t, resp.Message)
		})
	}
}

func TestListParamsAndPaging(t *testing.T) {
	r := setupRouter(t)
	for _, name := range []string{"a", "b", "c"} {
		require.Equal(t, http.StatusCreated, do(t, r, http.MethodPost, "/registered_models", map[string]any{"name": name}).Code)
	}

	w := do(t, r, http.MethodGet, "/registered_models?pageSize=2&sortOrder=DESC&orderBy=ID", nil)
	require.Equal(t, http.StatusOK, w.Code)
	first := decode[registry.List[registry.RegisteredModel]](t, w)
	require.Len(t, first.Items, 2)
	assert.Equal(t, "c", first.Items[0].Name)
	require.NotEmpty(t, first.NextPageToken)

	w = do(t, r, http.MethodGet, "/registered_models?pageSize=2&sortOrder=DESC&orderBy=ID&nextPageToken="+url.QueryEscape(first.NextPageToken), nil)
	require.Equal(t, http.StatusOK, w.Code)
	second := decode[registry.List[registry.RegisteredModel]](t, w)
	require.Len(t, second.Items, 1)
	assert.Equal(t, "a", second.Items[0].Name)
	assert.Empty(t, second.NextPageToken)

	w = do(t, r, http.MethodGet, "/registered_models?filterQuery="+url.QueryEscape("name = 'b'"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[registry.List[registry.RegisteredModel]](t, w).Size)

	w = do(t, r, http.MethodGet, "/registered_model?name=b", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "b", decode[registry.RegisteredModel](t, w).Name)
}

func TestRunMetricsOverREST(t *testing.T) {
	r := setupRouter(t)

	w := do(t, r, http.MethodPost, "/experiments", `{"name":"tuning"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	exp := decode[registry.Experiment](t, w)

	w = do(t, r, http.MethodPost, "/experiments/"+exp.ID+"/experiment_runs", `{"name":"r1"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	run := decode[registry.ExperimentRun](t, w)

	for _, body := range []string{`{"name":"acc","value":0.5,"step":1}`, `{"name":"acc","value":0.7,"step":2}`} {
		w = do(t, r, http.MethodPost, "/experiment_runs/"+run.ID+"/metrics", body)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	w = do(t, r, http.MethodGet, "/experiment_runs/"+run.ID+"/metric_history?name=acc", nil)
	require.Equal(t, http.StatusOK, w.Code)
	history := decode[registry.List[registry.Metric]](t, w)
	require.Len(t, history.Items, 2)
	assert.Equal(t, 0.7, *history.Items[1].Value)

	w = do(t, r, http.MethodGet, "/experiment_runs/"+run.ID+"/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[registry.List[registry.Metric]](t, w).Size)
}

func TestRequestIDHeader(t *testing.T) {
	r := setupRouter(t)

	w := do(t, r, http.MethodGet, "/registered_models", nil)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, BasePath+"/registered_models", nil)
	req.Header.Set(RequestIDHeader, "trace-me")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "trace-me", w.Header().Get(RequestIDHeader))
}
