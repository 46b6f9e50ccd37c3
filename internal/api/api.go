// ABOUTME: REST transport of the model registry on gin
// ABOUTME: Routes are generated from the resource table under /api/model_registry/v1alpha3

package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nainya/modelregistry/internal/logger"
	"github.com/nainya/modelregistry/internal/metrics"
	"github.com/nainya/modelregistry/internal/resource"
	"github.com/nainya/modelregistry/pkg/errdefs"
	"github.com/nainya/modelregistry/pkg/query"
)

const (
	BasePath = "/api/model_registry/v1alpha3"

	maxBodyBytes = 1 << 20
)

// Dependencies are the collaborators of the REST server
type Dependencies struct {
	Table   *resource.Table
	Logger  *logger.Logger
	Metrics *metrics.Metrics
}

// NewRouter builds the gin engine serving the registry
func NewRouter(deps Dependencies) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}

	r := gin.New()
	r.Use(RequestID(), AccessLog(deps.Logger, deps.Metrics), gin.Recovery())
	RegisterRoutes(r, deps.Table)
	return r
}

// RegisterRoutes registers every kind of the table on r
func RegisterRoutes(r *gin.Engine, table *resource.Table) {
	g := r.Group(BasePath)

	for _, h := range table.Handlers() {
		// Run-owned kinds are only reachable under their run
		if h.Singular == "" {
			continue
		}
		kind := h.Kind
		item := "/" + h.Collection + "/:id"

		g.GET("/"+h.Collection, listHandler(table, kind, ""))
		g.POST("/"+h.Collection, createHandler(table, kind, ""))
		g.GET(item, getHandler(table, kind))
		g.PATCH(item, updateHandler(table, kind))
		g.DELETE(item, transitionHandler(table, kind, "delete"))
		g.GET("/"+h.Singular, findHandler(table, kind))

		for _, ev := range h.Events {
			g.POST(item+"/"+ev, transitionHandler(table, kind, ev))
		}
		for _, child := range h.Children {
			g.GET(item+"/"+child.Segment, listHandler(table, child.Kind, kind))
			g.POST(item+"/"+child.Segment, createHandler(table, child.Kind, kind))
		}
	}

	g.GET("/experiment_runs/:id/metric_history", metricHistoryHandler(table))
}

func readBody(c *gin.Context) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		return nil, errdefs.InvalidArgument("read body: %v", err)
	}
	return body, nil
}

// parseListQuery reads the list parameters shared by every collection
func parseListQuery(c *gin.Context) (query.Query, error) {
	q := query.Query{
		Filter:    c.Query("filterQuery"),
		PageToken: c.Query("nextPageToken"),
	}

	var err error
	if q.OrderBy, err = query.ParseOrderField(c.Query("orderBy")); err != nil {
		return q, err
	}
	if q.Direction, err = query.ParseDirection(c.Query("sortOrder")); err != nil {
		return q, err
	}
	if s := c.Query("pageSize"); s != "" {
		if q.PageSize, err = strconv.Atoi(s); err != nil {
			return q, errdefs.InvalidArgument("pageSize %q", s)
		}
	}
	return q, nil
}

func parent(c *gin.Context, parentKind string) resource.Parent {
	if parentKind == "" {
		return resource.Parent{}
	}
	return resource.Parent{Kind: parentKind, ID: c.Param("id")}
}

func listHandler(table *resource.Table, kind, parentKind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		q, err := parseListQuery(c)
		if err != nil {
			abort(c, err)
			return
		}
		page, err := table.List(c.Request.Context(), kind, parent(c, parentKind), q)
		if err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusOK, page)
	}
}

func createHandler(table *resource.Table, kind, parentKind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := readBody(c)
		if err != nil {
			abort(c, err)
			return
		}
		out, err := table.Create(c.Request.Context(), kind, parent(c, parentKind), body)
		if err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusCreated, out)
	}
}

func getHandler(table *resource.Table, kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := table.Get(c.Request.Context(), kind, c.Param("id"))
		if err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

func findHandler(table *resource.Table, kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := table.Find(c.Request.Context(), kind, resource.FindParams{
			Name:       c.Query("name"),
			ExternalID: c.Query("externalId"),
			ParentID:   c.Query("parentResourceId"),
		})
		if err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

func updateHandler(table *resource.Table, kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := readBody(c)
		if err != nil {
			abort(c, err)
			return
		}
		out, err := table.Update(c.Request.Context(), kind, c.Param("id"), body)
		if err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

func transitionHandler(table *resource.Table, kind, event string) gin.HandlerFunc {
	return func(c *gin.Context) {
		success := true
		if s := c.Query("success"); s != "" {
			var err error
			if success, err = strconv.ParseBool(s); err != nil {
				abort(c, errdefs.InvalidArgument("success %q", s))
				return
			}
		}
		out, err := table.Transition(c.Request.Context(), kind, c.Param("id"), event, success)
		if err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

func metricHistoryHandler(table *resource.Table) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := table.MetricHistory(c.Request.Context(), c.Param("id"), c.Query("name"))
		if err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}
