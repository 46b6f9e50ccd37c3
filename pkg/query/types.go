// ABOUTME: List query types: ordering, direction, page size and the fluent builder
// ABOUTME: A Query is kind-agnostic; the store resolves fields per kind

package query

import (
	"strings"

	"github.com/nainya/modelregistry/pkg/errdefs"
)

// OrderField selects the sort key of a listing
type OrderField string

const (
	OrderCreateTime     OrderField = "CREATE_TIME"
	OrderLastUpdateTime OrderField = "LAST_UPDATE_TIME"
	OrderID             OrderField = "ID"
)

// Direction of a listing. Ties on the sort key are always broken by id
// ascending.
type Direction string

const (
	Asc  Direction = "ASC"
	Desc Direction = "DESC"
)

const (
	DefaultPageSize = 100
	MaxPageSize     = 1000
)

// ParseOrderField accepts the enum name case-insensitively; empty means ID
func ParseOrderField(s string) (OrderField, error) {
	switch OrderField(strings.ToUpper(strings.TrimSpace(s))) {
	case "", OrderID:
		return OrderID, nil
	case OrderCreateTime:
		return OrderCreateTime, nil
	case OrderLastUpdateTime:
		return OrderLastUpdateTime, nil
	default:
		return "", errdefs.InvalidArgument("orderBy %q", s)
	}
}

// ParseDirection accepts ASC or DESC case-insensitively; empty means ASC
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToUpper(strings.TrimSpace(s))) {
	case "", Asc:
		return Asc, nil
	case Desc:
		return Desc, nil
	default:
		return "", errdefs.InvalidArgument("sortOrder %q", s)
	}
}

// Query represents one page request of a listing
type Query struct {
	Filter    string
	OrderBy   OrderField
	Direction Direction
	PageSize  int
	PageToken string

	// ScopeID restricts the listing to children of one container; zero
	// lists the whole kind
	ScopeID int64
}

// Limits bounds page sizes
type Limits struct {
	DefaultPageSize int
	MaxPageSize     int
}

// DefaultLimits returns the built-in page size limits
func DefaultLimits() Limits {
	return Limits{DefaultPageSize: DefaultPageSize, MaxPageSize: MaxPageSize}
}

// Normalize fills defaults and clamps the page size
func (q Query) Normalize(l Limits) (Query, error) {
	if l.DefaultPageSize <= 0 {
		l.DefaultPageSize = DefaultPageSize
	}
	if l.MaxPageSize <= 0 {
		l.MaxPageSize = MaxPageSize
	}

	var err error
	if q.OrderBy, err = ParseOrderField(string(q.OrderBy)); err != nil {
		return q, err
	}
	if q.Direction, err = ParseDirection(string(q.Direction)); err != nil {
		return q, err
	}

	if q.PageSize <= 0 {
		q.PageSize = l.DefaultPageSize
	}
	q.PageSize = min(q.PageSize, l.MaxPageSize)
	return q, nil
}

// QueryBuilder provides fluent interface for building queries
type QueryBuilder struct {
	query Query
}

// NewQueryBuilder creates a new query builder
func NewQueryBuilder() *QueryBuilder {
	return &QueryBuilder{
		query: Query{
			OrderBy:   OrderID,
			Direction: Asc,
		},
	}
}

// Where sets the filter expression
func (qb *QueryBuilder) Where(filter string) *QueryBuilder {
	qb.query.Filter = filter
	return qb
}

// OrderBy sets ordering field and direction
func (qb *QueryBuilder) OrderBy(field OrderField, dir Direction) *QueryBuilder {
	qb.query.OrderBy = field
	qb.query.Direction = dir
	return qb
}

// PageSize sets the page size
func (qb *QueryBuilder) PageSize(n int) *QueryBuilder {
	qb.query.PageSize = n
	return qb
}

// PageToken continues a previous listing
func (qb *QueryBuilder) PageToken(token string) *QueryBuilder {
	qb.query.PageToken = token
	return qb
}

// Scope restricts the listing to one container
func (qb *QueryBuilder) Scope(id int64) *QueryBuilder {
	qb.query.ScopeID = id
	return qb
}

// Build returns the constructed query
func (qb *QueryBuilder) Build() Query {
	return qb.query
}
