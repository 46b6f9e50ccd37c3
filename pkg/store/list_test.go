package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/nainya/modelregistry/pkg/errdefs"
	"github.com/nainya/modelregistry/pkg/properties"
	"github.com/nainya/modelregistry/pkg/query"
)

func queryAll() query.Query {
	return query.NewQueryBuilder().PageSize(query.MaxPageSize).Build()
}

// tiedClock hands out the same millisecond to every group of n calls
func tiedClock(n int) func() time.Time {
	var mu sync.Mutex
	calls := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := time.UnixMilli(1_700_000_000_000 + int64(calls/n))
		calls++
		return t
	}
}

func seedModels(t *testing.T, s *Store, count int) []*Node {
	t.Helper()
	ctx := context.Background()
	var out []*Node
	for i := 0; i < count; i++ {
		n, err := s.Put(ctx, &Node{
			Kind:             kindModel,
			Name:             fmt.Sprintf("model-%02d", i),
			CustomProperties: properties.Map{"rank": properties.Int(int64(i % 4))},
		})
		if err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
		out = append(out, n)
	}
	return out
}

func ids(nodes []*Node) []int64 {
	out := make([]int64, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}

func listAll(ctx context.Context, s *Store, q query.Query) ([]*Node, error) {
	return query.Collect(ctx, func(ctx context.Context, token string) ([]*Node, string, error) {
		q.PageToken = token
		page, err := s.List(ctx, kindModel, q)
		if err != nil {
			return nil, "", err
		}
		return page.Items, page.NextPageToken, nil
	})
}

func TestListDescendingKeepsTiesAscending(t *testing.T) {
	s := setupTestStore(t, Options{Now: tiedClock(3)})
	ctx := context.Background()
	seedModels(t, s, 7)

	q := query.NewQueryBuilder().OrderBy(query.OrderCreateTime, query.Desc).PageSize(2).Build()
	got, err := listAll(ctx, s, q)
	if err != nil {
		t.Fatal(err)
	}

	for i := 1; i < len(got); i++ {
		prev, cur := got[i-1], got[i]
		if prev.CreateTime < cur.CreateTime {
			t.Fatalf("not descending at %d: %d then %d", i, prev.CreateTime, cur.CreateTime)
		}
		if prev.CreateTime == cur.CreateTime && prev.ID > cur.ID {
			t.Fatalf("tie not id ascending at %d: %d then %d", i, prev.ID, cur.ID)
		}
	}
	if len(got) != 7 {
		t.Errorf("expected 7 items, got %d", len(got))
	}
}

func TestListLastPageHasNoToken(t *testing.T) {
	s := setupTestStore(t, Options{})
	ctx := context.Background()
	seedModels(t, s, 4)

	page, err := s.List(ctx, kindModel, query.NewQueryBuilder().PageSize(2).Build())
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 2 || page.NextPageToken == "" {
		t.Fatalf("first page: %d items, token %q", len(page.Items), page.NextPageToken)
	}

	page, err = s.List(ctx, kindModel, query.NewQueryBuilder().PageSize(2).PageToken(page.NextPageToken).Build())
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 2 || page.NextPageToken != "" {
		t.Errorf("last page: %d items, token %q", len(page.Items), page.NextPageToken)
	}
}

func TestListFilter(t *testing.T) {
	s := setupTestStore(t, Options{})
	ctx := context.Background()
	seeded := seedModels(t, s, 12)

	q := query.NewQueryBuilder().Where("customProperties.rank = 2").PageSize(2).Build()
	got, err := listAll(ctx, s, q)
	if err != nil {
		t.Fatal(err)
	}

	var want []int64
	for i, n := range seeded {
		if i%4 == 2 {
			want = append(want, n.ID)
		}
	}
	if fmt.Sprint(ids(got)) != fmt.Sprint(want) {
		t.Errorf("got %v, want %v", ids(got), want)
	}

	q = query.NewQueryBuilder().Where("name = 'model-05'").Build()
	page, err := s.List(ctx, kindModel, q)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 1 || page.Items[0].Name != "model-05" {
		t.Errorf("name filter: %v", ids(page.Items))
	}
}

func TestListRejectsForeignToken(t *testing.T) {
	s := setupTestStore(t, Options{})
	ctx := context.Background()
	seedModels(t, s, 6)

	page, err := s.List(ctx, kindModel, query.NewQueryBuilder().Where("customProperties.rank > 0").PageSize(1).Build())
	if err != nil {
		t.Fatal(err)
	}
	token := page.NextPageToken

	tests := []struct {
		name string
		q    query.Query
		kind string
	}{
		{"different filter", query.NewQueryBuilder().Where("customProperties.rank > 1").PageToken(token).Build(), kindModel},
		{"no filter", query.NewQueryBuilder().PageToken(token).Build(), kindModel},
		{"different direction", query.NewQueryBuilder().Where("customProperties.rank > 0").
			OrderBy(query.OrderID, query.Desc).PageToken(token).Build(), kindModel},
		{"different kind", query.NewQueryBuilder().Where("customProperties.rank > 0").PageToken(token).Build(), kindVersion},
		{"garbage", query.NewQueryBuilder().PageToken("%%%").Build(), kindModel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.List(ctx, tt.kind, tt.q); !errors.Is(err, errdefs.ErrInvalidPageToken) {
				t.Errorf("expected ErrInvalidPageToken, got %v", err)
			}
		})
	}
}

func TestListScopedToContainer(t *testing.T) {
	s := setupTestStore(t, Options{})
	ctx := context.Background()

	a, _ := s.Put(ctx, &Node{Kind: kindModel, Name: "a"})
	b, _ := s.Put(ctx, &Node{Kind: kindModel, Name: "b"})
	for i := 0; i < 3; i++ {
		s.Put(ctx, &Node{Kind: kindVersion, Name: fmt.Sprint(i)}, WithLink(EdgeParent, a.ID))
	}
	s.Put(ctx, &Node{Kind: kindVersion, Name: "0"}, WithLink(EdgeParent, b.ID))

	page, err := s.List(ctx, kindVersion, query.NewQueryBuilder().Scope(a.ID).Build())
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 3 {
		t.Errorf("scoped listing: %d items", len(page.Items))
	}
	for _, n := range page.Items {
		if n.ScopeID != a.ID {
			t.Errorf("item %d belongs to %d", n.ID, n.ScopeID)
		}
	}

	page, _ = s.List(ctx, kindVersion, queryAll())
	if len(page.Items) != 4 {
		t.Errorf("unscoped listing: %d items", len(page.Items))
	}
}

func TestListAfterUpdateReorders(t *testing.T) {
	s := setupTestStore(t, Options{})
	ctx := context.Background()
	seeded := seedModels(t, s, 3)

	if _, err := s.Mutate(ctx, kindModel, seeded[0].ID, func(n *Node) error {
		n.Description = "touched"
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	q := query.NewQueryBuilder().OrderBy(query.OrderLastUpdateTime, query.Desc).Build()
	page, err := s.List(ctx, kindModel, q)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 3 || page.Items[0].ID != seeded[0].ID {
		t.Errorf("expected the updated model first, got %v", ids(page.Items))
	}
}

func TestListPaginationMatchesSingleScan(t *testing.T) {
	s := setupTestStore(t, Options{Now: tiedClock(4)})
	ctx := context.Background()
	seedModels(t, s, 25)

	full, err := s.List(ctx, kindModel, queryAll())
	if err != nil {
		t.Fatal(err)
	}
	all := full.Items

	fields := []query.OrderField{query.OrderID, query.OrderCreateTime, query.OrderLastUpdateTime}
	dirs := []query.Direction{query.Asc, query.Desc}

	rapid.Check(t, func(rt *rapid.T) {
		field := rapid.SampledFrom(fields).Draw(rt, "field")
		dir := rapid.SampledFrom(dirs).Draw(rt, "dir")
		size := rapid.IntRange(1, 30).Draw(rt, "pageSize")
		rank := rapid.IntRange(-1, 3).Draw(rt, "rank")

		qb := query.NewQueryBuilder().OrderBy(field, dir).PageSize(size)
		var want []*Node
		for _, n := range all {
			if rank < 0 || properties.Equal(n.CustomProperties["rank"], properties.Int(int64(rank))) {
				want = append(want, n)
			}
		}
		if rank >= 0 {
			qb.Where(fmt.Sprintf("customProperties.rank = %d", rank))
		}

		sort.SliceStable(want, func(i, j int) bool {
			ki, kj := sortKey(want[i], field), sortKey(want[j], field)
			if ki != kj {
				if dir == query.Desc {
					return ki > kj
				}
				return ki < kj
			}
			return want[i].ID < want[j].ID
		})

		got, err := listAll(ctx, s, qb.Build())
		if err != nil {
			rt.Fatalf("list: %v", err)
		}
		if fmt.Sprint(ids(got)) != fmt.Sprint(ids(want)) {
			rt.Fatalf("got %v, want %v", ids(got), ids(want))
		}
	})
}
