package registry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nainya/modelregistry/pkg/errdefs"
	"github.com/nainya/modelregistry/pkg/lifecycle"
	"github.com/nainya/modelregistry/pkg/query"
)

func TestArtifactInitialState(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()
	v := mustVersion(t, r, mustModel(t, r, "m").ID, "1")

	tests := []struct {
		name      string
		uri       *string
		requested *lifecycle.State
		want      lifecycle.State
	}{
		{"no uri", nil, nil, lifecycle.Pending},
		{"with uri", Ptr("s3://b/k"), nil, lifecycle.Live},
		{"explicit pending with uri", Ptr("s3://b/k"), Ptr(lifecycle.Pending), lifecycle.Pending},
		{"explicit live without uri", nil, Ptr(lifecycle.Live), lifecycle.Live},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := r.CreateModelArtifact(ctx, &ModelArtifact{
				Base:           Base{Name: tt.name},
				URI:            tt.uri,
				State:          tt.requested,
				ModelVersionID: v.ID,
			})
			if err != nil {
				t.Fatal(err)
			}
			if *a.State != tt.want {
				t.Errorf("state %s, want %s", *a.State, tt.want)
			}
		})
	}

	if _, err := r.CreateModelArtifact(ctx, &ModelArtifact{
		Base:           Base{Name: "deleted"},
		State:          Ptr(lifecycle.Deleted),
		ModelVersionID: v.ID,
	}); !errors.Is(err, errdefs.ErrInvalidArgument) {
		t.Errorf("create in DELETED: %v", err)
	}
}

func TestArtifactLifecycle(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()
	v := mustVersion(t, r, mustModel(t, r, "m").ID, "1")

	a, err := r.CreateModelArtifact(ctx, &ModelArtifact{Base: Base{Name: "weights"}, ModelVersionID: v.ID})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := r.DeleteModelArtifact(ctx, a.ID); !errors.Is(err, errdefs.ErrStateTransition) {
		t.Errorf("delete while PENDING: %v", err)
	}
	if a, err = r.FinalizeModelArtifact(ctx, a.ID, true); err != nil {
		t.Fatal(err)
	}
	if _, err := r.FinalizeModelArtifact(ctx, a.ID, true); !errors.Is(err, errdefs.ErrStateTransition) {
		t.Errorf("finalize while LIVE: %v", err)
	}
	if a, err = r.DeleteModelArtifact(ctx, a.ID); err != nil || *a.State != lifecycle.MarkedForDeletion {
		t.Fatalf("delete: %v %v", a, err)
	}
	if a, err = r.PurgeModelArtifact(ctx, a.ID); err != nil || *a.State != lifecycle.Deleted {
		t.Fatalf("purge: %v %v", a, err)
	}

	// Still readable after purge
	if _, err := r.GetModelArtifact(ctx, a.ID); err != nil {
		t.Errorf("purged artifact unreadable: %v", err)
	}

	failed, _ := r.CreateModelArtifact(ctx, &ModelArtifact{Base: Base{Name: "upload"}, ModelVersionID: v.ID})
	failed, err = r.FinalizeModelArtifact(ctx, failed.ID, false)
	if err != nil || *failed.State != lifecycle.Abandoned {
		t.Errorf("finalize failure: %v %v", failed, err)
	}
}

func TestRecreateByExternalIDKeepsFinalizedState(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()
	v := mustVersion(t, r, mustModel(t, r, "m").ID, "1")

	req := func() *ModelArtifact {
		return &ModelArtifact{Base: Base{Name: "weights", ExternalID: Ptr("upload-7")}, ModelVersionID: v.ID}
	}
	a, err := r.CreateModelArtifact(ctx, req())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.FinalizeModelArtifact(ctx, a.ID, true); err != nil {
		t.Fatal(err)
	}

	again, err := r.CreateModelArtifact(ctx, req())
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if again.ID != a.ID || *again.State != lifecycle.Live {
		t.Errorf("retry: id %s state %s, want id %s LIVE", again.ID, *again.State, a.ID)
	}
}

func TestRecreateRacingFinalize(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()
	v := mustVersion(t, r, mustModel(t, r, "m").ID, "1")

	req := func() *ModelArtifact {
		return &ModelArtifact{Base: Base{Name: "weights", ExternalID: Ptr("upload-8")}, ModelVersionID: v.ID}
	}
	a, err := r.CreateModelArtifact(ctx, req())
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.CreateModelArtifact(ctx, req()); err != nil {
				t.Errorf("retry: %v", err)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := r.FinalizeModelArtifact(ctx, a.ID, true); err != nil {
			t.Errorf("finalize: %v", err)
		}
	}()
	wg.Wait()

	got, err := r.GetModelArtifact(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if *got.State != lifecycle.Live {
		t.Errorf("finalize was undone: state %s", *got.State)
	}
}

func TestArtifactStoragePathway(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()
	v := mustVersion(t, r, mustModel(t, r, "m").ID, "1")

	tests := []struct {
		name    string
		a       ModelArtifact
		wantErr bool
	}{
		{"no pathway", ModelArtifact{}, false},
		{"uri only", ModelArtifact{URI: Ptr("oci://x")}, false},
		{"key and path", ModelArtifact{StorageKey: Ptr("k"), StoragePath: Ptr("p")}, false},
		{"service account", ModelArtifact{ServiceAccountName: Ptr("sa")}, false},
		{"key without path", ModelArtifact{StorageKey: Ptr("k")}, true},
		{"path without key", ModelArtifact{StoragePath: Ptr("p")}, true},
		{"both pathways", ModelArtifact{StorageKey: Ptr("k"), StoragePath: Ptr("p"), ServiceAccountName: Ptr("sa")}, true},
		{"bad role", ModelArtifact{ArtifactRole: Ptr(ArtifactRole("sideways"))}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := tt.a
			a.Name = tt.name
			a.ModelVersionID = v.ID
			_, err := r.CreateModelArtifact(ctx, &a)
			if tt.wantErr && !errors.Is(err, errdefs.ErrInvalidArgument) {
				t.Errorf("expected ErrInvalidArgument, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}

	// Updates are checked against the merged artifact
	ok, err := r.CreateModelArtifact(ctx, &ModelArtifact{
		Base:           Base{Name: "merged"},
		StorageKey:     Ptr("k"),
		StoragePath:    Ptr("p"),
		ModelVersionID: v.ID,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.UpdateModelArtifact(ctx, ok.ID, &ModelArtifact{ServiceAccountName: Ptr("sa")}); !errors.Is(err, errdefs.ErrInvalidArgument) {
		t.Errorf("update adding a second pathway: %v", err)
	}
}

func TestArtifactOwnership(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()

	v1 := mustVersion(t, r, mustModel(t, r, "m").ID, "1")
	v2 := mustVersion(t, r, mustModel(t, r, "n").ID, "1")

	if _, err := r.CreateModelArtifact(ctx, &ModelArtifact{Base: Base{Name: "a"}}); !errors.Is(err, errdefs.ErrInvalidArgument) {
		t.Errorf("no owner: %v", err)
	}
	if _, err := r.CreateModelArtifact(ctx, &ModelArtifact{Base: Base{Name: "a"}, ModelVersionID: v1.ID, ExperimentRunID: "3"}); !errors.Is(err, errdefs.ErrInvalidArgument) {
		t.Errorf("two owners: %v", err)
	}
	if _, err := r.CreateModelArtifact(ctx, &ModelArtifact{Base: Base{Name: "a"}, ModelVersionID: "999"}); !errors.Is(err, errdefs.ErrNotFound) {
		t.Errorf("missing owner: %v", err)
	}

	// Names are scoped to the owner
	for _, v := range []*ModelVersion{v1, v2} {
		if _, err := r.CreateModelArtifact(ctx, &ModelArtifact{Base: Base{Name: "weights"}, ModelVersionID: v.ID, ArtifactRole: Ptr(RoleOutput)}); err != nil {
			t.Fatalf("artifact under %s: %v", v.ID, err)
		}
	}
	if _, err := r.CreateModelArtifact(ctx, &ModelArtifact{Base: Base{Name: "weights"}, ModelVersionID: v1.ID}); !errors.Is(err, errdefs.ErrDuplicate) {
		t.Errorf("duplicate artifact name: %v", err)
	}

	// Several artifacts per version are allowed
	r.CreateModelArtifact(ctx, &ModelArtifact{Base: Base{Name: "tokenizer"}, ModelVersionID: v1.ID, ArtifactRole: Ptr(RoleInput)})
	page, err := r.ListModelVersionArtifacts(ctx, v1.ID, query.Query{})
	if err != nil {
		t.Fatal(err)
	}
	if page.Size != 2 {
		t.Errorf("artifacts of v1: %d", page.Size)
	}
	for _, a := range page.Items {
		if a.ModelVersionID != v1.ID {
			t.Errorf("artifact %s owned by %s", a.ID, a.ModelVersionID)
		}
	}

	found, err := r.FindModelArtifact(ctx, "weights", "", v2.ID)
	if err != nil || found.ModelVersionID != v2.ID {
		t.Errorf("find by name in v2: %v %v", found, err)
	}

	all, _ := r.ListModelArtifacts(ctx, query.NewQueryBuilder().Where("artifactRole = 'output'").Build())
	if all.Size != 2 {
		t.Errorf("output artifacts: %d", all.Size)
	}
}
