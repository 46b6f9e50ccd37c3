package lifecycle

import (
	"errors"
	"testing"

	"github.com/nainya/modelregistry/pkg/errdefs"
)

func TestContainerTransitions(t *testing.T) {
	s, err := Container.Fire(Live, Archive)
	if err != nil || s != Archived {
		t.Fatalf("archive: %s %v", s, err)
	}
	s, err = Container.Fire(s, Restore)
	if err != nil || s != Live {
		t.Fatalf("restore: %s %v", s, err)
	}

	if _, err := Container.Fire(Live, Restore); !errors.Is(err, errdefs.ErrStateTransition) {
		t.Errorf("restore on LIVE should be rejected, got %v", err)
	}
	if _, err := Container.Fire(Archived, Archive); !errors.Is(err, errdefs.ErrStateTransition) {
		t.Errorf("archive on ARCHIVED should be rejected, got %v", err)
	}
}

func TestArtifactTransitions(t *testing.T) {
	tests := []struct {
		from State
		ev   Event
		want State
		ok   bool
	}{
		{Pending, FinalizeSuccess, Live, true},
		{Pending, FinalizeFailure, Abandoned, true},
		{Live, Delete, MarkedForDeletion, true},
		{MarkedForDeletion, Purge, Deleted, true},
		{Live, FinalizeSuccess, "", false},
		{Abandoned, Delete, "", false},
		{Deleted, Purge, "", false},
		{Pending, Archive, "", false},
	}

	for _, tt := range tests {
		got, err := Artifact.Fire(tt.from, tt.ev)
		if tt.ok {
			if err != nil || got != tt.want {
				t.Errorf("%s/%s: got %s %v, want %s", tt.from, tt.ev, got, err, tt.want)
			}
			continue
		}
		var ste *errdefs.StateTransitionError
		if !errors.As(err, &ste) {
			t.Errorf("%s/%s: expected StateTransitionError, got %v", tt.from, tt.ev, err)
		}
	}
}

func TestValidate(t *testing.T) {
	if err := Container.Validate(Live, Live); err != nil {
		t.Errorf("same state: %v", err)
	}
	if err := Container.Validate(Live, Archived); err != nil {
		t.Errorf("LIVE->ARCHIVED: %v", err)
	}
	if err := Artifact.Validate(Live, Pending); !errors.Is(err, errdefs.ErrStateTransition) {
		t.Errorf("LIVE->PENDING should fail, got %v", err)
	}
	if err := Container.Validate(Live, Pending); !errors.Is(err, errdefs.ErrInvalidArgument) {
		t.Errorf("PENDING is not a container state, got %v", err)
	}
}

func TestInitialStates(t *testing.T) {
	if s, _ := ArtifactInitialState("", "s3://bucket/model.onnx"); s != Live {
		t.Errorf("artifact with uri: %s", s)
	}
	if s, _ := ArtifactInitialState("", ""); s != Pending {
		t.Errorf("artifact without uri: %s", s)
	}
	if s, _ := ArtifactInitialState(Pending, "s3://x"); s != Pending {
		t.Errorf("explicit pending: %s", s)
	}
	if _, err := ArtifactInitialState(Deleted, ""); !errors.Is(err, errdefs.ErrInvalidArgument) {
		t.Errorf("DELETED at creation: %v", err)
	}
	if _, err := ContainerInitialState(Archived); !errors.Is(err, errdefs.ErrInvalidArgument) {
		t.Errorf("ARCHIVED at creation: %v", err)
	}
}

func TestParseEvent(t *testing.T) {
	if ev, _ := ParseEvent("finalize", false); ev != FinalizeFailure {
		t.Errorf("finalize failure: %s", ev)
	}
	if _, err := ParseEvent("explode", true); !errors.Is(err, errdefs.ErrInvalidArgument) {
		t.Errorf("unknown transition: %v", err)
	}
}
