// ABOUTME: Typed registry entities as they travel over REST and gRPC
// ABOUTME: Ids and times are decimal strings; nil pointers mean "unset" or "unchanged"

package registry

import (
	"github.com/nainya/modelregistry/pkg/lifecycle"
	"github.com/nainya/modelregistry/pkg/properties"
)

// Entity kinds registered in the store
const (
	KindRegisteredModel = "RegisteredModel"
	KindModelVersion    = "ModelVersion"
	KindModelArtifact   = "ModelArtifact"
	KindExperiment      = "Experiment"
	KindExperimentRun   = "ExperimentRun"
	KindMetric          = "Metric"
	KindParameter       = "Parameter"
	KindDataSet         = "DataSet"
)

// Kinds lists every entity kind in registration order
var Kinds = []string{
	KindRegisteredModel,
	KindModelVersion,
	KindModelArtifact,
	KindExperiment,
	KindExperimentRun,
	KindMetric,
	KindParameter,
	KindDataSet,
}

// Base holds the fields every entity shares
type Base struct {
	ID          string  `json:"id,omitempty"`
	Name        string  `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	ExternalID  *string `json:"externalId,omitempty"`

	// CustomProperties replaces the stored map as a whole when not nil
	CustomProperties properties.Map `json:"customProperties,omitempty"`

	CreateTimeSinceEpoch     string `json:"createTimeSinceEpoch,omitempty"`
	LastUpdateTimeSinceEpoch string `json:"lastUpdateTimeSinceEpoch,omitempty"`
}

type RegisteredModel struct {
	Base
	Owner *string          `json:"owner,omitempty"`
	State *lifecycle.State `json:"state,omitempty"`
}

type ModelVersion struct {
	Base
	RegisteredModelID string `json:"registeredModelId,omitempty"`
	// ModelName is the name of the parent model, kept in step on rename
	ModelName string           `json:"modelName,omitempty"`
	Author    *string          `json:"author,omitempty"`
	State     *lifecycle.State `json:"state,omitempty"`
}

// ArtifactRole marks MLflow-style logged model inputs and outputs
type ArtifactRole string

const (
	RoleNone   ArtifactRole = ""
	RoleInput  ArtifactRole = "input"
	RoleOutput ArtifactRole = "output"
)

// ModelArtifact is owned by exactly one model version or experiment run.
//
// At most one storage pathway may be set: storageKey with storagePath, or
// serviceAccountName. An artifact with neither is accepted so a client can
// register a uri before the upload has storage credentials.
type ModelArtifact struct {
	Base
	URI                *string       `json:"uri,omitempty"`
	ModelFormatName    *string       `json:"modelFormatName,omitempty"`
	ModelFormatVersion *string       `json:"modelFormatVersion,omitempty"`
	StorageKey         *string       `json:"storageKey,omitempty"`
	StoragePath        *string       `json:"storagePath,omitempty"`
	ServiceAccountName *string       `json:"serviceAccountName,omitempty"`
	ArtifactRole       *ArtifactRole `json:"artifactRole,omitempty"`

	ModelVersionID  string `json:"modelVersionId,omitempty"`
	ExperimentRunID string `json:"experimentRunId,omitempty"`

	State *lifecycle.State `json:"state,omitempty"`
}

type Experiment struct {
	Base
	Owner *string          `json:"owner,omitempty"`
	State *lifecycle.State `json:"state,omitempty"`
}

type ExperimentRun struct {
	Base
	ExperimentID string           `json:"experimentId,omitempty"`
	Owner        *string          `json:"owner,omitempty"`
	State        *lifecycle.State `json:"state,omitempty"`
}

// Metric holds the latest value logged under its name in a run
type Metric struct {
	Base
	Value *float64 `json:"value,omitempty"`
	Step  *int64   `json:"step,omitempty"`
	// Timestamp in Unix milliseconds
	Timestamp       string `json:"timestamp,omitempty"`
	ExperimentRunID string `json:"experimentRunId,omitempty"`
}

// ParameterType tells how a parameter value is stored
type ParameterType string

const (
	ParameterString  ParameterType = "STRING"
	ParameterNumber  ParameterType = "NUMBER"
	ParameterBoolean ParameterType = "BOOLEAN"
	ParameterObject  ParameterType = "OBJECT"
)

type Parameter struct {
	Base
	// Value is a string, number, bool, or any JSON value for OBJECT
	Value           any            `json:"value,omitempty"`
	ParameterType   *ParameterType `json:"parameterType,omitempty"`
	ExperimentRunID string         `json:"experimentRunId,omitempty"`
}

type DataSet struct {
	Base
	Digest          *string `json:"digest,omitempty"`
	SourceType      *string `json:"sourceType,omitempty"`
	Source          *string `json:"source,omitempty"`
	URI             *string `json:"uri,omitempty"`
	ExperimentRunID string  `json:"experimentRunId,omitempty"`
}

// List is one page of a listing
type List[T any] struct {
	Items         []*T   `json:"items"`
	Size          int    `json:"size"`
	PageSize      int    `json:"pageSize"`
	NextPageToken string `json:"nextPageToken"`
}

// Ptr returns a pointer to v
func Ptr[T any](v T) *T {
	return &v
}
