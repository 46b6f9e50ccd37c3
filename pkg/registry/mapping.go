// ABOUTME: Two-way mapping between typed entities and generic store nodes
// ABOUTME: Typed fields live in Node.Properties; custom properties stay in their own bag

package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/nainya/modelregistry/pkg/errdefs"
	"github.com/nainya/modelregistry/pkg/lifecycle"
	"github.com/nainya/modelregistry/pkg/properties"
	"github.com/nainya/modelregistry/pkg/store"
)

// Property names of typed fields. They match the JSON names so filters can
// address them directly.
const (
	propState              = "state"
	propOwner              = "owner"
	propAuthor             = "author"
	propModelName          = "modelName"
	propRegisteredModelID  = "registeredModelId"
	propURI                = "uri"
	propModelFormatName    = "modelFormatName"
	propModelFormatVersion = "modelFormatVersion"
	propStorageKey         = "storageKey"
	propStoragePath        = "storagePath"
	propServiceAccountName = "serviceAccountName"
	propArtifactRole       = "artifactRole"
	propModelVersionID     = "modelVersionId"
	propExperimentID       = "experimentId"
	propExperimentRunID    = "experimentRunId"
	propValue              = "value"
	propStep               = "step"
	propTimestamp          = "timestamp"
	propParameterType      = "parameterType"
	propDigest             = "digest"
	propSourceType         = "sourceType"
	propSource             = "source"
)

func formatID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}

func parseID(field, s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, errdefs.InvalidArgument("%s %q is not a valid id", field, s)
	}
	return id, nil
}

func formatMillis(ms int64) string {
	return strconv.FormatInt(ms, 10)
}

// applyBase copies the set fields of b onto n
func applyBase(n *store.Node, b *Base) {
	if b.Name != "" {
		n.Name = b.Name
	}
	if b.Description != nil {
		n.Description = *b.Description
	}
	if b.ExternalID != nil {
		n.ExternalID = *b.ExternalID
	}
	if b.CustomProperties != nil {
		n.CustomProperties = b.CustomProperties.Clone()
	}
}

func readBase(n *store.Node) Base {
	b := Base{
		ID:                       formatID(n.ID),
		Name:                     n.Name,
		CustomProperties:         n.CustomProperties.Clone(),
		CreateTimeSinceEpoch:     formatMillis(n.CreateTime),
		LastUpdateTimeSinceEpoch: formatMillis(n.LastUpdateTime),
	}
	if b.CustomProperties == nil {
		b.CustomProperties = properties.Map{}
	}
	if n.Description != "" {
		b.Description = Ptr(n.Description)
	}
	if n.ExternalID != "" {
		b.ExternalID = Ptr(n.ExternalID)
	}
	return b
}

func setProp(n *store.Node, key string, v properties.Value) {
	if n.Properties == nil {
		n.Properties = properties.Map{}
	}
	n.Properties[key] = v
}

func setString(n *store.Node, key string, s *string) {
	if s != nil {
		setProp(n, key, properties.String(*s))
	}
}

func setState(n *store.Node, s *lifecycle.State) {
	if s != nil {
		setProp(n, propState, properties.String(*s))
	}
}

func getString(n *store.Node, key string) *string {
	if v, ok := n.Properties[key].(properties.String); ok {
		return Ptr(string(v))
	}
	return nil
}

func getState(n *store.Node) *lifecycle.State {
	if v, ok := n.Properties[propState].(properties.String); ok {
		return Ptr(lifecycle.State(v))
	}
	return nil
}

func stateOf(n *store.Node) lifecycle.State {
	return lifecycle.State(n.String(propState))
}

func getID(n *store.Node, key string) string {
	return formatID(n.Int(key))
}

// RegisteredModel

func applyRegisteredModel(n *store.Node, m *RegisteredModel) error {
	applyBase(n, &m.Base)
	setString(n, propOwner, m.Owner)
	setState(n, m.State)
	return nil
}

func readRegisteredModel(n *store.Node) (*RegisteredModel, error) {
	return &RegisteredModel{
		Base:  readBase(n),
		Owner: getString(n, propOwner),
		State: getState(n),
	}, nil
}

// ModelVersion

func applyModelVersion(n *store.Node, v *ModelVersion) error {
	applyBase(n, &v.Base)
	setString(n, propAuthor, v.Author)
	setState(n, v.State)
	return nil
}

func readModelVersion(n *store.Node) (*ModelVersion, error) {
	return &ModelVersion{
		Base:              readBase(n),
		RegisteredModelID: getID(n, propRegisteredModelID),
		ModelName:         n.String(propModelName),
		Author:            getString(n, propAuthor),
		State:             getState(n),
	}, nil
}

// ModelArtifact

func applyModelArtifact(n *store.Node, a *ModelArtifact) error {
	applyBase(n, &a.Base)
	setString(n, propURI, a.URI)
	setString(n, propModelFormatName, a.ModelFormatName)
	setString(n, propModelFormatVersion, a.ModelFormatVersion)
	setString(n, propStorageKey, a.StorageKey)
	setString(n, propStoragePath, a.StoragePath)
	setString(n, propServiceAccountName, a.ServiceAccountName)
	if a.ArtifactRole != nil {
		switch *a.ArtifactRole {
		case RoleNone, RoleInput, RoleOutput:
		default:
			return errdefs.InvalidArgument("artifactRole %q", *a.ArtifactRole)
		}
		setProp(n, propArtifactRole, properties.String(*a.ArtifactRole))
	}
	setState(n, a.State)
	return nil
}

func readModelArtifact(n *store.Node) (*ModelArtifact, error) {
	a := &ModelArtifact{
		Base:               readBase(n),
		URI:                getString(n, propURI),
		ModelFormatName:    getString(n, propModelFormatName),
		ModelFormatVersion: getString(n, propModelFormatVersion),
		StorageKey:         getString(n, propStorageKey),
		StoragePath:        getString(n, propStoragePath),
		ServiceAccountName: getString(n, propServiceAccountName),
		ModelVersionID:     getID(n, propModelVersionID),
		ExperimentRunID:    getID(n, propExperimentRunID),
		State:              getState(n),
	}
	if role := getString(n, propArtifactRole); role != nil && *role != "" {
		a.ArtifactRole = Ptr(ArtifactRole(*role))
	}
	return a, nil
}

// validateStoragePathway checks the storage fields of a merged artifact.
// storageKey and storagePath go together and exclude serviceAccountName;
// an artifact with neither pathway is allowed.
func validateStoragePathway(n *store.Node) error {
	key := n.String(propStorageKey)
	path := n.String(propStoragePath)
	sa := n.String(propServiceAccountName)

	if (key == "") != (path == "") {
		return errdefs.InvalidArgument("storageKey and storagePath must be set together")
	}
	if key != "" && sa != "" {
		return errdefs.InvalidArgument("storageKey/storagePath and serviceAccountName are mutually exclusive")
	}
	return nil
}

// Experiment

func applyExperiment(n *store.Node, e *Experiment) error {
	applyBase(n, &e.Base)
	setString(n, propOwner, e.Owner)
	setState(n, e.State)
	return nil
}

func readExperiment(n *store.Node) (*Experiment, error) {
	return &Experiment{
		Base:  readBase(n),
		Owner: getString(n, propOwner),
		State: getState(n),
	}, nil
}

// ExperimentRun

func applyExperimentRun(n *store.Node, r *ExperimentRun) error {
	applyBase(n, &r.Base)
	setString(n, propOwner, r.Owner)
	setState(n, r.State)
	return nil
}

func readExperimentRun(n *store.Node) (*ExperimentRun, error) {
	return &ExperimentRun{
		Base:         readBase(n),
		ExperimentID: getID(n, propExperimentID),
		Owner:        getString(n, propOwner),
		State:        getState(n),
	}, nil
}

// Metric

func applyMetric(n *store.Node, m *Metric) error {
	applyBase(n, &m.Base)
	if m.Value != nil {
		setProp(n, propValue, properties.Double(*m.Value))
	}
	if m.Step != nil {
		setProp(n, propStep, properties.Int(*m.Step))
	}
	if m.Timestamp != "" {
		ts, err := strconv.ParseInt(m.Timestamp, 10, 64)
		if err != nil {
			return errdefs.InvalidArgument("timestamp %q", m.Timestamp)
		}
		setProp(n, propTimestamp, properties.Int(ts))
	}
	return nil
}

func readMetric(n *store.Node) (*Metric, error) {
	m := &Metric{
		Base:            readBase(n),
		ExperimentRunID: getID(n, propExperimentRunID),
	}
	if _, ok := n.Properties[propValue]; ok {
		m.Value = Ptr(n.Double(propValue))
	}
	if _, ok := n.Properties[propStep]; ok {
		m.Step = Ptr(n.Int(propStep))
	}
	if _, ok := n.Properties[propTimestamp]; ok {
		m.Timestamp = formatMillis(n.Int(propTimestamp))
	}
	return m, nil
}

// Parameter

// inferParameterType picks a type for a value sent without one
func inferParameterType(v any) (ParameterType, error) {
	switch v.(type) {
	case nil:
		return "", errdefs.InvalidArgument("parameter value is required")
	case bool:
		return ParameterBoolean, nil
	case string:
		return ParameterString, nil
	case float64, float32, int, int32, int64, uint, uint32, uint64, json.Number:
		return ParameterNumber, nil
	default:
		return ParameterObject, nil
	}
}

// parameterValue converts v to its stored form under t
func parameterValue(t ParameterType, v any) (properties.Value, error) {
	switch t {
	case ParameterString:
		s, ok := v.(string)
		if !ok {
			return nil, errdefs.InvalidArgument("STRING parameter with %T value", v)
		}
		return properties.String(s), nil

	case ParameterNumber:
		pv, err := properties.FromAny(v)
		if err != nil {
			return nil, err
		}
		switch pv := pv.(type) {
		case properties.Int:
			return properties.Double(float64(pv)), nil
		case properties.Double:
			return pv, properties.Validate(pv)
		case properties.String:
			f, err := strconv.ParseFloat(string(pv), 64)
			if err != nil {
				return nil, errdefs.InvalidArgument("NUMBER parameter %q", string(pv))
			}
			return properties.Double(f), nil
		}
		return nil, errdefs.InvalidArgument("NUMBER parameter with %T value", v)

	case ParameterBoolean:
		switch b := v.(type) {
		case bool:
			return properties.Bool(b), nil
		case string:
			parsed, err := strconv.ParseBool(b)
			if err != nil {
				return nil, errdefs.InvalidArgument("BOOLEAN parameter %q", b)
			}
			return properties.Bool(parsed), nil
		}
		return nil, errdefs.InvalidArgument("BOOLEAN parameter with %T value", v)

	case ParameterObject:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, errdefs.InvalidArgument("OBJECT parameter: %v", err)
		}
		return properties.String(data), nil

	default:
		return nil, errdefs.InvalidArgument("parameterType %q", t)
	}
}

func applyParameter(n *store.Node, p *Parameter) error {
	applyBase(n, &p.Base)
	if p.Value == nil && p.ParameterType == nil {
		return nil
	}

	t := ParameterType(n.String(propParameterType))
	if p.ParameterType != nil {
		t = *p.ParameterType
	}
	v := p.Value
	if v == nil {
		decoded, err := parameterAny(n)
		if err != nil {
			return err
		}
		v = decoded
	}
	if t == "" {
		inferred, err := inferParameterType(v)
		if err != nil {
			return err
		}
		t = inferred
	}

	stored, err := parameterValue(t, v)
	if err != nil {
		return err
	}
	setProp(n, propParameterType, properties.String(t))
	setProp(n, propValue, stored)
	return nil
}

// parameterAny decodes a stored parameter value. OBJECT values are JSON text.
func parameterAny(n *store.Node) (any, error) {
	v, ok := n.Properties[propValue]
	if !ok {
		return nil, nil
	}
	if ParameterType(n.String(propParameterType)) != ParameterObject {
		return v.Any(), nil
	}

	s, _ := v.(properties.String)
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("parameter %d: stored OBJECT value is not JSON: %w", n.ID, err)
	}
	return out, nil
}

func readParameter(n *store.Node) (*Parameter, error) {
	v, err := parameterAny(n)
	if err != nil {
		return nil, err
	}
	p := &Parameter{
		Base:            readBase(n),
		Value:           v,
		ExperimentRunID: getID(n, propExperimentRunID),
	}
	if t := n.String(propParameterType); t != "" {
		p.ParameterType = Ptr(ParameterType(t))
	}
	return p, nil
}

// DataSet

func applyDataSet(n *store.Node, d *DataSet) error {
	applyBase(n, &d.Base)
	setString(n, propDigest, d.Digest)
	setString(n, propSourceType, d.SourceType)
	setString(n, propSource, d.Source)
	setString(n, propURI, d.URI)
	return nil
}

func readDataSet(n *store.Node) (*DataSet, error) {
	return &DataSet{
		Base:            readBase(n),
		Digest:          getString(n, propDigest),
		SourceType:      getString(n, propSourceType),
		Source:          getString(n, propSource),
		URI:             getString(n, propURI),
		ExperimentRunID: getID(n, propExperimentRunID),
	}, nil
}
