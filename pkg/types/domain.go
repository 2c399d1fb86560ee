package types

// ModelKey identifies a servable (name, version) pair. Keys are immutable
// value types and safe to use as map keys.
type ModelKey struct {
	// Model name.
	// example: summarizer
	Name string `json:"name" example:"summarizer"`
	// Model version.
	// example: v1
	Version string `json:"version" example:"v1"`
}

// Key constructs a ModelKey.
func Key(name, version string) ModelKey {
	return ModelKey{Name: name, Version: version}
}

// String renders the key in the canonical "name:version" form used in
// responses, logs and metrics labels.
func (k ModelKey) String() string {
	return k.Name + ":" + k.Version
}

// ModelType tags what kind of computation a model performs. The serving
// core never branches on it; only the capability factory does.
type ModelType string

const (
	ModelTypeSummarizer ModelType = "summarizer"
	ModelTypeClassifier ModelType = "classifier"
	ModelTypeGenerator  ModelType = "generator"
	ModelTypeOther      ModelType = "other"
)

// Valid reports whether t is one of the known model types.
func (t ModelType) Valid() bool {
	switch t {
	case ModelTypeSummarizer, ModelTypeClassifier, ModelTypeGenerator, ModelTypeOther:
		return true
	}
	return false
}
