// Package catalog holds the immutable store of model descriptors known to
// the serving process. The catalog is built once at startup and never
// mutated, so reads need no locking.
package catalog

import (
	"fmt"

	"inferd/pkg/types"
)

// Descriptor is the static metadata for one (name, version) model.
type Descriptor struct {
	Key         types.ModelKey
	Type        types.ModelType
	Description string
	// ModelRef points at the upstream artifact the capability is built
	// from (e.g. a hub model id). Opaque to the serving core.
	ModelRef string
	// Parameters are defaults merged under per-request overrides.
	Parameters map[string]any
}

// Catalog is a read-only set of descriptors with stable listing order.
type Catalog struct {
	byKey map[types.ModelKey]Descriptor
	order []types.ModelKey
}

// New builds a catalog from descriptors in registration order.
// Duplicate keys and invalid model types are rejected.
func New(descs []Descriptor) (*Catalog, error) {
	c := &Catalog{byKey: make(map[types.ModelKey]Descriptor, len(descs))}
	for _, d := range descs {
		if d.Key.Name == "" || d.Key.Version == "" {
			return nil, fmt.Errorf("catalog: descriptor missing name or version: %+v", d.Key)
		}
		if !d.Type.Valid() {
			return nil, fmt.Errorf("catalog: %s: unknown model type %q", d.Key, d.Type)
		}
		if _, dup := c.byKey[d.Key]; dup {
			return nil, fmt.Errorf("catalog: duplicate model %s", d.Key)
		}
		c.byKey[d.Key] = d
		c.order = append(c.order, d.Key)
	}
	return c, nil
}

// Get returns the descriptor for key, or false if the key is unknown.
func (c *Catalog) Get(key types.ModelKey) (Descriptor, bool) {
	d, ok := c.byKey[key]
	return d, ok
}

// Has reports whether key is known to the catalog.
func (c *Catalog) Has(key types.ModelKey) bool {
	_, ok := c.byKey[key]
	return ok
}

// List returns all descriptors in registration order.
func (c *Catalog) List() []Descriptor {
	out := make([]Descriptor, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.byKey[k])
	}
	return out
}

// Len returns the number of catalogued models.
func (c *Catalog) Len() int { return len(c.order) }

// Default returns the catalog registered when no models are configured,
// mirroring the models the service historically shipped with.
func Default() *Catalog {
	c, err := New([]Descriptor{
		{
			Key:         types.Key("summarizer", "v1"),
			Type:        types.ModelTypeSummarizer,
			Description: "Lightweight text summarization model",
			ModelRef:    "facebook/bart-large-cnn",
			Parameters:  map[string]any{"max_length": 150, "min_length": 30},
		},
		{
			Key:         types.Key("sentiment", "v1"),
			Type:        types.ModelTypeClassifier,
			Description: "Sentiment analysis classifier",
			ModelRef:    "cardiffnlp/twitter-roberta-base-sentiment-latest",
			Parameters:  map[string]any{},
		},
		{
			Key:         types.Key("generator", "v1"),
			Type:        types.ModelTypeGenerator,
			Description: "Lightweight text generation model",
			ModelRef:    "gpt2",
			Parameters:  map[string]any{"max_length": 100, "num_return_sequences": 1},
		},
	})
	if err != nil {
		// The built-in set is static; a failure here is a programming error.
		panic(err)
	}
	return c
}
