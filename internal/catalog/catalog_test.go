package catalog

import (
	"testing"

	"inferd/pkg/types"
)

func TestNewPreservesRegistrationOrder(t *testing.T) {
	c, err := New([]Descriptor{
		{Key: types.Key("b", "v1"), Type: types.ModelTypeGenerator},
		{Key: types.Key("a", "v1"), Type: types.ModelTypeSummarizer},
		{Key: types.Key("a", "v2"), Type: types.ModelTypeSummarizer},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	got := c.List()
	want := []string{"b:v1", "a:v1", "a:v2"}
	if len(got) != len(want) {
		t.Fatalf("expected %d descriptors got %d", len(want), len(got))
	}
	for i, d := range got {
		if d.Key.String() != want[i] {
			t.Fatalf("position %d: expected %s got %s", i, want[i], d.Key)
		}
	}
}

func TestGetUnknownKey(t *testing.T) {
	c, err := New(nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, ok := c.Get(types.Key("missing", "v9")); ok {
		t.Fatal("expected unknown key to miss")
	}
	if c.Has(types.Key("missing", "v9")) {
		t.Fatal("expected Has to be false")
	}
}

func TestNewRejectsDuplicates(t *testing.T) {
	_, err := New([]Descriptor{
		{Key: types.Key("m", "v1"), Type: types.ModelTypeOther},
		{Key: types.Key("m", "v1"), Type: types.ModelTypeOther},
	})
	if err == nil {
		t.Fatal("expected duplicate key error")
	}
}

func TestNewRejectsInvalidType(t *testing.T) {
	_, err := New([]Descriptor{
		{Key: types.Key("m", "v1"), Type: "transmogrifier"},
	})
	if err == nil {
		t.Fatal("expected invalid type error")
	}
}

func TestNewRejectsEmptyKey(t *testing.T) {
	_, err := New([]Descriptor{{Key: types.Key("", "v1"), Type: types.ModelTypeOther}})
	if err == nil {
		t.Fatal("expected missing name error")
	}
}

func TestDefaultCatalog(t *testing.T) {
	c := Default()
	if c.Len() != 3 {
		t.Fatalf("expected 3 built-in models got %d", c.Len())
	}
	d, ok := c.Get(types.Key("summarizer", "v1"))
	if !ok {
		t.Fatal("expected summarizer:v1 in default catalog")
	}
	if d.Type != types.ModelTypeSummarizer {
		t.Fatalf("expected summarizer type got %s", d.Type)
	}
	if d.Parameters["max_length"] != 150 {
		t.Fatalf("expected default max_length 150 got %v", d.Parameters["max_length"])
	}
}
