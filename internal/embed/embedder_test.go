package embed

import (
	"math"
	"testing"
)

func TestMockModelUnitNorm(t *testing.T) {
	m := MockModel{}
	for _, text := range []string{
		"hello world",
		"a much longer sentence with many distinct tokens in it",
		"x",
	} {
		v, err := m.Embed(text)
		if err != nil {
			t.Fatalf("Embed(%q): %v", text, err)
		}
		if len(v) != Dim {
			t.Fatalf("dim = %d, want %d", len(v), Dim)
		}
		var norm float64
		for _, f := range v {
			norm += float64(f) * float64(f)
		}
		if math.Abs(math.Sqrt(norm)-1) > 1e-5 {
			t.Errorf("norm(%q) = %f, want 1", text, math.Sqrt(norm))
		}
	}
}

func TestMockModelDeterministic(t *testing.T) {
	m := MockModel{}
	a, _ := m.Embed("determinism check")
	b, _ := m.Embed("determinism check")
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("vectors differ at %d", i)
		}
	}
}

func TestMockModelTokenOverlap(t *testing.T) {
	m := MockModel{}
	a, _ := m.Embed("the quick brown fox jumps")
	b, _ := m.Embed("the quick brown fox sleeps")
	c, _ := m.Embed("entirely unrelated sentence here")

	if Dot(a, b) <= Dot(a, c) {
		t.Errorf("overlap similarity %f not above unrelated %f", Dot(a, b), Dot(a, c))
	}
	if sim := Dot(a, a); math.Abs(sim-1) > 1e-5 {
		t.Errorf("self similarity = %f", sim)
	}
}

func TestEmbedderCache(t *testing.T) {
	e := New(MockModel{}, nil)

	v1, err := e.Embed("  Cache Me  ")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	// Key normalisation: case and surrounding whitespace fold together.
	v2, err := e.Embed("cache me")
	if err != nil {
		t.Fatalf("Embed cached: %v", err)
	}
	for i := range v1 {
		if v1[i] != v2[i] {
			t.Fatal("cache returned a different vector")
		}
	}
}

func TestClassify(t *testing.T) {
	cat := &Catalog{Sets: map[string][]TemplateSpec{
		"test": {
			{Category: "greeting", Text: "hello there friend how are you"},
			{Category: "farewell", Text: "goodbye see you later friend"},
		},
	}}
	e := New(MockModel{}, cat)

	cls, err := e.Classify("hello there friend how are you today", "test", 0.3)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if cls == nil || cls.Category != "greeting" {
		t.Fatalf("cls = %+v, want greeting", cls)
	}
	if cls.Similarity < 0.3 {
		t.Errorf("similarity = %f", cls.Similarity)
	}

	// Below threshold: no classification, no error.
	cls, err = e.Classify("completely different wording about compilers", "test", 0.9)
	if err != nil {
		t.Fatalf("Classify below threshold: %v", err)
	}
	if cls != nil {
		t.Errorf("unexpected classification %+v", cls)
	}

	if _, err := e.Classify("x", "no-such-set", 0.5); err == nil {
		t.Error("unknown set did not error")
	}
}

func TestBuiltinCatalogShape(t *testing.T) {
	cat := builtinCatalog()

	wantMin := map[string]int{
		SetDirective: 6,
		SetCategory:  6,
		SetIntent:    17,
		SetAnchor:    6,
	}
	for set, min := range wantMin {
		if got := len(cat.Sets[set]); got < min {
			t.Errorf("set %s has %d templates, want >= %d", set, got, min)
		}
	}

	anchorCats := make(map[string]bool)
	for _, spec := range cat.Sets[SetAnchor] {
		anchorCats[spec.Category] = true
	}
	for _, c := range []string{"rule", "standard", "correction", "preference", "recommendation", "debugging"} {
		if !anchorCats[c] {
			t.Errorf("anchor set missing category %s", c)
		}
	}
}
