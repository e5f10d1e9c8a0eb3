package embed

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Template set names.
const (
	SetDirective = "directive"
	SetCategory  = "category"
	SetIntent    = "intent"
	SetAnchor    = "anchor"
)

// Template is one reference phrase whose embedding represents a semantic
// category.
type Template struct {
	Category string
	Text     string
	Vec      []float32
}

// TemplateSpec is the on-disk form of a template, before embedding.
type TemplateSpec struct {
	Category string `yaml:"category"`
	Text     string `yaml:"text"`
}

// Catalog is the full set of template catalogues. Category labels are
// stable identifiers consumed by downstream tagging; user overrides may
// extend the phrase lists but should keep the labels.
type Catalog struct {
	Sets map[string][]TemplateSpec `yaml:"sets"`
}

//go:embed templates.yaml
var builtinTemplatesYAML []byte

var builtin *Catalog

func builtinCatalog() *Catalog {
	if builtin == nil {
		c := &Catalog{}
		if err := yaml.Unmarshal(builtinTemplatesYAML, c); err != nil {
			// The embedded file is part of the build; failure here is a
			// programming error surfaced at first classification.
			panic(fmt.Sprintf("embed: corrupt builtin templates: %v", err))
		}
		builtin = c
	}
	return builtin
}

// LoadCatalog reads a user template file, falling back to the built-in
// catalogues when the path does not exist. User sets replace built-in
// sets of the same name wholesale.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return builtinCatalog(), nil
		}
		return nil, fmt.Errorf("read templates: %w", err)
	}

	user := &Catalog{}
	if err := yaml.Unmarshal(data, user); err != nil {
		return nil, fmt.Errorf("parse templates %s: %w", path, err)
	}

	merged := &Catalog{Sets: make(map[string][]TemplateSpec)}
	for name, specs := range builtinCatalog().Sets {
		merged.Sets[name] = specs
	}
	for name, specs := range user.Sets {
		if len(specs) > 0 {
			merged.Sets[name] = specs
		}
	}
	return merged, nil
}
