package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Defaults stores per-class parameter defaults as a JSON document of the
// form {"<Class>": {"<property>": value}}. It implements
// pipeline.UserDefaults and is safe for concurrent use.
type Defaults struct {
	mu  sync.RWMutex
	doc string
}

// NewDefaults parses a JSON document. An empty document yields an empty
// provider.
func NewDefaults(doc string) (*Defaults, error) {
	if strings.TrimSpace(doc) == "" {
		doc = "{}"
	}
	if !gjson.Valid(doc) {
		return nil, errors.New("defaults document is not valid JSON")
	}
	if !gjson.Parse(doc).IsObject() {
		return nil, errors.New("defaults document must be a JSON object")
	}
	return &Defaults{doc: doc}, nil
}

// DefaultsFromMap creates a provider from the decoded "defaults" section of
// the configuration file.
func DefaultsFromMap(m map[string]any) (*Defaults, error) {
	if len(m) == 0 {
		return NewDefaults("")
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode defaults: %w", err)
	}
	return NewDefaults(string(data))
}

// Set stores a value for class and property.
func (d *Defaults) Set(class, property string, value any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc, err := sjson.Set(d.doc, defaultsPath(class, property), value)
	if err != nil {
		return fmt.Errorf("failed to set default %s.%s: %w", class, property, err)
	}
	d.doc = doc
	return nil
}

// JSON returns the current document.
func (d *Defaults) JSON() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.doc
}

func (d *Defaults) lookup(class, property string) gjson.Result {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return gjson.Get(d.doc, defaultsPath(class, property))
}

func (d *Defaults) Int(class, property string) (int, bool) {
	r := d.lookup(class, property)
	if r.Type != gjson.Number {
		return 0, false
	}
	return int(r.Int()), true
}

func (d *Defaults) Float(class, property string) (float64, bool) {
	r := d.lookup(class, property)
	if r.Type != gjson.Number {
		return 0, false
	}
	return r.Float(), true
}

func (d *Defaults) Bool(class, property string) (bool, bool) {
	r := d.lookup(class, property)
	if !r.IsBool() {
		return false, false
	}
	return r.Bool(), true
}

func (d *Defaults) String(class, property string) (string, bool) {
	r := d.lookup(class, property)
	if r.Type != gjson.String {
		return "", false
	}
	return r.Str, true
}

var pathEscaper = strings.NewReplacer(
	`\`, `\\`,
	`.`, `\.`,
	`*`, `\*`,
	`?`, `\?`,
	`|`, `\|`,
	`#`, `\#`,
	`@`, `\@`,
)

func defaultsPath(class, property string) string {
	return pathEscaper.Replace(class) + "." + pathEscaper.Replace(property)
}
