// Package schema turns entry files into values and back. A Codec is built from the
// field declarations of one singleton or collection in the project config.
package schema

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/aretw0/tilth/pkg/core"
)

// Codec implements core.Codec for a declared list of fields.
//
// The data file lives at "<basePath><ext>". Document fields are stored next to it as
// "<basePath>/<field>.md", except the content field of the markdown format, which is the
// body of the data file.
type Codec struct {
	fields       []Field
	byName       map[string]Field
	format       Format
	slugField    string
	contentField string
}

// NewCodec validates the field declarations and creates a Codec.
func NewCodec(fields []Field, format Format, slugField, contentField string) (*Codec, error) {
	c := &Codec{
		fields:       fields,
		byName:       make(map[string]Field, len(fields)),
		format:       format,
		slugField:    slugField,
		contentField: contentField,
	}
	if format == nil {
		c.format = YAMLFormat{}
	}
	for _, f := range fields {
		if err := f.check(); err != nil {
			return nil, err
		}
		if _, dup := c.byName[f.Name]; dup {
			return nil, fmt.Errorf("duplicate field %q", f.Name)
		}
		c.byName[f.Name] = f
	}
	if slugField != "" {
		f, ok := c.byName[slugField]
		if !ok || f.Kind != KindSlug {
			return nil, fmt.Errorf("slug field %q must be a declared slug field", slugField)
		}
	}
	if contentField != "" {
		f, ok := c.byName[contentField]
		if !ok || f.Kind != KindDocument {
			return nil, fmt.Errorf("content field %q must be a declared document field", contentField)
		}
		if _, isMarkdown := c.format.(MarkdownFormat); !isMarkdown {
			return nil, fmt.Errorf("content field %q requires the markdown format", contentField)
		}
	}
	return c, nil
}

// Fields implements core.Codec.
func (c *Codec) Fields() []string {
	names := make([]string, len(c.fields))
	for i, f := range c.fields {
		names[i] = f.Name
	}
	return names
}

// SlugField implements core.Codec.
func (c *Codec) SlugField() string {
	return c.slugField
}

// Format returns the data file format.
func (c *Codec) Format() Format {
	return c.format
}

// Default implements core.Codec.
func (c *Codec) Default() core.Value {
	v := make(core.Value, len(c.fields))
	for _, f := range c.fields {
		v[f.Name] = f.zero()
	}
	return v
}

// Parse implements core.Codec. Unknown keys in the data file are ignored and missing
// fields take their empty value.
func (c *Codec) Parse(files map[string][]byte) (core.Value, error) {
	dataPath, ok := c.dataFile(files)
	if !ok {
		return nil, fmt.Errorf("no %s data file among %d files", c.format.Ext(), len(files))
	}
	raw, body, err := c.format.Decode(files[dataPath])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", dataPath, err)
	}
	base := strings.TrimSuffix(dataPath, c.format.Ext())

	v := make(core.Value, len(c.fields))
	for _, f := range c.fields {
		var val any
		switch {
		case f.Kind == KindDocument && f.Name == c.contentField:
			val = body
		case f.Kind == KindDocument:
			val = string(files[path.Join(base, f.Name+".md")])
		default:
			val = raw[f.Name]
		}
		coerced, err := f.coerce(val)
		if err != nil {
			return nil, fmt.Errorf("%s: field %q: %w", dataPath, f.Name, err)
		}
		v[f.Name] = coerced
	}
	return v, nil
}

// dataFile picks the shallowest file with the format extension.
func (c *Codec) dataFile(files map[string][]byte) (string, bool) {
	var candidates []string
	for p := range files {
		if path.Ext(p) == c.format.Ext() {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.Slice(candidates, func(i, j int) bool {
		di, dj := strings.Count(candidates[i], "/"), strings.Count(candidates[j], "/")
		if di != dj {
			return di < dj
		}
		return candidates[i] < candidates[j]
	})
	return candidates[0], true
}

// Serialize implements core.Codec. Empty document fields produce no file.
func (c *Codec) Serialize(v core.Value, basePath string) ([]core.File, error) {
	data := make(map[string]any, len(c.fields))
	body := ""
	var extra []core.File
	for _, f := range c.fields {
		val, err := f.coerce(v[f.Name])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		switch {
		case f.Kind == KindDocument && f.Name == c.contentField:
			body = val.(string)
		case f.Kind == KindDocument:
			if s := val.(string); s != "" {
				extra = append(extra, core.File{Path: path.Join(basePath, f.Name+".md"), Contents: []byte(s)})
			}
		default:
			data[f.Name] = val
		}
	}
	encoded, err := c.format.Encode(data, body)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", basePath, err)
	}
	return append([]core.File{{Path: basePath + c.format.Ext(), Contents: encoded}}, extra...), nil
}

// FieldEqual implements core.Codec. Values are compared after coercion to the field kind
// and JSON normalization. Document fields ignore trailing newlines.
func (c *Codec) FieldEqual(field string, a, b any) bool {
	f, ok := c.byName[field]
	if !ok {
		return normalizedEqual(a, b)
	}
	return f.equal(a, b)
}

// Validate implements core.Codec.
func (c *Codec) Validate(v core.Value) error {
	verr := &core.ValidationError{}
	for _, f := range c.fields {
		if msg := f.validate(v[f.Name]); msg != "" {
			verr.Add(f.Name, msg)
		}
	}
	return verr.OrNil()
}

var _ core.Codec = (*Codec)(nil)
