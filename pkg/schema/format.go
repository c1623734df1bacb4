package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format encodes the data file of an entry.
type Format interface {
	// Ext is the file extension, including the dot.
	Ext() string
	// Decode splits a data file into its fields and, for markdown, its body.
	Decode(data []byte) (map[string]any, string, error)
	// Encode writes fields and body into a data file.
	Encode(fields map[string]any, body string) ([]byte, error)
}

// FormatByName returns the format registered under name.
func FormatByName(name string) (Format, error) {
	switch strings.ToLower(name) {
	case "", "yaml", "yml":
		return YAMLFormat{}, nil
	case "json":
		return JSONFormat{}, nil
	case "markdown", "md", "mdx":
		return MarkdownFormat{}, nil
	default:
		return nil, fmt.Errorf("unknown format %q", name)
	}
}

// --- JSON ---

// JSONFormat stores fields as an indented JSON object.
type JSONFormat struct{}

func (JSONFormat) Ext() string { return ".json" }

func (JSONFormat) Decode(data []byte) (map[string]any, string, error) {
	var payload map[string]any
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(&payload); err != nil {
		return nil, "", fmt.Errorf("invalid json: %w", err)
	}
	if payload == nil {
		payload = make(map[string]any)
	}
	return payload, "", nil
}

func (JSONFormat) Encode(fields map[string]any, _ string) ([]byte, error) {
	data, err := json.MarshalIndent(fields, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// --- YAML ---

// YAMLFormat stores fields as a YAML mapping.
type YAMLFormat struct{}

func (YAMLFormat) Ext() string { return ".yaml" }

func (YAMLFormat) Decode(data []byte) (map[string]any, string, error) {
	var payload map[string]any
	if err := yaml.Unmarshal(data, &payload); err != nil {
		return nil, "", fmt.Errorf("invalid yaml: %w", err)
	}
	if payload == nil {
		payload = make(map[string]any)
	}
	return payload, "", nil
}

func (YAMLFormat) Encode(fields map[string]any, _ string) ([]byte, error) {
	return encodeYAML(fields)
}

// --- Markdown ---

// MarkdownFormat stores fields as YAML frontmatter followed by the markdown body.
type MarkdownFormat struct{}

func (MarkdownFormat) Ext() string { return ".md" }

func (MarkdownFormat) Decode(data []byte) (map[string]any, string, error) {
	fields := make(map[string]any)
	if !bytes.HasPrefix(data, []byte("---\n")) && !bytes.HasPrefix(data, []byte("---\r\n")) {
		return fields, string(data), nil
	}

	rest := data[3:]
	parts := bytes.SplitN(rest, []byte("\n---"), 2)
	if len(parts) == 1 {
		return nil, "", errors.New("frontmatter started but no closing delimiter found")
	}
	if err := yaml.Unmarshal(parts[0], &fields); err != nil {
		return nil, "", fmt.Errorf("failed to parse frontmatter: %w", err)
	}
	if fields == nil {
		fields = make(map[string]any)
	}

	body := string(parts[1])
	body = strings.TrimPrefix(body, "\r")
	body = strings.TrimPrefix(body, "\n")
	return fields, body, nil
}

func (MarkdownFormat) Encode(fields map[string]any, body string) ([]byte, error) {
	var buf bytes.Buffer
	if len(fields) > 0 {
		buf.WriteString("---\n")
		data, err := encodeYAML(fields)
		if err != nil {
			return nil, err
		}
		buf.Write(data)
		buf.WriteString("---\n")
	}
	buf.WriteString(body)
	return buf.Bytes(), nil
}

func encodeYAML(v any) ([]byte, error) {
	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(v); err != nil {
		return nil, err
	}
	if err := encoder.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
