package render

import (
	"bytes"
	"strings"

	"gopkg.in/yaml.v3"
)

// Field is a single frontmatter key/value pair.
type Field struct {
	Key   string
	Value string
}

// Frontmatter is the YAML block at the top of a Markdown file.
type Frontmatter struct {
	Fields []Field
}

// Title returns the "title" field, or "".
func (f Frontmatter) Title() string {
	for _, field := range f.Fields {
		if field.Key == "title" {
			return field.Value
		}
	}
	return ""
}

var newline = []byte("\n")

// SplitFrontmatter separates a leading "---" delimited YAML block from the
// Markdown body. Input without a closed block holding a YAML mapping is
// returned whole with empty frontmatter.
func SplitFrontmatter(src []byte) (Frontmatter, []byte) {
	first, rest, found := bytes.Cut(src, newline)
	if !found || !isDelimiter(first) {
		return Frontmatter{}, src
	}

	offset := 0
	for {
		line, _, more := bytes.Cut(rest[offset:], newline)
		if isDelimiter(line) {
			end := offset + len(line)
			if more {
				end++
			}
			fields, ok := parseFields(rest[:offset])
			if !ok {
				return Frontmatter{}, src
			}
			return Frontmatter{Fields: fields}, rest[end:]
		}
		if !more {
			return Frontmatter{}, src
		}
		offset += len(line) + 1
	}
}

func isDelimiter(line []byte) bool {
	return strings.TrimRight(string(line), " \t\r") == "---"
}

// parseFields decodes a YAML mapping, keeping key order.
func parseFields(block []byte) ([]Field, bool) {
	var doc yaml.Node
	if err := yaml.Unmarshal(block, &doc); err != nil {
		return nil, false
	}
	if len(doc.Content) == 0 {
		return nil, true
	}

	mapping := doc.Content[0]
	if mapping.Kind != yaml.MappingNode {
		return nil, false
	}

	fields := make([]Field, 0, len(mapping.Content)/2)
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		fields = append(fields, Field{
			Key:   mapping.Content[i].Value,
			Value: nodeString(mapping.Content[i+1]),
		})
	}
	return fields, true
}

// nodeString flattens a value for display: scalars as-is, anything else as
// compact YAML.
func nodeString(n *yaml.Node) string {
	if n.Kind == yaml.ScalarNode {
		return n.Value
	}
	out, err := yaml.Marshal(n)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
