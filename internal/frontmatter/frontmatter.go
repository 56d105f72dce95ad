// Package frontmatter reads and writes mirror documents: a YAML metadata
// block between "---" delimiter lines followed by a markdown body.
//
// The metadata block has exactly two top-level keys. "properties" holds the
// entity's property bag plus a "sync" group of volatile bookkeeping fields;
// "mapping" holds the property -> wire path table the document was rendered
// with.
package frontmatter

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lherron/epicsync/internal/domain"
	"github.com/lherron/epicsync/internal/mapping"
)

// Delimiter opens and closes the metadata block.
const Delimiter = "---"

const (
	keyProperties = "properties"
	keyMapping    = "mapping"
	keySync       = "sync"
)

// Sync holds the volatile bookkeeping fields. All of them are nullable.
type Sync struct {
	RemoteKey  *string
	LastSync   *string
	LocalHash  *string
	RemoteHash *string
}

// fields lists the sync group in emission order.
func (s *Sync) fields() []struct {
	name string
	ptr  **string
} {
	return []struct {
		name string
		ptr  **string
	}{
		{"remoteKey", &s.RemoteKey},
		{"lastSync", &s.LastSync},
		{"localHash", &s.LocalHash},
		{"remoteHash", &s.RemoteHash},
	}
}

// Metadata is the decoded metadata block.
type Metadata struct {
	Properties *domain.Bag
	Sync       Sync
	Mapping    *mapping.Table
}

// Document is one parsed mirror file.
type Document struct {
	Metadata Metadata
	Body     string
}

// New builds a document with an empty sync group.
func New(props *domain.Bag, table *mapping.Table, body string) *Document {
	if props == nil {
		props = domain.NewBag()
	}
	if table == nil {
		table, _ = mapping.NewTable()
	}
	return &Document{
		Metadata: Metadata{Properties: props, Mapping: table},
		Body:     body,
	}
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	s := d.Metadata.Sync
	return &Document{
		Metadata: Metadata{
			Properties: d.Metadata.Properties.Clone(),
			Sync: Sync{
				RemoteKey:  copyString(s.RemoteKey),
				LastSync:   copyString(s.LastSync),
				LocalHash:  copyString(s.LocalHash),
				RemoteHash: copyString(s.RemoteHash),
			},
			Mapping: d.Metadata.Mapping,
		},
		Body: d.Body,
	}
}

func copyString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Entity reads the placement attributes out of the properties. The
// description comes from the body.
func (d *Document) Entity() (*domain.Entity, error) {
	e, err := domain.EntityFromBag(d.Metadata.Properties)
	if err != nil {
		return nil, err
	}
	if _, desc := ParseBody(d.Body); desc != "" {
		e.Description = desc
	}
	return e, nil
}

// Parse decodes a document. The owning project key is required.
func Parse(data []byte) (*Document, error) {
	return parse(data, true)
}

// ParseTemplate decodes a template document, which has no project yet.
func ParseTemplate(data []byte) (*Document, error) {
	return parse(data, false)
}

// ParseFile reads and decodes the document at path.
func ParseFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	doc, err := Parse(data)
	if err != nil {
		var me *domain.MalformedDocumentError
		if errors.As(err, &me) {
			me.Path = path
		}
		return nil, err
	}
	return doc, nil
}

func malformed(format string, args ...any) error {
	return &domain.MalformedDocumentError{Reason: fmt.Sprintf(format, args...)}
}

// split separates the metadata block from the body. The body is returned
// verbatim, including any leading blank line.
func split(text string) (meta, body string, err error) {
	first, rest, found := strings.Cut(text, "\n")
	if strings.TrimSuffix(first, "\r") != Delimiter || !found {
		return "", "", malformed("missing opening %q delimiter", Delimiter)
	}

	offset := 0
	for offset <= len(rest) {
		line, _, more := strings.Cut(rest[offset:], "\n")
		if strings.TrimSuffix(line, "\r") == Delimiter {
			end := offset + len(line)
			if more {
				end++
			}
			return rest[:offset], rest[end:], nil
		}
		if !more {
			break
		}
		offset += len(line) + 1
	}
	return "", "", malformed("missing closing %q delimiter", Delimiter)
}

func parse(data []byte, requireProject bool) (*Document, error) {
	meta, body, err := split(string(data))
	if err != nil {
		return nil, err
	}

	var root yaml.Node
	if err := yaml.Unmarshal([]byte(meta), &root); err != nil {
		return nil, malformed("invalid metadata: %v", err)
	}

	doc := New(nil, nil, body)
	if len(root.Content) == 0 {
		if requireProject {
			return nil, malformed("metadata block is empty")
		}
		return doc, nil
	}

	top := root.Content[0]
	if top.Kind != yaml.MappingNode {
		return nil, malformed("metadata must be a mapping")
	}

	for i := 0; i+1 < len(top.Content); i += 2 {
		k, v := top.Content[i], top.Content[i+1]
		switch k.Value {
		case keyProperties:
			if err := decodeProperties(v, &doc.Metadata); err != nil {
				return nil, err
			}
		case keyMapping:
			var table mapping.Table
			if err := v.Decode(&table); err != nil {
				return nil, malformed("invalid mapping: %v", err)
			}
			doc.Metadata.Mapping = &table
		default:
			return nil, malformed("unexpected top-level key %q", k.Value)
		}
	}

	if requireProject {
		if p, _ := doc.Metadata.Properties.String(domain.PropProject); strings.TrimSpace(p) == "" {
			return nil, malformed("properties.%s is required", domain.PropProject)
		}
	}

	return doc, nil
}

func decodeProperties(n *yaml.Node, meta *Metadata) error {
	if n.Kind == yaml.ScalarNode && n.ShortTag() == "!!null" {
		return nil
	}
	if n.Kind != yaml.MappingNode {
		return malformed("properties must be a mapping")
	}

	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		if k.Value == keySync {
			if err := decodeSync(v, &meta.Sync); err != nil {
				return err
			}
			continue
		}
		val, err := nodeToValue(v)
		if err != nil {
			return malformed("property %q: %v", k.Value, err)
		}
		meta.Properties.Set(k.Value, val)
	}
	return nil
}

func decodeSync(n *yaml.Node, s *Sync) error {
	if n.Kind == yaml.ScalarNode && n.ShortTag() == "!!null" {
		return nil
	}
	if n.Kind != yaml.MappingNode {
		return malformed("properties.sync must be a mapping")
	}

	byName := make(map[string]**string)
	for _, f := range s.fields() {
		byName[f.name] = f.ptr
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		ptr, ok := byName[k.Value]
		if !ok {
			return malformed("unknown sync field %q", k.Value)
		}
		if v.Kind != yaml.ScalarNode {
			return malformed("sync.%s must be a scalar", k.Value)
		}
		if v.ShortTag() == "!!null" {
			*ptr = nil
			continue
		}
		value := v.Value
		*ptr = &value
	}
	return nil
}

func nodeToValue(n *yaml.Node) (domain.Value, error) {
	if n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}

	switch n.Kind {
	case yaml.ScalarNode:
		switch n.ShortTag() {
		case "!!null":
			return domain.Null(), nil
		case "!!bool":
			var b bool
			if err := n.Decode(&b); err != nil {
				return domain.Value{}, err
			}
			return domain.Bool(b), nil
		case "!!int":
			var i int64
			if err := n.Decode(&i); err != nil {
				return domain.String(n.Value), nil
			}
			return domain.Int(i), nil
		case "!!float":
			var f float64
			if err := n.Decode(&f); err != nil {
				return domain.Value{}, err
			}
			return domain.FromAny(f), nil
		default:
			return domain.String(n.Value), nil
		}
	case yaml.SequenceNode:
		items := make([]domain.Value, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := nodeToValue(c)
			if err != nil {
				return domain.Value{}, err
			}
			items = append(items, v)
		}
		return domain.List(items...), nil
	case yaml.MappingNode:
		var raw map[string]any
		if err := n.Decode(&raw); err != nil {
			return domain.Value{}, err
		}
		return domain.Unknown(raw), nil
	}
	return domain.Value{}, fmt.Errorf("unsupported YAML node at line %d", n.Line)
}

func valueToNode(v domain.Value) (*yaml.Node, error) {
	switch v.Kind() {
	case domain.KindNull:
		return nullNode(), nil
	case domain.KindList:
		seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, item := range v.Items() {
			c, err := valueToNode(item)
			if err != nil {
				return nil, err
			}
			seq.Content = append(seq.Content, c)
		}
		if len(seq.Content) == 0 {
			seq.Style = yaml.FlowStyle
		}
		return seq, nil
	}

	n := &yaml.Node{}
	if err := n.Encode(v.Native()); err != nil {
		return nil, err
	}
	return n, nil
}

func nullNode() *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
}

func keyNode(name string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: name}
}

// Serialize emits the document. Properties keep their stored order and the
// sync group is always written last inside properties.
func Serialize(doc *Document) ([]byte, error) {
	props := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, key := range doc.Metadata.Properties.Keys() {
		if key == keySync {
			continue
		}
		v, _ := doc.Metadata.Properties.Get(key)
		n, err := valueToNode(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode property %q: %w", key, err)
		}
		props.Content = append(props.Content, keyNode(key), n)
	}

	syncNode := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, f := range doc.Metadata.Sync.fields() {
		var n *yaml.Node
		if p := *f.ptr; p != nil {
			n = &yaml.Node{}
			if err := n.Encode(*p); err != nil {
				return nil, err
			}
		} else {
			n = nullNode()
		}
		syncNode.Content = append(syncNode.Content, keyNode(f.name), n)
	}
	props.Content = append(props.Content, keyNode(keySync), syncNode)

	table, err := doc.Metadata.Mapping.MarshalYAML()
	if err != nil {
		return nil, err
	}
	root := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map", Content: []*yaml.Node{
		keyNode(keyProperties), props,
		keyNode(keyMapping), table.(*yaml.Node),
	}}

	var buf bytes.Buffer
	buf.WriteString(Delimiter + "\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	buf.WriteString(Delimiter + "\n")
	buf.WriteString(doc.Body)
	return buf.Bytes(), nil
}

// ContentHash hashes the serialized document with localHash and remoteHash
// cleared, so recording a hash never changes it.
func ContentHash(doc *Document) (string, error) {
	c := doc.Clone()
	c.Metadata.Sync.LocalHash = nil
	c.Metadata.Sync.RemoteHash = nil
	data, err := Serialize(c)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// Equal compares metadata field by field and the body byte for byte.
func Equal(a, b *Document) bool {
	if a.Body != b.Body {
		return false
	}
	if !a.Metadata.Properties.Equal(b.Metadata.Properties) {
		return false
	}
	if !a.Metadata.Mapping.Equal(b.Metadata.Mapping) {
		return false
	}
	as, bs := a.Metadata.Sync.fields(), b.Metadata.Sync.fields()
	for i := range as {
		x, y := *as[i].ptr, *bs[i].ptr
		if (x == nil) != (y == nil) || (x != nil && *x != *y) {
			return false
		}
	}
	return true
}

// StringPtr is a helper for filling sync fields.
func StringPtr(s string) *string {
	return &s
}
