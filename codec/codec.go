// Package codec converts domain payloads flowing through ports into text
// (plain text, or HTML for markdown) that downstream steps (expressions, subprocess commands, user
// operations) can consume. Each codec owns one data_type name; the
// package also registers every codec as a ready-made operation so that
// workflows can invoke conversions as ordinary steps.
package codec

import (
	"fmt"
	"sort"
	"sync"

	"github.com/nevindra/flowgraph"
)

// Codec decodes one payload kind into text.
type Codec interface {
	// DataType is the qualified type name the codec handles, as it
	// appears in a port's data_type metadata.
	DataType() string
	// Decode converts a raw payload into text.
	Decode(payload []byte) (string, error)
}

var (
	mu     sync.RWMutex
	codecs = map[string]Codec{}
)

// Register makes c available under its data_type name, replacing any
// earlier codec for the same name.
func Register(c Codec) {
	mu.Lock()
	defer mu.Unlock()
	codecs[c.DataType()] = c
}

// Lookup returns the codec registered for dataType.
func Lookup(dataType string) (Codec, bool) {
	mu.RLock()
	defer mu.RUnlock()
	c, ok := codecs[dataType]
	return c, ok
}

// Decode converts payload using the codec registered for dataType.
func Decode(dataType string, payload []byte) (string, error) {
	c, ok := Lookup(dataType)
	if !ok {
		return "", fmt.Errorf("codec: no codec for data type %q", dataType)
	}
	return c.Decode(payload)
}

// DataTypes returns every registered data_type name, sorted.
func DataTypes() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(codecs))
	for n := range codecs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func init() {
	Register(Markdown{})
	Register(PDFText{})
	Register(HTMLArticle{})
}

// RegisterOps adds one operation per registered codec to reg, named
// "codec.<data_type>". Each takes a single "payload" input (text or raw
// bytes) and returns the decoded text.
func RegisterOps(reg *flow.Registry) error {
	for _, name := range DataTypes() {
		c, _ := Lookup(name)
		meta := flow.OpMetaInfo{
			QualifiedName: "codec." + name,
			Header:        map[string]any{"description": fmt.Sprintf("decode a %s payload to text", name)},
			Inputs: []flow.PropertySet{
				{Name: "payload", Required: true},
			},
			Outputs: []flow.PropertySet{{Name: flow.ReturnOutput, DataType: "text"}},
		}
		codec := c
		fn := func(_ *flow.ExecContext, values map[string]any) (map[string]any, error) {
			payload, err := payloadBytes(values["payload"])
			if err != nil {
				return nil, err
			}
			text, err := codec.Decode(payload)
			if err != nil {
				return nil, err
			}
			return map[string]any{flow.ReturnOutput: text}, nil
		}
		if err := reg.Add(meta, fn, false); err != nil {
			return err
		}
	}
	return nil
}

func payloadBytes(v any) ([]byte, error) {
	switch p := v.(type) {
	case []byte:
		return p, nil
	case string:
		return []byte(p), nil
	default:
		return nil, fmt.Errorf("codec: payload must be text or bytes, got %T", v)
	}
}
