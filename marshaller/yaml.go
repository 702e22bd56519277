package marshaller

import (
	"bytes"

	"gopkg.in/yaml.v3"
)

const formatYAML = "yaml"

// TypedYamlMarshaller is a YAML marshaller for values of type T.
type TypedYamlMarshaller[T any] struct {
	strict bool
}

var _ TypedMarshaller[struct{}] = TypedYamlMarshaller[struct{}]{}

// NewTypedYamlMarshaller creates a marshaller that ignores unknown fields.
func NewTypedYamlMarshaller[T any]() TypedYamlMarshaller[T] {
	return TypedYamlMarshaller[T]{strict: false}
}

// NewStrictYamlMarshaller creates a marshaller that rejects unknown fields.
func NewStrictYamlMarshaller[T any]() TypedYamlMarshaller[T] {
	return TypedYamlMarshaller[T]{strict: true}
}

// Marshal serializes data to YAML.
func (m TypedYamlMarshaller[T]) Marshal(data T) ([]byte, error) {
	var buf bytes.Buffer

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2) //nolint:mnd

	if err := enc.Encode(data); err != nil {
		return nil, errMarshal(formatYAML, err)
	}

	if err := enc.Close(); err != nil {
		return nil, errMarshal(formatYAML, err)
	}

	return buf.Bytes(), nil
}

// Unmarshal deserializes YAML into a value of type T. Empty input yields
// the zero value.
func (m TypedYamlMarshaller[T]) Unmarshal(data []byte) (T, error) {
	var out T

	if len(bytes.TrimSpace(data)) == 0 {
		return out, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(m.strict)

	if err := dec.Decode(&out); err != nil {
		return zero[T](), errUnmarshal(formatYAML, err)
	}

	return out, nil
}
