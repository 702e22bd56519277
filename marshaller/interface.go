// Package marshaller converts typed documents to and from their on-disk
// encodings: YAML for human-edited files such as the configuration and the
// archive manifest, msgpack for compact machine state.
package marshaller

// TypedMarshaller encodes and decodes values of one type.
type TypedMarshaller[T any] interface {
	Marshal(data T) ([]byte, error)
	Unmarshal(data []byte) (T, error)
}

func zero[T any]() T {
	var out T
	return out
}
