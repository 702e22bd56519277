package marshaller

import (
	"github.com/vmihailenco/msgpack/v5"
)

const formatMsgpack = "msgpack"

// TypedMsgpackMarshaller is a msgpack marshaller for values of type T.
type TypedMsgpackMarshaller[T any] struct{}

var _ TypedMarshaller[struct{}] = TypedMsgpackMarshaller[struct{}]{}

// NewTypedMsgpackMarshaller creates a msgpack marshaller for T.
func NewTypedMsgpackMarshaller[T any]() TypedMsgpackMarshaller[T] {
	return TypedMsgpackMarshaller[T]{}
}

// Marshal serializes data to msgpack.
func (m TypedMsgpackMarshaller[T]) Marshal(data T) ([]byte, error) {
	out, err := msgpack.Marshal(data)
	if err != nil {
		return nil, errMarshal(formatMsgpack, err)
	}

	return out, nil
}

// Unmarshal deserializes msgpack into a value of type T.
func (m TypedMsgpackMarshaller[T]) Unmarshal(data []byte) (T, error) {
	var out T

	if err := msgpack.Unmarshal(data, &out); err != nil {
		return zero[T](), errUnmarshal(formatMsgpack, err)
	}

	return out, nil
}
