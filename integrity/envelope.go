package integrity

import (
	"bytes"
	"maps"
	"slices"

	"github.com/tarantool/go-option"

	"github.com/reprisedb/go-reprise/crypto"
	"github.com/reprisedb/go-reprise/hasher"
	"github.com/reprisedb/go-reprise/marshaller"
)

// envelope is the stored form of a record.
type envelope struct {
	Value      []byte            `msgpack:"value"`
	Hashes     map[string][]byte `msgpack:"hashes,omitempty"`
	Signatures map[string][]byte `msgpack:"signatures,omitempty"`
}

// sealer builds and checks envelopes. Hashers, signers and verifiers are
// keyed by algorithm name.
type sealer[T any] struct {
	marshaller marshaller.TypedMarshaller[T]
	codec      marshaller.TypedMsgpackMarshaller[envelope]
	hashers    map[string]hasher.Hasher
	signers    map[string]crypto.Signer
	verifiers  map[string]crypto.Verifier
}

func newSealer[T any](opts typedOptions[T]) sealer[T] {
	s := sealer[T]{
		marshaller: opts.marshaller,
		codec:      marshaller.NewTypedMsgpackMarshaller[envelope](),
		hashers:    make(map[string]hasher.Hasher, len(opts.hashers)),
		signers:    make(map[string]crypto.Signer, len(opts.signers)),
		verifiers:  make(map[string]crypto.Verifier, len(opts.verifiers)),
	}

	for _, h := range opts.hashers {
		s.hashers[h.Name()] = h
	}

	for _, sg := range opts.signers {
		s.signers[sg.Name()] = sg
	}

	for _, v := range opts.verifiers {
		s.verifiers[v.Name()] = v
	}

	return s
}

// seal marshals value and wraps it with every configured hash and signature.
func (s sealer[T]) seal(value T) ([]byte, error) {
	body, err := s.marshaller.Marshal(value)
	if err != nil {
		return nil, errSeal("marshal value", err)
	}

	env := envelope{Value: body, Hashes: nil, Signatures: nil}

	if len(s.hashers) > 0 {
		env.Hashes = make(map[string][]byte, len(s.hashers))
	}

	for name, h := range s.hashers {
		sum, err := h.Hash(body)
		if err != nil {
			return nil, errSeal("compute hash "+name, err)
		}

		env.Hashes[name] = sum
	}

	if len(s.signers) > 0 {
		env.Signatures = make(map[string][]byte, len(s.signers))
	}

	for name, sg := range s.signers {
		sig, err := sg.Sign(body)
		if err != nil {
			return nil, errSeal("generate signature "+name, err)
		}

		env.Signatures[name] = sig
	}

	data, err := s.codec.Marshal(env)
	if err != nil {
		return nil, errSeal("encode envelope", err)
	}

	return data, nil
}

// open decodes raw and checks it against every configured hasher and
// verifier. Value is None only when the record could not be decoded.
// Hashes and signatures of algorithms that are not configured are ignored.
func (s sealer[T]) open(raw []byte) (option.Generic[T], error) {
	env, err := s.codec.Unmarshal(raw)
	if err != nil {
		return option.None[T](), errFailedToDecode(err)
	}

	value, err := s.marshaller.Unmarshal(env.Value)
	if err != nil {
		return option.None[T](), errFailedToDecode(err)
	}

	agg := &AggregatedError{parent: nil}

	for _, name := range slices.Sorted(maps.Keys(s.hashers)) {
		stored, ok := env.Hashes[name]
		if !ok {
			agg.Append(errHashMissing(name))
			continue
		}

		sum, err := s.hashers[name].Hash(env.Value)

		switch {
		case err != nil:
			agg.Append(errFailedToHash(name, err))
		case !bytes.Equal(sum, stored):
			agg.Append(errHashMismatch(name, stored, sum))
		}
	}

	for _, name := range slices.Sorted(maps.Keys(s.verifiers)) {
		sig, ok := env.Signatures[name]
		if !ok {
			agg.Append(errSignatureMissing(name))
			continue
		}

		if err := s.verifiers[name].Verify(env.Value, sig); err != nil {
			agg.Append(errSignatureInvalid(name, err))
		}
	}

	return option.Some(value), agg.Finalize()
}
