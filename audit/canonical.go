// Package audit implements the hash chain that makes the commit history
// tamper-evident: canonical commit encoding, chain extension and verification.
package audit

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/reprisedb/go-reprise/commit"
	"github.com/reprisedb/go-reprise/kv"
)

// CanonicalVersion is the version tag written first in every canonical payload.
const CanonicalVersion = 1

var (
	// ErrMalformedCanonical is returned when canonical bytes cannot be decoded.
	ErrMalformedCanonical = errors.New("malformed canonical commit")
	// ErrUnsupportedVersion is returned for canonical payloads of an unknown version.
	ErrUnsupportedVersion = errors.New("unsupported canonical version")
)

// Canonicalize returns the deterministic encoding of a commit:
//
//	[version, revision, epoch, [[key, tombstone, value], ...]]
//
// as a msgpack array with compact integers and binary strings. Entries are
// ordered by key and the chain hashes are not part of the payload.
func Canonicalize(c commit.Commit) ([]byte, error) {
	writeset, err := commit.NormalizeWriteset(c.Writeset)
	if err != nil {
		return nil, fmt.Errorf("canonicalize revision %d: %w", c.Revision, err)
	}

	var buf bytes.Buffer

	enc := msgpack.NewEncoder(&buf)

	err = encodeCanonical(enc, c, writeset)
	if err != nil {
		return nil, fmt.Errorf("canonicalize revision %d: %w", c.Revision, err)
	}

	return buf.Bytes(), nil
}

func encodeCanonical(enc *msgpack.Encoder, c commit.Commit, writeset []kv.Entry) error {
	if err := enc.EncodeArrayLen(4); err != nil { //nolint:mnd
		return err
	}

	if err := enc.EncodeUint(CanonicalVersion); err != nil {
		return err
	}

	if err := enc.EncodeInt(c.Revision); err != nil {
		return err
	}

	if err := enc.EncodeUint(c.Epoch); err != nil {
		return err
	}

	if err := enc.EncodeArrayLen(len(writeset)); err != nil {
		return err
	}

	for _, e := range writeset {
		if err := enc.EncodeArrayLen(3); err != nil { //nolint:mnd
			return err
		}

		if err := enc.EncodeBytes(e.Key); err != nil {
			return err
		}

		if err := enc.EncodeBool(e.Tombstone); err != nil {
			return err
		}

		if e.Tombstone {
			if err := enc.EncodeNil(); err != nil {
				return err
			}

			continue
		}

		if err := enc.EncodeBytes(e.Value); err != nil {
			return err
		}
	}

	return nil
}

// Decode parses canonical bytes back into a commit without chain hashes.
func Decode(canonical []byte) (commit.Commit, error) {
	c, err := decodeCanonical(msgpack.NewDecoder(bytes.NewReader(canonical)), len(canonical))
	if err != nil {
		return commit.Commit{}, fmt.Errorf("%w: %w", ErrMalformedCanonical, err)
	}

	return c, nil
}

func decodeCanonical(dec *msgpack.Decoder, size int) (commit.Commit, error) {
	var out commit.Commit

	n, err := dec.DecodeArrayLen()
	switch {
	case err != nil:
		return out, err
	case n != 4: //nolint:mnd
		return out, fmt.Errorf("expected 4 fields, got %d", n)
	}

	version, err := dec.DecodeUint64()
	switch {
	case err != nil:
		return out, err
	case version != CanonicalVersion:
		return out, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	if out.Revision, err = dec.DecodeInt64(); err != nil {
		return out, err
	}

	if out.Epoch, err = dec.DecodeUint64(); err != nil {
		return out, err
	}

	count, err := dec.DecodeArrayLen()
	switch {
	case err != nil:
		return out, err
	case count < 0 || count > size:
		return out, fmt.Errorf("invalid writeset length %d", count)
	}

	out.Writeset = make([]kv.Entry, 0, count)

	for range count {
		e, err := decodeEntry(dec)
		if err != nil {
			return out, err
		}

		out.Writeset = append(out.Writeset, e)
	}

	if _, err := dec.PeekCode(); err == nil {
		return out, errors.New("trailing bytes after commit")
	}

	return out, nil
}

func decodeEntry(dec *msgpack.Decoder) (kv.Entry, error) {
	var e kv.Entry

	n, err := dec.DecodeArrayLen()
	switch {
	case err != nil:
		return e, err
	case n != 3: //nolint:mnd
		return e, fmt.Errorf("expected 3 entry fields, got %d", n)
	}

	if e.Key, err = dec.DecodeBytes(); err != nil {
		return e, err
	}

	if e.Tombstone, err = dec.DecodeBool(); err != nil {
		return e, err
	}

	if e.Value, err = dec.DecodeBytes(); err != nil {
		return e, err
	}

	if !e.Tombstone && e.Value == nil {
		e.Value = []byte{}
	}

	return e, nil
}
