package journal

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/reprisedb/go-reprise/audit"
	"github.com/reprisedb/go-reprise/commit"
)

// EncodeRecord serializes a commit as [canonical, prevHash, hash].
// The payload is the canonical encoding, so stored records hash the same
// way everywhere.
func EncodeRecord(c commit.Commit) ([]byte, error) {
	canonical, err := audit.Canonicalize(c)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer

	enc := msgpack.NewEncoder(&buf)

	for _, step := range []func() error{
		func() error { return enc.EncodeArrayLen(3) }, //nolint:mnd
		func() error { return enc.EncodeBytes(canonical) },
		func() error { return enc.EncodeBytes(nonNil(c.PrevHash)) },
		func() error { return enc.EncodeBytes(nonNil(c.Hash)) },
	} {
		if err := step(); err != nil {
			return nil, fmt.Errorf("failed to encode record: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// DecodeRecord is the inverse of EncodeRecord.
func DecodeRecord(data []byte) (commit.Commit, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))

	n, err := dec.DecodeArrayLen()
	if err != nil {
		return commit.Commit{}, fmt.Errorf("failed to decode record: %w", err)
	}

	if n != 3 { //nolint:mnd
		return commit.Commit{}, fmt.Errorf("%w: record has %d fields", ErrCorrupt, n)
	}

	fields := make([][]byte, n)
	for i := range fields {
		if fields[i], err = dec.DecodeBytes(); err != nil {
			return commit.Commit{}, fmt.Errorf("failed to decode record: %w", err)
		}
	}

	c, err := audit.Decode(fields[0])
	if err != nil {
		return commit.Commit{}, err
	}

	c.PrevHash = nonNil(fields[1])
	c.Hash = nonNil(fields[2])

	return c, nil
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}

	return b
}
