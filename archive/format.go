package archive

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/reprisedb/go-reprise/marshaller"
)

// Magic opens every archive file.
const Magic = "RPRA"

// FormatVersion is the current archive layout version.
const FormatVersion byte = 1

// maxHeaderSize bounds the header length read from disk.
const maxHeaderSize = 1 << 20

// Codec is the compression applied to the record stream.
type Codec string

const (
	// CodecSnappy is the snappy framing format.
	CodecSnappy Codec = "snappy"
	// CodecLZ4 is the lz4 frame format.
	CodecLZ4 Codec = "lz4"
	// CodecNone stores records uncompressed.
	CodecNone Codec = "none"
)

// ParseCodec parses a codec name; the empty string selects snappy.
func ParseCodec(s string) (Codec, error) {
	switch c := Codec(strings.ToLower(s)); c {
	case "":
		return CodecSnappy, nil
	case CodecSnappy, CodecLZ4, CodecNone:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedCodec, s)
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

func (c Codec) writer(w io.Writer) (io.WriteCloser, error) {
	switch c {
	case CodecSnappy:
		return snappy.NewBufferedWriter(w), nil
	case CodecLZ4:
		return lz4.NewWriter(w), nil
	case CodecNone:
		return nopWriteCloser{w}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCodec, c)
	}
}

func (c Codec) reader(r io.Reader) (io.Reader, error) {
	switch c {
	case CodecSnappy:
		return snappy.NewReader(r), nil
	case CodecLZ4:
		return lz4.NewReader(r), nil
	case CodecNone:
		return r, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCodec, c)
	}
}

// header is the msgpack document that follows the magic and version.
type header struct {
	ID        string    `msgpack:"id"`
	From      int64     `msgpack:"from"`
	To        int64     `msgpack:"to"`
	PrevHash  []byte    `msgpack:"prev_hash"`
	TipHash   []byte    `msgpack:"tip_hash"`
	Count     int       `msgpack:"count"`
	Codec     Codec     `msgpack:"codec"`
	Hasher    string    `msgpack:"hasher"`
	CreatedAt time.Time `msgpack:"created_at"`
	Signer    string    `msgpack:"signer"`
	Signature []byte    `msgpack:"signature"`
}

var headerCodec = marshaller.NewTypedMsgpackMarshaller[header]() //nolint:gochecknoglobals

// signed returns the bytes covered by the signature.
func (h header) signed() ([]byte, error) {
	h.Signature = nil

	return headerCodec.Marshal(h)
}

func writePreamble(w io.Writer, h header) error {
	data, err := headerCodec.Marshal(h)
	if err != nil {
		return err
	}

	buf := make([]byte, 0, len(Magic)+1+4+len(data)) //nolint:mnd
	buf = append(buf, Magic...)
	buf = append(buf, FormatVersion)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(data))) //nolint:gosec
	buf = append(buf, data...)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	return nil
}

func readPreamble(r *bufio.Reader) (header, error) {
	prefix := make([]byte, len(Magic)+1+4) //nolint:mnd
	if _, err := io.ReadFull(r, prefix); err != nil {
		return header{}, fmt.Errorf("%w: %w", ErrBadMagic, err)
	}

	if string(prefix[:len(Magic)]) != Magic {
		return header{}, ErrBadMagic
	}

	if v := prefix[len(Magic)]; v != FormatVersion {
		return header{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}

	size := binary.BigEndian.Uint32(prefix[len(Magic)+1:])
	if size > maxHeaderSize {
		return header{}, fmt.Errorf("%w: header of %d bytes", ErrCorrupt, size)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return header{}, fmt.Errorf("%w: short header: %w", ErrCorrupt, err)
	}

	h, err := headerCodec.Unmarshal(data)
	if err != nil {
		return header{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	return h, nil
}

// A record is the msgpack array [canonical, hash].
func writeRecord(enc *msgpack.Encoder, canonical, hash []byte) error {
	if err := enc.EncodeArrayLen(2); err != nil { //nolint:mnd
		return err
	}

	if err := enc.EncodeBytes(canonical); err != nil {
		return err
	}

	return enc.EncodeBytes(hash)
}

func readRecord(dec *msgpack.Decoder) ([]byte, []byte, error) {
	n, err := dec.DecodeArrayLen()
	switch {
	case errors.Is(err, io.EOF):
		return nil, nil, io.EOF
	case err != nil:
		return nil, nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	case n != 2: //nolint:mnd
		return nil, nil, fmt.Errorf("%w: record of %d fields", ErrCorrupt, n)
	}

	canonical, err := dec.DecodeBytes()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	hash, err := dec.DecodeBytes()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	return canonical, hash, nil
}
