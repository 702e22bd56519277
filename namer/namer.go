// Package namer maps namespaced keys onto the flat key space of the store.
//
// A key k of namespace n is stored as "/n/k". Namespace names are
// NFC-normalized so that canonically equivalent spellings share one
// namespace; keys themselves are opaque bytes.
package namer

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Separator delimits the namespace inside a stored key.
const Separator = '/'

// Namespace is a validated namespace name.
type Namespace struct {
	name string
}

// New validates and normalizes name.
func New(name string) (Namespace, error) {
	if !utf8.ValidString(name) {
		return Namespace{}, errInvalidName(name, "not valid UTF-8")
	}

	normalized := norm.NFC.String(name)

	switch {
	case normalized == "":
		return Namespace{}, errInvalidName(name, "empty")
	case strings.ContainsRune(normalized, Separator):
		return Namespace{}, errInvalidName(name, "contains separator")
	}

	return Namespace{name: normalized}, nil
}

// Must is New that panics on an invalid name.
func Must(name string) Namespace {
	ns, err := New(name)
	if err != nil {
		panic(err)
	}

	return ns
}

// Name returns the normalized name.
func (n Namespace) Name() string {
	return n.name
}

func (n Namespace) String() string {
	return n.name
}

// Prefix returns the common prefix of every stored key of the namespace.
func (n Namespace) Prefix() []byte {
	out := make([]byte, 0, len(n.name)+2) //nolint:mnd
	out = append(out, Separator)
	out = append(out, n.name...)

	return append(out, Separator)
}

// End returns the exclusive upper bound of the namespace key range.
func (n Namespace) End() []byte {
	end := n.Prefix()
	end[len(end)-1]++

	return end
}

// Key returns the stored form of key.
func (n Namespace) Key(key []byte) []byte {
	return append(n.Prefix(), key...)
}

// Contains reports whether raw is a stored key of the namespace.
func (n Namespace) Contains(raw []byte) bool {
	return bytes.HasPrefix(raw, n.Prefix()) && len(raw) > len(n.name)+2
}

// Parse splits a stored key into its namespace and key.
func Parse(raw []byte) (Key, error) {
	rest, ok := bytes.CutPrefix(raw, []byte{Separator})
	if !ok {
		return Key{}, errInvalidKey(raw, "missing leading separator")
	}

	name, key, ok := bytes.Cut(rest, []byte{Separator})

	switch {
	case !ok:
		return Key{}, errInvalidKey(raw, "missing namespace separator")
	case len(name) == 0:
		return Key{}, errInvalidKey(raw, "empty namespace")
	case len(key) == 0:
		return Key{}, errInvalidKey(raw, "empty key")
	case !norm.NFC.IsNormal(name):
		return Key{}, errInvalidKey(raw, "namespace is not normalized")
	}

	return Key{
		Namespace: Namespace{name: string(name)},
		Name:      bytes.Clone(key),
	}, nil
}
