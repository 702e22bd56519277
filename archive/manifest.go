package archive

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/reprisedb/go-reprise/internal/fsutil"
	"github.com/reprisedb/go-reprise/marshaller"
)

// ManifestFile is the name of the manifest inside the archive directory.
const ManifestFile = "manifest.yaml"

const (
	manifestVersion = 1
	manifestPerm    = 0o644
)

// Hash is a chain hash rendered as hex in the manifest.
type Hash []byte

// MarshalYAML implements yaml.Marshaler.
func (h Hash) MarshalYAML() (any, error) {
	return hex.EncodeToString(h), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (h *Hash) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}

	decoded, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid hash %q: %w", s, err)
	}

	*h = decoded

	return nil
}

func (h Hash) String() string {
	return hex.EncodeToString(h)
}

// Descriptor describes one verified archive file.
type Descriptor struct {
	ID        string    `yaml:"id"`
	File      string    `yaml:"file"`
	From      int64     `yaml:"from"`
	To        int64     `yaml:"to"`
	PrevHash  Hash      `yaml:"prev_hash"`
	TipHash   Hash      `yaml:"tip_hash"`
	Count     int       `yaml:"count"`
	Codec     Codec     `yaml:"codec"`
	Hasher    string    `yaml:"hasher"`
	Signer    string    `yaml:"signer,omitempty"`
	CreatedAt time.Time `yaml:"created_at"`
}

func descriptorOf(file string, h header) Descriptor {
	return Descriptor{
		ID:        h.ID,
		File:      file,
		From:      h.From,
		To:        h.To,
		PrevHash:  Hash(h.PrevHash),
		TipHash:   Hash(h.TipHash),
		Count:     h.Count,
		Codec:     h.Codec,
		Hasher:    h.Hasher,
		Signer:    h.Signer,
		CreatedAt: h.CreatedAt.UTC(),
	}
}

// Manifest lists the verified archives of a directory.
type Manifest struct {
	Version  int          `yaml:"version"`
	Archives []Descriptor `yaml:"archives"`
}

var manifestCodec = marshaller.NewStrictYamlMarshaller[Manifest]() //nolint:gochecknoglobals

func loadManifest(dir string) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile)) //nolint:gosec
	switch {
	case errors.Is(err, os.ErrNotExist):
		return Manifest{Version: manifestVersion, Archives: nil}, nil
	case err != nil:
		return Manifest{}, fmt.Errorf("failed to read manifest: %w", err)
	}

	m, err := manifestCodec.Unmarshal(data)
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to parse manifest: %w", err)
	}

	if m.Version == 0 {
		m.Version = manifestVersion
	}

	if m.Version != manifestVersion {
		return Manifest{}, fmt.Errorf("%w: manifest version %d", ErrUnsupportedVersion, m.Version)
	}

	return m, nil
}

func saveManifest(dir string, m Manifest) error {
	data, err := manifestCodec.Marshal(m)
	if err != nil {
		return err
	}

	if err := fsutil.WriteFileAtomic(filepath.Join(dir, ManifestFile), data, manifestPerm); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	return nil
}

// sorted orders archives by first revision, widest first.
func sorted(archives []Descriptor) []Descriptor {
	out := slices.Clone(archives)

	slices.SortFunc(out, func(a, b Descriptor) int {
		if a.From != b.From {
			return cmpInt64(a.From, b.From)
		}

		return cmpInt64(b.To, a.To)
	})

	return out
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
