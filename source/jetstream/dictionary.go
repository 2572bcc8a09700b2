package jetstream

import (
	"bytes"
	"fmt"
	"os"

	"github.com/klauspost/compress/zstd"
)

// zstd dictionary magic, little endian 0xEC30A437.
var dictMagic = []byte{0x37, 0xa4, 0x30, 0xec}

// Dictionary is the shared zstd dictionary the server compresses against.
// It is immutable and may be shared by any number of decompressors.
type Dictionary struct {
	content []byte
	rawID   uint32 // only for raw content dictionaries
}

// LoadDictionary reads a dictionary file such as the upstream
// "zstd_dictionary".
func LoadDictionary(path string) (*Dictionary, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load zstd dictionary: %w", err)
	}
	return ParseDictionary(b)
}

// ParseDictionary accepts a formatted zstd dictionary (as produced by
// `zstd --train`).
func ParseDictionary(b []byte) (*Dictionary, error) {
	if len(b) < 8 || !bytes.Equal(b[:4], dictMagic) {
		return nil, fmt.Errorf("zstd dictionary: missing magic header")
	}
	return &Dictionary{content: bytes.Clone(b)}, nil
}

// NewRawDictionary wraps raw content used as a dictionary under id. Frames
// must carry the same dictionary id.
func NewRawDictionary(id uint32, content []byte) *Dictionary {
	return &Dictionary{content: bytes.Clone(content), rawID: id}
}

func (d *Dictionary) decoderOption() zstd.DOption {
	if d.rawID != 0 || !bytes.HasPrefix(d.content, dictMagic) {
		return zstd.WithDecoderDictRaw(d.rawID, d.content)
	}
	return zstd.WithDecoderDicts(d.content)
}
