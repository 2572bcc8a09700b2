package jetstream

import (
	"errors"

	"github.com/klauspost/compress/zstd"
)

var errNoContext = errors.New("decompression context not initialised")

// Decompressor expands compressed frames of one session. It is not safe for
// concurrent use; each session owns its own and drops it on disconnect.
type Decompressor struct {
	dict      *Dictionary
	maxMemory uint64

	dec *zstd.Decoder
	buf []byte
}

// NewDecompressor returns a decompressor with a fresh context. maxSize bounds
// the expanded size of a single frame (0 keeps the library default).
func NewDecompressor(dict *Dictionary, maxSize int64) (*Decompressor, error) {
	d := &Decompressor{dict: dict}
	if maxSize > 0 {
		d.maxMemory = uint64(maxSize)
	}
	if err := d.Reset(); err != nil {
		return nil, err
	}
	return d, nil
}

// Reset throws away the current context and builds a new one from the
// dictionary. After Reset the decompressor behaves exactly like a new one.
func (d *Decompressor) Reset() error {
	d.Close()
	opts := []zstd.DOption{zstd.WithDecoderConcurrency(1)}
	if d.dict != nil {
		opts = append(opts, d.dict.decoderOption())
	}
	if d.maxMemory > 0 {
		opts = append(opts, zstd.WithDecoderMaxMemory(d.maxMemory))
	}
	dec, err := zstd.NewReader(nil, opts...)
	if err != nil {
		return err
	}
	d.dec = dec
	d.buf = d.buf[:0]
	return nil
}

// Feed expands one frame. The returned slice is only valid until the next
// call to Feed.
func (d *Decompressor) Feed(frame []byte) ([]byte, error) {
	if d.dec == nil {
		return nil, &FrameError{Size: len(frame), Err: errNoContext}
	}
	out, err := d.dec.DecodeAll(frame, d.buf[:0])
	if err != nil {
		return nil, &FrameError{Size: len(frame), Err: err}
	}
	d.buf = out
	return out, nil
}

func (d *Decompressor) Close() {
	if d.dec != nil {
		d.dec.Close()
		d.dec = nil
	}
}
