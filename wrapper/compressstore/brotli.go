package compressstore

import (
	"bytes"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
)

func brotliCodec(level int) (compressFunc, decompressFunc) {
	if level == 0 {
		level = 6
	}
	compress := func(data []byte) ([]byte, error) {
		var buf bytes.Buffer
		w := brotli.NewWriterLevel(&buf, level)
		if _, err := w.Write(data); err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("brotli write: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("brotli close: %w", err)
		}
		return buf.Bytes(), nil
	}
	decompress := func(data []byte) ([]byte, error) {
		r := brotli.NewReader(bytes.NewReader(data))
		return io.ReadAll(r)
	}
	return compress, decompress
}
