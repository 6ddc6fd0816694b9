package compressstore

import (
	"fmt"

	"github.com/golang/snappy"
)

func snappyCodec() (compressFunc, decompressFunc) {
	compress := func(data []byte) ([]byte, error) {
		return snappy.Encode(nil, data), nil
	}
	decompress := func(data []byte) ([]byte, error) {
		decoded, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, fmt.Errorf("snappy decode: %w", err)
		}
		return decoded, nil
	}
	return compress, decompress
}
