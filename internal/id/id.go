package id

import (
	"encoding/base64"
	"encoding/binary"
	"hash/crc32"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Length is the number of characters in a generated identifier.
const Length = 4

// Generate derives the short identifier for content. The CRC-32 (IEEE) of the
// whole payload is encoded big-endian with unpadded URL-safe base64 and
// truncated to Length characters. Distinct payloads may share an identifier.
func Generate(content []byte) string {
	var sum [4]byte
	binary.BigEndian.PutUint32(sum[:], crc32.ChecksumIEEE(content))
	return base64.RawURLEncoding.EncodeToString(sum[:])[:Length]
}

// Random returns a random URL-safe token of length n.
func Random(n int) (string, error) {
	return gonanoid.New(n)
}
