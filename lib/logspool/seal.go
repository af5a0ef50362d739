// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

package logspool

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/lyra-voice/lyra/lib/codec"
	"github.com/lyra-voice/lyra/lib/secret"
)

// chunkVersion is the version byte prepended to every sealed chunk.
// It rides in the AEAD additional data, so tampering with it fails
// authentication.
const chunkVersion byte = 0x01

// keySize is the size of the spool master key and all derived keys.
const keySize = 32

// chunkOverhead is the fixed byte overhead of a sealed chunk:
// 1 (version) + 24 (XChaCha20-Poly1305 nonce) + 16 (Poly1305 tag).
const chunkOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// HKDF info strings. Domain separation between the spool key and the
// per-chunk keys; changing either invalidates all sealed chunks.
var (
	hkdfInfoSpoolKey = []byte("lyra.spool.key.v1")
	hkdfInfoChunkKey = []byte("lyra.spool.chunk.v1")
)

// compressionTag identifies how a chunk's payload is compressed. Stored
// inside the encrypted plaintext, first byte. Protocol constants.
type compressionTag uint8

const (
	compressionNone compressionTag = 0
	compressionLZ4  compressionTag = 1
	compressionZstd compressionTag = 2
)

// zstdEncoder and zstdDecoder are reused across chunks; both are safe
// for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("logspool: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("logspool: zstd decoder initialization failed: " + err.Error())
	}
}

// DeriveSpoolKey derives the spool master key from the device seal key
// via HKDF-SHA256. The ikm buffer is borrowed and not closed. The
// returned buffer must be closed by the caller.
func DeriveSpoolKey(ikm *secret.Buffer) (*secret.Buffer, error) {
	return deriveKey(ikm.Bytes(), hkdfInfoSpoolKey)
}

// deriveChunkKey derives the per-chunk encryption key from the spool
// master key and the chunk sequence number.
func (s *Spool) deriveChunkKey(seq uint64) (*secret.Buffer, error) {
	info := make([]byte, len(hkdfInfoChunkKey)+8)
	copy(info, hkdfInfoChunkKey)
	binary.LittleEndian.PutUint64(info[len(hkdfInfoChunkKey):], seq)
	return deriveKey(s.masterKey.Bytes(), info)
}

// deriveKey is HKDF-SHA256 with nil salt: the IKM is already high
// entropy (an age secret key or HKDF output), so the extract phase
// with a zero salt is appropriate per RFC 5869.
func deriveKey(inputKeyMaterial, info []byte) (*secret.Buffer, error) {
	reader := hkdf.New(sha256.New, inputKeyMaterial, nil, info)
	derived := make([]byte, keySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		secret.Zero(derived)
		return nil, fmt.Errorf("HKDF key derivation failed: %w", err)
	}
	return secret.NewFromBytes(derived)
}

// writeChunk seals lines into the chunk file for seq:
//
//	[version: 1 byte] [nonce: 24 bytes] [ciphertext+tag]
//
// where the plaintext is
//
//	[compression tag: 1 byte] [uncompressed size: 4 bytes LE] [payload]
//
// and the payload is CBOR-encoded lines, possibly compressed.
func (s *Spool) writeChunk(seq uint64, lines []Line) error {
	encoded, err := codec.Marshal(lines)
	if err != nil {
		return fmt.Errorf("encoding chunk lines: %w", err)
	}

	compressed, tag := compressPayload(encoded)

	plaintext := make([]byte, 5+len(compressed))
	plaintext[0] = byte(tag)
	binary.LittleEndian.PutUint32(plaintext[1:5], uint32(len(encoded)))
	copy(plaintext[5:], compressed)

	chunkKey, err := s.deriveChunkKey(seq)
	if err != nil {
		return err
	}
	defer chunkKey.Close()

	aead, err := chacha20poly1305.NewX(chunkKey.Bytes())
	if err != nil {
		return fmt.Errorf("creating chunk cipher: %w", err)
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return fmt.Errorf("generating chunk nonce: %w", err)
	}

	blob := make([]byte, 1+chacha20poly1305.NonceSizeX, 1+chacha20poly1305.NonceSizeX+len(plaintext)+aead.Overhead())
	blob[0] = chunkVersion
	copy(blob[1:], nonce[:])
	blob = aead.Seal(blob, nonce[:], plaintext, chunkAAD(chunkVersion, seq))

	// Write-then-rename so a torn write never leaves a half chunk
	// under the final name.
	path := s.chunkPath(seq)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0600); err != nil {
		return fmt.Errorf("writing chunk: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("placing chunk: %w", err)
	}
	return nil
}

// readChunk opens and decodes the chunk file for seq.
func (s *Spool) readChunk(seq uint64) ([]Line, error) {
	blob, err := os.ReadFile(s.chunkPath(seq))
	if err != nil {
		return nil, err
	}
	if len(blob) < chunkOverhead {
		return nil, fmt.Errorf("chunk is %d bytes, minimum is %d", len(blob), chunkOverhead)
	}
	if blob[0] != chunkVersion {
		return nil, fmt.Errorf("chunk version %d is not supported (expected %d)", blob[0], chunkVersion)
	}

	nonce := blob[1 : 1+chacha20poly1305.NonceSizeX]
	ciphertext := blob[1+chacha20poly1305.NonceSizeX:]

	chunkKey, err := s.deriveChunkKey(seq)
	if err != nil {
		return nil, err
	}
	defer chunkKey.Close()

	aead, err := chacha20poly1305.NewX(chunkKey.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating chunk cipher: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, chunkAAD(blob[0], seq))
	if err != nil {
		return nil, fmt.Errorf("chunk authentication failed (wrong key, tampered file, or renamed sequence): %w", err)
	}
	if len(plaintext) < 5 {
		return nil, fmt.Errorf("chunk plaintext is %d bytes, minimum is 5", len(plaintext))
	}

	tag := compressionTag(plaintext[0])
	uncompressedSize := int(binary.LittleEndian.Uint32(plaintext[1:5]))
	payload := plaintext[5:]

	encoded, err := decompressPayload(payload, tag, uncompressedSize)
	if err != nil {
		return nil, err
	}

	var lines []Line
	if err := codec.Unmarshal(encoded, &lines); err != nil {
		return nil, fmt.Errorf("decoding chunk lines: %w", err)
	}
	return lines, nil
}

// chunkAAD binds the format version and sequence number into the AEAD.
func chunkAAD(version byte, seq uint64) []byte {
	aad := make([]byte, 9)
	aad[0] = version
	binary.LittleEndian.PutUint64(aad[1:], seq)
	return aad
}

// errIncompressible reports that compressed output would not be smaller
// than the input.
var errIncompressible = errors.New("data is incompressible")

// compressPayload probes zstd on the encoded lines: a ratio of 1.5x or
// better keeps zstd, 1.1x picks LZ4 (faster, acceptable ratio), below
// that the data is stored raw. Log text almost always takes zstd; the
// raw path exists for pathological content.
func compressPayload(data []byte) ([]byte, compressionTag) {
	if len(data) == 0 {
		return data, compressionNone
	}

	zstdOut := zstdEncoder.EncodeAll(data, nil)
	ratio := float64(len(data)) / float64(len(zstdOut))

	switch {
	case ratio >= 1.5:
		return zstdOut, compressionZstd
	case ratio >= 1.1:
		lz4Out, err := compressLZ4(data)
		if err != nil {
			// Probe said compressible but LZ4 disagreed; zstd output
			// is in hand and smaller, use it.
			return zstdOut, compressionZstd
		}
		return lz4Out, compressionLZ4
	default:
		return data, compressionNone
	}
}

func decompressPayload(payload []byte, tag compressionTag, uncompressedSize int) ([]byte, error) {
	switch tag {
	case compressionNone:
		if len(payload) != uncompressedSize {
			return nil, fmt.Errorf("raw chunk payload: size %d does not match expected %d", len(payload), uncompressedSize)
		}
		return payload, nil

	case compressionLZ4:
		destination := make([]byte, uncompressedSize)
		read, err := lz4.UncompressBlock(payload, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != uncompressedSize {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, uncompressedSize)
		}
		return destination, nil

	case compressionZstd:
		result, err := zstdDecoder.DecodeAll(payload, make([]byte, 0, uncompressedSize))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(result) != uncompressedSize {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), uncompressedSize)
		}
		return result, nil

	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	bound := lz4.CompressBlockBound(len(data))
	destination := make([]byte, bound)

	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock returns 0 for incompressible input.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}
