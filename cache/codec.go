package cache

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/s2"
)

// codec turns values into stored payloads and back.
//
// Pipeline on write: JSON serialize, then s2-compress (when requested and
// the serialized form reaches the threshold), then AES-GCM encrypt (when
// requested). A checksum over the final stored bytes is recorded in the
// entry metadata and verified on every read before any reversal.
type codec struct {
	threshold int    // minimum serialized size for compression to kick in
	key       []byte // AES key; required only when an entry is encrypted
}

// encode produces the stored payload and its metadata for v.
func (c codec) encode(v any, compress, encrypt bool, source string) ([]byte, Metadata, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("cache: serialize value: %w", err)
	}

	meta := Metadata{Version: 1, Source: source}

	if compress && len(payload) >= c.threshold {
		payload = s2.Encode(nil, payload)
		meta.Compressed = true
	}

	if encrypt {
		payload, err = c.seal(payload)
		if err != nil {
			return nil, Metadata{}, err
		}
		meta.Encrypted = true
	}

	meta.Checksum = checksum(payload)
	return payload, meta, nil
}

// decode verifies integrity, reverses the transforms and deserializes.
func (c codec) decode(payload []byte, meta Metadata) (any, error) {
	if checksum(payload) != meta.Checksum {
		return nil, ErrChecksumMismatch
	}

	var err error
	if meta.Encrypted {
		payload, err = c.open(payload)
		if err != nil {
			return nil, err
		}
	}
	if meta.Compressed {
		payload, err = s2.Decode(nil, payload)
		if err != nil {
			return nil, fmt.Errorf("cache: decompress: %w", err)
		}
	}

	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("cache: deserialize value: %w", err)
	}
	return v, nil
}

func (c codec) seal(plain []byte) ([]byte, error) {
	aead, err := c.aead()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("cache: nonce: %w", err)
	}
	// Nonce is prepended to the ciphertext.
	return aead.Seal(nonce, nonce, plain, nil), nil
}

func (c codec) open(sealed []byte) ([]byte, error) {
	aead, err := c.aead()
	if err != nil {
		return nil, err
	}
	ns := aead.NonceSize()
	if len(sealed) < ns {
		return nil, fmt.Errorf("cache: ciphertext shorter than nonce")
	}
	plain, err := aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("cache: decrypt: %w", err)
	}
	return plain, nil
}

func (c codec) aead() (cipher.AEAD, error) {
	switch len(c.key) {
	case 16, 24, 32:
	default:
		return nil, ErrEncryptionKey
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("cache: cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// checksum returns the integrity digest of a stored payload.
// xxhash is not cryptographic; it detects corruption, not tampering
// (tampering resistance comes from AES-GCM when encryption is on).
func checksum(payload []byte) string {
	return strconv.FormatUint(xxhash.Sum64(payload), 16)
}
