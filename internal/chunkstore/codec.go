package chunkstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/zstd"
	sha256simd "github.com/minio/sha256-simd"
	"golang.org/x/crypto/pbkdf2"

	"github.com/meshweave/corestore/internal/errs"
)

const (
	pbkdf2Iterations = 100000
	keyLen           = 32
	ivLen            = 12
	tagLen           = 16
)

func compress(plaintext []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(3)))
	if err != nil {
		return nil, errs.Wrap(errs.CryptoFailure, "zstd encoder init failed", err)
	}
	defer enc.Close()
	return enc.EncodeAll(plaintext, nil), nil
}

func decompress(compressed []byte, originalSize int64) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, errs.Wrap(errs.CryptoFailure, "zstd decoder init failed", err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(compressed, make([]byte, 0, originalSize))
	if err != nil {
		return nil, errs.Wrap(errs.IntegrityFailure, "decompression failed", err)
	}
	if int64(len(out)) != originalSize {
		return nil, errs.New(errs.IntegrityFailure, "decompressed size mismatch").
			WithContext("want", originalSize).WithContext("got", len(out))
	}
	return out, nil
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, errs.Wrap(errs.CryptoFailure, "random generation failed", err)
	}
	return b, nil
}

func deriveKey(contentID string, salt []byte) ([]byte, error) {
	key := pbkdf2.Key([]byte(contentID), salt, pbkdf2Iterations, keyLen, sha256simd.New)
	if len(key) != keyLen {
		return nil, errs.New(errs.CryptoFailure, "key derivation produced wrong length")
	}
	return key, nil
}

func aesGCMEncrypt(plaintext, key []byte) (ciphertext, iv, tag []byte, err error) {
	iv, err = randomBytes(ivLen)
	if err != nil {
		return nil, nil, nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, nil, errs.Wrap(errs.CryptoFailure, "aes cipher init failed", err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, tagLen)
	if err != nil {
		return nil, nil, nil, errs.Wrap(errs.CryptoFailure, "gcm init failed", err)
	}
	sealed := gcm.Seal(nil, iv, plaintext, nil)
	ciphertext = sealed[:len(sealed)-tagLen]
	tag = sealed[len(sealed)-tagLen:]
	return ciphertext, iv, tag, nil
}

func aesGCMDecrypt(ciphertext, key, iv, tag []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errs.Wrap(errs.CryptoFailure, "aes cipher init failed", err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, tagLen)
	if err != nil {
		return nil, errs.Wrap(errs.CryptoFailure, "gcm init failed", err)
	}
	sealed := append(append([]byte{}, ciphertext...), tag...)
	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, errs.Wrap(errs.IntegrityFailure, "authentication tag mismatch", err)
	}
	return plaintext, nil
}

func sha256Hex(data []byte) string {
	sum := sha256simd.Sum256(data)
	const hextable = "0123456789abcdef"
	out := make([]byte, len(sum)*2)
	for i, b := range sum {
		out[i*2] = hextable[b>>4]
		out[i*2+1] = hextable[b&0x0f]
	}
	return string(out)
}

// encodeRecord packs a chunk into the persisted little-endian layout:
// original_size(8) index(8) is_encrypted(1) iv_len(4) iv tag_len(4) tag
// data_len(4) data.
func encodeRecord(c *Chunk) []byte {
	buf := make([]byte, 0, 8+8+1+4+len(c.IV)+4+len(c.Tag)+4+len(c.Data))
	var tmp8 [8]byte
	binary.LittleEndian.PutUint64(tmp8[:], uint64(c.OriginalSize))
	buf = append(buf, tmp8[:]...)
	binary.LittleEndian.PutUint64(tmp8[:], uint64(c.Index))
	buf = append(buf, tmp8[:]...)
	if c.IsEncrypted {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = appendLenPrefixed(buf, c.IV)
	buf = appendLenPrefixed(buf, c.Tag)
	buf = appendLenPrefixed(buf, c.Data)
	return buf
}

func appendLenPrefixed(buf, data []byte) []byte {
	var tmp4 [4]byte
	binary.LittleEndian.PutUint32(tmp4[:], uint32(len(data)))
	buf = append(buf, tmp4[:]...)
	return append(buf, data...)
}

func decodeRecord(hash string, raw []byte) (*Chunk, error) {
	const headerLen = 8 + 8 + 1
	if len(raw) < headerLen {
		return nil, errs.New(errs.StorageFailure, "truncated chunk record")
	}
	c := &Chunk{Hash: hash}
	c.OriginalSize = int64(binary.LittleEndian.Uint64(raw[0:8]))
	c.Index = int64(binary.LittleEndian.Uint64(raw[8:16]))
	c.IsEncrypted = raw[16] != 0
	off := headerLen

	iv, off2, err := readLenPrefixed(raw, off)
	if err != nil {
		return nil, err
	}
	off = off2
	tag, off2, err := readLenPrefixed(raw, off)
	if err != nil {
		return nil, err
	}
	off = off2
	data, off2, err := readLenPrefixed(raw, off)
	if err != nil {
		return nil, err
	}
	off = off2
	_ = off

	c.IV = iv
	c.Tag = tag
	c.Data = data
	return c, nil
}

func readLenPrefixed(raw []byte, off int) (data []byte, next int, err error) {
	if off+4 > len(raw) {
		return nil, 0, errs.New(errs.StorageFailure, "truncated length prefix")
	}
	n := int(binary.LittleEndian.Uint32(raw[off : off+4]))
	off += 4
	if off+n > len(raw) {
		return nil, 0, errs.New(errs.StorageFailure, "truncated chunk field")
	}
	return raw[off : off+n], off + n, nil
}
