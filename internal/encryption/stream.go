// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

// Package encryption implements authenticated streaming encryption for backup
// artifacts.
//
// Encryption Algorithm:
//   - AES-256-GCM (authenticated encryption) over 64 KiB chunks
//   - Per-artifact key derived with HKDF-SHA256 from the configured secret and a
//     fresh 32-byte random salt stored in the artifact header
//   - Chunk nonce = zero padding || 64-bit big-endian chunk counter || final-chunk flag
//
// Security Properties:
//   - Confidentiality: AES-256 encryption
//   - Integrity: GCM authentication tag on every chunk
//   - Truncation and reordering are detected (counter + final flag in the nonce)
//   - Uniqueness: the random salt gives every artifact its own key
//
// Stream Format:
//
//	"SVE1" || salt(32) || chunk_0 || chunk_1 || ... || chunk_final
//
// Example Usage:
//
//	c, err := encryption.NewCipher(secret)
//	w, err := c.NewWriter(file)
//	io.Copy(w, src)
//	w.Close() // writes the final chunk
//
//	r, err := c.NewReader(file)
//	io.Copy(dst, r)
package encryption

import (
	"bufio"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// masterSalt binds the master key to this application's artifact use case.
	masterSalt = "snapvault-artifact-encryption"

	// masterInfo is the HKDF info parameter for the master key.
	masterInfo = "artifact-master-v1"

	// artifactInfo is the HKDF info parameter for per-artifact keys.
	artifactInfo = "artifact-key-v1"

	aesKeySize  = 32
	saltSize    = 32
	nonceSize   = 12
	tagSize     = 16
	chunkSize   = 64 * 1024
	sealedChunk = chunkSize + tagSize
)

var magic = []byte("SVE1")

var (
	// ErrEmptySecret is returned when no encryption secret is configured.
	ErrEmptySecret = errors.New("encryption secret cannot be empty")

	// ErrInvalidHeader is returned when the stream does not start with a valid header.
	ErrInvalidHeader = errors.New("invalid encrypted artifact header")

	// ErrDecryptionFailed is returned when a chunk fails authentication.
	ErrDecryptionFailed = errors.New("decryption failed: invalid ciphertext or authentication tag")

	// ErrTruncated is returned when the stream ends before its final chunk.
	ErrTruncated = errors.New("encrypted artifact is truncated")

	// ErrWriterClosed is returned when writing to a closed stream.
	ErrWriterClosed = errors.New("encryption writer is closed")
)

// Cipher derives per-artifact AES-256-GCM streams from a single secret.
type Cipher struct {
	master []byte
}

// NewCipher derives the master key from secret using HKDF-SHA256.
func NewCipher(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	master, err := derive([]byte(secret), []byte(masterSalt), masterInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to derive master key: %w", err)
	}
	return &Cipher{master: master}, nil
}

// Overhead returns the number of bytes added for a plaintext of size n.
func Overhead(n int64) int64 {
	chunks := (n + chunkSize - 1) / chunkSize
	if chunks == 0 {
		chunks = 1
	}
	return int64(len(magic)+saltSize) + chunks*tagSize
}

func derive(secret, salt []byte, info string) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, salt, []byte(info))
	key := make([]byte, aesKeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to read HKDF output: %w", err)
	}
	return key, nil
}

func (c *Cipher) aead(salt []byte) (cipher.AEAD, error) {
	key, err := derive(c.master, salt, artifactInfo)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// chunkNonce encodes the chunk counter and the final flag.
func chunkNonce(counter uint64, final bool) []byte {
	nonce := make([]byte, nonceSize)
	for i := 0; i < 8; i++ {
		nonce[nonceSize-2-i] = byte(counter >> (8 * i))
	}
	if final {
		nonce[nonceSize-1] = 1
	}
	return nonce
}

// Writer encrypts everything written to it. Close must be called to emit the
// final chunk; it does not close the underlying writer.
type Writer struct {
	dst     io.Writer
	aead    cipher.AEAD
	buf     []byte
	counter uint64
	closed  bool
}

// NewWriter writes a fresh header to w and returns the encrypting writer.
func (c *Cipher) NewWriter(w io.Writer) (*Writer, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	gcm, err := c.aead(salt)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(magic); err != nil {
		return nil, err
	}
	if _, err := w.Write(salt); err != nil {
		return nil, err
	}
	return &Writer{
		dst:  w,
		aead: gcm,
		buf:  make([]byte, 0, chunkSize),
	}, nil
}

// Write implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, ErrWriterClosed
	}
	written := 0
	for len(p) > 0 {
		// A full buffer is only sealed once more data arrives, so the last
		// chunk is always the one sealed by Close.
		if len(w.buf) == chunkSize {
			if err := w.seal(false); err != nil {
				return written, err
			}
		}
		n := copy(w.buf[len(w.buf):chunkSize], p)
		w.buf = w.buf[:len(w.buf)+n]
		p = p[n:]
		written += n
	}
	return written, nil
}

// Close seals the final chunk.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.seal(true)
}

func (w *Writer) seal(final bool) error {
	sealed := w.aead.Seal(nil, chunkNonce(w.counter, final), w.buf, nil)
	if _, err := w.dst.Write(sealed); err != nil {
		return err
	}
	w.counter++
	w.buf = w.buf[:0]
	return nil
}

// Reader decrypts and authenticates a stream produced by Writer.
type Reader struct {
	src     *bufio.Reader
	aead    cipher.AEAD
	sealed  []byte
	plain   []byte
	counter uint64
	done    bool
}

// NewReader reads and validates the header from r.
func (c *Cipher) NewReader(r io.Reader) (*Reader, error) {
	header := make([]byte, len(magic)+saltSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}
	if string(header[:len(magic)]) != string(magic) {
		return nil, ErrInvalidHeader
	}
	gcm, err := c.aead(header[len(magic):])
	if err != nil {
		return nil, err
	}
	return &Reader{
		src:    bufio.NewReaderSize(r, sealedChunk+1),
		aead:   gcm,
		sealed: make([]byte, sealedChunk),
	}, nil
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	for len(r.plain) == 0 {
		if r.done {
			return 0, io.EOF
		}
		if err := r.next(); err != nil {
			return 0, err
		}
	}
	n := copy(p, r.plain)
	r.plain = r.plain[n:]
	return n, nil
}

func (r *Reader) next() error {
	n, err := io.ReadFull(r.src, r.sealed)
	final := false
	switch {
	case err == nil:
		if _, peekErr := r.src.Peek(1); errors.Is(peekErr, io.EOF) {
			final = true
		} else if peekErr != nil {
			return peekErr
		}
	case errors.Is(err, io.ErrUnexpectedEOF):
		final = true
	case errors.Is(err, io.EOF):
		return ErrTruncated
	default:
		return err
	}
	if n < tagSize {
		return ErrTruncated
	}

	plain, openErr := r.aead.Open(nil, chunkNonce(r.counter, final), r.sealed[:n], nil)
	if openErr != nil {
		return ErrDecryptionFailed
	}
	r.counter++
	r.plain = plain
	r.done = final
	return nil
}
