// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package std

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha1"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/pbkdf2"
)

// saltSize is the length of the random salt prefixed to every encrypted
// stream, used to derive that stream's key alongside the shared passphrase.
const saltSize = 16

// DeriveKey stretches pass into a 32-byte AES-256 key using PBKDF2-SHA1,
// salted with salt (16 bytes, typically random per stream).
func DeriveKey(pass, salt []byte) []byte {
	return pbkdf2.Key(pass, salt, 4096, 32, sha1.New)
}

// CryptStream wraps an io.ReadWriteCloser with AES-256-GCM framing: each
// Write call seals its payload as one GCM-sealed frame length-prefixed on
// the wire, and each Read call returns bytes from at most one such frame,
// keeping whatever did not fit in p for the following Read calls.
type CryptStream struct {
	conn io.ReadWriteCloser
	aead cipher.AEAD
	pass []byte

	wroteSalt bool
	readSalt  bool
	readBuf   []byte
}

// NewCryptStream wraps conn for encrypted framing using the passphrase
// pass. The actual AEAD is built lazily once the salt has been exchanged:
// the writer sends a random salt as the first 16 bytes on the wire, and
// the reader consumes it before decrypting anything.
func NewCryptStream(conn io.ReadWriteCloser, pass []byte) *CryptStream {
	return &CryptStream{conn: conn, pass: pass}
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return cipher.NewGCM(block)
}

func (c *CryptStream) ensureWriteAEAD() error {
	if c.aead != nil {
		return nil
	}
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return errors.WithStack(err)
	}
	aead, err := newAEAD(DeriveKey(c.pass, salt))
	if err != nil {
		return err
	}
	if _, err := c.conn.Write(salt); err != nil {
		return errors.WithStack(err)
	}
	c.aead = aead
	c.wroteSalt = true
	return nil
}

func (c *CryptStream) ensureReadAEAD() error {
	if c.readSalt {
		return nil
	}
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(c.conn, salt); err != nil {
		return errors.WithStack(err)
	}
	aead, err := newAEAD(DeriveKey(c.pass, salt))
	if err != nil {
		return err
	}
	c.aead = aead
	c.readSalt = true
	return nil
}

// Write seals p as a single GCM frame: a 4-byte big-endian length prefix
// followed by nonce and ciphertext.
func (c *CryptStream) Write(p []byte) (int, error) {
	if err := c.ensureWriteAEAD(); err != nil {
		return 0, err
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return 0, errors.WithStack(err)
	}
	sealed := c.aead.Seal(nonce, nonce, p, nil)

	var lenPrefix [4]byte
	n := len(sealed)
	lenPrefix[0] = byte(n >> 24)
	lenPrefix[1] = byte(n >> 16)
	lenPrefix[2] = byte(n >> 8)
	lenPrefix[3] = byte(n)

	if _, err := c.conn.Write(lenPrefix[:]); err != nil {
		return 0, errors.WithStack(err)
	}
	if _, err := c.conn.Write(sealed); err != nil {
		return 0, errors.WithStack(err)
	}
	return len(p), nil
}

// Read decrypts and returns the next GCM frame written by the peer's
// Write, buffering any leftover bytes for the next call.
func (c *CryptStream) Read(p []byte) (int, error) {
	if len(c.readBuf) == 0 {
		if err := c.ensureReadAEAD(); err != nil {
			return 0, err
		}
		var lenPrefix [4]byte
		if _, err := io.ReadFull(c.conn, lenPrefix[:]); err != nil {
			return 0, err
		}
		n := int(lenPrefix[0])<<24 | int(lenPrefix[1])<<16 | int(lenPrefix[2])<<8 | int(lenPrefix[3])
		sealed := make([]byte, n)
		if _, err := io.ReadFull(c.conn, sealed); err != nil {
			return 0, errors.WithStack(err)
		}
		nonceSize := c.aead.NonceSize()
		if len(sealed) < nonceSize {
			return 0, errors.New("crypt: frame shorter than nonce")
		}
		nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
		plain, err := c.aead.Open(nil, nonce, ciphertext, nil)
		if err != nil {
			return 0, errors.WithStack(err)
		}
		c.readBuf = plain
	}
	n := copy(p, c.readBuf)
	c.readBuf = c.readBuf[n:]
	return n, nil
}

// Close closes the wrapped stream.
func (c *CryptStream) Close() error {
	return c.conn.Close()
}
