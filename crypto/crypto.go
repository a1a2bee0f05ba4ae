package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"

	"github.com/google/uuid"
)

// GenerateID returns a fresh random identifier for nodes and messages.
func GenerateID() string {
	return uuid.New().String()
}

// HashKey returns the hex md5 of key.
func HashKey(key string) string {
	hash := md5.Sum([]byte(key))
	return hex.EncodeToString(hash[:])
}

// NewEncryptionKey returns a random AES-256 key.
func NewEncryptionKey() []byte {
	keyBuf := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, keyBuf); err != nil {
		panic(err)
	}
	return keyBuf
}

func copyStream(stream cipher.Stream, blockSize int, src io.Reader, dst io.Writer) (int, error) {
	var (
		buf = make([]byte, 32*1024)
		nw  = blockSize
	)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			stream.XORKeyStream(buf, buf[:n])
			nn, werr := dst.Write(buf[:n])
			if werr != nil {
				return nw, werr
			}
			nw += nn
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nw, err
		}
	}
	return nw, nil
}

// CopyDecrypt reads an IV followed by AES-CTR ciphertext from src and
// writes the plaintext to dst. The returned count includes the IV.
func CopyDecrypt(key []byte, src io.Reader, dst io.Writer) (int, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return 0, err
	}

	iv := make([]byte, block.BlockSize())
	if _, err := io.ReadFull(src, iv); err != nil {
		return 0, err
	}

	stream := cipher.NewCTR(block, iv)
	return copyStream(stream, block.BlockSize(), src, dst)
}

// CopyEncrypt writes a random IV and then the AES-CTR ciphertext of src
// to dst. The returned count includes the IV.
func CopyEncrypt(key []byte, src io.Reader, dst io.Writer) (int, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return 0, err
	}

	iv := make([]byte, block.BlockSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return 0, err
	}
	if _, err := dst.Write(iv); err != nil {
		return 0, err
	}

	stream := cipher.NewCTR(block, iv)
	return copyStream(stream, block.BlockSize(), src, dst)
}

var ErrShortCiphertext = errors.New("ciphertext shorter than iv")

// EncryptBytes is CopyEncrypt over an in-memory payload.
func EncryptBytes(key, plain []byte) ([]byte, error) {
	out := new(bytes.Buffer)
	if _, err := CopyEncrypt(key, bytes.NewReader(plain), out); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// DecryptBytes reverses EncryptBytes.
func DecryptBytes(key, sealed []byte) ([]byte, error) {
	if len(sealed) < aes.BlockSize {
		return nil, ErrShortCiphertext
	}
	out := new(bytes.Buffer)
	if _, err := CopyDecrypt(key, bytes.NewReader(sealed), out); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
