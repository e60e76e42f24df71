package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/pbkdf2"

	"github.com/opd-ai/xchat/crypto"
)

const (
	// PBKDF2Iterations is the number of iterations for key derivation.
	PBKDF2Iterations = 100000
	// EncryptionVersion is the current file format version.
	EncryptionVersion = 2
	// SaltSize is the size of the PBKDF2 salt.
	SaltSize = 32

	headerSize = 2 + SaltSize
)

// ErrWrongPassphrase is returned when a file fails authentication.
var ErrWrongPassphrase = errors.New("wrong passphrase or corrupted data")

// encryptedFile is a single file encrypted with AES-256-GCM under a
// PBKDF2-derived key. The salt lives in the file header, so replacing the
// file commits salt and ciphertext together.
//
// Format: [version:2][salt:32][nonce:12][ciphertext+tag:N]; version and salt
// are authenticated as additional data.
type encryptedFile struct {
	encryptionKey [32]byte
	salt          []byte
	path          string
}

// openEncryptedFile derives the file key from passphrase and the salt of the
// existing file, or from a fresh salt if there is no file yet. passphrase is
// wiped.
func openEncryptedFile(path string, passphrase []byte) (*encryptedFile, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("passphrase cannot be empty")
	}
	defer crypto.ZeroBytes(passphrase)

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	salt, err := readSalt(path)
	if errors.Is(err, os.ErrNotExist) {
		salt, err = newSalt()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize salt: %w", err)
	}

	ef := &encryptedFile{path: path, salt: salt}
	ef.encryptionKey = deriveKey(passphrase, salt)
	return ef, nil
}

func readSalt(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	header := make([]byte, headerSize)
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if version := binary.BigEndian.Uint16(header); version != EncryptionVersion {
		return nil, fmt.Errorf("unsupported encryption version: %d (expected %d)", version, EncryptionVersion)
	}
	return header[2:], nil
}

func newSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

func deriveKey(passphrase, salt []byte) [32]byte {
	var key [32]byte
	derived := pbkdf2.Key(passphrase, salt, PBKDF2Iterations, 32, sha256.New)
	copy(key[:], derived)
	crypto.ZeroBytes(derived)
	return key
}

// write encrypts plaintext under the current key and salt.
func (ef *encryptedFile) write(plaintext []byte) error {
	return ef.commit(ef.encryptionKey, ef.salt, plaintext)
}

// commit seals plaintext under key and salt and atomically replaces the file.
func (ef *encryptedFile) commit(key [32]byte, salt, plaintext []byte) error {
	gcm, err := newAEAD(key)
	if err != nil {
		return err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	header := make([]byte, 2, headerSize)
	binary.BigEndian.PutUint16(header, EncryptionVersion)
	header = append(header, salt...)

	output := make([]byte, 0, len(header)+len(nonce)+len(plaintext)+gcm.Overhead())
	output = append(output, header...)
	output = append(output, nonce...)
	output = gcm.Seal(output, nonce, plaintext, header)

	// Temporary file + rename keeps the previous file intact on failure.
	tmpFile := ef.path + ".tmp"
	if err := os.WriteFile(tmpFile, output, 0o600); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := os.Rename(tmpFile, ef.path); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

// read decrypts the file. A missing file is reported with os.ErrNotExist.
func (ef *encryptedFile) read() ([]byte, error) {
	data, err := os.ReadFile(ef.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	gcm, err := newAEAD(ef.encryptionKey)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < headerSize+nonceSize+gcm.Overhead() {
		return nil, fmt.Errorf("file too short: %d bytes", len(data))
	}

	version := binary.BigEndian.Uint16(data[0:2])
	if version != EncryptionVersion {
		return nil, fmt.Errorf("unsupported encryption version: %d (expected %d)", version, EncryptionVersion)
	}

	nonce := data[headerSize : headerSize+nonceSize]
	plaintext, err := gcm.Open(nil, nonce, data[headerSize+nonceSize:], data[:headerSize])
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return plaintext, nil
}

// rekey re-encrypts the file under a new passphrase and a fresh salt. The
// new key is adopted only once the file has been replaced; on failure both
// the file and the in-memory key are unchanged.
func (ef *encryptedFile) rekey(newPassphrase []byte) error {
	if len(newPassphrase) == 0 {
		return errors.New("new passphrase cannot be empty")
	}
	defer crypto.ZeroBytes(newPassphrase)

	plaintext, err := ef.read()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to decrypt %s: %w", filepath.Base(ef.path), err)
	}
	defer crypto.ZeroBytes(plaintext)

	salt, err := newSalt()
	if err != nil {
		return err
	}
	key := deriveKey(newPassphrase, salt)

	if plaintext != nil {
		if err := ef.commit(key, salt, plaintext); err != nil {
			crypto.ZeroBytes(key[:])
			return fmt.Errorf("failed to re-encrypt %s: %w", filepath.Base(ef.path), err)
		}
	}

	crypto.ZeroBytes(ef.encryptionKey[:])
	ef.encryptionKey = key
	ef.salt = salt
	return nil
}

func newAEAD(key [32]byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// close wipes the file key.
func (ef *encryptedFile) close() {
	crypto.ZeroBytes(ef.encryptionKey[:])
}
