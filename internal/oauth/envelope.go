package oauth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
)

const (
	envelopeFormat    = "sheetgate-token"
	envelopeVersion   = 1
	envelopeAlgorithm = "AES-256-GCM"

	gcmNonceSize = 12
	gcmTagSize   = 16
)

// EncryptedTokenRecord is the on-disk envelope. Format and Version make the
// file self-describing so a future cipher or key change is detected rather
// than misread. Principal is stored in clear text and bound to the ciphertext
// as additional authenticated data.
type EncryptedTokenRecord struct {
	Format     string `json:"format"`
	Version    int    `json:"version"`
	Algorithm  string `json:"alg"`
	Principal  string `json:"principal"`
	IV         []byte `json:"iv"`
	Tag        []byte `json:"tag"`
	Ciphertext []byte `json:"ciphertext"`
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func envelopeAAD(principal string) []byte {
	return []byte(fmt.Sprintf("%s/v%d:%s", envelopeFormat, envelopeVersion, principal))
}

// sealTokenPair encrypts pair under a fresh random IV.
func sealTokenPair(aead cipher.AEAD, principal string, pair *TokenPair) (*EncryptedTokenRecord, error) {
	plaintext, err := json.Marshal(pair)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize token pair: %w", err)
	}

	iv := make([]byte, gcmNonceSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	sealed := aead.Seal(nil, iv, plaintext, envelopeAAD(principal))
	split := len(sealed) - gcmTagSize

	return &EncryptedTokenRecord{
		Format:     envelopeFormat,
		Version:    envelopeVersion,
		Algorithm:  envelopeAlgorithm,
		Principal:  principal,
		IV:         iv,
		Tag:        sealed[split:],
		Ciphertext: sealed[:split],
	}, nil
}

// openTokenPair authenticates and decrypts rec. Any failure is
// KindTokenStoreCorrupted and never yields a partially decoded pair.
func openTokenPair(aead cipher.AEAD, principal string, rec *EncryptedTokenRecord) (*TokenPair, error) {
	if rec.Format != envelopeFormat {
		return nil, newError(KindTokenStoreCorrupted, "token record has an unknown format", nil)
	}
	if rec.Version != envelopeVersion || rec.Algorithm != envelopeAlgorithm {
		return nil, newError(KindTokenStoreCorrupted,
			fmt.Sprintf("token record version %d (%s) is not supported", rec.Version, rec.Algorithm), nil)
	}
	if rec.Principal != principal {
		return nil, newError(KindTokenStoreCorrupted, "token record belongs to another principal", nil)
	}
	if len(rec.IV) != gcmNonceSize || len(rec.Tag) != gcmTagSize {
		return nil, newError(KindTokenStoreCorrupted, "token record has a malformed IV or tag", nil)
	}

	sealed := make([]byte, 0, len(rec.Ciphertext)+len(rec.Tag))
	sealed = append(sealed, rec.Ciphertext...)
	sealed = append(sealed, rec.Tag...)

	plaintext, err := aead.Open(nil, rec.IV, sealed, envelopeAAD(principal))
	if err != nil {
		return nil, newError(KindTokenStoreCorrupted, "token record failed authentication", err)
	}

	var pair TokenPair
	if err := json.Unmarshal(plaintext, &pair); err != nil {
		return nil, newError(KindTokenStoreCorrupted, "token record payload is malformed", err)
	}
	return &pair, nil
}
