package enccontainer

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/evgeniums/hatn-go/internal/apperrors"
	"github.com/evgeniums/hatn-go/internal/cryptosuite"
)

const saltSize = 16

// ProtectWithPassphrase wraps key under an AEAD whose key is
// pbkdf(passphrase, salt) (spec §4.4), for on-disk key material and
// session-ticket keys. The wrapped form is salt || nonce length (4 bytes,
// little-endian) || nonce || ciphertext.
func ProtectWithPassphrase(suite *cryptosuite.Suite, key []byte, passphrase string) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err)
	}
	wrapKey, err := suite.DerivePBKDF([]byte(passphrase), salt, 32)
	if err != nil {
		return nil, err
	}
	defer zero(wrapKey)

	aead, err := suite.NewAEAD(wrapKey)
	if err != nil {
		return nil, err
	}
	nonce, err := aead.RandomNonce()
	if err != nil {
		return nil, err
	}
	ct := aead.Seal(nonce, key, salt)

	out := make([]byte, 0, saltSize+len(nonce)+len(ct)+4)
	var nlen [4]byte
	binary.LittleEndian.PutUint32(nlen[:], uint32(len(nonce)))
	out = append(out, salt...)
	out = append(out, nlen[:]...)
	out = append(out, nonce...)
	out = append(out, ct...)
	return out, nil
}

// UnpackWithPassphrase is the inverse of ProtectWithPassphrase.
func UnpackWithPassphrase(suite *cryptosuite.Suite, wrapped []byte, passphrase string) ([]byte, error) {
	if len(wrapped) < saltSize+4 {
		return nil, apperrors.New(apperrors.CodeInvalidInput)
	}
	salt := wrapped[:saltSize]
	nlen := binary.LittleEndian.Uint32(wrapped[saltSize : saltSize+4])
	rest := wrapped[saltSize+4:]
	if uint32(len(rest)) < nlen {
		return nil, apperrors.New(apperrors.CodeInvalidInput)
	}
	nonce := rest[:nlen]
	ct := rest[nlen:]

	wrapKey, err := suite.DerivePBKDF([]byte(passphrase), salt, 32)
	if err != nil {
		return nil, err
	}
	defer zero(wrapKey)

	aead, err := suite.NewAEAD(wrapKey)
	if err != nil {
		return nil, err
	}
	return aead.Open(nonce, ct, salt)
}
