package cryptosuite

import (
	"crypto/rand"

	"github.com/evgeniums/hatn-go/internal/apperrors"
)

// MinNonceSize is the minimum prover nonce length required by the
// check-shared-secret protocol (spec §4.3).
const MinNonceSize = 16

// GenerateChallengeNonce draws a fresh prover nonce of at least
// MinNonceSize bytes.
func GenerateChallengeNonce() ([]byte, error) {
	n := make([]byte, MinNonceSize)
	if _, err := rand.Read(n); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err)
	}
	return n, nil
}

// ProveSharedSecret computes tag = MAC(key, nonce) for the prover side of
// the check-shared-secret protocol. The key must already be derived via
// PBKDF from the shared passphrase by the caller.
func (s *Suite) ProveSharedSecret(macKey, nonce []byte) ([]byte, error) {
	if len(nonce) < MinNonceSize {
		return nil, apperrors.Newf(apperrors.CodeInvalidInput, "nonce must be at least %d bytes", MinNonceSize)
	}
	w, err := s.NewMAC(macKey)
	if err != nil {
		return nil, err
	}
	defer w.Zeroize()
	return w.Tag(nonce), nil
}

// VerifySharedSecret recomputes the MAC over nonce and compares it to tag
// in constant time, for the verifier side of the check-shared-secret
// protocol.
func (s *Suite) VerifySharedSecret(macKey, nonce, tag []byte) error {
	w, err := s.NewMAC(macKey)
	if err != nil {
		return err
	}
	defer w.Zeroize()
	return w.Verify(nonce, tag)
}
