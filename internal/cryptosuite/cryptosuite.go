// Package cryptosuite implements the crypto suite of spec §4.3: a named
// table mapping logical slots (cipher, aead, mac, digest, kdf, hkdf, pbkdf,
// dh, signature) to algorithm identifiers, with factories that instantiate
// stateful worker objects bound to caller-supplied key material.
//
// Grounded on internal/crypto/crypto.go (DeriveKey via hkdf, Encrypt/
// Decrypt AES-GCM, HMACSign/HMACVerify, ECDSA Sign/Verify/GenerateKeyPair),
// generalized from a flat function bag into this slot-table/factory model.
package cryptosuite

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"

	"github.com/evgeniums/hatn-go/internal/apperrors"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/scrypt"
)

// Slot names the logical cryptographic role an algorithm fills.
type Slot string

const (
	SlotCipher    Slot = "cipher"
	SlotAEAD      Slot = "aead"
	SlotMAC       Slot = "mac"
	SlotDigest    Slot = "digest"
	SlotKDF       Slot = "kdf"
	SlotHKDF      Slot = "hkdf"
	SlotPBKDF     Slot = "pbkdf"
	SlotDH        Slot = "dh"
	SlotSignature Slot = "signature"
)

// HKDFMode is the HKDF variant requested for the hkdf slot (spec §4.3).
type HKDFMode int

const (
	HKDFExtractAll HKDFMode = iota
	HKDFExpandAll
	HKDFFirstExtractThenExpand
	HKDFExtractExpandAll
)

// PBKDFKind distinguishes the two password-based KDFs the suite supports.
type PBKDFKind int

const (
	PBKDFPBKDF2 PBKDFKind = iota
	PBKDFScrypt
)

// Algorithm is one entry of a Suite's slot table: an identifier plus
// default parameters, opaque to the suite itself.
type Algorithm struct {
	ID     string
	Params map[string]any
}

// Suite is a named table mapping slots to Algorithm entries. A Suite has no
// behavior of its own beyond lookup and the worker factories below; all
// cryptographic state lives in the worker objects the factories return.
type Suite struct {
	ID    string
	slots map[Slot]Algorithm
}

// NewSuite constructs an empty suite; callers populate it via Set.
func NewSuite(id string) *Suite {
	return &Suite{ID: id, slots: make(map[Slot]Algorithm)}
}

// Set registers (or replaces) the Algorithm bound to slot.
func (s *Suite) Set(slot Slot, alg Algorithm) *Suite {
	s.slots[slot] = alg
	return s
}

// Get returns the Algorithm bound to slot, or NOT_SUPPORTED_BY_PLUGIN.
func (s *Suite) Get(slot Slot) (*Algorithm, error) {
	alg, ok := s.slots[slot]
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeNotSupportedByPlugin, "suite %q: slot %q not configured", s.ID, slot)
	}
	return &alg, nil
}

// DefaultSuite returns the suite used when no suite_id is named explicitly:
// AES-256-GCM aead, HMAC-SHA256 mac, SHA-256 digest, HKDF-SHA256 kdf/hkdf,
// scrypt pbkdf, X25519 dh, Ed25519 signature — the same primitives the
// teacher's flat crypto.go used, reorganized into slots.
func DefaultSuite() *Suite {
	return NewSuite("default").
		Set(SlotCipher, Algorithm{ID: "aes-256"}).
		Set(SlotAEAD, Algorithm{ID: "aes-256-gcm"}).
		Set(SlotMAC, Algorithm{ID: "hmac-sha256"}).
		Set(SlotDigest, Algorithm{ID: "sha256"}).
		Set(SlotKDF, Algorithm{ID: "hkdf-sha256"}).
		Set(SlotHKDF, Algorithm{ID: "hkdf-sha256", Params: map[string]any{"mode": HKDFFirstExtractThenExpand}}).
		Set(SlotPBKDF, Algorithm{ID: "scrypt", Params: map[string]any{"N": 1 << 15, "r": 8, "p": 1, "maxMem": 64 << 20}}).
		Set(SlotDH, Algorithm{ID: "x25519"}).
		Set(SlotSignature, Algorithm{ID: "ed25519"})
}

// --- digest ---------------------------------------------------------------

// Digest computes the suite's configured digest algorithm over data.
func (s *Suite) Digest(data []byte) ([]byte, error) {
	alg, err := s.Get(SlotDigest)
	if err != nil {
		return nil, err
	}
	switch alg.ID {
	case "sha256", "":
		sum := sha256.Sum256(data)
		return sum[:], nil
	default:
		return nil, apperrors.Newf(apperrors.CodeDigestFailed, "unknown digest algorithm %q", alg.ID)
	}
}

// --- AEAD worker ------------------------------------------------------------

// AEADWorker is a stateful single-key AEAD worker (spec §5: "Crypto workers
// are single-threaded state machines; never shared without external
// synchronization").
type AEADWorker struct {
	aead cipher.AEAD
}

// NewAEAD binds an AEADWorker to key material for the suite's aead slot.
func (s *Suite) NewAEAD(key []byte) (*AEADWorker, error) {
	alg, err := s.Get(SlotAEAD)
	if err != nil {
		return nil, err
	}
	switch alg.ID {
	case "aes-256-gcm", "":
		if len(key) != 32 {
			return nil, apperrors.Newf(apperrors.CodeInvalidKeyLength, "aes-256-gcm requires a 32-byte key, got %d", len(key))
		}
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInvalidCipherState, err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInvalidCipherState, err)
		}
		return &AEADWorker{aead: gcm}, nil
	default:
		return nil, apperrors.Newf(apperrors.CodeInvalidAlgorithm, "unknown aead algorithm %q", alg.ID)
	}
}

// NonceSize returns the worker's required nonce length.
func (w *AEADWorker) NonceSize() int { return w.aead.NonceSize() }

// Seal encrypts plaintext under nonce with associated data aad, appending
// the authentication tag.
func (w *AEADWorker) Seal(nonce, plaintext, aad []byte) []byte {
	return w.aead.Seal(nil, nonce, plaintext, aad)
}

// Open authenticates and decrypts ciphertext (tag included), returning
// MAC_FAILED on any mismatch.
func (w *AEADWorker) Open(nonce, ciphertext, aad []byte) ([]byte, error) {
	pt, err := w.aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeMACFailed, err)
	}
	return pt, nil
}

// RandomNonce draws a fresh random nonce sized for this worker.
func (w *AEADWorker) RandomNonce() ([]byte, error) {
	n := make([]byte, w.aead.NonceSize())
	if _, err := rand.Read(n); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err)
	}
	return n, nil
}

// --- MAC worker -------------------------------------------------------------

// MACWorker computes/verifies a message authentication code, used for the
// check-shared-secret challenge/response protocol of spec §4.3.
type MACWorker struct {
	key []byte
}

// NewMAC binds a MACWorker to key material for the suite's mac slot.
func (s *Suite) NewMAC(key []byte) (*MACWorker, error) {
	alg, err := s.Get(SlotMAC)
	if err != nil {
		return nil, err
	}
	if alg.ID != "hmac-sha256" && alg.ID != "" {
		return nil, apperrors.Newf(apperrors.CodeInvalidAlgorithm, "unknown mac algorithm %q", alg.ID)
	}
	return &MACWorker{key: key}, nil
}

// Tag computes the MAC over data.
func (w *MACWorker) Tag(data []byte) []byte {
	h := hmac.New(sha256.New, w.key)
	h.Write(data)
	return h.Sum(nil)
}

// Verify compares tag against the recomputed MAC in constant time.
func (w *MACWorker) Verify(data, tag []byte) error {
	if !hmac.Equal(w.Tag(data), tag) {
		return apperrors.New(apperrors.CodeMACFailed)
	}
	return nil
}

// Zeroize overwrites the worker's key material (spec §4.3: "Keys are
// zeroized after use").
func (w *MACWorker) Zeroize() { zeroBytes(w.key) }

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// --- KDF / HKDF / PBKDF -----------------------------------------------------

// DeriveHKDF runs the suite's hkdf slot over (secret, salt, info),
// producing outLen bytes.
func (s *Suite) DeriveHKDF(secret, salt, info []byte, outLen int) ([]byte, error) {
	alg, err := s.Get(SlotHKDF)
	if err != nil {
		return nil, err
	}
	if alg.ID != "hkdf-sha256" && alg.ID != "" {
		return nil, apperrors.Newf(apperrors.CodeInvalidAlgorithm, "unknown hkdf algorithm %q", alg.ID)
	}
	r := hkdf.New(sha256.New, secret, salt, info)
	out := make([]byte, outLen)
	if _, err := fillFrom(r, out); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeKDFFailed, err)
	}
	return out, nil
}

type byteReader interface {
	Read(p []byte) (int, error)
}

func fillFrom(r byteReader, out []byte) (int, error) {
	total := 0
	for total < len(out) {
		n, err := r.Read(out[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}

// DerivePBKDF runs the suite's pbkdf slot over (password, salt), producing
// keyLen bytes — PBKDF2 with an iteration count, or scrypt with N/r/p.
func (s *Suite) DerivePBKDF(password, salt []byte, keyLen int) ([]byte, error) {
	alg, err := s.Get(SlotPBKDF)
	if err != nil {
		return nil, err
	}
	switch alg.ID {
	case "scrypt", "":
		n := intParam(alg.Params, "N", 1<<15)
		r := intParam(alg.Params, "r", 8)
		p := intParam(alg.Params, "p", 1)
		key, err := scrypt.Key(password, salt, n, r, p, keyLen)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeKDFFailed, err)
		}
		return key, nil
	case "pbkdf2":
		iters := intParam(alg.Params, "iterations", 100000)
		return pbkdf2.Key(password, salt, iters, keyLen, sha256.New), nil
	default:
		return nil, apperrors.Newf(apperrors.CodeInvalidAlgorithm, "unknown pbkdf algorithm %q", alg.ID)
	}
}

func intParam(params map[string]any, key string, def int) int {
	if params == nil {
		return def
	}
	if v, ok := params[key].(int); ok {
		return v
	}
	return def
}

// DeriveSharedSecret implements spec §4.3's
// `derive_shared_secret(login, password, suite_id) = HKDF(pbkdf(password, salt=canonicalize(login)))`.
func (s *Suite) DeriveSharedSecret(login, password string, outLen int) ([]byte, error) {
	salt := canonicalizeLogin(login)
	pbkdfOut, err := s.DerivePBKDF([]byte(password), salt, 32)
	if err != nil {
		return nil, err
	}
	defer zeroBytes(pbkdfOut)
	return s.DeriveHKDF(pbkdfOut, salt, []byte("hatn/shared-secret"), outLen)
}

func canonicalizeLogin(login string) []byte {
	b := make([]byte, len(login))
	for i, r := range []byte(login) {
		if r >= 'A' && r <= 'Z' {
			r = r - 'A' + 'a'
		}
		b[i] = r
	}
	return b
}

// --- DH (X25519) -------------------------------------------------------------

// DHKeyPair is an ephemeral Diffie-Hellman key pair on the suite's dh group.
type DHKeyPair struct {
	Private [32]byte
	Public  [32]byte
}

// GenerateDH creates an ephemeral key pair on the suite's dh slot (X25519).
func (s *Suite) GenerateDH() (*DHKeyPair, error) {
	alg, err := s.Get(SlotDH)
	if err != nil {
		return nil, err
	}
	if alg.ID != "x25519" && alg.ID != "" {
		return nil, apperrors.Newf(apperrors.CodeInvalidAlgorithm, "unknown dh group %q", alg.ID)
	}
	var priv [32]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err)
	}
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidKeyLength, err)
	}
	kp := &DHKeyPair{Private: priv}
	copy(kp.Public[:], pub)
	return kp, nil
}

// SharedSecret computes the DH shared secret with a peer's public key.
func (kp *DHKeyPair) SharedSecret(peerPublic [32]byte) ([]byte, error) {
	secret, err := curve25519.X25519(kp.Private[:], peerPublic[:])
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeKDFFailed, err)
	}
	return secret, nil
}

// --- Signature (Ed25519) -----------------------------------------------------

// SignatureKeyPair wraps an Ed25519 key pair for the suite's signature slot.
type SignatureKeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateSignatureKeyPair creates a fresh Ed25519 key pair.
func (s *Suite) GenerateSignatureKeyPair() (*SignatureKeyPair, error) {
	alg, err := s.Get(SlotSignature)
	if err != nil {
		return nil, err
	}
	if alg.ID != "ed25519" && alg.ID != "" {
		return nil, apperrors.Newf(apperrors.CodeInvalidAlgorithm, "unknown signature algorithm %q", alg.ID)
	}
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeSignFailed, err)
	}
	return &SignatureKeyPair{Public: pub, Private: priv}, nil
}

// Sign signs data with the key pair's private key.
func (kp *SignatureKeyPair) Sign(data []byte) ([]byte, error) {
	if len(kp.Private) != ed25519.PrivateKeySize {
		return nil, apperrors.New(apperrors.CodeInvalidSignatureState)
	}
	return ed25519.Sign(kp.Private, data), nil
}

// Verify verifies a signature against data using pub.
func Verify(pub ed25519.PublicKey, data, sig []byte) error {
	if !ed25519.Verify(pub, data, sig) {
		return apperrors.New(apperrors.CodeVerifyFailed)
	}
	return nil
}
