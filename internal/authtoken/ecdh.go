package authtoken

import (
	"github.com/evgeniums/hatn-go/internal/cryptosuite"
)

// Exchange runs one side of the ECDH handshake of spec §4.10: "both
// sides generate ephemeral keys via the suite's DH group; exchange
// public keys; compute shared secret and pass to the suite's HKDF to
// derive session keys."
type Exchange struct {
	suite *cryptosuite.Suite
	local *cryptosuite.DHKeyPair
}

// NewExchange generates this side's ephemeral key pair.
func NewExchange(suite *cryptosuite.Suite) (*Exchange, error) {
	if suite == nil {
		suite = cryptosuite.DefaultSuite()
	}
	kp, err := suite.GenerateDH()
	if err != nil {
		return nil, err
	}
	return &Exchange{suite: suite, local: kp}, nil
}

// PublicKey is the value to send to the peer.
func (e *Exchange) PublicKey() [32]byte { return e.local.Public }

// DeriveSessionKeys computes the DH shared secret with the peer's public
// key and stretches it through HKDF into outLen bytes of session key
// material, bound to info (e.g. a session id, so keys derived for
// different sessions never collide even if a peer keypair were reused).
func (e *Exchange) DeriveSessionKeys(peerPublic [32]byte, info []byte, outLen int) ([]byte, error) {
	shared, err := e.local.SharedSecret(peerPublic)
	if err != nil {
		return nil, err
	}
	return e.suite.DeriveHKDF(shared, nil, info, outLen)
}
