package enccontainer

import (
	"encoding/binary"
	"io"

	"github.com/evgeniums/hatn-go/internal/apperrors"
	"github.com/evgeniums/hatn-go/internal/cryptosuite"
)

// endMarker / continueMarker tag the last written chunk so Open knows to
// stop without needing to know the plaintext length up front.
const (
	continueMarker byte = 0x00
	endMarker      byte = 0x01
)

// Sealer streams plaintext chunks into authenticated-encryption records
// under a master key derived once per container, with a fresh per-chunk
// key (spec §4.4: `key_i = kdf(master, info = "chunk" || i)`).
type Sealer struct {
	suite  *cryptosuite.Suite
	master []byte
	desc   Descriptor
}

// NewSealer derives the container's master key from secret according to
// desc.KDFType and returns a Sealer ready to emit chunks.
func NewSealer(suite *cryptosuite.Suite, secret []byte, desc Descriptor) (*Sealer, error) {
	master, err := deriveMaster(suite, secret, desc)
	if err != nil {
		return nil, err
	}
	return &Sealer{suite: suite, master: master, desc: desc}, nil
}

func deriveMaster(suite *cryptosuite.Suite, secret []byte, desc Descriptor) ([]byte, error) {
	switch desc.KDFType {
	case KDFTypeHKDF:
		return suite.DeriveHKDF(secret, desc.Salt, []byte("enccontainer/master"), 32)
	case KDFTypePBKDF:
		return suite.DerivePBKDF(secret, desc.Salt, 32)
	case KDFTypePBKDFThenHKDF:
		mid, err := suite.DerivePBKDF(secret, desc.Salt, 32)
		if err != nil {
			return nil, err
		}
		return suite.DeriveHKDF(mid, desc.Salt, []byte("enccontainer/master"), 32)
	default:
		return nil, apperrors.Newf(apperrors.CodeInvalidInput, "unknown kdf type %d", desc.KDFType)
	}
}

func chunkKey(suite *cryptosuite.Suite, master []byte, index uint64) ([]byte, error) {
	var info [5 + 8]byte
	copy(info[:5], "chunk")
	binary.BigEndian.PutUint64(info[5:], index)
	return suite.DeriveHKDF(master, nil, info[:], 32)
}

func chunkNonce(index uint64, size int) []byte {
	n := make([]byte, size)
	binary.BigEndian.PutUint64(n[size-8:], index)
	return n
}

// SealAll writes the descriptor followed by every chunk of src, each sized
// per desc.chunkSizeFor, to w.
func (s *Sealer) SealAll(w io.Writer, src io.Reader) error {
	if err := s.desc.Marshal(w); err != nil {
		return apperrors.Wrap(apperrors.CodeWriteObjectFailed, err)
	}

	index := uint64(0)
	for {
		size := s.desc.chunkSizeFor(index)
		buf := make([]byte, size)
		n, readErr := io.ReadFull(src, buf)
		if readErr != nil && readErr != io.ErrUnexpectedEOF && readErr != io.EOF {
			return apperrors.Wrap(apperrors.CodeReadFailed, readErr)
		}
		last := readErr == io.EOF || readErr == io.ErrUnexpectedEOF
		if err := s.sealChunk(w, index, buf[:n], last); err != nil {
			return err
		}
		if last {
			return nil
		}
		index++
	}
}

func (s *Sealer) sealChunk(w io.Writer, index uint64, plaintext []byte, last bool) error {
	key, err := chunkKey(s.suite, s.master, index)
	if err != nil {
		return err
	}
	defer zero(key)
	aead, err := s.suite.NewAEAD(key)
	if err != nil {
		return err
	}
	marker := continueMarker
	if last {
		marker = endMarker
	}
	nonce := chunkNonce(index, aead.NonceSize())
	aad := []byte{marker}
	ct := aead.Seal(nonce, plaintext, aad)

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(ct)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return apperrors.Wrap(apperrors.CodeWriteObjectFailed, err)
	}
	if _, err := w.Write([]byte{marker}); err != nil {
		return apperrors.Wrap(apperrors.CodeWriteObjectFailed, err)
	}
	if _, err := w.Write(ct); err != nil {
		return apperrors.Wrap(apperrors.CodeWriteObjectFailed, err)
	}
	return nil
}

// Opener reverses a Sealer's output, failing the whole operation with
// MAC_FAILED on any single tag mismatch (spec §4.4: "Partial reads must
// not return data whose tag has not been verified").
type Opener struct {
	suite  *cryptosuite.Suite
	master []byte
	desc   Descriptor
}

// NewOpener reads the descriptor from r and derives the master key from
// secret, returning an Opener ready to stream plaintext via OpenAll.
func NewOpener(suite *cryptosuite.Suite, secret []byte, r io.Reader) (*Opener, error) {
	desc, err := UnmarshalDescriptor(r)
	if err != nil {
		return nil, err
	}
	master, err := deriveMaster(suite, secret, desc)
	if err != nil {
		return nil, err
	}
	return &Opener{suite: suite, master: master, desc: desc}, nil
}

// OpenAll decrypts every remaining chunk from r into w, stopping at the
// end-marker chunk.
func (o *Opener) OpenAll(w io.Writer, r io.Reader) error {
	index := uint64(0)
	for {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return apperrors.Wrap(apperrors.CodeReadFailed, err)
		}
		n := binary.LittleEndian.Uint32(lenBuf[:])

		var markerBuf [1]byte
		if _, err := io.ReadFull(r, markerBuf[:]); err != nil {
			return apperrors.Wrap(apperrors.CodeReadFailed, err)
		}

		ct := make([]byte, n)
		if _, err := io.ReadFull(r, ct); err != nil {
			return apperrors.Wrap(apperrors.CodeReadFailed, err)
		}

		pt, err := o.openChunk(index, markerBuf[0], ct)
		if err != nil {
			return err
		}
		if _, err := w.Write(pt); err != nil {
			return apperrors.Wrap(apperrors.CodeWriteObjectFailed, err)
		}
		if markerBuf[0] == endMarker {
			return nil
		}
		index++
	}
}

func (o *Opener) openChunk(index uint64, marker byte, ct []byte) ([]byte, error) {
	key, err := chunkKey(o.suite, o.master, index)
	if err != nil {
		return nil, err
	}
	defer zero(key)
	aead, err := o.suite.NewAEAD(key)
	if err != nil {
		return nil, err
	}
	nonce := chunkNonce(index, aead.NonceSize())
	pt, err := aead.Open(nonce, ct, []byte{marker})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeMACFailed, err)
	}
	return pt, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
