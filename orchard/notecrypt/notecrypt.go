// Package notecrypt is the reference note encryption used by the wallet:
// X25519 agreement against a key derived from the incoming viewing key,
// a personalized BLAKE2b KDF and ChaCha20-Poly1305.
package notecrypt

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/colorfulnotion/orchardwallet/common"
	"github.com/colorfulnotion/orchardwallet/orchard/bundle"
	"github.com/colorfulnotion/orchardwallet/orchard/keys"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
)

const (
	AddressLength = 32
	RseedLength   = 32
	MaxMemoLength = 512

	plaintextHeaderLength = AddressLength + 8 + RseedLength
)

var (
	personalIvkScalar  = []byte("OrchWallet_IvkSk")
	personalKDF        = []byte("OrchWallet_KDF")
	personalCommitment = []byte("OrchWallet_Cmx")
	personalNullifier  = []byte("OrchWallet_Nf")
)

// Address is the X25519 public key notes are encrypted to.
type Address [AddressLength]byte

// Note is a decrypted note plaintext.
type Note struct {
	Recipient Address
	Value     uint64
	Rseed     [RseedLength]byte
	Memo      []byte
}

func (n *Note) marshal() []byte {
	out := make([]byte, plaintextHeaderLength+len(n.Memo))
	copy(out[0:32], n.Recipient[:])
	binary.LittleEndian.PutUint64(out[32:40], n.Value)
	copy(out[40:72], n.Rseed[:])
	copy(out[72:], n.Memo)
	return out
}

func parseNote(b []byte) (Note, bool) {
	var n Note
	if len(b) < plaintextHeaderLength || len(b) > plaintextHeaderLength+MaxMemoLength {
		return n, false
	}
	copy(n.Recipient[:], b[0:32])
	n.Value = binary.LittleEndian.Uint64(b[32:40])
	copy(n.Rseed[:], b[40:72])
	if len(b) > plaintextHeaderLength {
		n.Memo = append([]byte(nil), b[72:]...)
	}
	return n, true
}

func agreementScalar(ivk keys.IncomingViewingKey) []byte {
	sk := common.PersonalHash(personalIvkScalar, ivk[:])
	return sk[:]
}

// AddressFor returns the address whose notes ivk can decrypt.
func AddressFor(ivk keys.IncomingViewingKey) (Address, error) {
	var addr Address
	pk, err := curve25519.X25519(agreementScalar(ivk), curve25519.Basepoint)
	if err != nil {
		return addr, fmt.Errorf("derive address: %w", err)
	}
	copy(addr[:], pk)
	return addr, nil
}

func kdf(shared, epk []byte) []byte {
	k := common.PersonalHash(personalKDF, shared, epk)
	return k[:]
}

// Commitment is the reference note commitment of n.
func Commitment(n *Note) common.Hash {
	return common.PersonalHash(personalCommitment, n.Recipient[:], common.Uint64ToBytes(n.Value), n.Rseed[:])
}

// Nullifier is the reference nullifier of n.
func Nullifier(n *Note) common.Hash {
	cmx := Commitment(n)
	return common.PersonalHash(personalNullifier, n.Rseed[:], cmx[:])
}

// Encrypt encrypts note to recipient using randomness from rng (crypto/rand
// when nil). The note's Recipient is set to recipient.
func Encrypt(recipient Address, note Note, rng io.Reader) (epk [bundle.EphemeralKeyLength]byte, ciphertext []byte, err error) {
	if len(note.Memo) > MaxMemoLength {
		return epk, nil, fmt.Errorf("memo of %d bytes exceeds %d", len(note.Memo), MaxMemoLength)
	}
	if rng == nil {
		rng = rand.Reader
	}
	esk := make([]byte, curve25519.ScalarSize)
	if _, err := io.ReadFull(rng, esk); err != nil {
		return epk, nil, fmt.Errorf("ephemeral key: %w", err)
	}
	pub, err := curve25519.X25519(esk, curve25519.Basepoint)
	if err != nil {
		return epk, nil, err
	}
	shared, err := curve25519.X25519(esk, recipient[:])
	if err != nil {
		return epk, nil, fmt.Errorf("key agreement: %w", err)
	}
	copy(epk[:], pub)

	aead, err := chacha20poly1305.New(kdf(shared, epk[:]))
	if err != nil {
		return epk, nil, err
	}
	note.Recipient = recipient
	nonce := make([]byte, chacha20poly1305.NonceSize)
	return epk, aead.Seal(nil, nonce, note.marshal(), nil), nil
}

// NewAction encrypts note to recipient and wraps it in an action carrying
// the note's reference commitment and nullifier.
func NewAction(recipient Address, note Note, rng io.Reader) (bundle.Action, error) {
	note.Recipient = recipient
	epk, ct, err := Encrypt(recipient, note, rng)
	if err != nil {
		return bundle.Action{}, err
	}
	return bundle.Action{
		Commitment:    Commitment(&note),
		Nullifier:     Nullifier(&note),
		EphemeralKey:  epk,
		EncCiphertext: ct,
	}, nil
}

// Decryptor is the trial-decryption primitive consumed by the scanner.
type Decryptor struct{}

// TryDecrypt attempts to open action with ivk. It fails closed: any
// agreement, authentication or layout failure reports false.
func (Decryptor) TryDecrypt(ivk keys.IncomingViewingKey, action *bundle.Action) (Note, bool) {
	shared, err := curve25519.X25519(agreementScalar(ivk), action.EphemeralKey[:])
	if err != nil {
		return Note{}, false
	}
	aead, err := chacha20poly1305.New(kdf(shared, action.EphemeralKey[:]))
	if err != nil {
		return Note{}, false
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	plain, err := aead.Open(nil, nonce, action.EncCiphertext, nil)
	if err != nil {
		return Note{}, false
	}
	note, ok := parseNote(plain)
	if !ok {
		return Note{}, false
	}
	addr, err := AddressFor(ivk)
	if err != nil || addr != note.Recipient {
		return Note{}, false
	}
	return note, true
}
