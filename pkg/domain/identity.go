package domain

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/sha3"

	dErrors "crowdledger/pkg/domain-errors"
)

// IdentityLength is the byte length of an account address.
const IdentityLength = 20

// Identity is an account address: the creator, a contributor or the platform owner.
// Its canonical text form is the EIP-55 mixed-case checksum encoding.
type Identity [IdentityLength]byte

// ParseIdentity parses a 0x-prefixed hex address. All-lowercase and all-uppercase
// inputs are accepted as-is; mixed-case input must carry a valid checksum.
func ParseIdentity(s string) (Identity, error) {
	var ident Identity
	if s == "" {
		return ident, dErrors.New(dErrors.CodeInvalidInput, "identity required")
	}
	body, ok := strings.CutPrefix(s, "0x")
	if !ok || len(body) != 2*IdentityLength {
		return ident, dErrors.New(dErrors.CodeInvalidInput, "identity must be 0x followed by 40 hex digits")
	}
	if _, err := hex.Decode(ident[:], []byte(body)); err != nil {
		return Identity{}, dErrors.New(dErrors.CodeInvalidInput, "identity must be 0x followed by 40 hex digits")
	}
	if isMixedCase(body) && ident.String() != s {
		return Identity{}, dErrors.New(dErrors.CodeInvalidInput, "identity checksum mismatch")
	}
	if ident.IsNil() {
		return Identity{}, dErrors.New(dErrors.CodeInvalidInput, "identity must not be the zero address")
	}
	return ident, nil
}

// MustIdentity parses s and panics on error. Intended for constants and tests.
func MustIdentity(s string) Identity {
	ident, err := ParseIdentity(s)
	if err != nil {
		panic(err)
	}
	return ident
}

// String returns the EIP-55 checksum encoding.
func (i Identity) String() string {
	lower := hex.EncodeToString(i[:])

	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lower))
	digest := h.Sum(nil)

	out := []byte(lower)
	for idx, c := range out {
		if c < 'a' || c > 'f' {
			continue
		}
		nibble := digest[idx/2]
		if idx%2 == 0 {
			nibble >>= 4
		}
		if nibble&0x0f >= 8 {
			out[idx] = c - ('a' - 'A')
		}
	}
	return "0x" + string(out)
}

// IsNil reports whether the identity is the zero address.
func (i Identity) IsNil() bool {
	return i == Identity{}
}

func (i Identity) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

func (i *Identity) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentity(string(text))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

func isMixedCase(s string) bool {
	return strings.ToLower(s) != s && strings.ToUpper(s) != s
}
