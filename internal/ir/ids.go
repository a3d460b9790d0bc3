package ir

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Opid identifies an operation by the hash of its canonical encoding.
type Opid [32]byte

// ContractID identifies a contract by the hash of its issue.
type ContractID [32]byte

// AuthToken is the capability naming exactly one live destructible cell.
type AuthToken [30]byte

// CellAddr locates an output cell: the producing operation and the output index.
// Destructible and immutable outputs are indexed independently.
type CellAddr struct {
	Opid Opid   `json:"opid"`
	Pos  uint16 `json:"pos"`
}

// NewCellAddr creates a CellAddr.
func NewCellAddr(opid Opid, pos uint16) CellAddr {
	return CellAddr{Opid: opid, Pos: pos}
}

func (id Opid) String() string { return hex.EncodeToString(id[:]) }

// IsZero reports whether the id is all zero bytes.
func (id Opid) IsZero() bool { return id == Opid{} }

// Compare orders opids bytewise. Used for deterministic traversal.
func (id Opid) Compare(other Opid) int { return bytes.Compare(id[:], other[:]) }

// MarshalText implements encoding.TextMarshaler.
func (id Opid) MarshalText() ([]byte, error) { return hexText(id[:]), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *Opid) UnmarshalText(text []byte) error {
	return decodeFixedHex("opid", text, id[:])
}

// ParseOpid parses a 64-character hex string.
func ParseOpid(s string) (Opid, error) {
	var id Opid
	err := id.UnmarshalText([]byte(s))
	return id, err
}

func (id ContractID) String() string { return hex.EncodeToString(id[:]) }

// MarshalText implements encoding.TextMarshaler.
func (id ContractID) MarshalText() ([]byte, error) { return hexText(id[:]), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ContractID) UnmarshalText(text []byte) error {
	return decodeFixedHex("contract id", text, id[:])
}

// ParseContractID parses a 64-character hex string.
func ParseContractID(s string) (ContractID, error) {
	var id ContractID
	err := id.UnmarshalText([]byte(s))
	return id, err
}

// GenesisOpid is the id under which the genesis outputs of a contract live.
// The genesis operation is never stashed, so walks over the DAG stop here.
func (id ContractID) GenesisOpid() Opid { return Opid(id) }

func (t AuthToken) String() string { return hex.EncodeToString(t[:]) }

// MarshalText implements encoding.TextMarshaler.
func (t AuthToken) MarshalText() ([]byte, error) { return hexText(t[:]), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *AuthToken) UnmarshalText(text []byte) error {
	return decodeFixedHex("auth token", text, t[:])
}

// ParseAuthToken parses a 60-character hex string.
func ParseAuthToken(s string) (AuthToken, error) {
	var t AuthToken
	err := t.UnmarshalText([]byte(s))
	return t, err
}

// AuthTokenFromBytes copies the first 30 bytes of b into a token.
func AuthTokenFromBytes(b []byte) (AuthToken, error) {
	var t AuthToken
	if len(b) < len(t) {
		return t, fmt.Errorf("auth token needs %d bytes, got %d", len(t), len(b))
	}
	copy(t[:], b)
	return t, nil
}

// String renders the address as "<opid>:<pos>".
func (a CellAddr) String() string {
	return a.Opid.String() + ":" + strconv.FormatUint(uint64(a.Pos), 10)
}

// Compare orders addresses by opid, then by position.
func (a CellAddr) Compare(other CellAddr) int {
	if c := a.Opid.Compare(other.Opid); c != 0 {
		return c
	}
	switch {
	case a.Pos < other.Pos:
		return -1
	case a.Pos > other.Pos:
		return 1
	}
	return 0
}

// MarshalText implements encoding.TextMarshaler so addresses work as JSON map keys.
func (a CellAddr) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *CellAddr) UnmarshalText(text []byte) error {
	parsed, err := ParseCellAddr(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseCellAddr parses the "<opid>:<pos>" form produced by String.
func ParseCellAddr(s string) (CellAddr, error) {
	opidHex, posText, ok := strings.Cut(s, ":")
	if !ok {
		return CellAddr{}, fmt.Errorf("cell address %q: missing ':'", s)
	}
	opid, err := ParseOpid(opidHex)
	if err != nil {
		return CellAddr{}, fmt.Errorf("cell address %q: %w", s, err)
	}
	pos, err := strconv.ParseUint(posText, 10, 16)
	if err != nil {
		return CellAddr{}, fmt.Errorf("cell address %q: position: %w", s, err)
	}
	return CellAddr{Opid: opid, Pos: uint16(pos)}, nil
}

func hexText(b []byte) []byte {
	out := make([]byte, hex.EncodedLen(len(b)))
	hex.Encode(out, b)
	return out
}

func decodeFixedHex(what string, text []byte, dst []byte) error {
	if len(text) != hex.EncodedLen(len(dst)) {
		return fmt.Errorf("%s: expected %d hex characters, got %d", what, hex.EncodedLen(len(dst)), len(text))
	}
	if _, err := hex.Decode(dst, text); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}
