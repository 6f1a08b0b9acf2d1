// Package x10 defines X10 addressing, function codes and the command and
// status values exchanged between the adapter and a power-line controller.
package x10

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrInvalidAddress is returned for house or unit codes outside A-P / 1-16.
	ErrInvalidAddress = errors.New("x10: invalid address")
	// ErrInvalidCode is returned when a 4-bit wire code cannot be decoded.
	ErrInvalidCode = errors.New("x10: invalid code")
)

// codeTable maps house letters A..P and unit numbers 1..16 (by index) to
// their 4-bit wire encoding. X10 uses the same sequence for both.
var codeTable = [16]byte{
	0x6, 0xE, 0x2, 0xA, 0x1, 0x9, 0x5, 0xD,
	0x7, 0xF, 0x3, 0xB, 0x0, 0x8, 0x4, 0xC,
}

// reverse lookup: wire nibble -> index into codeTable.
var codeIndex = func() [16]int {
	var idx [16]int
	for i, c := range codeTable {
		idx[c] = i
	}
	return idx
}()

// HouseCode is a house letter 'A'..'P'.
type HouseCode byte

// UnitCode is a unit number 1..16.
type UnitCode uint8

// Valid reports whether h is within A..P.
func (h HouseCode) Valid() bool { return h >= 'A' && h <= 'P' }

// Valid reports whether u is within 1..16.
func (u UnitCode) Valid() bool { return u >= 1 && u <= 16 }

func (h HouseCode) String() string { return string(rune(h)) }

// Code returns the 4-bit wire encoding of the house code.
func (h HouseCode) Code() byte { return codeTable[h-'A'] }

// Code returns the 4-bit wire encoding of the unit code.
func (u UnitCode) Code() byte { return codeTable[u-1] }

// HouseFromCode decodes a 4-bit house nibble.
func HouseFromCode(c byte) (HouseCode, error) {
	if c > 0xF {
		return 0, fmt.Errorf("house nibble 0x%X: %w", c, ErrInvalidCode)
	}
	return HouseCode('A' + codeIndex[c]), nil
}

// UnitFromCode decodes a 4-bit unit nibble.
func UnitFromCode(c byte) (UnitCode, error) {
	if c > 0xF {
		return 0, fmt.Errorf("unit nibble 0x%X: %w", c, ErrInvalidCode)
	}
	return UnitCode(codeIndex[c] + 1), nil
}

// Address identifies one X10 module on the power line.
type Address struct {
	House HouseCode
	Unit  UnitCode
}

// NewAddress validates and builds an address. The house letter is
// case-insensitive.
func NewAddress(house byte, unit int) (Address, error) {
	h := HouseCode(house)
	if h >= 'a' && h <= 'p' {
		h -= 'a' - 'A'
	}
	if !h.Valid() {
		return Address{}, fmt.Errorf("house code %q: %w", rune(house), ErrInvalidAddress)
	}
	if unit < 1 || unit > 16 {
		return Address{}, fmt.Errorf("unit code %d: %w", unit, ErrInvalidAddress)
	}
	return Address{House: h, Unit: UnitCode(unit)}, nil
}

// ParseAddress parses the textual form "A1" .. "P16".
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || len(s) > 3 {
		return Address{}, fmt.Errorf("address %q: %w", s, ErrInvalidAddress)
	}
	unit, err := strconv.Atoi(s[1:])
	if err != nil {
		return Address{}, fmt.Errorf("address %q: %w", s, ErrInvalidAddress)
	}
	return NewAddress(s[0], unit)
}

// Valid reports whether both components are in range.
func (a Address) Valid() bool { return a.House.Valid() && a.Unit.Valid() }

// String returns the address as house letter followed by unit number, e.g. "A1".
func (a Address) String() string {
	return a.House.String() + strconv.Itoa(int(a.Unit))
}

// DeviceID returns the host-facing device identifier, "x10-" + address.
func (a Address) DeviceID() string {
	return "x10-" + a.String()
}

// Byte returns the address wire byte: house nibble high, unit nibble low.
func (a Address) Byte() byte {
	return a.House.Code()<<4 | a.Unit.Code()
}

// AddressFromByte decodes an address wire byte.
func AddressFromByte(b byte) Address {
	h, _ := HouseFromCode(b >> 4)
	u, _ := UnitFromCode(b & 0x0F)
	return Address{House: h, Unit: u}
}

// MarshalText encodes the address as "A1".
func (a Address) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("marshal %q: %w", a.String(), ErrInvalidAddress)
	}
	return []byte(a.String()), nil
}

// UnmarshalText parses the "A1" form.
func (a *Address) UnmarshalText(b []byte) error {
	parsed, err := ParseAddress(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// MarshalText encodes the house code as its letter. The zero value encodes
// as an empty string.
func (h HouseCode) MarshalText() ([]byte, error) {
	if h == 0 {
		return []byte{}, nil
	}
	if !h.Valid() {
		return nil, fmt.Errorf("house code %d: %w", byte(h), ErrInvalidAddress)
	}
	return []byte{byte(h)}, nil
}

// UnmarshalText parses a single house letter.
func (h *HouseCode) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*h = 0
		return nil
	}
	if len(b) != 1 {
		return fmt.Errorf("house code %q: %w", b, ErrInvalidAddress)
	}
	a, err := NewAddress(b[0], 1)
	if err != nil {
		return err
	}
	*h = a.House
	return nil
}
