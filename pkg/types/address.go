package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// Address is a location in a scanned address space.
type Address uint64

// String returns the address as 0x-prefixed hex.
func (a Address) String() string {
	return fmt.Sprintf("0x%X", uint64(a))
}

// Offset returns the distance from base to a, or -1 when a lies below base.
func (a Address) Offset(base Address) int64 {
	if a < base {
		return -1
	}
	return int64(a - base)
}

// ParseAddress parses a decimal or 0x-prefixed hex address.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty address")
	}
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid address %q", s)
	}
	return Address(v), nil
}

// MarshalJSON encodes the address as a hex string.
func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts a hex/decimal string or a bare number.
func (a *Address) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n uint64
		if numErr := json.Unmarshal(data, &n); numErr != nil {
			return errors.Wrap(err, "address must be a string or number")
		}
		*a = Address(n)
		return nil
	}

	parsed, err := ParseAddress(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// FormatAddresses renders a capture vector as a comma separated list.
func FormatAddresses(addrs []Address) string {
	parts := make([]string, len(addrs))
	for i, a := range addrs {
		parts[i] = a.String()
	}
	return strings.Join(parts, ", ")
}
