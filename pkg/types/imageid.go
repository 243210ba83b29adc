package types

import (
	"crypto/sha1"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/errors"
)

// ImageID identifies a scanned binary image (20 bytes).
// File images use a Git-style content hash; live process images hash their identity.
type ImageID [20]byte

// ComputeImageID computes a Git-style content hash: SHA-1("blob {len}\0{content}").
func ComputeImageID(content []byte) ImageID {
	header := fmt.Sprintf("blob %d\x00", len(content))
	h := sha1.New()
	h.Write([]byte(header))
	h.Write(content)

	var id ImageID
	copy(id[:], h.Sum(nil))
	return id
}

// ComputeProcessImageID identifies a module mapped in a live process.
// Content is not hashed since it may change between reads.
func ComputeProcessImageID(pid int32, module string, base Address, size uint64) ImageID {
	h := sha1.New()
	fmt.Fprintf(h, "process %d\x00%s\x00%d\x00%d", pid, module, uint64(base), size)

	var id ImageID
	copy(id[:], h.Sum(nil))
	return id
}

// Hex returns 40-character hex string.
func (id ImageID) Hex() string {
	return hex.EncodeToString(id[:])
}

// String implements Stringer (returns Hex()).
func (id ImageID) String() string {
	return id.Hex()
}

// ParseImageID parses 40-char hex string to ImageID.
func ParseImageID(hexStr string) (ImageID, error) {
	if len(hexStr) != 40 {
		return ImageID{}, errors.Newf("invalid image ID length: expected 40, got %d", len(hexStr))
	}

	decoded, err := hex.DecodeString(hexStr)
	if err != nil {
		return ImageID{}, errors.Wrap(err, "invalid hex string")
	}

	var id ImageID
	copy(id[:], decoded)
	return id, nil
}

// MarshalJSON implements json.Marshaler.
func (id ImageID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.Hex())
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *ImageID) UnmarshalJSON(data []byte) error {
	var hexStr string
	if err := json.Unmarshal(data, &hexStr); err != nil {
		return err
	}

	parsed, err := ParseImageID(hexStr)
	if err != nil {
		return err
	}

	*id = parsed
	return nil
}

// Value implements driver.Valuer for SQL serialization.
func (id ImageID) Value() (driver.Value, error) {
	return id.Hex(), nil
}

// Scan implements sql.Scanner for SQL deserialization.
func (id *ImageID) Scan(value interface{}) error {
	if value == nil {
		return errors.New("cannot scan nil into ImageID")
	}

	var hexStr string
	switch v := value.(type) {
	case string:
		hexStr = v
	case []byte:
		hexStr = string(v)
	default:
		return errors.Newf("cannot scan type %T into ImageID", value)
	}

	parsed, err := ParseImageID(hexStr)
	if err != nil {
		return err
	}

	*id = parsed
	return nil
}
