// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package encode

import (
	"encoding/json"
	"errors"
)

// PassBytes represents a UTF8-encoded byte slice. Passwords decoded from JSON
// requests are kept as PassBytes so they can be zeroed after use instead of
// lingering as immutable strings.
type PassBytes []byte

// MarshalJSON satisfies the json.Marshaler interface.
func (pb PassBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(pb))
}

// UnmarshalJSON satisfies the json.Unmarshaler interface. Only JSON strings
// are accepted.
func (pb *PassBytes) UnmarshalJSON(b []byte) error {
	if pb == nil {
		return errors.New("PassBytes: UnmarshalJSON on nil pointer")
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*pb = PassBytes(s)
	return nil
}

// String returns the password as a string.
func (pb PassBytes) String() string {
	return string(pb)
}

// Clear zeroes the slice.
func (pb PassBytes) Clear() {
	ClearBytes(pb)
}
