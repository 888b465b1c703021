package metadata

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// IDLen is the byte length of PV and VG identifiers.
const IDLen = 16

// An ID is the 16-byte identifier of a PV or VG. IDs are formatted as UUIDs
// in messages and in exported metadata text.
type ID [IDLen]byte

// NilID is the zero ID, meaning "not set".
var NilID ID

// IsNil returns true iff the ID is unset.
func (id ID) IsNil() bool { return id == NilID }

// String formats the ID as a UUID.
func (id ID) String() string { return uuid.UUID(id).String() }

// ParseID parses a UUID-formatted ID.
func ParseID(s string) (ID, error) {
	var u, err = uuid.Parse(s)
	if err != nil {
		return NilID, errors.Wrapf(err, "parsing id %q", s)
	}
	return ID(u), nil
}

// NewID returns a new random ID.
func NewID() ID { return ID(uuid.New()) }

// MarshalYAML formats the ID as a UUID.
func (id ID) MarshalYAML() (interface{}, error) { return id.String(), nil }

// UnmarshalYAML parses a UUID-formatted ID.
func (id *ID) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	var parsed, err = ParseID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
