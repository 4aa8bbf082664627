package types

import (
	"time"

	"github.com/google/uuid"
)

// NewPolicyID generates a UUIDv7 policy identifier.
// Time-ordered IDs sort policy versions by compilation time.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewPolicyID() PolicyID {
	return PolicyID(uuid.Must(uuid.NewV7()).String())
}

// NewSampleID generates a UUIDv7 sample identifier.
// Time-ordered IDs keep sequential sample inserts clustered in B-tree pages.
func NewSampleID() SampleID {
	return SampleID(uuid.Must(uuid.NewV7()).String())
}

// ParsePolicyID validates and converts a string to PolicyID.
func ParsePolicyID(s string) (PolicyID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", err
	}
	return PolicyID(s), nil
}

// PolicyIDTime extracts the compilation time embedded in a UUIDv7 policy ID.
// Returns zero time for invalid IDs; caller should check IsZero().
func PolicyIDTime(id PolicyID) time.Time {
	u, err := uuid.Parse(string(id))
	if err != nil {
		return time.Time{}
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec)
}
