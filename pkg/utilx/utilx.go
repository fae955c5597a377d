package utilx

import (
	"github.com/google/uuid"
)

// GenerateUUID - generate a UUID.
func GenerateUUID() uuid.UUID {
	for {
		u, err := uuid.NewRandom()
		if err == nil {
			return u
		}
	}
}

// ShortID - first block of a fresh UUID, enough to correlate log lines of one transaction.
func ShortID() string {
	return GenerateUUID().String()[:8]
}
