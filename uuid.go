package cloudkvs

import (
	"time"

	"github.com/google/uuid"
)

// NewProbeKey returns a unique key under prefix, e.g. for latency probes that must not
// collide with user data or with probes of other gateway instances sharing a backend.
func NewProbeKey(prefix string) string {
	return prefix + newUUID().String()
}

func newUUID() uuid.UUID {
	// Generating a UUID is a must, so retry a few times before giving up.
	var err error
	for i := 0; i < 10; i++ {
		var id uuid.UUID
		id, err = uuid.NewRandom()
		if err == nil {
			return id
		}
		time.Sleep(time.Millisecond)
	}
	panic(err)
}
