package applier

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// KeyGenerator produces idempotency keys and client-side appointment ids.
type KeyGenerator interface {
	NextKey() string
	NewID() string
}

// DeviceKeys generates keys of the form <device>-<uuidv4>-<counter>.
// The UUID carries 122 random bits; the counter is monotonic per process
// so two keys minted in the same process never collide even if the
// random source repeats.
type DeviceKeys struct {
	device  string
	counter atomic.Uint64
}

// NewDeviceKeys returns a generator for the given device id. An empty device
// id falls back to "dev".
func NewDeviceKeys(device string) *DeviceKeys {
	device = strings.TrimSpace(device)
	if device == "" {
		device = "dev"
	}
	return &DeviceKeys{device: device}
}

// NextKey returns a fresh idempotency key.
func (g *DeviceKeys) NextKey() string {
	n := g.counter.Add(1)
	return fmt.Sprintf("%s-%s-%06d", g.device, uuid.NewString(), n)
}

// NewID returns a fresh appointment id.
func (g *DeviceKeys) NewID() string {
	return uuid.NewString()
}
