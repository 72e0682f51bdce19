package camera

import (
	"context"

	"github.com/bilbercode/camwatch/internal/health"
)

type Service interface {
	Start(ctx context.Context) error
	Probe(ctx context.Context, m *Monitored) health.Verdict
}

// DeviceProvider resolves the stream URI of a camera, typically through its
// device management service.
type DeviceProvider interface {
	StreamURI(ctx context.Context) (string, error)
}

type Rebooter interface {
	Reboot(ctx context.Context) error
}
