package registry

import (
	"context"
	"errors"

	"github.com/azora-io/vigil-core/internal/core"
)

var ErrConnectorNotFound = errors.New("no connector registered for this manufacturer/model")

// Connector dials one camera. Wire protocol (ONVIF/RTSP/vendor HTTP) is the
// connector's business; the pipeline only sees the Connection it returns.
type Connector interface {
	Connect(ctx context.Context, desc core.CameraDescriptor) (Connection, error)
}

// Connection is an established camera link held by the registry.
type Connection interface {
	// Capabilities reports what the device can produce (analytic types,
	// stream profiles). Opaque strings to this core.
	Capabilities() []string

	// OpenSource starts frame delivery. One source per connection at a
	// time; the stream supervisor enforces that.
	OpenSource() (FrameSource, error)

	Close() error
}

// FrameSource pushes frames into the supplied channel until the context is
// canceled or the source fails. The channel is owned by the caller and is
// never closed by the source.
type FrameSource interface {
	Stream(ctx context.Context, frames chan<- core.Frame) error
}

type ConnectorFactory func(desc core.CameraDescriptor) (Connector, error)

// factories: manufacturer:model -> factory
var factories = map[string]ConnectorFactory{}

// RegisterConnector is called from the init() of each connector
// implementation. Model "any" acts as a manufacturer-wide fallback.
func RegisterConnector(manufacturer, model string, f ConnectorFactory) {
	factories[normalize(manufacturer)+":"+normalize(model)] = f
}

func GetConnector(desc core.CameraDescriptor) (Connector, error) {
	if f, ok := factories[normalize(desc.Manufacturer)+":"+normalize(desc.Model)]; ok {
		return f(desc)
	}
	if f, ok := factories[normalize(desc.Manufacturer)+":any"]; ok {
		return f(desc)
	}
	return nil, ErrConnectorNotFound
}

func normalize(s string) string {
	b := make([]rune, 0, len(s))
	for _, r := range s {
		if r == ' ' || r == '-' || r == '_' {
			continue
		}
		if r >= 'A' && r <= 'Z' {
			r = r + 32
		}
		b = append(b, r)
	}
	return string(b)
}
