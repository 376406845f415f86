// internal/client/geo/provider.go
package geo

import (
	"context"
	"time"
)

// Coordinate is a WGS84 point.
type Coordinate struct {
	Lat float64
	Lng float64
}

// Provider supplies the device's current position on demand. The second
// return value is false when the position is unknown.
type Provider interface {
	CurrentLocation(ctx context.Context) (Coordinate, bool)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context) (Coordinate, bool)

func (f ProviderFunc) CurrentLocation(ctx context.Context) (Coordinate, bool) {
	return f(ctx)
}

// Static returns a provider pinned to one coordinate.
func Static(lat, lng float64) Provider {
	return ProviderFunc(func(context.Context) (Coordinate, bool) {
		return Coordinate{Lat: lat, Lng: lng}, true
	})
}

// Unknown returns a provider that never knows where it is.
func Unknown() Provider {
	return ProviderFunc(func(context.Context) (Coordinate, bool) {
		return Coordinate{}, false
	})
}

// WithTimeout bounds a provider lookup. When the underlying provider does
// not answer in time the position is treated as unknown instead of blocking
// the admission path.
func WithTimeout(p Provider, timeout time.Duration) Provider {
	return ProviderFunc(func(ctx context.Context) (Coordinate, bool) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		type result struct {
			pos Coordinate
			ok  bool
		}
		ch := make(chan result, 1)
		go func() {
			pos, ok := p.CurrentLocation(ctx)
			ch <- result{pos, ok}
		}()

		select {
		case res := <-ch:
			return res.pos, res.ok
		case <-ctx.Done():
			return Coordinate{}, false
		}
	})
}
