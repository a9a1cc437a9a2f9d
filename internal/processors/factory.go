package processors

import (
	"fmt"
	"time"

	domainErrors "github.com/pedrolacerda/payflow/internal/domain/errors"
	"github.com/sony/gobreaker/v2"
)

// PlatformProcessor is the identifier of the platform's own processing channel.
const PlatformProcessor = "platform"

// Factory holds the registered processor adapters and one circuit breaker per
// adapter. Outbound calls go through the breaker so a degraded processor fails
// fast instead of holding workers on timeouts.
type Factory struct {
	adapters        map[string]Adapter
	circuitBreakers map[string]*gobreaker.CircuitBreaker[*Result]
}

func NewFactory(adapters ...Adapter) *Factory {
	f := &Factory{
		adapters:        make(map[string]Adapter),
		circuitBreakers: make(map[string]*gobreaker.CircuitBreaker[*Result]),
	}

	if len(adapters) == 0 {
		f.Register(NewMockAdapter(PlatformProcessor,
			WithLatency(50*time.Millisecond),
		))
		f.Register(NewMockAdapter("stripe",
			WithLatency(200*time.Millisecond),
			WithFailureRate(0.05),
		))
		f.Register(NewMockAdapter("mollie",
			WithLatency(300*time.Millisecond),
			WithFailureRate(0.08),
		))
	} else {
		for _, a := range adapters {
			f.Register(a)
		}
	}

	return f
}

func (f *Factory) Register(a Adapter) {
	f.adapters[a.Name()] = a
	f.circuitBreakers[a.Name()] = gobreaker.NewCircuitBreaker[*Result](gobreaker.Settings{
		Name:        a.Name(),
		MaxRequests: 10,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && failureRatio >= 0.6
		},
	})
}

func (f *Factory) Get(name string) (Adapter, *gobreaker.CircuitBreaker[*Result], error) {
	a, ok := f.adapters[name]
	if !ok {
		return nil, nil, fmt.Errorf("unknown processor %q: %w", name, domainErrors.ErrProcessorNotFound)
	}
	return a, f.circuitBreakers[name], nil
}

// Has reports whether an adapter is registered under the name.
func (f *Factory) Has(name string) bool {
	_, ok := f.adapters[name]
	return ok
}
