package oracle

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// ErrNoPrice is returned when every configured source fails.
var ErrNoPrice = errors.New("no price source available")

// Source is one rung of the fallback chain.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (float64, error)
}

// Oracle tries its sources in order and returns the first price. Individual
// source failures fall through silently; only exhaustion surfaces an error.
// No caching: the engine fetches once per tick and reuses that value.
type Oracle struct {
	sources []Source
	log     *zap.SugaredLogger
}

func New(log *zap.SugaredLogger, sources ...Source) *Oracle {
	return &Oracle{sources: sources, log: log}
}

// CurrentPrice returns the current market price or ErrNoPrice.
func (o *Oracle) CurrentPrice(ctx context.Context) (float64, error) {
	for _, src := range o.sources {
		price, err := src.Fetch(ctx)
		if err != nil {
			if o.log != nil {
				o.log.Debugw("price_source_failed", "source", src.Name(), "err", err)
			}
			continue
		}
		return price, nil
	}
	return 0, ErrNoPrice
}

// Sources returns the configured source names, in fallback order.
func (o *Oracle) Sources() []string {
	names := make([]string, len(o.sources))
	for i, s := range o.sources {
		names[i] = s.Name()
	}
	return names
}
