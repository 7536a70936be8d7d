package wind

import (
	"errors"
	"fmt"
	"time"
)

// ProviderType selects the wind transport.
type ProviderType string

const (
	ProviderStatic ProviderType = "static"
	ProviderGrib   ProviderType = "grib"
	ProviderHTTP   ProviderType = "http"
)

// ProviderConfig holds configuration for creating a wind source.
type ProviderConfig struct {
	Type ProviderType

	// static
	Direction float64
	Speed     float64

	// grib
	GribDir     string
	GribRefresh time.Duration

	// http
	URL       string
	RateLimit int

	// Timeout and Retries wrap the source in a Retry when either is set.
	Timeout       time.Duration
	Retries       int
	RetryInterval time.Duration

	// CacheSize wraps the source in a Cache when positive.
	CacheSize int
	CacheTTL  time.Duration
	CacheStep float64
}

// NewProvider builds the configured source with its decorators. The returned
// function releases background resources.
func NewProvider(config ProviderConfig) (Source, func(), error) {
	var (
		source Source
		closer = func() {}
	)

	switch config.Type {
	case ProviderStatic:
		source = Static{Direction: config.Direction, Speed: config.Speed}
	case ProviderGrib:
		if config.GribDir == "" {
			return nil, nil, errors.New("grib directory is required for grib provider")
		}
		g, err := NewGribs(config.GribDir, config.GribRefresh)
		if err != nil {
			return nil, nil, fmt.Errorf("loading grib forecasts: %w", err)
		}
		source, closer = g, g.Close
	case ProviderHTTP:
		if config.URL == "" {
			return nil, nil, errors.New("URL is required for http provider")
		}
		source = NewHTTP(config.URL, config.RateLimit, config.Timeout)
	default:
		return nil, nil, fmt.Errorf("unsupported wind provider type: %s", config.Type)
	}

	if config.Timeout > 0 || config.Retries > 0 {
		source = NewRetry(source, config.Timeout, config.Retries, config.RetryInterval)
	}
	if config.CacheSize > 0 {
		source = NewCache(source, config.CacheSize, config.CacheTTL, config.CacheStep)
	}

	return source, closer, nil
}
