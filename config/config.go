package config

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/peterbourgon/ff"

	"github.com/a-bouts/nav-sim/wind"
	"github.com/a-bouts/nav-sim/xmpp"
)

type Config struct {
	Addr        string
	Debug       bool
	LogFile     string
	CPUProfile  bool
	CORSOrigins []string

	WindProvider      string
	WindDirection     float64
	WindSpeed         float64
	GribDir           string
	GribRefresh       time.Duration
	WindURL           string
	WindRateLimit     int
	WindTimeout       time.Duration
	WindRetries       int
	WindRetryInterval time.Duration
	WindCacheSize     int
	WindCacheTTL      time.Duration
	WindCacheStep     float64

	BaseSpeed    float64
	PolarFile    string
	PolarFoil    bool
	PolarHull    bool
	TickInterval time.Duration
	HoursPerTick float64
	RejectActive bool

	XmppHost     string
	XmppJid      string
	XmppPassword string
	XmppTo       string
}

// Parse reads the configuration from args, then from the file named by
// -config, then from the environment (WIND_PROVIDER for -wind-provider). A
// flag already set by an earlier source is kept.
func Parse(args []string) (Config, error) {
	var c Config

	fs := flag.NewFlagSet("nav-sim", flag.ContinueOnError)
	var (
		_       = fs.String("config", "", "config file (optional)")
		origins = fs.String("cors-origins", "*", "comma separated allowed origins")
	)
	fs.StringVar(&c.Addr, "addr", ":8888", "listen address")
	fs.BoolVar(&c.Debug, "debug", false, "debug logging")
	fs.StringVar(&c.LogFile, "log-file", "", "rotated log file, stderr when empty")
	fs.BoolVar(&c.CPUProfile, "cpuprofile", false, "write a CPU profile on exit")

	fs.StringVar(&c.WindProvider, "wind-provider", string(wind.ProviderStatic), "wind source: static, grib or http")
	fs.Float64Var(&c.WindDirection, "wind-direction", 0, "static wind direction, degrees the wind blows toward")
	fs.Float64Var(&c.WindSpeed, "wind-speed", 0, "static wind speed in knots")
	fs.StringVar(&c.GribDir, "grib-dir", "grib-data", "directory of GRIB2 forecasts")
	fs.DurationVar(&c.GribRefresh, "grib-refresh", 15*time.Second, "GRIB directory scan interval")
	fs.StringVar(&c.WindURL, "wind-url", "", "base URL of the wind service")
	fs.IntVar(&c.WindRateLimit, "wind-rate-limit", 10, "wind service requests per second, 0 for no limit")
	fs.DurationVar(&c.WindTimeout, "wind-timeout", 5*time.Second, "wind lookup timeout")
	fs.IntVar(&c.WindRetries, "wind-retries", 2, "wind lookup retries")
	fs.DurationVar(&c.WindRetryInterval, "wind-retry-interval", 100*time.Millisecond, "first wind lookup retry delay")
	fs.IntVar(&c.WindCacheSize, "wind-cache-size", 0, "wind lookups kept in cache, 0 disables the cache")
	fs.DurationVar(&c.WindCacheTTL, "wind-cache-ttl", time.Minute, "wind cache entry lifetime")
	fs.Float64Var(&c.WindCacheStep, "wind-cache-step", 0.01, "wind cache grid step in degrees")

	fs.Float64Var(&c.BaseSpeed, "base-speed", 7, "boat speed in calm, knots")
	fs.StringVar(&c.PolarFile, "polar-file", "", "JSON polar, replaces the base speed model")
	fs.BoolVar(&c.PolarFoil, "polar-foil", false, "boat has foils")
	fs.BoolVar(&c.PolarHull, "polar-hull", false, "boat has the hull option")
	fs.DurationVar(&c.TickInterval, "tick-interval", time.Second, "real time between ticks")
	fs.Float64Var(&c.HoursPerTick, "hours-per-tick", 1, "simulated hours per tick")
	fs.BoolVar(&c.RejectActive, "reject-active", false, "refuse a new run while one is active")

	fs.StringVar(&c.XmppHost, "xmpp-host", "", "")
	fs.StringVar(&c.XmppJid, "xmpp-jid", "", "")
	fs.StringVar(&c.XmppPassword, "xmpp-password", "", "")
	fs.StringVar(&c.XmppTo, "xmpp-to", "", "")

	err := ff.Parse(fs, args,
		ff.WithEnvVarNoPrefix(),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
	)
	if err != nil {
		return c, err
	}

	for _, o := range strings.Split(*origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			c.CORSOrigins = append(c.CORSOrigins, o)
		}
	}

	if err := c.validate(); err != nil {
		return c, err
	}
	return c, nil
}

func (c Config) validate() error {
	switch wind.ProviderType(c.WindProvider) {
	case wind.ProviderStatic, wind.ProviderGrib, wind.ProviderHTTP:
	default:
		return fmt.Errorf("unsupported wind provider type: %s", c.WindProvider)
	}
	if c.BaseSpeed < 0 {
		return fmt.Errorf("base speed must not be negative: %f", c.BaseSpeed)
	}
	if c.TickInterval < 0 {
		return fmt.Errorf("tick interval must not be negative: %s", c.TickInterval)
	}
	if c.HoursPerTick <= 0 {
		return fmt.Errorf("hours per tick must be positive: %f", c.HoursPerTick)
	}
	return nil
}

func (c Config) Provider() wind.ProviderConfig {
	return wind.ProviderConfig{
		Type:          wind.ProviderType(c.WindProvider),
		Direction:     c.WindDirection,
		Speed:         c.WindSpeed,
		GribDir:       c.GribDir,
		GribRefresh:   c.GribRefresh,
		URL:           c.WindURL,
		RateLimit:     c.WindRateLimit,
		Timeout:       c.WindTimeout,
		Retries:       c.WindRetries,
		RetryInterval: c.WindRetryInterval,
		CacheSize:     c.WindCacheSize,
		CacheTTL:      c.WindCacheTTL,
		CacheStep:     c.WindCacheStep,
	}
}

func (c Config) Xmpp() xmpp.Config {
	return xmpp.Config{Host: c.XmppHost, Jid: c.XmppJid, Password: c.XmppPassword, To: c.XmppTo}
}
