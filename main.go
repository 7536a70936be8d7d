package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/profile"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/a-bouts/nav-sim/api"
	"github.com/a-bouts/nav-sim/config"
	"github.com/a-bouts/nav-sim/metrics"
	"github.com/a-bouts/nav-sim/polar"
	"github.com/a-bouts/nav-sim/route"
	"github.com/a-bouts/nav-sim/wind"
	"github.com/a-bouts/nav-sim/xmpp"
)

func speedModel(c config.Config) (polar.Polar, error) {
	if c.PolarFile == "" {
		return polar.NewResistance(c.BaseSpeed), nil
	}

	t, err := polar.LoadTable(c.PolarFile)
	if err != nil {
		return nil, err
	}
	t.WithFoil = c.PolarFoil
	t.WithHull = c.PolarHull
	return t, nil
}

func main() {

	c, err := config.Parse(os.Args[1:])
	if err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}

	if c.Debug {
		log.SetLevel(log.DebugLevel)
	}
	if c.LogFile != "" {
		log.SetOutput(&lumberjack.Logger{
			Filename:   c.LogFile,
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     28,
		})
	}

	if c.CPUProfile {
		defer profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	}

	log.Infof("Load %s wind", c.WindProvider)
	source, closeSource, err := wind.NewProvider(c.Provider())
	if err != nil {
		log.WithError(err).Fatal("Wind source not available")
	}
	defer closeSource()

	boat, err := speedModel(c)
	if err != nil {
		log.WithError(err).Fatal("Polar not available")
	}

	var notifier route.Notifier = route.LogNotifier{}
	if x := (xmpp.Xmpp{Config: c.Xmpp()}); x.Enabled() {
		notifier = x
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sim := route.NewSimulation(route.Config{
		Source:       source,
		Polar:        boat,
		Interval:     c.TickInterval,
		HoursPerTick: c.HoursPerTick,
		RejectActive: c.RejectActive,
		Notifier:     notifier,
		Metrics:      metrics.NewMetrics(reg),
	})
	defer sim.Cancel()

	accessLog := log.StandardLogger().Writer()
	defer accessLog.Close()

	srv := &http.Server{
		Addr:              c.Addr,
		Handler:           api.Handler(api.InitServer(sim, source, reg), c.CORSOrigins, accessLog),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Infof("Start server on %s", c.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("Server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")
	sim.Cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Server shutdown")
	}
}
