package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/a-bouts/nav-sim/api/model"
	"github.com/a-bouts/nav-sim/latlon"
	"github.com/a-bouts/nav-sim/route"
	"github.com/a-bouts/nav-sim/wind"
)

type server struct {
	sim    *route.Simulation
	source wind.Source
}

func InitServer(sim *route.Simulation, source wind.Source, gatherer prometheus.Gatherer) *mux.Router {

	router := mux.NewRouter().StrictSlash(true)

	s := server{
		sim:    sim,
		source: source,
	}

	router.HandleFunc("/sim/-/healthz", s.healthz).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	apiV1 := router.PathPrefix("/sim/api/v1").Subrouter()
	apiV1.HandleFunc("/wind/{lat}/{lon}", s.wind).Methods(http.MethodGet)
	apiV1.HandleFunc("/runs", s.startRun).Methods(http.MethodPost)
	apiV1.HandleFunc("/runs/current", s.currentRun).Methods(http.MethodGet)
	apiV1.HandleFunc("/runs/current", s.cancelRun).Methods(http.MethodDelete)
	apiV1.HandleFunc("/runs/current/events", s.events).Methods(http.MethodGet)

	return router
}

// Handler adds CORS for the browser front end and access logging.
func Handler(h http.Handler, origins []string, accessLog io.Writer) http.Handler {
	cors := handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)
	return handlers.LoggingHandler(accessLog, cors(h))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, model.Error{Error: err.Error()})
}

func requestLogger(action string, req *http.Request) *log.Entry {
	fields := log.Fields{
		"action": action,
	}
	if ip, err := getIp(req); err == nil {
		fields["IP"] = ip
	}
	return log.WithFields(fields)
}

func (s *server) healthz(w http.ResponseWriter, r *http.Request) {
	type health struct {
		Status string `json:"status"`
	}

	writeJSON(w, http.StatusOK, health{Status: "Ok"})
}

func (s *server) wind(w http.ResponseWriter, r *http.Request) {
	lat, err := strconv.ParseFloat(mux.Vars(r)["lat"], 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid latitude: %w", err))
		return
	}
	lon, err := strconv.ParseFloat(mux.Vars(r)["lon"], 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid longitude: %w", err))
		return
	}
	at := latlon.LatLon{Lat: lat, Lon: lon}
	if !at.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Errorf("coordinate %s out of range", at))
		return
	}

	sample, err := s.source.Fetch(r.Context(), at)
	if err != nil {
		requestLogger("wind", r).WithError(err).Warnf("Wind %s", at)
		if errors.Is(err, wind.ErrOutOfGrid) || errors.Is(err, wind.ErrNoForecast) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusBadGateway, err)
		return
	}

	log.Debugf("Wind %s : %s", at, sample)

	writeJSON(w, http.StatusOK, model.Wind{Direction: sample.Direction, Speed: sample.Speed})
}

func (s *server) startRun(w http.ResponseWriter, req *http.Request) {
	logger := requestLogger("run", req)

	var body model.Route
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decoding route: %w", err))
		return
	}

	run, err := s.sim.Start(body.Route)
	switch {
	case errors.Is(err, route.ErrInvalidRoute):
		writeError(w, http.StatusBadRequest, err)
		return
	case errors.Is(err, route.ErrRunAlreadyActive):
		writeError(w, http.StatusConflict, err)
		return
	case err != nil:
		logger.WithError(err).Error("Run not started")
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	logger.Infof("Run '%s' of %d waypoints", run.ID(), len(body.Route))

	writeJSON(w, http.StatusCreated, model.NewRun(run))
}

func (s *server) currentRun(w http.ResponseWriter, req *http.Request) {
	run := s.sim.Current()
	if run == nil {
		writeError(w, http.StatusNotFound, errors.New("no run"))
		return
	}

	writeJSON(w, http.StatusOK, model.NewRun(run))
}

func (s *server) cancelRun(w http.ResponseWriter, req *http.Request) {
	requestLogger("cancel", req).Info("Cancel run")
	s.sim.Cancel()

	w.WriteHeader(http.StatusNoContent)
}

// events streams the current run as Server-Sent Events until it ends or the
// client goes away.
func (s *server) events(w http.ResponseWriter, req *http.Request) {
	run := s.sim.Current()
	if run == nil {
		writeError(w, http.StatusNotFound, errors.New("no run"))
		return
	}

	logger := requestLogger("events", req).WithField("run", run.ID())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	send := func(e route.Event) bool {
		data, err := json.Marshal(e)
		if err != nil {
			logger.WithError(err).Error("Encoding event")
			return false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			logger.WithError(err).Debug("Stream closed")
			return false
		}
		if err := rc.Flush(); err != nil {
			logger.WithError(err).Debug("Flush not supported")
		}
		return true
	}

	logger.Info("Stream connected")
	defer logger.Info("Stream disconnected")

	events, unsubscribe := run.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-req.Context().Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if !send(e) {
				return
			}
		}
	}
}

func getIp(r *http.Request) (string, error) {
	//Get IP from the X-REAL-IP header
	ip := r.Header.Get("X-REAL-IP")
	netIP := net.ParseIP(ip)
	if netIP != nil {
		return ip, nil
	}

	//Get IP from X-FORWARDED-FOR header
	ips := r.Header.Get("X-FORWARDED-FOR")
	splitIps := strings.Split(ips, ",")
	for _, ip := range splitIps {
		ip = strings.TrimSpace(ip)
		netIP := net.ParseIP(ip)
		if netIP != nil {
			return ip, nil
		}
	}

	//Get IP from RemoteAddr
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "", err
	}
	netIP = net.ParseIP(ip)
	if netIP != nil {
		return ip, nil
	}
	return "", fmt.Errorf("No valid ip found")
}
