package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrSco/ha-eufy-robovac-s1-pro/internal/robovac"
)

// HTTPServer serves health, metrics, and device status.
type HTTPServer struct {
	Server *http.Server
}

func New(addr string, registry *prometheus.Registry, vacuums []*robovac.Vacuum) *HTTPServer {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", HealthHandler)
	mux.Handle("/metrics", MetricsHandler(registry))
	mux.Handle("/devices", DevicesHandler(vacuums))
	return &HTTPServer{Server: &http.Server{Addr: addr, Handler: mux}}
}

func (s *HTTPServer) ListenAndServe() error {
	return s.Server.ListenAndServe()
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.Server.Shutdown(ctx)
}

// HealthHandler returns a simple OK for liveness checks.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// MetricsHandler exposes the Prometheus registry.
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

type deviceStatus struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	State     string   `json:"state"`
	Substatus string   `json:"substatus"`
	Battery   *int     `json:"battery,omitempty"`
	FanSpeed  string   `json:"fan_speed,omitempty"`
	ErrorCode string   `json:"error_code,omitempty"`
	Intent    string   `json:"intent"`
	Rooms     []string `json:"rooms,omitempty"`
	UpdatedAt string   `json:"updated_at,omitempty"`
}

// DevicesHandler reports the last known snapshot of every vacuum.
func DevicesHandler(vacuums []*robovac.Vacuum) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		out := make([]deviceStatus, 0, len(vacuums))
		for _, v := range vacuums {
			status := v.Status()
			entry := deviceStatus{
				ID:        v.DeviceID(),
				Name:      v.Name(),
				State:     string(status.State),
				Substatus: status.Substatus,
				Intent:    string(v.Intent()),
				Rooms:     v.Rooms(),
			}
			if status.BatteryKnown {
				battery := status.Battery
				entry.Battery = &battery
			}
			if status.FanSpeedKnown {
				entry.FanSpeed = string(status.FanSpeed)
			}
			entry.ErrorCode = status.ErrorCode
			if !status.UpdatedAt.IsZero() {
				entry.UpdatedAt = status.UpdatedAt.UTC().Format(time.RFC3339)
			}
			out = append(out, entry)
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(out); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}
