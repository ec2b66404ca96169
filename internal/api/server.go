// SPDX-License-Identifier: Apache-2.0

// Package api exposes the device sessions over HTTP: a JSON command
// surface and a WebSocket snapshot feed per device.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ttrushin/ha-aromatech-scent-diffuser/internal/session"
)

// Controller is the per-device session surface the API drives.
type Controller interface {
	Snapshot() session.Snapshot
	Subscribe() (<-chan session.Snapshot, func())
	PowerOn(ctx context.Context, intensity int) error
	PowerOff(ctx context.Context) error
	SetIntensity(ctx context.Context, level int) error
	SetIntensityLocal(level int) error
	ReadDeviceInfo(ctx context.Context) error
}

type API struct {
	devices  map[string]Controller
	names    map[string]string
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// New builds the API over the configured devices. names maps device
// address to its configured display name and may be sparse.
func New(devices map[string]Controller, names map[string]string, log zerolog.Logger) *API {
	return &API{
		devices: devices,
		names:   names,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", a.health)
	r.Route("/api", func(api chi.Router) {
		api.Get("/devices", a.listDevices)
		api.Get("/devices/{address}", a.getDevice)
		api.Post("/devices/{address}/power", a.setPower)
		api.Post("/devices/{address}/intensity", a.setIntensity)
		api.Post("/devices/{address}/refresh", a.refresh)
		api.Get("/devices/{address}/events", a.events)
	})
	return r
}

func (a *API) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "devices": len(a.devices)})
}

type deviceSummary struct {
	Address  string           `json:"address"`
	Name     string           `json:"name,omitempty"`
	Snapshot session.Snapshot `json:"snapshot"`
}

func (a *API) listDevices(w http.ResponseWriter, _ *http.Request) {
	items := make([]deviceSummary, 0, len(a.devices))
	for addr, ctrl := range a.devices {
		items = append(items, deviceSummary{
			Address:  addr,
			Name:     a.names[addr],
			Snapshot: ctrl.Snapshot(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) getDevice(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := a.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

type powerRequest struct {
	On        bool `json:"on"`
	Intensity int  `json:"intensity"`
}

func (a *API) setPower(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := a.lookup(w, r)
	if !ok {
		return
	}
	var payload powerRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "Invalid JSON payload")
		return
	}

	var err error
	if payload.On {
		err = ctrl.PowerOn(r.Context(), payload.Intensity)
	} else {
		err = ctrl.PowerOff(r.Context())
	}
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

type intensityRequest struct {
	Level     int  `json:"level"`
	LocalOnly bool `json:"localOnly"`
}

func (a *API) setIntensity(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := a.lookup(w, r)
	if !ok {
		return
	}
	var payload intensityRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "Invalid JSON payload")
		return
	}

	var err error
	if payload.LocalOnly {
		err = ctrl.SetIntensityLocal(payload.Level)
	} else {
		err = ctrl.SetIntensity(r.Context(), payload.Level)
	}
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

func (a *API) refresh(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := a.lookup(w, r)
	if !ok {
		return
	}
	if err := ctrl.ReadDeviceInfo(r.Context()); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

// events upgrades to a WebSocket and pushes the current snapshot plus
// every update until the client goes away.
func (a *API) events(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := a.lookup(w, r)
	if !ok {
		return
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	updates, cancel := ctrl.Subscribe()
	defer cancel()

	if err := conn.WriteJSON(ctrl.Snapshot()); err != nil {
		return
	}

	// Reader goroutine notices the client closing the socket.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case snap := <-updates:
			if err := conn.WriteJSON(snap); err != nil {
				return
			}
		case <-clientGone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (a *API) lookup(w http.ResponseWriter, r *http.Request) (Controller, bool) {
	ctrl, ok := a.devices[chi.URLParam(r, "address")]
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "Device not found")
	}
	return ctrl, ok
}

func writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrDeviceOn):
		writeError(w, http.StatusConflict, "device_on", err.Error())
	case errors.Is(err, session.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, "shutting_down", err.Error())
	default:
		writeError(w, http.StatusBadGateway, "command_failed", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}

// RunServer serves the API until ctx is cancelled, then shuts down
// gracefully.
func RunServer(ctx context.Context, server *http.Server, log zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server failed")
			return err
		}
		return nil
	}
}
