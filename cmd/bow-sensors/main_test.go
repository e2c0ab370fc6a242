package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ihavn1/boat-bowsensors/internal/config"
	"github.com/ihavn1/boat-bowsensors/internal/node"
	"github.com/ihavn1/boat-bowsensors/internal/signalk"
	"github.com/ihavn1/boat-bowsensors/internal/ws"
)

type noCommands struct{}

func (noCommands) HandlePut(req signalk.PutRequest) signalk.PutResponse {
	return signalk.PutResponse{RequestID: req.RequestID, State: signalk.StateCompleted, StatusCode: http.StatusOK}
}

func TestRoutes(t *testing.T) {
	h := routes(ws.NewHub(), ws.Info{Name: "bow-sensors", Version: "test"}, noCommands{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/signalk", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), ws.StreamPath)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPrintState(t *testing.T) {
	cfg := config.Default()
	cfg.Batteries = append(cfg.Batteries, config.DefaultBattery("start"))
	cfg.Batteries[1].CapacityAh = 0

	var buf bytes.Buffer
	require.NoError(t, printState(&buf, cfg, []node.BatteryState{
		{ID: "house", Ah: 63.5, Stored: true},
		{ID: "start", Ah: 12, Stored: true},
	}))

	out := buf.String()
	assert.Contains(t, out, "BATTERY")
	assert.Contains(t, out, "63.50")
	assert.Contains(t, out, "64%")
	assert.Contains(t, out, "12.00")
}

func TestPrintState_NotStored(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printState(&buf, config.Default(), []node.BatteryState{{ID: "house"}}))
	assert.Contains(t, buf.String(), "house")
	assert.NotContains(t, buf.String(), "%")
}

func TestInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bow-sensors.yaml")

	require.NoError(t, initConfig(path, false))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "bow-sensors", cfg.Hostname)

	assert.Error(t, initConfig(path, false))

	require.NoError(t, os.WriteFile(path, []byte("hostname: other\n"), 0644))
	require.NoError(t, initConfig(path, true))
	cfg, err = config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "bow-sensors", cfg.Hostname)
}
