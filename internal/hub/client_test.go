package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDevices_decodesDirectory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/manager/devices/device" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Fatalf("expected bearer token, got %q", got)
		}
		_, _ = w.Write([]byte(`{
			"abc": {
				"name": "Hall sensor",
				"class": "sensor",
				"zone": "z1",
				"driverId": "vendor-zigbee-sensor",
				"capabilities": ["measure_temperature"],
				"capabilitiesObj": {
					"measure_temperature": {"value": 21.5, "lastUpdated": "2026-03-14T11:50:00Z"}
				},
				"settings": {"zb_endpoint": 1}
			}
		}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, Token: "secret"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	devices, err := c.Devices(context.Background())
	if err != nil {
		t.Fatalf("Devices: %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("expected 1 device, got %d", len(devices))
	}

	d := devices[0]
	if d.ID != "abc" {
		t.Fatalf("expected map key to backfill the id, got %q", d.ID)
	}
	if d.Name != "Hall sensor" || d.Class != "sensor" || d.ZoneID != "z1" {
		t.Fatalf("unexpected device %+v", d)
	}
	obs, ok := d.Observation("measure_temperature")
	if !ok || obs.LastUpdated != "2026-03-14T11:50:00Z" {
		t.Fatalf("unexpected observation %+v ok=%v", obs, ok)
	}
}

func TestSetCapabilityValue_putsValue(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.Method != http.MethodPut {
			t.Fatalf("expected PUT, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := c.SetCapabilityValue(context.Background(), "abc", "onoff", true); err != nil {
		t.Fatalf("SetCapabilityValue: %v", err)
	}
	if gotPath != "/api/manager/devices/device/abc/capability/onoff" {
		t.Fatalf("unexpected path %s", gotPath)
	}
	if gotBody["value"] != true {
		t.Fatalf("expected value=true, got %v", gotBody)
	}
}

func TestDo_non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := c.Devices(context.Background()); err == nil {
		t.Fatalf("expected error for 403 response")
	}
}

func TestNewClient_requiresBaseURL(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("expected error for missing base url")
	}
}
