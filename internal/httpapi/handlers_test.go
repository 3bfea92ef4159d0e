package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/example/ride-dispatch/internal/fare"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/match"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/ride"
	"github.com/example/ride-dispatch/internal/storage"
)

func newTestServer() *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewMemoryStore()
	idx := geo.NewIndex()
	matcher := match.New(idx)
	hub := notify.NewHub(logger)
	fanout := notify.NewFanout(hub, nil, store, notify.NewMemoryDeduper(), logger)
	calc := &fare.Calculator{Base: 5.00, PerKm: 1.50, PerMinute: 0.20, MinimumFare: 10.00}
	svc := ride.NewService(store, store, store, idx, matcher, calc, fanout, logger)
	svc.Tokens = store
	return New(svc, matcher, hub, store, nil, logger)
}

func doJSON(t *testing.T, s *Server, method, path, userID, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
		req.Header.Set("X-User-Role", role)
	}
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

var rideBody = map[string]any{
	"pickup":      map[string]float64{"lat": 5.60, "lng": -0.18},
	"destination": map[string]float64{"lat": 5.65, "lng": -0.19},
}

func createRide(t *testing.T, s *Server) string {
	t.Helper()
	w := doJSON(t, s, http.MethodPost, "/api/v1/rides", "rider1", "rider", rideBody)
	if w.Code != http.StatusCreated {
		t.Fatalf("create ride: %d %s", w.Code, w.Body.String())
	}
	var resp rideResponse
	decodeBody(t, w, &resp)
	return resp.ID
}

func TestCreateRideRequiresIdentity(t *testing.T) {
	s := newTestServer()
	if w := doJSON(t, s, http.MethodPost, "/api/v1/rides", "", "", rideBody); w.Code != http.StatusUnauthorized {
		t.Fatalf("code = %d", w.Code)
	}
	// unknown role is as good as no identity
	if w := doJSON(t, s, http.MethodPost, "/api/v1/rides", "u1", "admin", rideBody); w.Code != http.StatusUnauthorized {
		t.Fatalf("code = %d", w.Code)
	}
}

func TestCreateRideValidatesBody(t *testing.T) {
	s := newTestServer()
	w := doJSON(t, s, http.MethodPost, "/api/v1/rides", "rider1", "rider",
		map[string]any{"pickup": map[string]float64{"lat": 5.6, "lng": -0.18}})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("code = %d body = %s", w.Code, w.Body.String())
	}
	var eb errorBody
	decodeBody(t, w, &eb)
	if eb.Code != "VALIDATION_ERROR" {
		t.Fatalf("error code = %s", eb.Code)
	}
}

func TestAcceptRaceLoserGetsConflict(t *testing.T) {
	s := newTestServer()
	id := createRide(t, s)

	if w := doJSON(t, s, http.MethodPost, "/api/v1/rides/"+id+"/accept", "drv1", "driver", nil); w.Code != http.StatusOK {
		t.Fatalf("winner: %d %s", w.Code, w.Body.String())
	}
	w := doJSON(t, s, http.MethodPost, "/api/v1/rides/"+id+"/accept", "drv2", "driver", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("loser: %d", w.Code)
	}
	var eb errorBody
	decodeBody(t, w, &eb)
	if eb.Code != "RIDE_TAKEN" {
		t.Fatalf("error code = %s", eb.Code)
	}
}

func TestAcceptCancelledRideIsUnavailable(t *testing.T) {
	s := newTestServer()
	id := createRide(t, s)
	if w := doJSON(t, s, http.MethodPost, "/api/v1/rides/"+id+"/cancel", "rider1", "rider", nil); w.Code != http.StatusOK {
		t.Fatalf("cancel: %d %s", w.Code, w.Body.String())
	}
	w := doJSON(t, s, http.MethodPost, "/api/v1/rides/"+id+"/accept", "drv1", "driver", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("code = %d", w.Code)
	}
	var eb errorBody
	decodeBody(t, w, &eb)
	if eb.Code != "RIDE_UNAVAILABLE" {
		t.Fatalf("error code = %s", eb.Code)
	}
}

func TestGetRideMappings(t *testing.T) {
	s := newTestServer()
	id := createRide(t, s)

	if w := doJSON(t, s, http.MethodGet, "/api/v1/rides/"+id, "rider1", "rider", nil); w.Code != http.StatusOK {
		t.Fatalf("owner read: %d", w.Code)
	}
	if w := doJSON(t, s, http.MethodGet, "/api/v1/rides/"+id, "rider2", "rider", nil); w.Code != http.StatusForbidden {
		t.Fatalf("stranger read: %d", w.Code)
	}
	if w := doJSON(t, s, http.MethodGet, "/api/v1/rides/nope", "rider1", "rider", nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing ride: %d", w.Code)
	}
}

func TestInvalidTransitionIsUnprocessable(t *testing.T) {
	s := newTestServer()
	id := createRide(t, s)
	if w := doJSON(t, s, http.MethodPost, "/api/v1/rides/"+id+"/accept", "drv1", "driver", nil); w.Code != http.StatusOK {
		t.Fatal(w.Code)
	}
	// skipping straight to ON_TRIP is off the edge table
	w := doJSON(t, s, http.MethodPost, "/api/v1/rides/"+id+"/status", "drv1", "driver",
		map[string]string{"status": "ON_TRIP"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("code = %d body = %s", w.Code, w.Body.String())
	}
}

func TestEstimateFare(t *testing.T) {
	s := newTestServer()
	w := doJSON(t, s, http.MethodPost, "/api/v1/rides/estimate", "", "", rideBody)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d body = %s", w.Code, w.Body.String())
	}
	var b fare.Breakdown
	decodeBody(t, w, &b)
	if b.Total < 10.00 {
		t.Fatalf("total = %v", b.Total)
	}
}

func TestNearbyDriversEndToEnd(t *testing.T) {
	s := newTestServer()
	w := doJSON(t, s, http.MethodPost, "/api/v1/drivers/availability", "drv1", "driver", map[string]any{
		"status":   "ONLINE",
		"location": map[string]float64{"lat": 5.61, "lng": -0.18},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("availability: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, s, http.MethodGet, "/api/v1/drivers/nearby?lat=5.60&lng=-0.18", "rider1", "rider", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("nearby: %d", w.Code)
	}
	var resp struct {
		Count int `json:"count"`
	}
	decodeBody(t, w, &resp)
	if resp.Count != 1 {
		t.Fatalf("count = %d", resp.Count)
	}

	if w := doJSON(t, s, http.MethodGet, "/api/v1/drivers/nearby", "rider1", "rider", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("missing coords: %d", w.Code)
	}
}

func TestGetOwnAvailability(t *testing.T) {
	s := newTestServer()
	if w := doJSON(t, s, http.MethodGet, "/api/v1/drivers/availability", "drv1", "driver", nil); w.Code != http.StatusNotFound {
		t.Fatalf("before first go-online: %d", w.Code)
	}
	if w := doJSON(t, s, http.MethodPost, "/api/v1/drivers/availability", "drv1", "driver",
		map[string]any{"status": "ONLINE"}); w.Code != http.StatusOK {
		t.Fatalf("go online: %d", w.Code)
	}
	w := doJSON(t, s, http.MethodGet, "/api/v1/drivers/availability", "drv1", "driver", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("after go-online: %d", w.Code)
	}
	var resp struct {
		Status      string  `json:"status"`
		MaxPickupKm float64 `json:"max_pickup_km"`
	}
	decodeBody(t, w, &resp)
	if resp.Status != "ONLINE" || resp.MaxPickupKm != 15 {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer()
	w := doJSON(t, s, http.MethodGet, "/healthz", "", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
}
