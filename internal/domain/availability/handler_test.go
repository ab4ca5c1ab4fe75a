package availability

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/wellnest/wellnest/internal/platform/cache"
)

type slotPage struct {
	Data    []Slot `json:"data"`
	Total   int    `json:"total"`
	Limit   int    `json:"limit"`
	Offset  int    `json:"offset"`
	HasMore bool   `json:"has_more"`
}

func newTestHandler() (*Handler, *fakeStore, uuid.UUID, uuid.UUID) {
	st, svcID, practID := newFixture()
	st.schedules[practID] = []Schedule{
		weeklySchedule(practID, "Regular Hours", "America/New_York", []int{0}, NewTimeOfDay(9, 0), NewTimeOfDay(17, 0)),
	}
	svc := st.newService(sundayNoon, WithCache(cache.NewMemoryStore(), time.Minute))
	return NewHandler(svc, zerolog.Nop()), st, svcID, practID
}

func httpStatus(t *testing.T, err error) int {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected echo.HTTPError, got %v", err)
	}
	return he.Code
}

func TestHandler_GetAvailability(t *testing.T) {
	h, _, svcID, _ := newTestHandler()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?start_date=2024-07-01&end_date=2024-07-01", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(svcID.String())

	if err := h.GetAvailability(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var page slotPage
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if page.Total != 8 || len(page.Data) != 8 {
		t.Errorf("expected 8 slots, got total=%d len=%d", page.Total, len(page.Data))
	}
	if page.HasMore {
		t.Error("expected has_more=false")
	}
}

func TestHandler_GetAvailability_Paged(t *testing.T) {
	h, _, svcID, _ := newTestHandler()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?start_date=2024-07-01&end_date=2024-07-01&limit=3&offset=6", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(svcID.String())

	if err := h.GetAvailability(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var page slotPage
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if page.Total != 8 || len(page.Data) != 2 {
		t.Errorf("expected last page of 2, got total=%d len=%d", page.Total, len(page.Data))
	}
}

func TestHandler_GetAvailability_EmptyIsArray(t *testing.T) {
	h, _, svcID, _ := newTestHandler()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?start_date=2024-07-02&end_date=2024-07-02", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(svcID.String())

	if err := h.GetAvailability(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(raw["data"]) != "[]" {
		t.Errorf("expected empty array, got %s", raw["data"])
	}
}

func TestHandler_GetAvailability_BadParams(t *testing.T) {
	h, _, svcID, _ := newTestHandler()
	e := echo.New()
	tests := []struct {
		name, id, query string
	}{
		{"invalid id", "not-a-uuid", ""},
		{"invalid start", svcID.String(), "?start_date=07/01/2024"},
		{"invalid end", svcID.String(), "?end_date=2024-13-01"},
		{"invalid days_ahead", svcID.String(), "?days_ahead=-2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/"+tt.query, nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)
			c.SetParamNames("id")
			c.SetParamValues(tt.id)

			if code := httpStatus(t, h.GetAvailability(c)); code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", code)
			}
		})
	}
}

func TestHandler_GetAvailability_NotFound(t *testing.T) {
	h, st, _, _ := newTestHandler()
	orphan := uuid.New()
	st.services[orphan] = &ServiceInfo{ID: orphan, DurationMinutes: 60}
	e := echo.New()

	for _, id := range []uuid.UUID{uuid.New(), orphan} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("id")
		c.SetParamValues(id.String())

		if code := httpStatus(t, h.GetAvailability(c)); code != http.StatusNotFound {
			t.Errorf("expected 404 for %s, got %d", id, code)
		}
	}
}

func TestHandler_GetAvailability_StorageError(t *testing.T) {
	h, st, svcID, _ := newTestHandler()
	st.bookingErr = errors.New("connection refused")
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(svcID.String())

	if code := httpStatus(t, h.GetAvailability(c)); code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", code)
	}
}

func TestHandler_Invalidate(t *testing.T) {
	h, _, svcID, practID := newTestHandler()
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/?start_date=2024-07-01&end_date=2024-07-01", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(svcID.String())
	if err := h.GetAvailability(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(practID.String())
	if err := h.Invalidate(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}

func TestHandler_Invalidate_InvalidID(t *testing.T) {
	h, _, _, _ := newTestHandler()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("nope")

	if code := httpStatus(t, h.Invalidate(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}
