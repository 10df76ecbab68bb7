package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/gridwatch/pjm-sync/internal/pjm"
	"github.com/gridwatch/pjm-sync/internal/store"
)

func newTestApp(t *testing.T) (*fiber.App, *store.MemoryStore) {
	t.Helper()
	app := fiber.New()
	st := store.NewMemoryStore()
	RegisterRoutes(app, st)
	return app, st
}

func TestHourlyRangeValidation(t *testing.T) {
	app, _ := newTestApp(t)

	// Missing from/to should return 400.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/lmp/hourly", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.StatusCode)
	}

	// From after to should also return 400.
	req = httptest.NewRequest(http.MethodGet,
		"/api/v1/lmp/hourly?from=2024-01-08T00:00:00Z&to=2024-01-05T00:00:00Z", nil)
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.StatusCode)
	}
}

func TestHourlyRangeReturnsRowsWithStatuses(t *testing.T) {
	app, st := newTestApp(t)
	ctx := context.Background()
	bucket := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)

	if err := st.UpsertHourly(ctx, []pjm.HourlyRecord{{Bucket: bucket, PnodeID: 51217, TotalLMP: 42}}); err != nil {
		t.Fatal(err)
	}
	if err := st.SetStatus(ctx, []time.Time{bucket}, pjm.StatusVerified); err != nil {
		t.Fatal(err)
	}

	url := fmt.Sprintf("/api/v1/lmp/hourly?from=%s&to=%s&pnode_id=51217",
		bucket.Format(time.RFC3339), bucket.Add(time.Hour).Format(time.RFC3339))
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, url, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		Rows     []pjm.HourlyRecord `json:"rows"`
		Statuses []pjm.BucketState  `json:"statuses"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Rows) != 1 || body.Rows[0].TotalLMP != 42 {
		t.Fatalf("rows = %+v", body.Rows)
	}
	if len(body.Statuses) != 1 || body.Statuses[0].Status != pjm.StatusVerified {
		t.Fatalf("statuses = %+v", body.Statuses)
	}
}

func TestStatusEndpoint(t *testing.T) {
	app, st := newTestApp(t)
	ctx := context.Background()
	day := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)

	if err := st.SeedStatus(ctx, pjm.DayBuckets(day), pjm.StatusMissing); err != nil {
		t.Fatal(err)
	}
	if err := st.SetStatus(ctx, []time.Time{day.Add(10 * time.Hour)}, pjm.StatusUnverified); err != nil {
		t.Fatal(err)
	}

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/lmp/status?date=2024-01-05", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		Statuses []pjm.BucketState `json:"statuses"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Statuses) != 24 {
		t.Fatalf("expected 24 statuses, got %d", len(body.Statuses))
	}
	if body.Statuses[10].Status != pjm.StatusUnverified {
		t.Errorf("hour 10 status = %s", body.Statuses[10].Status)
	}

	// Bad date format.
	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/lmp/status?date=Jan-5", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad date, got %d", resp.StatusCode)
	}
}

func TestConstraintsEndpoint(t *testing.T) {
	app, st := newTestApp(t)
	ctx := context.Background()
	bucket := time.Date(2024, 1, 5, 15, 0, 0, 0, time.UTC)

	if _, err := st.InsertConstraints(ctx, []pjm.ConstraintRecord{
		{Bucket: bucket, MonitoredFacility: "LINE A", ContingencyFacility: "LINE B", ShadowPrice: 75},
	}); err != nil {
		t.Fatal(err)
	}

	url := fmt.Sprintf("/api/v1/constraints?from=%s&to=%s",
		bucket.Add(-time.Hour).Format(time.RFC3339), bucket.Add(time.Hour).Format(time.RFC3339))
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, url, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		Events []pjm.ConstraintRecord `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Events) != 1 || body.Events[0].ShadowPrice != 75 {
		t.Fatalf("events = %+v", body.Events)
	}
}
