package http_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medsconnect/internal/auth"
	"medsconnect/internal/caregiver"
	"medsconnect/internal/config"
	"medsconnect/internal/db/dbtest"
	"medsconnect/internal/doselog"
	apihttp "medsconnect/internal/http"
	"medsconnect/internal/medication"
)

var fixedNow = time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

type client struct {
	t     *testing.T
	h     http.Handler
	token string
}

func newServer(t *testing.T) http.Handler {
	t.Helper()
	gdb := dbtest.Open(t)
	return apihttp.NewRouter(apihttp.Deps{
		Config: config.Config{Location: time.UTC},
		Auth: &auth.Service{
			DB:       gdb,
			JWT:      auth.NewJWT("0123456789abcdef", time.Hour),
			Sessions: auth.NewMemorySessionStore(),
			Clock:    clock,
		},
		Registry:   &medication.Registry{DB: gdb, Clock: clock},
		Engine:     &doselog.Engine{DB: gdb, Clock: clock},
		Caregivers: &caregiver.Service{DB: gdb, Clock: clock},
		Now:        clock,
	})
}

func (c *client) do(method, path string, body any) (int, map[string]any) {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	rec := httptest.NewRecorder()
	c.h.ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(c.t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec.Code, out
}

func register(t *testing.T, h http.Handler, name string) (*client, uint64) {
	t.Helper()
	c := &client{t: t, h: h}
	code, body := c.do(http.MethodPost, "/auth/register", map[string]any{
		"username": name,
		"email":    name + "@example.com",
		"password": "secret1",
	})
	require.Equal(t, http.StatusCreated, code, body)
	c.token = body["token"].(string)
	user := body["user"].(map[string]any)
	return c, uint64(user["id"].(float64))
}

func items(t *testing.T, body map[string]any) []map[string]any {
	t.Helper()
	raw, ok := body["items"].([]any)
	require.True(t, ok, body)
	out := make([]map[string]any, 0, len(raw))
	for _, it := range raw {
		out = append(out, it.(map[string]any))
	}
	return out
}

func id(v any) uint64 { return uint64(v.(float64)) }

func TestHealth(t *testing.T) {
	c := &client{t: t, h: newServer(t)}
	code, _ := c.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestRequiresToken(t *testing.T) {
	h := newServer(t)
	anon := &client{t: t, h: h}

	code, body := anon.do(http.MethodGet, "/medications", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "unauthorized", body["error"])

	anon.token = "garbage"
	code, _ = anon.do(http.MethodGet, "/me", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestAuthFlow(t *testing.T) {
	h := newServer(t)
	ana, anaID := register(t, h, "ana")

	code, body := ana.do(http.MethodGet, "/me", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ana", body["username"])
	assert.Equal(t, float64(anaID), body["id"])
	assert.NotContains(t, body, "password_hash")

	anon := &client{t: t, h: h}
	code, _ = anon.do(http.MethodPost, "/auth/register", map[string]any{
		"username": "ana2", "email": "ANA@example.com", "password": "secret1",
	})
	assert.Equal(t, http.StatusConflict, code)

	code, body = anon.do(http.MethodPost, "/auth/register", map[string]any{
		"username": "x", "email": "x@example.com", "password": "123",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "password must be at least 6 characters long", body["error"])

	code, _ = anon.do(http.MethodPost, "/auth/login", map[string]any{"identifier": "ana", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body = anon.do(http.MethodPost, "/auth/login", map[string]any{"email": "ana@example.com", "password": "secret1"})
	require.Equal(t, http.StatusOK, code)
	second := &client{t: t, h: h, token: body["token"].(string)}

	code, _ = ana.do(http.MethodPost, "/auth/logout", nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = ana.do(http.MethodGet, "/me", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	// other sessions survive
	code, _ = second.do(http.MethodGet, "/me", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestDailyDoseFlow(t *testing.T) {
	h := newServer(t)
	ana, _ := register(t, h, "ana")

	code, med := ana.do(http.MethodPost, "/medications", map[string]any{
		"name":            "Aspirin",
		"dosage":          "100",
		"scheduled_times": []string{"20:00", "08:00"},
	})
	require.Equal(t, http.StatusCreated, code, med)
	assert.Equal(t, []any{"08:00", "20:00"}, med["scheduled_times"])
	assert.Equal(t, "2026-10-19", med["start_date"])
	assert.Equal(t, "mg", med["unit"])
	assert.Equal(t, true, med["is_active"])
	medID := id(med["id"])

	code, body := ana.do(http.MethodPost, "/medications", map[string]any{"name": "X", "scheduled_times": []string{"8am"}})
	assert.Equal(t, http.StatusBadRequest, code, body)

	code, body = ana.do(http.MethodGet, "/medications/due", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, items(t, body), 1)

	code, body = ana.do(http.MethodPost, "/logs/generate", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(2), body["inserted"])

	code, body = ana.do(http.MethodPost, "/logs/generate", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(0), body["inserted"])

	code, body = ana.do(http.MethodGet, "/logs?date=2026-10-19", nil)
	require.Equal(t, http.StatusOK, code)
	logs := items(t, body)
	require.Len(t, logs, 2)
	assert.Equal(t, "Pending", logs[0]["status"])

	code, body = ana.do(http.MethodPost, fmt.Sprintf("/logs/%d/taken", id(logs[0]["id"])), map[string]any{"notes": "with breakfast"})
	require.Equal(t, http.StatusOK, code, body)
	marked := body["log"].(map[string]any)
	assert.Equal(t, "Taken", marked["status"])
	assert.Equal(t, "with breakfast", marked["notes"])
	assert.NotEmpty(t, marked["taken_at"])

	code, body = ana.do(http.MethodGet, "/logs/adherence?days=7", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{"2026-10-19": float64(50)}, body["adherence"])

	code, body = ana.do(http.MethodGet, "/logs/adherence?days=0", nil)
	assert.Equal(t, http.StatusBadRequest, code, body)

	code, body = ana.do(http.MethodGet, "/logs/summary", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(2), body["total"])
	assert.Equal(t, float64(1), body["taken"])
	assert.Equal(t, float64(1), body["pending"])
	assert.Equal(t, float64(50), body["adherence_percent"])

	code, body = ana.do(http.MethodGet, fmt.Sprintf("/medications/%d/logs", medID), nil)
	require.Equal(t, http.StatusOK, code)
	hist := items(t, body)
	require.Len(t, hist, 2)
	assert.Equal(t, "Pending", hist[0]["status"], "newest first")

	code, _ = ana.do(http.MethodPut, fmt.Sprintf("/medications/%d", medID), map[string]any{
		"name":            "Aspirin",
		"scheduled_times": []string{"08:00"},
		"end_date":        "2026-10-01",
		"start_date":      "2026-10-10",
	})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = ana.do(http.MethodDelete, fmt.Sprintf("/medications/%d", medID), nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = ana.do(http.MethodGet, fmt.Sprintf("/medications/%d", medID), nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, body = ana.do(http.MethodGet, "/logs", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, items(t, body))
}

func TestCaregiverFlow(t *testing.T) {
	h := newServer(t)
	ana, anaID := register(t, h, "ana")
	bob, bobID := register(t, h, "bob")
	eve, _ := register(t, h, "eve")

	code, med := ana.do(http.MethodPost, "/medications", map[string]any{"name": "Warfarin", "scheduled_times": []string{"08:00", "20:00"}})
	require.Equal(t, http.StatusCreated, code)
	code, _ = ana.do(http.MethodPost, "/logs/generate", nil)
	require.Equal(t, http.StatusOK, code)

	patientLogs := fmt.Sprintf("/patients/%d/logs", anaID)
	code, _ = bob.do(http.MethodGet, patientLogs, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, body := ana.do(http.MethodPost, "/caregivers/requests", map[string]any{"caregiver_email": "ana@example.com"})
	assert.Equal(t, http.StatusBadRequest, code, body)

	code, body = ana.do(http.MethodPost, "/caregivers/requests", map[string]any{
		"caregiver_email": "bob@example.com",
		"relationship":    "son",
	})
	require.Equal(t, http.StatusCreated, code, body)
	relID := id(body["relationship"].(map[string]any)["id"])

	code, _ = ana.do(http.MethodPost, "/caregivers/requests", map[string]any{"caregiver_email": "bob@example.com"})
	assert.Equal(t, http.StatusConflict, code)

	code, body = bob.do(http.MethodGet, "/caregivers/pending", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, items(t, body), 1)

	code, _ = bob.do(http.MethodGet, patientLogs, nil)
	assert.Equal(t, http.StatusForbidden, code, "pending request grants nothing")

	code, _ = eve.do(http.MethodPost, fmt.Sprintf("/caregivers/%d/approve", relID), nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = ana.do(http.MethodPost, fmt.Sprintf("/caregivers/%d/approve", relID), nil)
	assert.Equal(t, http.StatusForbidden, code, "the requesting patient cannot approve")

	code, body = bob.do(http.MethodPost, fmt.Sprintf("/caregivers/%d/approve", relID), nil)
	require.Equal(t, http.StatusOK, code, body)

	code, body = ana.do(http.MethodGet, "/caregivers", nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, items(t, body), 1)

	code, body = bob.do(http.MethodGet, "/caregivers/patients", nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, items(t, body), 1)

	code, body = bob.do(http.MethodGet, patientLogs, nil)
	require.Equal(t, http.StatusOK, code)
	logs := items(t, body)
	require.Len(t, logs, 2)

	code, body = bob.do(http.MethodPost, fmt.Sprintf("/patients/%d/logs/%d/missed", anaID, id(logs[1]["id"])), nil)
	require.Equal(t, http.StatusOK, code, body)
	marked := body["log"].(map[string]any)
	assert.Equal(t, "Missed", marked["status"])
	assert.Equal(t, float64(bobID), marked["marked_by_user_id"])

	code, body = bob.do(http.MethodGet, fmt.Sprintf("/patients/%d/adherence?days=1", anaID), nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{"2026-10-19": float64(0)}, body["adherence"])

	// caregivers never reach the patient's own routes
	code, _ = bob.do(http.MethodGet, fmt.Sprintf("/medications/%d", id(med["id"])), nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = bob.do(http.MethodPost, fmt.Sprintf("/logs/%d/taken", id(logs[0]["id"])), nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = ana.do(http.MethodPut, fmt.Sprintf("/caregivers/%d/permissions", relID), map[string]any{
		"can_view_medications": true,
		"can_view_logs":        false,
		"can_receive_alerts":   true,
	})
	require.Equal(t, http.StatusOK, code)

	code, _ = bob.do(http.MethodGet, patientLogs, nil)
	assert.Equal(t, http.StatusForbidden, code)
	code, body = bob.do(http.MethodGet, fmt.Sprintf("/patients/%d/medications", anaID), nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, items(t, body), 1)

	// the caregiver cannot grant itself access back
	code, _ = bob.do(http.MethodPut, fmt.Sprintf("/caregivers/%d/permissions", relID), map[string]any{
		"can_view_medications": true,
		"can_view_logs":        true,
		"can_receive_alerts":   true,
	})
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = bob.do(http.MethodGet, patientLogs, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = ana.do(http.MethodDelete, fmt.Sprintf("/caregivers/%d", relID), nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = bob.do(http.MethodGet, fmt.Sprintf("/patients/%d/medications", anaID), nil)
	assert.Equal(t, http.StatusForbidden, code)
}

func TestDeleteAccountBlockedByHistory(t *testing.T) {
	h := newServer(t)
	ana, _ := register(t, h, "ana")
	solo, _ := register(t, h, "solo")

	code, _ := ana.do(http.MethodPost, "/medications", map[string]any{"name": "Zinc", "scheduled_times": []string{"08:00"}})
	require.Equal(t, http.StatusCreated, code)
	code, _ = ana.do(http.MethodPost, "/logs/generate", nil)
	require.Equal(t, http.StatusOK, code)

	code, _ = ana.do(http.MethodDelete, "/me", nil)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = solo.do(http.MethodDelete, "/me", nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = solo.do(http.MethodGet, "/me", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}
