package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/streamforge/media_orchestrator/internal/job"
	"github.com/streamforge/media_orchestrator/internal/storage"
)

// mockScheduleStore implements storage.ScheduleStore for handler tests.
type mockScheduleStore struct {
	storage.ScheduleStore

	created   []storage.RelaySchedule
	createErr error
	listed    []storage.RelaySchedule
	deleted   []int64
	deleteErr error
}

func (m *mockScheduleStore) CreateSchedule(s storage.RelaySchedule) (int64, error) {
	if m.createErr != nil {
		return 0, m.createErr
	}

	m.created = append(m.created, s)

	return int64(len(m.created)), nil
}

func (m *mockScheduleStore) ListSchedules(int64) ([]storage.RelaySchedule, error) {
	return m.listed, nil
}

func (m *mockScheduleStore) DeleteSchedule(id, _ int64) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}

	m.deleted = append(m.deleted, id)

	return nil
}

func newTestServer(store *mockScheduleStore) http.Handler {
	return NewHandler(nil, nil, store).Routes()
}

func doRequest(t *testing.T, h http.Handler, method, path, owner, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, path, reader)
	if owner != "" {
		req.Header.Set(ownerHeader, owner)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	return rec
}

func TestRequireOwner(t *testing.T) {
	h := newTestServer(&mockScheduleStore{})

	tests := []struct {
		name  string
		owner string
		want  int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"non-numeric", "bob", http.StatusUnauthorized},
		{"zero", "0", http.StatusUnauthorized},
		{"negative", "-3", http.StatusUnauthorized},
		{"valid", "7", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, h, http.MethodGet, "/api/relay/schedules/", tt.owner, "")
			require.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestCreateSchedule(t *testing.T) {
	store := &mockScheduleStore{}
	h := newTestServer(store)

	body := `{"source_url":"rtmp://origin/live/feed","frequency":3,"time":"09:00","weekdays":[1,3,5]}`
	rec := doRequest(t, h, http.MethodPost, "/api/relay/schedules/", "7", body)

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Success    bool  `json:"success"`
		ScheduleID int64 `json:"schedule_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.Equal(t, int64(1), resp.ScheduleID)

	require.Len(t, store.created, 1)
	created := store.created[0]
	require.Equal(t, int64(7), created.OwnerID)
	require.Equal(t, storage.ScheduleStatusScheduled, created.Status)
	require.Equal(t, 9, created.Hour)
	require.Equal(t, 0, created.Minute)
	require.Equal(t, []int{1, 3, 5}, created.Weekdays)
}

func TestCreateSchedule_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad url", `{"source_url":"https://example.com/page","frequency":2,"time":"09:00"}`},
		{"bad frequency", `{"source_url":"rtmp://a/f","frequency":5,"time":"09:00"}`},
		{"one-time without date", `{"source_url":"rtmp://a/f","frequency":1,"time":"09:00"}`},
		{"weekly without days", `{"source_url":"rtmp://a/f","frequency":3,"time":"09:00"}`},
		{"weekday out of range", `{"source_url":"rtmp://a/f","frequency":3,"time":"09:00","weekdays":[0]}`},
		{"malformed time", `{"source_url":"rtmp://a/f","frequency":2,"time":"9am"}`},
		{"hour out of range", `{"source_url":"rtmp://a/f","frequency":2,"time":"25:00"}`},
		{"not json", `{{{`},
	}

	store := &mockScheduleStore{}
	h := newTestServer(store)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, h, http.MethodPost, "/api/relay/schedules/", "7", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}

	require.Empty(t, store.created)
}

func TestListSchedules(t *testing.T) {
	store := &mockScheduleStore{listed: []storage.RelaySchedule{
		{
			ID:        4,
			SourceURL: "rtmp://origin/live/feed",
			Frequency: storage.FrequencyWeekly,
			Hour:      9,
			Weekdays:  []int{1, 3},
			Status:    storage.ScheduleStatusScheduled,
		},
	}}

	rec := doRequest(t, newTestServer(store), http.MethodGet, "/api/relay/schedules/", "7", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var items []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 1)
	require.Equal(t, float64(4), items[0]["id"])
	require.Equal(t, "scheduled", items[0]["status"])
}

func TestDeleteSchedule(t *testing.T) {
	store := &mockScheduleStore{}
	h := newTestServer(store)

	rec := doRequest(t, h, http.MethodDelete, "/api/relay/schedules/4", "7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []int64{4}, store.deleted)

	rec = doRequest(t, h, http.MethodDelete, "/api/relay/schedules/abc", "7", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteSchedule_NotFound(t *testing.T) {
	store := &mockScheduleStore{deleteErr: &job.NotFoundError{Resource: "schedule", ID: "4"}}

	rec := doRequest(t, newTestServer(store), http.MethodDelete, "/api/relay/schedules/4", "7", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestValidateRelayURL(t *testing.T) {
	h := newTestServer(&mockScheduleStore{})

	rec := doRequest(t, h, http.MethodPost, "/api/relay/validate-url", "7", `{"url":"rtmp://origin/live"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Valid bool `json:"valid"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Valid)

	rec = doRequest(t, h, http.MethodPost, "/api/relay/validate-url", "7", `{"url":"gopher://x"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.Valid)
}

func TestRelayEvents(t *testing.T) {
	store := &mockScheduleStore{listed: []storage.RelaySchedule{
		{ID: 1, Status: storage.ScheduleStatusError, SourceURL: "rtmp://a", ErrorDetails: "orchestrator restarted"},
		{ID: 2, Status: storage.ScheduleStatusActive, SourceURL: "rtmp://b"},
	}}

	rec := doRequest(t, newTestServer(store), http.MethodGet, "/api/relay/events", "7", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var items []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 2)
	require.Equal(t, "error", items[0]["level"])
	require.Equal(t, "orchestrator restarted", items[0]["details"])
	require.Equal(t, "info", items[1]["level"])
}

func TestWriteDomainError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"already active", &job.AlreadyActiveError{OwnerID: 7, Kind: job.KindDownload}, http.StatusConflict},
		{"validation", &job.ValidationError{Field: "url", Reason: "bad"}, http.StatusBadRequest},
		{"not found", &job.NotFoundError{Resource: "relay", ID: "x"}, http.StatusNotFound},
		{"quota", &job.QuotaError{AvailableMB: 10, Reason: "insufficient space"}, http.StatusUnprocessableEntity},
		{"unauthorized", &job.UnauthorizedError{Resource: "schedule"}, http.StatusForbidden},
		{"tool missing", &job.ToolUnavailableError{Tool: "yt-dlp"}, http.StatusServiceUnavailable},
		{"wrapped", &job.RemoteError{Host: "h", Operation: "op", Err: &job.ValidationError{Field: "f", Reason: "r"}}, http.StatusBadRequest},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeDomainError(rec, tt.err)
			require.Equal(t, tt.want, rec.Code)
		})
	}
}
