package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redleafbio/hemescreen/pkg/dispatch"
)

type staticProgress struct{ p dispatch.Progress }

func (s staticProgress) Progress() dispatch.Progress { return s.p }

func TestHealthz(t *testing.T) {
	srv := New(Options{Addr: "127.0.0.1:0"}, staticProgress{}, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestProgressEndpoint(t *testing.T) {
	src := staticProgress{p: dispatch.Progress{
		Phase:      "docking",
		Total:      10,
		Dispatched: 6,
		Succeeded:  4,
		Failed:     1,
		Cached:     2,
	}}
	srv := New(Options{Addr: "127.0.0.1:0"}, src, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/progress", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got dispatch.Progress
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, src.p, got)
}

func TestUnknownRoute(t *testing.T) {
	srv := New(Options{Addr: "127.0.0.1:0"}, staticProgress{}, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
