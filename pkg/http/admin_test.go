package http_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dockhardman/mqflow/pkg/broker"
	"github.com/dockhardman/mqflow/pkg/broker/memory"
	"github.com/dockhardman/mqflow/pkg/endpoint"
	"github.com/dockhardman/mqflow/pkg/http"
	"github.com/dockhardman/mqflow/pkg/metrics"
)

func TestHTTP(t *testing.T) {
	t.Parallel()

	t.Run("No Error", func(t *testing.T) {
		t.Parallel()
		f := func(_ context.Context, request interface{}) (response interface{}, err error) {
			return nil, nil
		}
		handler := http.NewAdminHTTPHandler(http.Endpoints{Stats: f}, nil)
		req := httptest.NewRequest("GET", "http://something.com/stats", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, 200, rec.Code, "Should have 200 status code.")
	})

	t.Run("Error", func(t *testing.T) {
		t.Parallel()
		f := func(_ context.Context, request interface{}) (response interface{}, err error) {
			return nil, errors.New("error")
		}
		handler := http.NewAdminHTTPHandler(http.Endpoints{Stats: f}, nil)
		req := httptest.NewRequest("GET", "http://something.com/stats", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, "error", rec.Body.String(), "Error value should be in response.")
		assert.Equal(t, 500, rec.Code, "Should have 500 status code.")
	})

	t.Run("Wrong Method", func(t *testing.T) {
		t.Parallel()
		f := func(_ context.Context, request interface{}) (response interface{}, err error) {
			return nil, nil
		}
		handler := http.NewAdminHTTPHandler(http.Endpoints{Stats: f}, nil)
		req := httptest.NewRequest("POST", "http://something.com/stats", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, 405, rec.Code, "Should have 405 status code.")
	})
}

func newHandler(t *testing.T, b broker.Broker[string]) func(method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	ib := metrics.Instrument(b, m)
	handler := http.NewAdminHTTPHandler(http.Endpoints{
		Stats:     endpoint.MakeStatsEndpoint(ib),
		Put:       endpoint.MakePutEndpoint[string](ib),
		DecodePut: http.MakePutRequestDecoder[string](),
		Gatherer:  reg,
	}, nil)
	return func(method, target, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, "http://something.com"+target, strings.NewReader(body))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}
}

func TestAdmin(t *testing.T) {
	t.Parallel()

	b := memory.NewQueue[string](broker.Options{Name: "jobs", MaxSize: 1})
	do := newHandler(t, b)

	rec := do("POST", "/items", `{"item": "a"}`)
	require.Equal(t, 200, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"accepted":true}`, rec.Body.String())

	rec = do("POST", "/items", `{"item": "b"}`)
	assert.Equal(t, 503, rec.Code, "A full broker should be reported as unavailable.")
	assert.Contains(t, rec.Body.String(), "broker is full")

	rec = do("GET", "/stats", "")
	require.Equal(t, 200, rec.Code)
	assert.JSONEq(t, `{"name":"jobs","maxsize":1,"len":1,"full":true}`, rec.Body.String())

	rec = do("GET", "/metrics", "")
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `mqflow_broker_operations_total{broker="jobs",operation="put",result="full"} 1`)
	assert.Contains(t, rec.Body.String(), `mqflow_broker_size{broker="jobs"} 1`)
}

func TestPutUnknownField(t *testing.T) {
	t.Parallel()

	b := memory.NewQueue[string](broker.Options{})
	do := newHandler(t, b)

	rec := do("POST", "/items", `{"value": "a"}`)
	assert.Equal(t, 500, rec.Code, "Unknown fields should be rejected.")
	n, err := b.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
