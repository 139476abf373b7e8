// Package http exposes the admin endpoints of a broker over HTTP.
package http

import (
	"context"
	"fmt"
	"io"
	gohttp "net/http"

	"github.com/bytedance/sonic"
	"github.com/go-kit/kit/endpoint"
	"github.com/go-kit/kit/transport/http"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	mqendpoint "github.com/dockhardman/mqflow/pkg/endpoint"
)

// Endpoints groups the endpoints served by the admin handler. Nil endpoints
// are not routed.
type Endpoints struct {
	Stats endpoint.Endpoint
	Put   endpoint.Endpoint
	// DecodePut decodes the body of a put request into the request type
	// expected by Put.
	DecodePut http.DecodeRequestFunc
	// Gatherer serves /metrics when set.
	Gatherer prometheus.Gatherer
}

// strict rejects unknown fields in request bodies.
var strict = sonic.Config{DisallowUnknownFields: true}.Froze()

// NewAdminHTTPHandler returns a handler that makes the admin endpoints
// available via HTTP. Options are looked up by route name: Stats or Put.
func NewAdminHTTPHandler(e Endpoints, options map[string][]http.ServerOption) gohttp.Handler {
	if options == nil {
		options = make(map[string][]http.ServerOption)
	}
	m := gohttp.NewServeMux()
	if e.Stats != nil {
		handle(m, "/stats", gohttp.MethodGet, http.NewServer(e.Stats,
			decodeStatsRequest,
			encodeResponse,
			options["Stats"]...))
	}
	if e.Put != nil && e.DecodePut != nil {
		handle(m, "/items", gohttp.MethodPost, http.NewServer(e.Put,
			e.DecodePut,
			encodeResponse,
			options["Put"]...))
	}
	if e.Gatherer != nil {
		handle(m, "/metrics", gohttp.MethodGet, promhttp.HandlerFor(e.Gatherer, promhttp.HandlerOpts{}))
	}
	return m
}

type errorResponse struct {
	Error string `json:"error"`
}

func encodeResponse(_ context.Context, w gohttp.ResponseWriter, r interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if v, ok := r.(endpoint.Failer); ok && v.Failed() != nil {
		w.WriteHeader(statusOf(v.Failed()))
		_ = sonic.ConfigStd.NewEncoder(w).Encode(errorResponse{Error: v.Failed().Error()})
		return nil
	}
	err := sonic.ConfigStd.NewEncoder(w).Encode(r)
	return errors.WithStack(err)
}

func decodeStatsRequest(context.Context, *gohttp.Request) (interface{}, error) {
	return nil, nil
}

// MakePutRequestDecoder returns a decoder for bodies of the form
// {"item": ...} holding an item of type T.
func MakePutRequestDecoder[T any]() http.DecodeRequestFunc {
	return func(_ context.Context, req *gohttp.Request) (i interface{}, e error) {
		defer func() {
			err := req.Body.Close()
			if e != nil && err != nil {
				e = errors.Wrapf(e, "multiple errors: %s", err)
				return
			}
			if err != nil {
				e = err
			}
		}()
		var pr mqendpoint.PutRequest[T]
		err := strict.NewDecoder(req.Body).Decode(&pr)
		if err == io.EOF {
			return nil, errors.New("missing item")
		}
		return pr, errors.WithStack(err)
	}
}

func handle(m *gohttp.ServeMux, pattern, method string, h gohttp.Handler) {
	hf := func(w gohttp.ResponseWriter, r *gohttp.Request) {
		if r.Method != method {
			w.WriteHeader(gohttp.StatusMethodNotAllowed)
			_, _ = fmt.Fprintf(w, "Invalid request method %s", r.Method)
			return
		}
		h.ServeHTTP(w, r)
	}
	m.Handle(pattern, gohttp.HandlerFunc(hf))
}
