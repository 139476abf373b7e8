// Package endpoint exposes broker operations as Go kit endpoints.
package endpoint

import (
	"context"
	"time"

	"github.com/go-kit/kit/endpoint"

	"github.com/dockhardman/mqflow/pkg/broker"
)

// StatsSource is the part of a broker reported by the stats endpoint.
type StatsSource interface {
	Name() string
	MaxSize() int
	Len(ctx context.Context) (int, error)
}

// StatsResponse describes the current state of a broker.
type StatsResponse struct {
	Name    string `json:"name"`
	MaxSize int    `json:"maxsize"`
	Len     int    `json:"len"`
	Full    bool   `json:"full"`
	e       error
}

// Failed indicates if the broker could not be inspected.
func (s StatsResponse) Failed() error {
	return s.e
}

// MakeStatsEndpoint creates an endpoint reporting the state of s.
func MakeStatsEndpoint(s StatsSource) endpoint.Endpoint {
	return func(ctx context.Context, _ interface{}) (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		n, err := s.Len(ctx)
		size := s.MaxSize()
		return StatsResponse{
			Name:    s.Name(),
			MaxSize: size,
			Len:     n,
			Full:    broker.IsFullAt(n, size),
			e:       err,
		}, nil
	}
}
