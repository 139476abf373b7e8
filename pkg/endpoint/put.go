package endpoint

import (
	"context"

	"github.com/go-kit/kit/endpoint"

	"github.com/dockhardman/mqflow/pkg/broker"
)

// PutRequest contains an item to put into a broker.
type PutRequest[T any] struct {
	Item T `json:"item"`
}

// PutResponse reports the outcome of a put.
type PutResponse struct {
	Accepted bool `json:"accepted"`
	e        error
}

// Failed indicates if the item was rejected.
func (p PutResponse) Failed() error {
	return p.e
}

// MakePutEndpoint creates an endpoint putting items into b without waiting,
// so a full broker is reported to the caller instead of holding the request.
func MakePutEndpoint[T any](b broker.Broker[T]) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(PutRequest[T])
		err := b.PutNoWait(ctx, req.Item)
		return PutResponse{Accepted: err == nil, e: err}, nil
	}
}
