package http

import (
	gohttp "net/http"

	"github.com/dockhardman/mqflow/pkg/broker"
)

// statusOf maps a failed operation to a status code. A full broker is a
// condition the client can retry.
func statusOf(err error) int {
	switch {
	case broker.IsFull(err):
		return gohttp.StatusServiceUnavailable
	case broker.IsTimeout(err):
		return gohttp.StatusGatewayTimeout
	default:
		return gohttp.StatusInternalServerError
	}
}
