//go:build integration
// +build integration

package amqp_test

import (
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dockhardman/mqflow/pkg/broker"
	"github.com/dockhardman/mqflow/pkg/broker/amqp"
	"github.com/dockhardman/mqflow/pkg/broker/internal/brokertest"
)

func TestDialIntegration(t *testing.T) {
	t.Parallel()
	url := os.Getenv("AMQP_URL")
	if url == "" {
		t.Skip("Missing AMQP_URL")
	}
	brokertest.Run(t, func(t *testing.T, opts broker.Options) broker.Broker[int] {
		a, err := amqp.Dial[int](amqp.Config{
			Options: opts,
			URL:     url,
			Queue:   "mqflow-test-" + uuid.NewString(),
		})
		require.NoError(t, err, "Should connect to the AMQP server.")
		return a
	}, brokertest.LenientTaskDone())
}
