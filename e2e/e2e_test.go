package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kilianp07/ridesync/core/dispatch"
	"github.com/kilianp07/ridesync/core/lifecycle"
	"github.com/kilianp07/ridesync/core/protocol"
	"github.com/kilianp07/ridesync/core/rideset"
	"github.com/kilianp07/ridesync/infra/logger"
	"github.com/kilianp07/ridesync/infra/metrics"
)

const (
	org    = "e2e_org"
	bucket = "e2e_bucket"
	token  = "e2e-token"
)

// startInflux starts an InfluxDB 2.7 container already set up with org,
// bucket and token, and returns it along with the base URL.
func startInflux(ctx context.Context, t *testing.T) (tc.Container, string) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "influxdb:2.7",
		ExposedPorts: []string{"8086/tcp"},
		Env: map[string]string{
			"DOCKER_INFLUXDB_INIT_MODE":        "setup",
			"DOCKER_INFLUXDB_INIT_USERNAME":    "e2e",
			"DOCKER_INFLUXDB_INIT_PASSWORD":    "e2e-password",
			"DOCKER_INFLUXDB_INIT_ORG":         org,
			"DOCKER_INFLUXDB_INIT_BUCKET":      bucket,
			"DOCKER_INFLUXDB_INIT_ADMIN_TOKEN": token,
		},
		WaitingFor: wait.ForHTTP("/health").WithPort("8086/tcp").WithStartupTimeout(60 * time.Second),
	}
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("unable to start influx container: %v", err)
	}
	host, _ := cont.Host(ctx)
	port, _ := cont.MappedPort(ctx, "8086")
	return cont, fmt.Sprintf("http://%s:%s", host, port.Port())
}

func frame(t *testing.T, event string, data any) protocol.Frame {
	t.Helper()
	b, err := json.Marshal(data)
	require.NoError(t, err)
	return protocol.Frame{Event: event, Data: b}
}

// Test_E2E_InfluxSink routes a short dispatch session through a router
// whose metrics go to a real InfluxDB and reads the points back.
func Test_E2E_InfluxSink(t *testing.T) {
	if os.Getenv("RIDESYNC_E2E") != "1" {
		t.Skip("set RIDESYNC_E2E=1 to run")
	}
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skipf("docker not installed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cont, url := startInflux(ctx, t)
	defer cont.Terminate(ctx) //nolint:errcheck

	cli := NewInfluxClient(url, org, bucket, token)
	defer cli.Close()
	require.NoError(t, cli.SetupBucket(ctx))

	sink := metrics.NewInfluxSinkWithFallback(metrics.InfluxConfig{
		URL: url, Token: token, Org: org, Bucket: bucket, DriverID: "driver-e2e",
	})
	influx, ok := sink.(*metrics.InfluxSink)
	require.True(t, ok, "influx health check failed")
	defer influx.Close()

	log := logger.NopLogger{}
	machine := lifecycle.NewMachine(log, sink)
	router := dispatch.NewRouter(rideset.New(rideset.Options{}), machine, log, sink)
	defer router.Close()
	_, err := machine.Submit(lifecycle.GoOnline{})
	require.NoError(t, err)

	frames := []protocol.Frame{
		frame(t, protocol.EventNewRequest, map[string]any{"id": "r1", "offered_fair": 10}),
		frame(t, protocol.EventFareRaised, map[string]any{"id": "r1", "offered_fair": 12}),
		frame(t, protocol.EventWithdrawn, map[string]any{"rideRequestId": "r1"}),
		frame(t, protocol.EventFareRaised, map[string]any{"id": "r1", "offered_fair": 15}),
		frame(t, protocol.EventRideCancelled, map[string]any{"rideId": "x"}),
	}
	for _, f := range frames {
		_ = router.HandleFrame(ctx, f)
	}

	n, err := cli.Count(ctx, "dispatch_event", "", "", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, len(frames), n)

	n, err = cli.Count(ctx, "dispatch_event", "applied", "false", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = cli.Count(ctx, "lifecycle_transition", "to", "idle", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
