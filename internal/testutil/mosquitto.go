// Package testutil holds helpers shared by integration tests.
package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	// MosquittoImage is the broker image started by StartMosquitto.
	MosquittoImage = "eclipse-mosquitto:2.0"
	// MosquittoReadyTimeout bounds the wait for the broker to accept clients.
	MosquittoReadyTimeout = 10 * time.Second

	pollInterval = 50 * time.Millisecond
)

const mosquittoConf = `listener 1883
allow_anonymous true
persistence false
log_dest stdout
connection_messages true
`

// StartMosquitto runs a disposable Mosquitto broker in Docker. It returns the
// tcp:// broker URL and a cleanup function terminating the container.
func StartMosquitto(ctx context.Context) (string, func(), error) {
	dir, err := os.MkdirTemp("", "evcharger-mosquitto")
	if err != nil {
		return "", nil, err
	}
	confPath := filepath.Join(dir, "mosquitto.conf")
	if err := os.WriteFile(confPath, []byte(mosquittoConf), 0o644); err != nil {
		_ = os.RemoveAll(dir)
		return "", nil, err
	}

	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image:        MosquittoImage,
			ExposedPorts: []string{"1883/tcp"},
			WaitingFor:   wait.ForListeningPort("1883/tcp"),
			Files: []tc.ContainerFile{{
				HostFilePath:      confPath,
				ContainerFilePath: "/mosquitto/config/mosquitto.conf",
				FileMode:          0o644,
			}},
		},
		Started: true,
	})
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", nil, fmt.Errorf("start mosquitto: %w", err)
	}
	cleanup := func() {
		_ = cont.Terminate(context.Background())
		_ = os.RemoveAll(dir)
	}

	host, err := cont.Host(ctx)
	if err != nil {
		cleanup()
		return "", nil, err
	}
	port, err := cont.MappedPort(ctx, "1883")
	if err != nil {
		cleanup()
		return "", nil, err
	}
	broker := fmt.Sprintf("tcp://%s:%s", host, port.Port())

	readyCtx, cancel := context.WithTimeout(ctx, MosquittoReadyTimeout)
	defer cancel()
	if err := WaitForBroker(readyCtx, broker); err != nil {
		cleanup()
		return "", nil, err
	}
	return broker, cleanup, nil
}

// WaitForBroker polls broker until an MQTT connection succeeds or ctx ends.
func WaitForBroker(ctx context.Context, broker string) error {
	opts := paho.NewClientOptions().AddBroker(broker).SetClientID("evcharger-probe")
	for {
		cli := paho.NewClient(opts)
		token := cli.Connect()
		token.Wait()
		if token.Error() == nil {
			cli.Disconnect(100)
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("broker %s not ready: %w", broker, ctx.Err())
		case <-time.After(pollInterval):
		}
	}
}
