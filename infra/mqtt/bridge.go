package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/evcharger/core/charger"
	"github.com/kilianp07/evcharger/core/logger"
	"github.com/kilianp07/evcharger/core/model"
	coremon "github.com/kilianp07/evcharger/core/monitoring"
	"github.com/kilianp07/evcharger/core/state"
	"github.com/kilianp07/evcharger/internal/eventbus"
)

// Executor runs remote facade commands.
type Executor interface {
	Execute(cmd charger.Command) error
}

// CommandMessage is the payload accepted on the command topic.
type CommandMessage struct {
	ID string `json:"id,omitempty"`
	charger.Command
}

// CommandResult is published on the result topic for every command received.
type CommandResult struct {
	ID      string `json:"id,omitempty"`
	Command string `json:"command"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}

// Bridge mirrors the charger state to an MQTT broker and feeds commands read
// from the broker into the charger facade.
type Bridge struct {
	cli      pahoClient
	cfg      Config
	identity string
	topics   Topics
	store    *state.Store
	rx       *eventbus.Receiver[model.Transition]
	exec     Executor
	logger   logger.Logger
	sleep    func(time.Duration)
}

// NewBridge connects to the broker. The bridge observes every transition from
// this point on; Run publishes them.
func NewBridge(cfg Config, identity string, store *state.Store, exec Executor, log logger.Logger) (*Bridge, error) {
	cfg.SetDefaults()
	opts, err := NewClientOptions(cfg, identity)
	if err != nil {
		return nil, err
	}
	b := &Bridge{
		cfg:      cfg,
		identity: identity,
		topics:   cfg.Topics(identity),
		store:    store,
		rx:       store.Subscribe(),
		exec:     exec,
		logger:   log,
		sleep:    time.Sleep,
	}

	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected")
		if token := c.Publish(b.topics.Online, cfg.qos("online"), true, PayloadOnline); token.Wait() && token.Error() != nil {
			log.Errorf("presence publish error: %v", token.Error())
		}
		if token := c.Subscribe(b.topics.Command, cfg.qos("command"), b.onCommand); token.Wait() && token.Error() != nil {
			log.Errorf("subscribe error: %v", token.Error())
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	b.cli = c
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return b, nil
}

// Topics returns the topics used by the bridge.
func (b *Bridge) Topics() Topics { return b.topics }

// Run publishes the current state, then every transition and the resulting
// state until ctx is cancelled or the store is closed.
func (b *Bridge) Run(ctx context.Context) error {
	defer coremon.Recover()
	b.publishState(b.store.Resync(b.rx))
	for {
		tr, err := b.rx.Recv(ctx)
		if err != nil {
			var lag *eventbus.LaggedError
			switch {
			case errors.As(err, &lag):
				b.logger.Warnf("state mirror lagged by %d transitions, republishing snapshot", lag.Missed)
				b.publishState(b.store.Resync(b.rx))
				continue
			case errors.Is(err, eventbus.ErrClosed), ctx.Err() != nil:
				return nil
			default:
				return err
			}
		}
		b.publishTransition(tr)
		b.publishState(tr.New)
	}
}

// Disconnect marks the charger offline and closes the broker connection.
func (b *Bridge) Disconnect() {
	if b.cli == nil || !b.cli.IsConnected() {
		return
	}
	token := b.cli.Publish(b.topics.Online, b.cfg.qos("online"), true, PayloadOffline)
	token.WaitTimeout(time.Second)
	b.cli.Disconnect(250)
}

func (b *Bridge) publishState(s model.ChargerState) {
	payload, err := json.Marshal(s)
	if err != nil {
		b.logger.Errorf("encode state: %v", err)
		return
	}
	_ = b.publish(b.topics.State, b.cfg.qos("state"), true, payload)
}

func (b *Bridge) publishTransition(tr model.Transition) {
	payload, err := json.Marshal(tr)
	if err != nil {
		b.logger.Errorf("encode transition: %v", err)
		return
	}
	_ = b.publish(b.topics.Transition, b.cfg.qos("transition"), false, payload)
}

func (b *Bridge) publish(topic string, qos byte, retained bool, payload []byte) error {
	var publishErr error
	for attempt := 0; attempt <= b.cfg.MaxRetries; attempt++ {
		token := b.cli.Publish(topic, qos, retained, payload)
		token.Wait()
		publishErr = token.Error()
		if publishErr == nil {
			b.logger.Debugw("mqtt publish", map[string]any{"topic": topic, "bytes": len(payload)})
			return nil
		}
		b.logger.Errorf("publish attempt %d failed: %v", attempt+1, publishErr)
		if attempt < b.cfg.MaxRetries {
			b.sleep(b.cfg.backoff() * time.Duration(1<<attempt))
		}
	}
	coremon.CaptureException(publishErr, map[string]string{
		"module":   "mqtt",
		"topic":    topic,
		"identity": b.identity,
	})
	return fmt.Errorf("publish %s: %w", topic, publishErr)
}

func (b *Bridge) onCommand(_ paho.Client, msg paho.Message) {
	var m CommandMessage
	res := CommandResult{}
	if err := json.Unmarshal(msg.Payload(), &m); err != nil {
		b.logger.Warnf("failed to decode command: %v", err)
		res.Error = fmt.Sprintf("decode: %v", err)
	} else {
		res.ID = m.ID
		res.Command = m.Name
		if err := b.exec.Execute(m.Command); err != nil {
			b.logger.Warnf("command %s rejected: %v", m.Name, err)
			res.Error = err.Error()
		} else {
			b.logger.Infof("command %s applied", m.Name)
			res.OK = true
		}
	}
	payload, err := json.Marshal(res)
	if err != nil {
		b.logger.Errorf("encode command result: %v", err)
		return
	}
	_ = b.publish(b.topics.Result, b.cfg.qos("command"), false, payload)
}
