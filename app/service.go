package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	apicharger "github.com/kilianp07/evcharger/api/charger"
	"github.com/kilianp07/evcharger/config"
	"github.com/kilianp07/evcharger/core/charger"
	"github.com/kilianp07/evcharger/core/dispatch"
	"github.com/kilianp07/evcharger/core/dispatch/logging"
	coremetrics "github.com/kilianp07/evcharger/core/metrics"
	coremon "github.com/kilianp07/evcharger/core/monitoring"
	coreocpp "github.com/kilianp07/evcharger/core/ocpp"
	"github.com/kilianp07/evcharger/core/state"
	"github.com/kilianp07/evcharger/infra/logger"
	"github.com/kilianp07/evcharger/infra/metrics"
	"github.com/kilianp07/evcharger/infra/mqtt"
	infraocpp "github.com/kilianp07/evcharger/infra/ocpp"
)

const shutdownTimeout = 5 * time.Second

// Service wires the state store, the dispatch engine, the charger facade and
// the optional outer surfaces (MQTT bridge, HTTP API, metrics endpoint).
type Service struct {
	Store   *state.Store
	Engine  *dispatch.Engine
	Charger *charger.Charger

	cfg     *config.Config
	bridge  *mqtt.Bridge
	journal logging.Journal
	sink    coremetrics.MetricsSink
	// sessionDone is closed when the OCPP transport drops, nil when unknown.
	sessionDone <-chan struct{}
	sessionErr  func() error
	log         logger.Logger
}

// New dials the central system and builds the Service around the session.
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	client, err := infraocpp.Dial(ctx, cfg.Station, cfg.OCPP, logger.New("ocpp"))
	if err != nil {
		return nil, fmt.Errorf("ocpp client: %w", err)
	}
	svc, err := NewWithClient(cfg, client)
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	svc.sessionDone = client.Done()
	svc.sessionErr = client.Err
	return svc, nil
}

// NewWithClient builds the Service on an already established protocol client.
func NewWithClient(cfg *config.Config, client coreocpp.Client) (*Service, error) {
	logg := logger.New("service")
	sink, err := coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}
	journal, err := logging.Open(cfg.Journal)
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}

	store := state.NewWithDepth(cfg.Dispatch.HistoryDepth)
	engine := dispatch.NewEngine(cfg.Station, cfg.Dispatch, store, client, logger.New("dispatch"))
	engine.SetMetricsSink(sink)
	engine.SetJournal(journal)
	ch := charger.New(cfg.Station, store, client, logger.New("charger"))

	svc := &Service{
		Store:   store,
		Engine:  engine,
		Charger: ch,
		cfg:     cfg,
		journal: journal,
		sink:    sink,
		log:     logg,
	}
	if cfg.MQTT.Enabled {
		bridge, err := mqtt.NewBridge(cfg.MQTT, cfg.Station.Identity, store, ch, logger.New("mqtt"))
		if err != nil {
			_ = journal.Close()
			return nil, fmt.Errorf("mqtt bridge: %w", err)
		}
		svc.bridge = bridge
	}
	return svc, nil
}

// Run starts the engine and the outer surfaces, boots the charger and blocks
// until ctx is cancelled or the OCPP session drops.
func (s *Service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	engineDone := make(chan error, 1)
	go func() { engineDone <- s.Engine.Run(ctx) }()

	if s.bridge != nil {
		go func() {
			if err := s.bridge.Run(ctx); err != nil {
				s.log.Errorf("mqtt bridge: %v", err)
			}
		}()
	}
	if port := s.cfg.Metrics.PrometheusPort; port != "" {
		go func() {
			if err := metrics.StartPromServer(ctx, listenAddr(port), nil); err != nil {
				s.log.Errorf("prom server: %v", err)
				coremon.CaptureException(err, map[string]string{"module": "metrics"})
			}
		}()
	}
	if s.cfg.HTTP.Enabled() {
		go func() {
			if err := s.serveAPI(ctx); err != nil {
				s.log.Errorf("http api: %v", err)
				coremon.CaptureException(err, map[string]string{"module": "api"})
			}
		}()
	}

	s.Charger.Startup()

	select {
	case <-ctx.Done():
		cancel()
		return <-engineDone
	case err := <-engineDone:
		return err
	case <-s.sessionDone:
		cancel()
		<-engineDone
		err := errors.New("ocpp session closed")
		if s.sessionErr != nil && s.sessionErr() != nil {
			err = fmt.Errorf("ocpp session closed: %w", s.sessionErr())
		}
		return err
	}
}

// Handler returns the HTTP API of the charger.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	apicharger.Register(mux, s.Charger, s.journal, s.cfg.HTTP.Token)
	return mux
}

func (s *Service) serveAPI(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.HTTP.Address, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warnf("http api shutdown: %v", err)
		}
	}()
	s.log.Infof("serving charger api on %s", s.cfg.HTTP.Address)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close disconnects from the central system and releases every resource.
func (s *Service) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	var errs []error
	if err := s.Charger.Disconnect(ctx); err != nil {
		errs = append(errs, fmt.Errorf("disconnect: %w", err))
	}
	if s.bridge != nil {
		s.bridge.Disconnect()
	}
	s.Store.Close()
	if c, ok := s.sink.(interface{ Close() }); ok {
		c.Close()
	}
	if err := s.journal.Close(); err != nil {
		errs = append(errs, fmt.Errorf("journal: %w", err))
	}
	return errors.Join(errs...)
}

func listenAddr(port string) string {
	if strings.Contains(port, ":") {
		return port
	}
	return ":" + port
}
