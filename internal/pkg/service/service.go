package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"app-swap-go/internal/pkg/blescan"
	"app-swap-go/internal/pkg/bridge"
	"app-swap-go/internal/pkg/config"
	"app-swap-go/internal/pkg/correlate"
	"app-swap-go/internal/pkg/flows"
	"app-swap-go/internal/pkg/journal"
	"app-swap-go/internal/pkg/logger"
	"app-swap-go/internal/pkg/retry"
	"app-swap-go/internal/pkg/store"
)

// AppService is the main application service. It drives the customer-facing
// swap workflow: identify over the correlation exchange, scan batteries over
// BLE, then settle the swap and persist the session.
type AppService struct {
	appName    string
	version    string
	configPath string

	lc     logger.LoggingClient
	config *config.AppConfig

	channel     bridge.Channel
	mqttChannel *bridge.MQTTChannel
	exchange    *correlate.Exchange
	runner      *flows.Runner
	identify    *retry.Session
	scanner     *blescan.Controller
	sessions    *store.Client
	profiles    *store.ProfileCache
	journal     *journal.Publisher

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	current  *store.SwapSession
	readings map[blescan.Slot]blescan.Reading
}

// NewAppService creates a new application service.
func NewAppService(name string, version string) (AppServiceInterface, error) {
	if name == "" {
		return nil, errors.New("please specify service name")
	}
	if version == "" {
		return nil, errors.New("please specify service version")
	}

	return &AppService{
		appName:  name,
		version:  version,
		readings: make(map[blescan.Slot]blescan.Reading),
	}, nil
}

// Initialize initializes the service with configuration.
func (s *AppService) Initialize(configPath string) error {
	s.configPath = configPath

	// initialize the logger with a default level first
	s.lc = logger.NewClient("INFO")
	s.lc.Info("Initializing service:", "name", s.appName, "version", s.version)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		// fall back to defaults if the file could not be loaded
		s.lc.Warn("Failed to load config file, using defaults:", "error", err.Error())
		cfg = config.DefaultConfig()
	}
	s.config = cfg

	if err := s.lc.SetLogLevel(cfg.Writable.LogLevel); err != nil {
		s.lc.Warn("Failed to set log level:", "error", err.Error())
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.mqttChannel = bridge.NewMQTTChannel(bridge.ClientConfig{
		Broker:    cfg.Mqtt.Broker,
		ClientID:  cfg.Mqtt.ClientID,
		Username:  cfg.Mqtt.Username,
		Password:  cfg.Mqtt.Password,
		QoS:       byte(cfg.Mqtt.QoS),
		KeepAlive: cfg.Mqtt.KeepAlive,
	}, s.lc)

	s.wire(s.mqttChannel)

	s.lc.Info("Service initialized successfully")
	return nil
}

// wire builds the workflow components on top of the given channel. Split out
// from Initialize so tests can drive the service over a loopback channel.
func (s *AppService) wire(ch bridge.Channel) {
	cfg := s.config

	s.channel = ch
	s.exchange = correlate.NewExchange(ch, s.lc)

	actor := correlate.Actor{
		Type:    cfg.Actor.Type,
		ID:      cfg.Actor.ID,
		Station: cfg.StationID,
	}
	s.runner = flows.NewRunner(s.exchange, actor, flows.Timeouts{
		Request: cfg.Flows.GetRequestTimeout(),
		Bind:    cfg.Flows.GetBindTimeout(),
	}, s.lc)

	s.identify = retry.NewSession(retry.Config{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.GetBaseDelay(),
		MaxDelay:    cfg.Retry.GetMaxDelay(),
	}, s.lc)

	scanCfg := blescan.DefaultConfig()
	scanCfg.ProductNamePrefix = cfg.Ble.ProductNamePrefix
	scanCfg.Watchdog = cfg.Ble.GetWatchdog()
	s.scanner = blescan.NewController(ch, scanCfg, s.lc)

	s.profiles = store.NewProfileCache(cfg.Redis.GetProfileTTL())
	s.journal = journal.NewPublisher(ch, cfg.Journal.Topic, cfg.Journal.BatchSize, cfg.Journal.GetFlushDelay(), s.lc)
}

// Run runs the service until a shutdown signal arrives.
func (s *AppService) Run() error {
	s.lc.Info("Starting service:", "name", s.appName)

	if err := s.mqttChannel.Connect(); err != nil {
		return fmt.Errorf("MQTT connect failed: %w", err)
	}

	// the session store is advisory; the swap workflow still runs without it
	st, err := store.New(s.config.Redis.Addr, s.config.Redis.Password, s.config.Redis.DB, s.lc)
	if err != nil {
		s.lc.Warn("Session store unavailable, sessions will not be persisted:", "error", err.Error())
	} else {
		s.sessions = st
	}

	s.profiles.StartCleanup(time.Minute)
	s.journal.Start()

	s.lc.Info("Service started successfully")

	s.waitForShutdown()
	return nil
}

// waitForShutdown blocks until SIGINT or SIGTERM.
func (s *AppService) waitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	s.lc.Info("Received signal:", "signal", sig.String())
	s.Stop()
}

// Stop stops the service.
func (s *AppService) Stop() error {
	s.lc.Info("Stopping service:", "name", s.appName)

	if s.cancel != nil {
		s.cancel()
	}
	if s.scanner != nil {
		s.scanner.Close()
	}
	if s.identify != nil {
		s.identify.Cancel()
	}
	if s.journal != nil {
		s.journal.Stop()
	}
	if s.profiles != nil {
		s.profiles.Stop()
	}
	if s.sessions != nil {
		if err := s.sessions.Close(); err != nil {
			s.lc.Warn("Session store close failed:", "error", err.Error())
		}
	}
	if s.mqttChannel != nil {
		s.mqttChannel.Disconnect()
	}

	s.lc.Info("Service stopped successfully")
	return nil
}

// IdentifyCustomer resolves the customer profile for a scanned plan and opens
// a swap session. Profiles are served from the TTL cache when fresh, so
// re-scanning the same plan mid-swap does not re-run the flow.
func (s *AppService) IdentifyCustomer(ctx context.Context, planID string) (*flows.CustomerProfile, error) {
	if p, ok := s.profiles.Get(planID); ok {
		s.lc.Debugf("Profile cache hit for plan %s", planID)
		return p, nil
	}

	var profile *flows.CustomerProfile
	err := s.identify.RunManual(ctx, func(ctx context.Context) error {
		p, err := s.runner.IdentifyCustomer(ctx, planID)
		if err != nil {
			return err
		}
		profile = p
		return nil
	})
	if err != nil {
		s.journal.Record(journal.KindFailure, "", map[string]interface{}{
			"plan_id": planID,
			"stage":   "identify",
			"error":   err.Error(),
		})
		return nil, err
	}

	s.profiles.Set(planID, profile)
	sess := s.openSession(ctx, profile)
	s.journal.Record(journal.KindIdentify, sess.ID, map[string]interface{}{
		"plan_id":       planID,
		"customer_type": string(profile.CustomerType),
	})
	return profile, nil
}

// IdentifyCustomerAsync resolves a profile in the background with silent
// retries, delivering the outcome through onDone.
func (s *AppService) IdentifyCustomerAsync(planID string, onDone func(*flows.CustomerProfile, error)) {
	if p, ok := s.profiles.Get(planID); ok {
		onDone(p, nil)
		return
	}

	var profile *flows.CustomerProfile
	s.identify.OnTransition(func(status retry.Status, attempt int, err error) {
		switch status {
		case retry.Succeeded:
			s.profiles.Set(planID, profile)
			sess := s.openSession(s.ctx, profile)
			s.journal.Record(journal.KindIdentify, sess.ID, map[string]interface{}{
				"plan_id":       planID,
				"customer_type": string(profile.CustomerType),
			})
			onDone(profile, nil)
		case retry.Failed:
			onDone(nil, err)
		}
	})
	s.identify.Start(s.ctx, func(ctx context.Context) error {
		p, err := s.runner.IdentifyCustomer(ctx, planID)
		if err != nil {
			return err
		}
		profile = p
		return nil
	})
}

// openSession records the start of a swap for an identified customer.
func (s *AppService) openSession(ctx context.Context, profile *flows.CustomerProfile) *store.SwapSession {
	sess := &store.SwapSession{
		ID:           uuid.New().String(),
		StationID:    s.config.StationID,
		PlanID:       profile.PlanID,
		CustomerType: string(profile.CustomerType),
		OldBatteryID: profile.CurrentBatteryID,
		State:        store.SessionOpen,
		StartedAt:    time.Now().UTC(),
	}

	s.mu.Lock()
	s.current = sess
	s.readings = make(map[blescan.Slot]blescan.Reading)
	s.mu.Unlock()

	if s.sessions != nil {
		if err := s.sessions.SaveSession(ctx, sess); err != nil {
			s.lc.Warn("Failed to persist swap session:", "error", err.Error())
		}
	}
	return sess
}

// BindCustomerLocation binds the customer to a swap location.
func (s *AppService) BindCustomerLocation(ctx context.Context, planID, locationID string) (*flows.Binding, error) {
	b, err := s.runner.BindCustomerLocation(ctx, planID, locationID)
	if err != nil {
		return nil, err
	}
	s.journal.Record(journal.KindBind, s.currentSessionID(), map[string]interface{}{
		"plan_id":     planID,
		"location_id": locationID,
	})
	return b, nil
}

// EmitServiceIntent announces the customer's chosen service.
func (s *AppService) EmitServiceIntent(ctx context.Context, planID, intent string) error {
	if err := s.runner.EmitServiceIntent(ctx, planID, intent); err != nil {
		return err
	}
	s.journal.Record(journal.KindIntent, s.currentSessionID(), map[string]interface{}{
		"plan_id": planID,
		"intent":  intent,
	})
	return nil
}

// ScanBattery starts a battery scan-and-read cycle for a slot. The latest
// successful reading per slot is retained for settlement.
func (s *AppService) ScanBattery(slot blescan.Slot, qrPayload string, done blescan.DoneFunc) error {
	_, err := s.scanner.Scan(slot, qrPayload, func(r blescan.Reading, scanErr error) {
		if scanErr == nil {
			s.mu.Lock()
			s.readings[slot] = r
			s.mu.Unlock()
			s.journal.Record(journal.KindScan, s.currentSessionID(), map[string]interface{}{
				"slot":           string(slot),
				"battery_id":     r.BatteryID,
				"energy_wh":      r.EnergyWh,
				"charge_percent": r.ChargePercent,
			})
		} else {
			s.journal.Record(journal.KindFailure, s.currentSessionID(), map[string]interface{}{
				"slot":  string(slot),
				"stage": "scan",
				"error": scanErr.Error(),
			})
		}
		if done != nil {
			done(r, scanErr)
		}
	})
	return err
}

// CompleteSwap settles the swap using the latest battery readings. The old
// battery defaults to the one on the customer's profile; a reading of the
// returned battery, when present, takes precedence.
func (s *AppService) CompleteSwap(ctx context.Context) (*flows.Receipt, error) {
	s.mu.Lock()
	sess := s.current
	newReading, haveNew := s.readings[blescan.SlotNewBattery]
	oldReading, haveOld := s.readings[blescan.SlotOldBattery]
	s.mu.Unlock()

	if sess == nil {
		return nil, errors.New("no open swap session, identify the customer first")
	}
	if !haveNew {
		return nil, errors.New("no reading of the new battery, scan it first")
	}

	oldID := sess.OldBatteryID
	if haveOld {
		oldID = oldReading.BatteryID
	}

	receipt, err := s.runner.CompleteSwap(ctx, flows.Settlement{
		PlanID:        sess.PlanID,
		OldBatteryID:  oldID,
		NewBatteryID:  newReading.BatteryID,
		EnergyWh:      int64(math.Round(newReading.EnergyWh)),
		ChargePercent: newReading.ChargePercent,
	})
	if err != nil {
		s.failSession(ctx, sess, err)
		return nil, err
	}

	s.settleSession(ctx, sess, newReading, oldID, receipt)
	return receipt, nil
}

func (s *AppService) settleSession(ctx context.Context, sess *store.SwapSession, r blescan.Reading, oldID string, receipt *flows.Receipt) {
	if s.sessions != nil {
		sess.NewBatteryID = r.BatteryID
		sess.OldBatteryID = oldID
		sess.EnergyWh = r.EnergyWh
		sess.ChargePercent = r.ChargePercent
		if err := s.sessions.SetTransaction(ctx, sess.ID, receipt.TransactionID); err != nil {
			s.lc.Warn("Failed to record transaction id:", "error", err.Error())
		}
		if err := s.sessions.UpdateState(ctx, sess.ID, store.SessionSettled); err != nil {
			s.lc.Warn("Failed to settle swap session:", "error", err.Error())
		}
	}

	s.journal.Record(journal.KindSettle, sess.ID, map[string]interface{}{
		"plan_id":        sess.PlanID,
		"transaction_id": receipt.TransactionID,
		"replayed":       receipt.Replayed,
	})

	// the plan's quotas changed, force a fresh identification next time
	s.profiles.Invalidate(sess.PlanID)

	s.mu.Lock()
	if s.current == sess {
		s.current = nil
	}
	s.mu.Unlock()
}

func (s *AppService) failSession(ctx context.Context, sess *store.SwapSession, cause error) {
	if s.sessions != nil {
		if err := s.sessions.UpdateState(ctx, sess.ID, store.SessionFailed); err != nil {
			s.lc.Warn("Failed to mark swap session failed:", "error", err.Error())
		}
	}
	s.journal.Record(journal.KindFailure, sess.ID, map[string]interface{}{
		"plan_id": sess.PlanID,
		"stage":   "settle",
		"error":   cause.Error(),
	})
}

func (s *AppService) currentSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ""
	}
	return s.current.ID
}

// Getter methods

// GetLoggingClient returns the logging client.
func (s *AppService) GetLoggingClient() logger.LoggingClient {
	return s.lc
}

// GetJournal returns the swap journal publisher.
func (s *AppService) GetJournal() *journal.Publisher {
	return s.journal
}

// GetStore returns the session store client.
func (s *AppService) GetStore() *store.Client {
	return s.sessions
}

// GetAppConfig returns the application configuration.
func (s *AppService) GetAppConfig() *config.AppConfig {
	return s.config
}

// GetContext returns the service context.
func (s *AppService) GetContext() context.Context {
	return s.ctx
}
