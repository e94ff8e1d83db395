package service

import (
	"context"

	"app-swap-go/internal/pkg/blescan"
	"app-swap-go/internal/pkg/config"
	"app-swap-go/internal/pkg/flows"
	"app-swap-go/internal/pkg/journal"
	"app-swap-go/internal/pkg/logger"
	"app-swap-go/internal/pkg/store"
)

// AppServiceInterface defines the application service operations
type AppServiceInterface interface {
	// Initialize initializes the service with configuration
	Initialize(configPath string) error

	// Run runs the service until stop is called
	Run() error

	// Stop stops the service
	Stop() error

	// IdentifyCustomer resolves the customer profile for a scanned plan
	IdentifyCustomer(ctx context.Context, planID string) (*flows.CustomerProfile, error)

	// BindCustomerLocation binds the customer to a swap location
	BindCustomerLocation(ctx context.Context, planID, locationID string) (*flows.Binding, error)

	// EmitServiceIntent announces the customer's chosen service
	EmitServiceIntent(ctx context.Context, planID, intent string) error

	// ScanBattery starts a battery scan-and-read cycle for a slot
	ScanBattery(slot blescan.Slot, qrPayload string, done blescan.DoneFunc) error

	// CompleteSwap settles the swap using the latest battery readings
	CompleteSwap(ctx context.Context) (*flows.Receipt, error)

	// GetLoggingClient returns the logging client
	GetLoggingClient() logger.LoggingClient

	// GetJournal returns the swap journal publisher
	GetJournal() *journal.Publisher

	// GetStore returns the session store client
	GetStore() *store.Client

	// GetAppConfig returns the application configuration
	GetAppConfig() *config.AppConfig

	// GetContext returns the service context
	GetContext() context.Context
}
