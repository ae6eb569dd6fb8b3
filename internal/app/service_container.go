package app

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"time"

	"crosscall-backend/internal/config"
	"crosscall-backend/internal/db"
	"crosscall-backend/internal/escrow"
	"crosscall-backend/internal/events"
	"crosscall-backend/internal/proofs"
	"crosscall-backend/internal/protocol"
	"crosscall-backend/internal/repository"
	"crosscall-backend/internal/services"

	"github.com/ethereum/go-ethereum/ethclient"
	"gorm.io/gorm"
)

// ServiceContainer wires every component of the service in dependency order.
type ServiceContainer struct {
	DB *gorm.DB

	// Repositories
	RequestRepo repository.RequestRepository

	// Escrow. The book is always wired: in chain mode it sits in front of the
	// on-chain vault as the durable release guard and restart ledger.
	Book  *escrow.Book
	Vault protocol.Vault

	// Protocol core
	Validator protocol.Validator
	Registry  *protocol.Registry

	// Event & push services
	Publisher   *events.Publisher
	PushService *services.PushService

	// Orchestration
	RequestService *services.RequestService
	ExpiryWatcher  *services.ExpiryWatcher
}

// NewServiceContainer builds the full service graph from the loaded
// configuration. The database must already be initialized.
func NewServiceContainer() (*ServiceContainer, error) {
	cfg := config.AppConfig
	if cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	log.Println("🚀 Initializing Service Container...")

	c := &ServiceContainer{DB: db.DB}
	c.RequestRepo = repository.NewRequestRepository(c.DB)

	// The oracle root the proof gate anchors to lives on the source chain.
	if cfg.SourceChain.RPCURL == "" {
		return nil, fmt.Errorf("source_chain.rpc_url is required")
	}
	oracleClient, err := ethclient.Dial(cfg.SourceChain.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial source chain RPC: %w", err)
	}
	c.Validator = proofs.NewValidator(oracleClient)

	c.Book = escrow.NewBook(c.DB)
	switch cfg.SourceChain.EscrowMode {
	case "book":
		c.Vault = c.Book
		log.Printf("💰 Escrow mode: book-entry custody")
	case "chain":
		chainVault, err := escrow.NewChainVault(
			cfg.SourceChain.RPCURL,
			big.NewInt(cfg.SourceChain.ChainID),
			cfg.SourceChain.CustodianKey,
		)
		if err != nil {
			return nil, fmt.Errorf("create chain vault: %w", err)
		}
		c.Vault = escrow.NewLedgeredVault(c.Book, chainVault)
		log.Printf("💰 Escrow mode: on-chain custody via %s", chainVault.Custodian().Hex())
	default:
		return nil, fmt.Errorf("unknown escrow mode %q", cfg.SourceChain.EscrowMode)
	}

	c.Registry = protocol.NewRegistry(c.Vault, c.Validator, cfg.CancelDelay())

	c.Publisher, err = events.NewPublisher()
	if err != nil {
		return nil, fmt.Errorf("create NATS publisher: %w", err)
	}
	c.PushService = services.NewPushService()

	c.RequestService = services.NewRequestService(c.Registry, c.RequestRepo, c.Book, c.Publisher, c.PushService)

	c.ExpiryWatcher = services.NewExpiryWatcher(
		c.RequestRepo,
		c.PushService,
		c.Registry.CancelDelay(),
		time.Duration(cfg.Protocol.ExpiryCheckSeconds)*time.Second,
	)

	log.Println("✅ Service Container initialized")
	return c, nil
}

// Start restores the registry from the database and launches the background
// services.
func (c *ServiceContainer) Start(ctx context.Context) error {
	if err := c.RequestService.Restore(ctx); err != nil {
		return err
	}
	c.ExpiryWatcher.Start()
	return nil
}

// Stop shuts the background services down.
func (c *ServiceContainer) Stop() {
	c.ExpiryWatcher.Stop()
	c.Publisher.Close()
}
