package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/BitcreditProtocol/crsatmint/mint/admin"
	"github.com/BitcreditProtocol/crsatmint/mint/config"
	"github.com/BitcreditProtocol/crsatmint/mint/ebill"
	"github.com/BitcreditProtocol/crsatmint/mint/engine"
	"github.com/BitcreditProtocol/crsatmint/mint/httpapi"
	"github.com/BitcreditProtocol/crsatmint/mint/keys"
	"github.com/BitcreditProtocol/crsatmint/mint/mlog"
	"github.com/BitcreditProtocol/crsatmint/mint/quote"
	"github.com/BitcreditProtocol/crsatmint/mint/storage"
	"github.com/BitcreditProtocol/crsatmint/mint/storage/bolt"
	"github.com/BitcreditProtocol/crsatmint/mint/storage/sqlite"
	"github.com/BitcreditProtocol/crsatmint/mint/treasury"
)

// shutdownTimeout bounds how long a graceful Shutdown waits for
// in-flight requests before main returns anyway, grounded on the
// teacher's own fixed-timeout shutdown in cmd/mint/mint.go.
const shutdownTimeout = 5 * time.Second

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("error reading config: %v", err)
	}

	logger, err := mlog.New(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		log.Fatalf("error setting up logger: %v", err)
	}
	mlogger := mlog.Logger{L: logger}

	backend, err := openBackend(cfg)
	if err != nil {
		log.Fatalf("error opening storage backend: %v", err)
	}
	defer backend.Close()

	crsatFactory, err := keys.NewFactory(cfg.SeedMnemonic, keys.UnitCrsat, backend.Keysets, backend.MintOps, backend.Signatures, cfg.IdempotentMint)
	if err != nil {
		log.Fatalf("error building crsat key factory: %v", err)
	}
	crsatFactory.WithLogger(logger)

	satFactory, err := keys.NewFactory(cfg.SeedMnemonic, keys.UnitSat, backend.Keysets, backend.MintOps, backend.Signatures, cfg.IdempotentMint)
	if err != nil {
		log.Fatalf("error building sat key factory: %v", err)
	}
	satFactory.WithLogger(logger)

	eng := engine.New(
		engine.Side{Keys: crsatFactory, Proofs: backend.Proofs},
		engine.Side{Keys: satFactory, Proofs: backend.Proofs},
	).WithLogger(logger)

	quoteService := quote.NewService(backend.Quotes)
	quoteService.OfferTTL = cfg.OfferTTL
	quoteService.WithLogger(logger)

	treasuryMaster, err := keys.MasterFromMnemonic(cfg.SeedMnemonic, "")
	if err != nil {
		log.Fatalf("error deriving treasury master key: %v", err)
	}
	treasuryService := treasury.NewService(treasuryMaster, backend.Treasury, satFactory)
	treasuryService.WithLogger(logger)

	// No eBill node HTTP client exists anywhere in the corpus this mint
	// was grown from (see DESIGN.md); FakeClient stands in until one is
	// wired, the same way mint/lightning.FakeBackend once stood in for
	// a real Lightning node.
	ebillClient := ebill.NewFakeClient()

	publicServer := httpapi.New(
		"0.0.0.0:"+cfg.Port,
		eng, quoteService, ebillClient,
		factoryLister{crsatFactory}, factoryLister{satFactory},
	).WithLogger(mlogger)

	var adminServer *admin.Server
	if cfg.EnableAdminServer {
		adminServer = admin.New("127.0.0.1:"+cfg.AdminPort, crsatFactory, satFactory, quoteService, treasuryService).WithLogger(mlogger)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		<-sigCh
		mlogger.Infof("shutting down")
		if err := publicServer.Shutdown(shutdownTimeout); err != nil {
			mlogger.Errorf("public api shutdown: %v", err)
		}
		if adminServer != nil {
			if err := adminServer.Shutdown(shutdownTimeout); err != nil {
				mlogger.Errorf("admin api shutdown: %v", err)
			}
		}
	}()

	var wg sync.WaitGroup
	if adminServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := adminServer.Start(); err != nil {
				log.Fatalf("error running admin server: %v", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := publicServer.Start(); err != nil {
			log.Fatalf("error running public server: %v", err)
		}
	}()

	wg.Wait()
}

// openBackend picks the storage backend config.DBBackend names.
// BackendMemory is bbolt-file-backed, not literally RAM-only — it
// exists for the single-file, no-migrations deployment path.
func openBackend(cfg *config.Config) (*storage.Backend, error) {
	switch cfg.DBBackend {
	case config.BackendMemory:
		return bolt.Open(cfg.DBPath)
	default:
		return sqlite.Open(cfg.DBPath)
	}
}

// factoryLister adapts *keys.Factory to httpapi.KeysetLister.
type factoryLister struct{ f *keys.Factory }

func (l factoryLister) ActiveKeysets(ctx context.Context) ([]keys.Keyset, error) {
	return l.f.ActiveKeysets(ctx)
}

func (l factoryLister) AllKeysetInfo(ctx context.Context) ([]keys.KeysetInfo, error) {
	return l.f.AllKeysetInfo(ctx)
}
