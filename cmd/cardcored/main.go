package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"cardcore/authorization"
	"cardcore/bank"
	"cardcore/bank/fineract"
	"cardcore/bank/mock"
	"cardcore/cards"
	"cardcore/config"
	"cardcore/ledger"
	"cardcore/observability/logging"
	"cardcore/observability/otel"
	"cardcore/processor"
	"cardcore/recon"
	"cardcore/rules"
	"cardcore/server"
	"cardcore/settlement"
	"cardcore/storage"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := logging.Setup("cardcored", cfg.Environment)

	if cfg.Telemetry.Enabled {
		shutdown, err := otel.Init(context.Background(), otel.Config{
			ServiceName: "cardcored",
			Environment: cfg.Environment,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
		})
		if err != nil {
			log.Fatalf("telemetry init error: %v", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				logger.Error("telemetry shutdown", "err", err)
			}
		}()
	}

	db, err := storage.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		log.Fatalf("database connection error: %v", err)
	}
	if err := storage.AutoMigrate(db); err != nil {
		log.Fatalf("auto migrate error: %v", err)
	}

	adapter, err := buildAdapter(cfg, db, logger)
	if err != nil {
		log.Fatalf("bank adapter error: %v", err)
	}

	store := authorization.NewStore(db)
	engine := rules.NewEngine(logger, buildRules(cfg.Rules, store)...)
	ledgerSvc := ledger.NewService(db, logger)
	authSvc := authorization.NewService(db, store, adapter, engine, ledgerSvc, logger)
	settleSvc := settlement.NewService(db, adapter, ledgerSvc, logger)
	cardSvc := cards.NewService(db, adapter, logger)
	processorName := cfg.Processor.Active
	processors := map[string]*processor.Adapter{
		processorName: processor.NewAdapter(db, authSvc, settleSvc, processorName, logger),
	}

	if cfg.Recon.Enabled {
		reconciler := recon.NewReconciler(db, adapter, logger)
		go reconciler.Start(context.Background(), cfg.Recon.Interval.Duration)
	}

	srv := server.New(server.Config{
		DB:         db,
		Cards:      cardSvc,
		Auth:       authSvc,
		Settle:     settleSvc,
		Ledger:     ledgerSvc,
		Adapter:    adapter,
		Processors: processors,
		Log:        logger,
	})

	logger.Info("starting cardcored",
		"addr", cfg.ListenAddress,
		"bankAdapter", adapter.Name(),
		"processor", processorName,
		"dbDriver", cfg.Database.Driver)
	if err := http.ListenAndServe(cfg.ListenAddress, srv.Handler()); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func buildAdapter(cfg *config.Config, db *gorm.DB, logger *slog.Logger) (bank.AccountAdapter, error) {
	switch cfg.Bank.Adapter {
	case "fineract":
		f := cfg.Bank.Fineract
		client, err := fineract.NewClient(fineract.Config{
			BaseURL:            f.BaseURL,
			Username:           f.Username,
			Password:           f.Password,
			Tenant:             f.Tenant,
			SavingsGLAccountID: f.SavingsGLAccountID,
			HoldsGLAccountID:   f.HoldsGLAccountID,
			OfficeID:           f.OfficeID,
			Timeout:            f.Timeout.Duration,
		})
		if err != nil {
			return nil, err
		}
		return fineract.NewAdapter(db, client, f.SavingsGLAccountID, f.HoldsGLAccountID, logger), nil
	case "mock":
		return mock.New(), nil
	default:
		return nil, fmt.Errorf("unsupported bank adapter %q", cfg.Bank.Adapter)
	}
}

func buildRules(cfg config.Rules, history rules.History) []rules.Rule {
	var ruleset []rules.Rule
	if cfg.TransactionLimit != "" {
		limit, err := decimal.NewFromString(cfg.TransactionLimit)
		if err != nil {
			log.Fatalf("invalid rules.TransactionLimit %q: %v", cfg.TransactionLimit, err)
		}
		ruleset = append(ruleset, &rules.TransactionLimit{Limit: limit})
	}
	if cfg.DailyLimit != "" {
		limit, err := decimal.NewFromString(cfg.DailyLimit)
		if err != nil {
			log.Fatalf("invalid rules.DailyLimit %q: %v", cfg.DailyLimit, err)
		}
		ruleset = append(ruleset, &rules.DailySpendLimit{History: history, Limit: limit})
	}
	if len(cfg.BlockedMCCs) > 0 {
		ruleset = append(ruleset, rules.NewMCCBlocking(cfg.BlockedMCCs))
	}
	if cfg.VelocityMaxPerMinute > 0 {
		ruleset = append(ruleset, &rules.Velocity{History: history, MaxPerMinute: cfg.VelocityMaxPerMinute})
	}
	return ruleset
}
