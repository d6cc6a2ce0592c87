package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"pricepath/internal/api"
	"pricepath/internal/cache"
	"pricepath/internal/database"
	"pricepath/internal/logging"
	"pricepath/internal/onchain"
	"pricepath/internal/service/pairs"
	"pricepath/internal/service/price"
	"pricepath/internal/service/tokens"
	"pricepath/internal/service/tx"
	"pricepath/pkg/config"
	"pricepath/pkg/types"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		os.Stderr.WriteString("configuration error: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := logging.Setup("pricepath", cfg.Environment)

	chain, err := onchain.NewClient(cfg.RPCURL, cfg.FactoryAddress, 10*time.Second, logger)
	if err != nil {
		logger.Error("failed to connect to node", "err", err)
		os.Exit(1)
	}

	db, err := database.New(cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.RunMigrations(context.Background()); err != nil {
		logger.Error("failed to run migrations", "err", err)
		os.Exit(1)
	}

	store := cache.New(cache.DefaultConfig, database.NewPublisher(db), logger)
	defer store.Close()

	pairService := pairs.NewService(chain, store, cfg.PairsTTL, logger)
	tokenService := tokens.NewService(chain, store, logger)

	reference, err := price.NewStaticReference(cfg.ReferencePrices)
	if err != nil {
		logger.Error("invalid reference prices", "err", err)
		os.Exit(1)
	}

	engine := price.NewEngine(pairService, tokenService, chain, reference, store, price.Config{
		AnchorToken: types.TokenID(cfg.AnchorToken),
		ReservesTTL: cfg.ReservesTTL,
		PriceTTL:    cfg.PriceTTL,
	}, logger)

	assembler, err := tx.NewAssembler(engine, pairService, chain, tx.Config{
		RouterAddress: cfg.RouterAddress,
		Deadline:      cfg.SwapDeadline,
	}, logger)
	if err != nil {
		logger.Error("failed to build assembler", "err", err)
		os.Exit(1)
	}

	apiService := api.NewService(engine, pairService, db, assembler, cfg.APIPort, logger)

	go func() {
		logger.Info("starting API server", "port", cfg.APIPort)
		if err := apiService.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("API server error", "err", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiService.Stop(shutdownCtx); err != nil {
		logger.Error("error during shutdown", "err", err)
	}
}
