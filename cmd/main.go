package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/tlabs-xyz/tbtc-v2-sub017/db"
	"github.com/tlabs-xyz/tbtc-v2-sub017/enforcement"
	"github.com/tlabs-xyz/tbtc-v2-sub017/entity"
	"github.com/tlabs-xyz/tbtc-v2-sub017/external"
	"github.com/tlabs-xyz/tbtc-v2-sub017/governance"
	"github.com/tlabs-xyz/tbtc-v2-sub017/handlers"
	"github.com/tlabs-xyz/tbtc-v2-sub017/logger"
	"github.com/tlabs-xyz/tbtc-v2-sub017/oracle"
	"github.com/tlabs-xyz/tbtc-v2-sub017/repository"
	"github.com/tlabs-xyz/tbtc-v2-sub017/routers"
	"github.com/tlabs-xyz/tbtc-v2-sub017/watchtower"
)

func main() {
	// Load config
	viper.SetConfigFile("config/config.yaml")
	if err := viper.ReadInConfig(); err != nil {
		fmt.Println("Config file error:", err)
		os.Exit(1)
	}

	appLogFile := viper.GetString("log.app_log_file")
	logLevel := viper.GetString("log.level")

	if err := logger.InitLogger(appLogFile, logLevel); err != nil {
		fmt.Println("Failed to initialize logger:", err)
		os.Exit(1)
	}

	logger.Logger.Info("Starting custody monitoring server...")

	// Connect to LevelDB
	leveldbPath := viper.GetString("leveldb.path")
	ldb, err := db.NewLevelDB(leveldbPath)
	if err != nil {
		logger.Logger.Fatal("Failed to open leveldb", zap.Error(err))
	}
	defer ldb.Close()

	store := repository.NewLedgerStore(ldb)

	// External collaborators: control-proof verifier and governance proposals
	verifier := external.NewControlVerifier(viper.GetString("collaborators.control_proof_endpoint"))
	submitter := external.NewProposalSubmitter(viper.GetString("collaborators.proposal_endpoint"))

	// Core services
	entities := entity.NewStore(store, verifier, viper.GetStringSlice("token.principals"))

	orc := oracle.NewOracle(store, viper.GetStringSlice("oracle.attesters"), oracle.Config{
		Quorum:          viper.GetInt("oracle.quorum"),
		StalenessMillis: viper.GetInt64("oracle.staleness_millis"),
	})

	enforcer := enforcement.NewEnforcer(store, entities, orc, enforcement.Config{
		MinCollateralRatio: viper.GetUint64("enforcement.min_collateral_ratio"),
		RedemptionTimeout:  viper.GetInt64("enforcement.redemption_timeout_millis"),
		FailureThreshold:   viper.GetInt("enforcement.failure_threshold"),
		FailureWindow:      viper.GetInt64("enforcement.failure_window_millis"),
		InactivityPeriod:   viper.GetInt64("enforcement.inactivity_millis"),
	})
	entities.SetSolvencyChecker(enforcer)

	bridge := governance.NewBridge(entities, submitter, viper.GetStringSlice("governance.principals"))
	ledger := watchtower.NewLedger(store, viper.GetStringSlice("watchtower.watchdogs"), bridge)
	bridge.SetObservationWriter(ledger)

	// Initialize HTTP handlers
	h := handlers.NewHandler(entities, orc, enforcer, ledger, bridge)

	// Setup router
	r := mux.NewRouter()
	routers.RegisterRoutes(r, h)

	// HTTP Server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", viper.GetInt("server.port")),
		Handler: r,
	}

	// Start server in goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			logger.Logger.Info("Server stopped", zap.Error(err))
		}
	}()

	logger.Logger.Info("Server running on port", zap.Int("port", viper.GetInt("server.port")))

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	logger.Logger.Info("Shutdown signal received, exiting...")
	srv.Close()
}
