package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vending-machine/internal/admin"
	"vending-machine/internal/api"
	"vending-machine/internal/config"
	"vending-machine/internal/db"
	"vending-machine/internal/logger"
	"vending-machine/internal/server"
	"vending-machine/internal/service"
	"vending-machine/internal/state"
	"vending-machine/pkg"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var serveFlags struct {
	addr        string
	readTimeout time.Duration
	framing     string
	maxMessage  int
	stateFile   string
	adminAddr   string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the vending machine",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	registerServeFlags(serveCmd)
}

func registerServeFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&serveFlags.addr, "addr", "", "TCP listen address (default 127.0.0.1:22222)")
	cmd.Flags().DurationVar(&serveFlags.readTimeout, "read-timeout", 0, "Time allowed to receive a whole request (default 5s)")
	cmd.Flags().StringVar(&serveFlags.framing, "framing", "", "Message framing: braces or json")
	cmd.Flags().IntVar(&serveFlags.maxMessage, "max-message", 0, "Largest request accepted, in bytes (default 65536)")
	cmd.Flags().StringVarP(&serveFlags.stateFile, "state-file", "s", "", "CSV file with 'coin,quantity' lines for the startup coins")
	cmd.Flags().StringVar(&serveFlags.adminAddr, "admin-addr", "", "Admin HTTP listen address, empty disables it")
}

func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.ListenAddr = serveFlags.addr
	}
	if flags.Changed("read-timeout") {
		cfg.ReadTimeout = serveFlags.readTimeout
	}
	if flags.Changed("framing") {
		cfg.Framing = serveFlags.framing
	}
	if flags.Changed("max-message") {
		cfg.MaxMessageSize = serveFlags.maxMessage
	}
	if flags.Changed("state-file") {
		cfg.StateFile = serveFlags.stateFile
		cfg.StateSource = config.StateSourceFile
	}
	if flags.Changed("admin-addr") {
		cfg.AdminAddr = serveFlags.adminAddr
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyServeFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	zapLogger := logger.NewLogger(cfg.LogLevel)
	defer func(l *zap.Logger) {
		_ = l.Sync()
	}(zapLogger)
	log := pkg.NewZapLogger(zapLogger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		journal db.JournalDB
		stateDB db.CoinStateDB
	)
	if cfg.DatabaseEnabled() {
		dbConn, err := db.Connect(cfg)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer dbConn.Close()

		if err := db.Migrate(dbConn); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
		journal = db.NewJournalDB(dbConn)
		stateDB = db.NewCoinStateDB(dbConn)
	}

	inventory, err := service.NewInventory(service.DefaultCoins())
	if err != nil {
		return err
	}
	if err := loadStartupState(ctx, cfg, inventory, stateDB, log); err != nil {
		return err
	}

	machine := service.NewMachineService(inventory, journal, log)
	dispatcher := api.NewDispatcher(machine, log)
	framer := server.NewFramer(cfg.ReadTimeout, cfg.ReadChunkSize, cfg.Framing)
	framer.MaxSize = cfg.MaxMessageSize
	srv := server.NewServer(cfg.ListenAddr, framer, dispatcher, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := srv.Serve(gctx)
		if errors.Is(err, server.ErrServerClosed) {
			return nil
		}
		return err
	})

	if cfg.AdminAddr != "" {
		if cfg.JWTSecret == "" || cfg.AdminPassword == "" {
			log.Warn("admin API enabled without JWT_SECRET or ADMIN_PASSWORD, logins will fail")
		}
		handlers := &admin.Handlers{
			AuthService: service.NewAuthService(cfg.AdminUser, cfg.AdminPassword, log, cfg.JWTSecret),
			Machine:     machine,
			Logger:      log,
		}
		if stateDB != nil {
			handlers.StateDB = stateDB
		}
		router := admin.NewRouter(handlers, cfg.JWTSecret, zapLogger)
		g.Go(func() error {
			return admin.Run(gctx, cfg.AdminAddr, router, zapLogger)
		})
	}

	log.Info("Starting vending machine",
		zap.String("addr", cfg.ListenAddr),
		zap.String("framing", cfg.Framing),
		zap.Duration("readTimeout", cfg.ReadTimeout),
		zap.Int("total", machine.TotalValue()))

	if err := g.Wait(); err != nil {
		log.Error("Vending machine stopped", zap.Error(err))
		return err
	}
	log.Info("Vending machine stopped")
	return nil
}

// loadStartupState applies the configured snapshot on top of the default
// coins. A missing file or an empty database keeps the defaults.
func loadStartupState(ctx context.Context, cfg *config.Config, inv *service.Inventory, stateDB db.CoinStateDB, log pkg.Logger) error {
	var table map[int]int
	switch {
	case cfg.StateSource == config.StateSourceDB && stateDB != nil:
		coins, err := stateDB.LoadCoinState(ctx)
		if err != nil {
			return fmt.Errorf("failed to load coin state: %w", err)
		}
		table = make(map[int]int, len(coins))
		for face, qty := range coins {
			if !inv.Supports(face) || qty < 0 {
				log.Warn("skipping stored coin", zap.Int("denomination", face), zap.Int("quantity", qty))
				continue
			}
			table[face] = qty
		}
	case cfg.StateFile != "":
		coins, err := state.LoadFile(cfg.StateFile, inv.Supports, log)
		if errors.Is(err, state.ErrNotFound) {
			log.Warn("Could not find state file, is path correct?", zap.String("path", cfg.StateFile))
			return nil
		}
		if err != nil {
			return err
		}
		table = coins
	}
	if len(table) == 0 {
		return nil
	}
	if err := inv.LoadState(table); err != nil {
		return fmt.Errorf("failed to apply startup state: %w", err)
	}
	log.Info("Startup state loaded", zap.Int("denominations", len(table)), zap.Int("total", inv.TotalValue()))
	return nil
}
