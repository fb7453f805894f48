package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/crypto/bcrypt"

	"mobarena-server/internal/agent"
	"mobarena-server/internal/config"
	"mobarena-server/internal/game"
	"mobarena-server/internal/journal"
	"mobarena-server/internal/spectate"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := flag.String("config", "config/server.toml", "Path to the server config")
	hashPassword := flag.String("hash-password", "", "Print the bcrypt hash of an operator password and exit")
	flag.Parse()

	if *hashPassword != "" {
		h, err := bcrypt.GenerateFromPassword([]byte(*hashPassword), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		fmt.Println(string(h))
		return nil
	}

	// 1. Load config
	path := *cfgPath
	if p := os.Getenv("MOBARENA_CONFIG"); p != "" {
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	// 3. Agent variants
	variants, err := agent.LoadVariants(cfg.Agents.VariantsFile)
	if err != nil {
		return fmt.Errorf("variants: %w", err)
	}
	log.Info("agent variants loaded", zap.Strings("variants", variants.Names()))

	// 4. Combat journal
	var db *journal.DB
	if cfg.Journal.Path != "" {
		db, err = journal.Open(cfg.Journal.Path)
		if err != nil {
			return fmt.Errorf("journal: %w", err)
		}
		defer db.Close()
		log.Info("journal opened", zap.String("path", cfg.Journal.Path))
	}
	j := journal.New(db, cfg.Journal, log.Named("journal"))
	defer j.Stop()

	// 5. Sessions
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sessions := game.NewSessionManager(ctx, cfg, variants, j, log)
	defer sessions.Close()
	for i := 0; i < cfg.Server.Sessions; i++ {
		sess, err := sessions.Create(fmt.Sprintf("Arena %d", i+1))
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		log.Info("session ready", zap.String("session", sess.ID), zap.String("name", sess.Name))
	}

	// 6. Spectate server
	var server *http.Server
	if cfg.Spectate.Enabled {
		auth, err := spectate.NewAuth(db, cfg.Spectate.OperatorHash, cfg.Spectate.TokenTTL, log.Named("auth"))
		if err != nil {
			return fmt.Errorf("auth: %w", err)
		}
		if cfg.Spectate.OperatorHash == "" {
			log.Warn("spectate.operator_hash is empty, operator login disabled")
		}
		hub := spectate.NewHub(cfg.Spectate, sessions, auth, j, log)
		go hub.Run(ctx)

		server = &http.Server{Addr: cfg.Server.Addr, Handler: spectate.SetupRoutes(hub, cfg.Server.ClientDir)}
		go func() {
			log.Info("spectate server starting", zap.String("addr", cfg.Server.Addr), zap.String("client", cfg.Server.ClientDir))
			if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				log.Error("listen", zap.Error(err))
				cancel()
			}
		}()
	}

	// 7. Wait for shutdown
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-shutdownCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case <-ctx.Done():
	}

	if server != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		server.Shutdown(shutdownCtx)
	}
	return nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
