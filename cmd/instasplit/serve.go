package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/instasplit/instasplit-agent/internal/api"
	"github.com/instasplit/instasplit-agent/internal/config"
	"github.com/instasplit/instasplit-agent/internal/events"
	"github.com/instasplit/instasplit-agent/internal/logging"
	"github.com/instasplit/instasplit-agent/internal/playback"
	"github.com/instasplit/instasplit-agent/internal/store"
	"github.com/instasplit/instasplit-agent/internal/ui"
	"github.com/spf13/cobra"
)

const (
	authTokenKey  = api.AuthTokenKey
	authTokenFile = "auth_token"

	eventBufferSize = 1000
	shutdownTimeout = 10 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local agent",
	Long: `Run the InstaSplit agent: a loopback HTTP API for the web front-end plus a
system tray icon. Set INSTASPLIT_HEADLESS=true to skip the tray.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func serve() error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := ensureDirs(cfg); err != nil {
		return err
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting instasplit agent", "version", Version, "data_dir", cfg.DataDir())
	if p := cfg.PresetsPath(); p != "" {
		logger.Info("presets loaded", "path", logging.SanitizePath(p))
	}

	bus := events.NewBus(eventBufferSize)
	eng, err := newEngine(cfg, bus, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	authToken, err := ensureAuthToken(eng.repo, cfg.DataDir())
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	initCtx, initCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer initCancel()
	caps, err := eng.doctor.Refresh(initCtx)
	if err != nil {
		logger.Warn("initial capability probe failed", "error", err)
	} else if !caps.CanRender() {
		logger.Warn("no supported clip format, rendering disabled", "formats", caps.Formats)
	}

	printBanner(cfg.Port(), authToken, filepath.Join(cfg.DataDir(), authTokenFile), eng.analyzer.Name())

	players := playback.NewRegistry(logger)
	unsubscribe := players.Subscribe(func(a playback.Activation) {
		logger.Debug("preview player activated", "player", a.Active, "paused", len(a.Paused))
	})
	defer unsubscribe()

	apiCfg := api.ServerConfig{
		Port:       cfg.Port(),
		Sessions:   eng.manager,
		Events:     bus,
		Players:    players,
		Clips:      playback.NewServer(logger),
		References: eng.sampler,
		Tokens:     eng.repo,
		Logger:     logger,
		StartTime:  startTime,
		Version:    Version,
	}
	if gen := eng.generator(cfg, logger); gen != nil {
		apiCfg.Generator = gen
	} else {
		logger.Info("generation disabled: no Gemini API key")
	}
	apiServer := api.NewServer(apiCfg)

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	quitCh := make(chan struct{})
	quit := sync.OnceFunc(func() { close(quitCh) })

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			quit()
		case <-quitCh:
		}
	}()

	var tray *ui.Tray
	if cfg.Headless() {
		logger.Info("running in headless mode (no system tray)")
	} else {
		outputDir := cfg.Presets().Export.OutputDir
		if outputDir == "" {
			outputDir = filepath.Join(cfg.CacheDir(), "clips")
		}
		tray = ui.NewTray(ui.TrayConfig{
			Sessions: eng.manager,
			Events:   bus,
			Logger:   logger,
			OnOpenOutput: func() error {
				if err := os.MkdirAll(outputDir, 0755); err != nil {
					return err
				}
				return openFolder(outputDir)
			},
			OnQuit: quit,
		})
		go tray.Run()
	}

	<-quitCh

	logger.Info("initiating graceful shutdown")
	eng.manager.Cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}
	if tray != nil {
		tray.Quit()
	}

	logger.Info("shutdown complete")
	return nil
}

// ensureAuthToken reuses the token file in dataDir so the front-end keeps
// working across restarts, and mirrors it into the config table for the
// auth middleware.
func ensureAuthToken(repo store.Repository, dataDir string) (string, error) {
	ctx := context.Background()
	path := filepath.Join(dataDir, authTokenFile)

	token, err := readToken(path)
	if err != nil {
		return "", err
	}
	if token == "" {
		tokenBytes := make([]byte, 32)
		if _, err := rand.Read(tokenBytes); err != nil {
			return "", err
		}
		token = hex.EncodeToString(tokenBytes)
		if err := os.WriteFile(path, []byte(token+"\n"), 0600); err != nil {
			return "", fmt.Errorf("failed to write token file: %w", err)
		}
	}

	if err := repo.SetConfig(ctx, authTokenKey, token); err != nil {
		return "", err
	}
	return token, nil
}

func readToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func printBanner(port int, token, tokenPath, analyzer string) {
	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Printf("║                 INSTASPLIT AGENT v%-24s║\n", Version)
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    http://127.0.0.1:%-27d ║\n", port)
	fmt.Printf("║  Auth Token: %-45s ║\n", logging.SanitizeToken(token))
	fmt.Printf("║  Token File: %-45s ║\n", tokenPath)
	fmt.Printf("║  Analyzer:   %-45s ║\n", analyzer)
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()
}

func openFolder(dir string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", dir)
	case "windows":
		cmd = exec.Command("explorer", dir)
	default:
		cmd = exec.Command("xdg-open", dir)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to open %s: %w", dir, err)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
