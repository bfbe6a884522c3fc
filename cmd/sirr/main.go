package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SirrVault/sirr/internal/version"
	"github.com/SirrVault/sirr/pkg/config"
	"github.com/SirrVault/sirr/pkg/crypto"
	"github.com/SirrVault/sirr/pkg/httpapi"
	"github.com/SirrVault/sirr/pkg/keymaterial"
	"github.com/SirrVault/sirr/pkg/license"
	"github.com/SirrVault/sirr/pkg/log"
	"github.com/SirrVault/sirr/pkg/store"
	"github.com/SirrVault/sirr/pkg/sweeper"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sirr",
	Short: "sirr - an ephemeral secret vault",
	Long: `sirr stores secrets that disappear on their own: by time-to-live,
by a maximum read count, or both. Every value is sealed with
ChaCha20-Poly1305 under a master key held only on the node running sirr.`,
	Version: version.Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"sirr version %s\nCommit: %s\nBuilt: %s\n",
		version.Version, version.Commit, version.BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", true, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(rotateCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Printf("sirr version %s\nCommit: %s\nBuilt: %s\n", version.Version, version.Commit, version.BuildTime)
	},
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	// LOG_LEVEL and LOG_JSON apply unless the matching flag was given.
	if cfg, err := config.Load(); err == nil {
		if !rootCmd.PersistentFlags().Changed("log-level") {
			logLevel = cfg.LogLevel
		}
		if !rootCmd.PersistentFlags().Changed("log-json") {
			logJSON = cfg.LogJSON
		}
	}

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sirr HTTP API",
	RunE:  runServe,
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	km, err := keymaterial.Load(cfg.DataDir, cfg.MasterKey)
	if err != nil {
		return fmt.Errorf("loading master key: %w", err)
	}

	cipher, err := crypto.New(km.Key())
	if err != nil {
		return fmt.Errorf("building cipher: %w", err)
	}

	st, err := store.Open(cfg.DataDir, cipher)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	licenseCacheTTL, err := cfg.LicenseCacheTTLDuration()
	if err != nil {
		return err
	}
	instanceID, err := license.LoadOrCreateInstanceID(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("loading instance id: %w", err)
	}
	gate := license.New(license.Config{
		MaxFreeSecrets: cfg.MaxFreeSecrets,
		LicenseKey:     cfg.LicenseKey,
		Online:         cfg.LicenseOnline,
		InstanceID:     instanceID,
		OnlineConfig: license.ClientConfig{
			ServerURL: cfg.LicenseServerURL,
			Timeout:   10 * time.Second,
			CacheTTL:  licenseCacheTTL,
		},
	})

	sweepInterval, err := cfg.SweepIntervalDuration()
	if err != nil {
		return err
	}
	sw := sweeper.New(st, sweepInterval)
	sw.Start()
	defer sw.Stop()

	server := httpapi.NewServer(httpapi.Config{
		Store:         st,
		License:       gate,
		APIKey:        cfg.APIKey,
		MaxValueBytes: cfg.MaxValueBytes,
		CORSOrigins:   cfg.CORSAllowedOrigins,
	})

	addr := cfg.ListenAddr()
	log.Logger.Info().Str("addr", addr).Str("data_dir", cfg.DataDir).Msg("sirr starting")

	errCh := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := httpapi.ListenAndServe(ctx, addr, server, 10*time.Second); err != nil {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Logger.Info().Msg("shutdown signal received")
		cancel()
		if err := <-errCh; err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	log.Logger.Info().Msg("sirr stopped")
	return nil
}

var rotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Rotate the master key, re-encrypting every stored secret",
	Long: `rotate generates a new master key and re-encrypts every record
currently in the store under it, replacing master.key only once every
record has been rewritten successfully.`,
	RunE: runRotate,
}

func runRotate(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	oldKM, err := keymaterial.Load(cfg.DataDir, cfg.MasterKey)
	if err != nil {
		return fmt.Errorf("loading current master key: %w", err)
	}
	oldCipher, err := crypto.New(oldKM.Key())
	if err != nil {
		return fmt.Errorf("building current cipher: %w", err)
	}

	st, err := store.Open(cfg.DataDir, oldCipher)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	newKey, err := keymaterial.GenerateKey()
	if err != nil {
		return fmt.Errorf("generating new master key: %w", err)
	}
	newCipher, err := crypto.New(newKey)
	if err != nil {
		return fmt.Errorf("building new cipher: %w", err)
	}

	rewritten, err := st.Rekey(newCipher)
	if err != nil {
		return fmt.Errorf("re-encrypting store under new master key: %w", err)
	}

	if err := keymaterial.Persist(cfg.DataDir, newKey); err != nil {
		return fmt.Errorf("persisting rotated master key: %w", err)
	}

	log.Logger.Info().Int("records_rewritten", rewritten).Msg("master key rotated")
	fmt.Printf("rotated master key, re-encrypted %d record(s)\n", rewritten)
	return nil
}
