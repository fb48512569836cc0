// Orchard Wallet - shielded note scanner and spend planner
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/colorfulnotion/orchardwallet/log"
	"github.com/colorfulnotion/orchardwallet/orchard/merkle"
	"github.com/colorfulnotion/orchardwallet/orchard/selector"
	"github.com/colorfulnotion/orchardwallet/orchard/shielded"
	"github.com/colorfulnotion/orchardwallet/orchard/wallet"
	"github.com/colorfulnotion/orchardwallet/telemetry"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

type globalOptions struct {
	dataDir      string
	logLevel     string
	jsonLogs     bool
	debug        string
	otlpEndpoint string
	hasher       string
	strategy     string
	retention    int
	cacheSize    int
}

func (o *globalOptions) walletConfig() (wallet.Config, error) {
	cfg := wallet.DefaultConfig()
	h, err := merkle.HasherByName(o.hasher)
	if err != nil {
		return cfg, err
	}
	s, err := selector.StrategyByName(o.strategy)
	if err != nil {
		return cfg, err
	}
	cfg.Hasher = h
	cfg.Strategy = s
	if o.retention > 0 {
		cfg.CheckpointRetention = o.retention
	}
	if o.cacheSize > 0 {
		cfg.WitnessCacheSize = o.cacheSize
	}
	return cfg, nil
}

// session is one CLI invocation's view of the persisted wallet.
type session struct {
	wallet *wallet.WalletState
	store  *shielded.Store
	tel    *telemetry.Telemetry
}

func openSession(ctx context.Context, opts *globalOptions) (*session, error) {
	cfg, err := opts.walletConfig()
	if err != nil {
		return nil, err
	}
	tel, err := telemetry.NewTelemetry(ctx, opts.otlpEndpoint, Version)
	if err != nil {
		return nil, err
	}
	cfg.TracerProvider = tel.TracerProvider()

	w, err := wallet.New(cfg)
	if err != nil {
		return nil, err
	}
	if opts.dataDir != "" {
		if err := os.MkdirAll(opts.dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	store, err := shielded.Open(storePath(opts.dataDir))
	if err != nil {
		return nil, err
	}
	found, err := w.Load(store)
	if err != nil {
		store.Close()
		return nil, err
	}
	log.Debug(log.CLI, "Opened wallet",
		"datadir", opts.dataDir,
		"restored", found,
		"hasher", cfg.Hasher.Name(),
		"tree_size", w.TreeSize())
	return &session{wallet: w, store: store, tel: tel}, nil
}

func storePath(dataDir string) string {
	if dataDir == "" {
		return ""
	}
	return filepath.Join(dataDir, "shielded")
}

func (s *session) save() error {
	return s.wallet.Save(s.store)
}

func (s *session) close() {
	if err := s.store.Close(); err != nil {
		log.Warn(log.CLI, "Closing store failed", "err", err)
	}
	if err := s.tel.Close(context.Background()); err != nil {
		fmt.Printf("Telemetry shutdown: %v\n", err)
	}
}

func exitOnError(what string, err error) {
	if err != nil {
		fmt.Printf("%s: %v\n", what, err)
		os.Exit(1)
	}
}

func main() {
	var rootCmd = &cobra.Command{
		Use:   "orchard-wallet",
		Short: "Orchard shielded wallet state manager",
		Long: `Scans closed ledgers for notes owned by registered incoming viewing keys,
maintains the note commitment tree with per-ledger checkpoints and plans
spends against the current anchor.`,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	opts := &globalOptions{}
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.dataDir, "datadir", "./orchard-wallet-data", "Wallet data directory (empty keeps state in memory)")
	flags.StringVar(&opts.logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error, crit)")
	flags.BoolVar(&opts.jsonLogs, "log-json", false, "Emit JSON logs")
	flags.StringVar(&opts.debug, "debug", "", "Comma-separated modules with debug logging (or \"all\")")
	flags.StringVar(&opts.otlpEndpoint, "otlp-endpoint", "", "OTLP/HTTP collector host:port for tracing")
	flags.StringVar(&opts.hasher, "hasher", merkle.HasherBlake2b, "Merkle node hasher")
	flags.StringVar(&opts.strategy, "strategy", selector.SmallestFirst{}.Name(), "Note selection strategy")
	flags.IntVar(&opts.retention, "retention", merkle.DefaultCheckpointRetention, "Checkpoints retained for historical witnesses")
	flags.IntVar(&opts.cacheSize, "witness-cache", 0, "Witness path cache entries (0 for default)")

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		var err error
		if opts.jsonLogs {
			err = log.InitJSONLogger(os.Stderr, opts.logLevel)
		} else {
			err = log.InitLogger(opts.logLevel)
		}
		exitOnError("Invalid log level", err)
		log.EnableModules(opts.debug)
		lvl, _ := log.ParseLevel(opts.logLevel)
		log.Debug(log.CLI, "Logging configured", "level", log.LevelString(lvl), "modules", opts.debug)
	}

	var versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("orchard-wallet %s (commit %s, built %s)\n", Version, Commit, BuildTime)
		},
	}

	rootCmd.AddCommand(
		versionCmd,
		newKeysCmd(opts),
		newKeygenCmd(),
		newMintCmd(),
		newIngestCmd(opts),
		newBalanceCmd(opts),
		newNotesCmd(opts),
		newHistoryCmd(opts),
		newAnchorCmd(opts),
		newSelectCmd(opts),
		newPrepareCmd(opts),
		newVerifyCmd(opts),
		newResetCmd(opts),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}
