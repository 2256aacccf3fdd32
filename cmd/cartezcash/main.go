// cartezcash runs the shielded ledger as a rollup dApp.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/colorfulnotion/cartezcash/czerrors"
	"github.com/colorfulnotion/cartezcash/ledger"
	log "github.com/colorfulnotion/cartezcash/log"
	"github.com/colorfulnotion/cartezcash/note"
	"github.com/colorfulnotion/cartezcash/rollup"
	"github.com/colorfulnotion/cartezcash/router"
	"github.com/colorfulnotion/cartezcash/storage"
	"github.com/colorfulnotion/cartezcash/telemetry"
	"github.com/colorfulnotion/cartezcash/types"
	"github.com/colorfulnotion/cartezcash/verifier"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

func main() {
	var rootCmd = &cobra.Command{
		Use:          "cartezcash",
		Short:        "Zcash-style shielded ledger running as a rollup dApp",
		SilenceUsage: true,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	var runCmd = &cobra.Command{
		Use:   "run",
		Short: "Restore the ledger from the block store and process rollup inputs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(cmd)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}
	addFlags(runCmd.Flags())

	var replayCmd = &cobra.Command{
		Use:   "replay",
		Short: "Rebuild the ledger from the block store and print its state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(cmd)
			if err != nil {
				return err
			}
			return replay(cfg)
		},
	}
	addFlags(replayCmd.Flags())

	var inspectCmd = &cobra.Command{
		Use:   "inspect <query-json>",
		Short: "Answer a read-only query against the block store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(cmd)
			if err != nil {
				return err
			}
			store, err := storage.NewLevelDBStore(cfg.DataPath)
			if err != nil {
				return err
			}
			defer store.Close()
			out, err := storage.NewQueryHandler(store).Query([]byte(args[0]))
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	addFlags(inspectCmd.Flags())

	var burnCmd = &cobra.Command{
		Use:   "burn-address",
		Short: "Print the shielded address whose notes are withdrawn to the host chain",
		Run: func(cmd *cobra.Command, args []string) {
			addr := note.BurnAddress()
			fmt.Printf("diversifier: %s\n", hex.EncodeToString(addr.Diversifier[:]))
			fmt.Printf("pk_d:        %s\n", hex.EncodeToString(addr.PkD[:]))
		},
	}

	var listenAddr string
	var verifierCmd = &cobra.Command{
		Use:   "serve-verifier",
		Short: "Serve the transaction verifier over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := setup(cmd); err != nil {
				return err
			}
			srv := &http.Server{
				Addr:              listenAddr,
				Handler:           verifier.Handler(verifier.NewProduction()),
				ReadHeaderTimeout: 10 * time.Second,
			}
			log.Info(log.CLI, "verifier listening", "addr", listenAddr)
			go func() {
				sig := make(chan os.Signal, 1)
				signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
				<-sig
				srv.Close()
			}()
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	addFlags(verifierCmd.Flags())
	verifierCmd.Flags().StringVar(&listenAddr, "listen", "127.0.0.1:8545", "Listen address")

	var exportCmd = &cobra.Command{
		Use:   "export <snapshot.gz>",
		Short: "Write every stored block to a compressed chain snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(cmd)
			if err != nil {
				return err
			}
			store, err := storage.NewLevelDBStore(cfg.DataPath)
			if err != nil {
				return err
			}
			defer store.Close()
			meta, err := storage.ExportSnapshot(store, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("exported %d blocks, tip %s\n", meta.NumBlocks, types.DisplayHex(meta.Tip))
			return nil
		},
	}
	addFlags(exportCmd.Flags())

	var importCmd = &cobra.Command{
		Use:   "import <snapshot.gz>",
		Short: "Replay a chain snapshot into an empty block store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(cmd)
			if err != nil {
				return err
			}
			store, err := storage.NewLevelDBStore(cfg.DataPath)
			if err != nil {
				return err
			}
			defer store.Close()
			l := ledger.New(cfg.Ledger, verifier.NewProduction())
			meta, err := storage.ImportSnapshot(store, args[0], func(_ uint32, block *types.Block) ([]byte, error) {
				if err := l.ReplayBlock(block); err != nil {
					return nil, err
				}
				return l.TreeState(), nil
			})
			if err != nil {
				return err
			}
			fmt.Printf("imported %d blocks, tip %s\n", meta.NumBlocks, types.DisplayHex(meta.Tip))
			return nil
		},
	}
	addFlags(importCmd.Flags())

	var versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("cartezcash %s (commit %s, built %s)\n", Version, Commit, BuildTime)
		},
	}

	rootCmd.AddCommand(runCmd, replayCmd, inspectCmd, exportCmd, importCmd, burnCmd, verifierCmd, versionCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads the configuration of cmd and initializes logging.
func setup(cmd *cobra.Command) (*config, error) {
	v, err := getViper(cmd.Flags())
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig(v)
	if err != nil {
		return nil, err
	}
	if cfg.LogFormat == "json" {
		err = log.InitJSONLogger(os.Stderr, cfg.LogLevel)
	} else {
		err = log.InitLogger(cfg.LogLevel)
	}
	if err != nil {
		return nil, err
	}
	log.EnableModules(cfg.Debug)
	return cfg, nil
}

func newVerifier(cfg *config) verifier.Verifier {
	if cfg.VerifierURL != "" {
		log.Info(log.CLI, "using remote verifier", "url", cfg.VerifierURL)
		return verifier.NewRemote(cfg.VerifierURL, cfg.Ledger.VerifyTimeout)
	}
	return verifier.NewProduction()
}

func run(cfg *config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tc, err := telemetry.NewTelemetryClient(ctx, telemetry.Config{Endpoint: cfg.Telemetry, Insecure: true})
	if err != nil {
		return err
	}
	tc.Install()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tc.Close(shutdownCtx); err != nil {
			log.Warn(log.CLI, "telemetry shutdown", "err", err)
		}
	}()

	store, err := storage.NewLevelDBStore(cfg.DataPath)
	if err != nil {
		return err
	}
	defer store.Close()

	l := ledger.New(cfg.Ledger, newVerifier(cfg))
	r := router.New(cfg.Router, l, store)
	if err := r.Init(ctx); err != nil {
		return err
	}
	height, hash, _ := l.Tip()
	log.Info(log.CLI, "cartezcash started", "version", Version, "height", height, "hash", types.DisplayHex(hash),
		"rollup", cfg.Rollup.URL, "bridge", cfg.Router.Bridge, "telemetry", !tc.Disabled())

	err = rollup.Run(ctx, cfg.Rollup, r)
	if czerrors.IsFatal(err) {
		log.Error(log.CLI, "halting", "err", err)
		return err
	}
	if errors.Is(err, context.Canceled) {
		log.Info(log.CLI, "shutting down")
		return nil
	}
	return err
}

func replay(cfg *config) error {
	store, err := storage.NewLevelDBStore(cfg.DataPath)
	if err != nil {
		return err
	}
	defer store.Close()

	l := ledger.New(cfg.Ledger, verifier.NewProduction())
	start := time.Now()
	err = store.ForEachBlock(func(height uint32, block *types.Block) error {
		return l.ReplayBlock(block)
	})
	if err != nil {
		return err
	}
	snap := l.Snapshot()
	out, err := json.MarshalIndent(map[string]interface{}{
		"height":            snap.Height,
		"hash":              types.DisplayHex(snap.Hash),
		"utxos":             len(snap.UTXOs),
		"transparent_value": snap.TotalTransparent(),
		"nullifiers":        len(snap.Nullifiers),
		"commitments":       snap.TreeSize,
		"root":              snap.Root,
		"shielded_pool":     snap.ShieldedPool,
		"minted":            snap.Minted,
		"burned":            snap.Burned,
		"elapsed":           time.Since(start).String(),
	}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
