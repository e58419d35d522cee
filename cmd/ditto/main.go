package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"

	"github.com/aljazceru/ditto/internal/cache"
	"github.com/aljazceru/ditto/internal/config"
	"github.com/aljazceru/ditto/internal/notify"
	"github.com/aljazceru/ditto/internal/ops"
	"github.com/aljazceru/ditto/internal/pipeline"
	"github.com/aljazceru/ditto/internal/policy"
	"github.com/aljazceru/ditto/internal/relay"
	"github.com/aljazceru/ditto/internal/retention"
	"github.com/aljazceru/ditto/internal/storage"
	"github.com/aljazceru/ditto/internal/verify"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
	builtBy = "manual"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "init" {
		handleInit()
		return
	}

	var (
		showVersion = flag.Bool("version", false, "Show version information")
		configPath  = flag.String("config", "", "Path to configuration file")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("ditto %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
		fmt.Printf("  by:     %s\n", builtBy)
		os.Exit(0)
	}

	if *configPath == "" {
		fmt.Println("ditto - Self-hosted Nostr relay")
		fmt.Println()
		fmt.Println("No configuration file specified. Use --config <path> to specify config.")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  ditto init              Generate example configuration")
		fmt.Println("  ditto --version         Show version information")
		fmt.Println("  ditto --config <path>   Start with configuration file")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := ops.NewLogger(&cfg.Logging)
	ops.SetDefault(logger)
	logger.LogStartup(version, commit)

	operatorPubkey, err := decodeNpub(cfg.Identity.Npub)
	if err != nil {
		return fmt.Errorf("invalid identity.npub: %w", err)
	}

	var operatorSecret string
	if cfg.Identity.Nsec != "" {
		operatorSecret, err = decodeNsec(cfg.Identity.Nsec)
		if err != nil {
			return fmt.Errorf("invalid DITTO_NSEC: %w", err)
		}
		derived, err := nostr.GetPublicKey(operatorSecret)
		if err != nil || derived != operatorPubkey {
			return fmt.Errorf("DITTO_NSEC does not match identity.npub")
		}
	} else {
		logger.Warn("no secret key configured, derived admin events disabled")
	}

	st, err := storage.New(ctx, &cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer st.Close()
	logger.WithComponent("storage").Info("storage ready", "path", cfg.Storage.SQLitePath)

	membership, err := cache.New(&cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize dedup cache: %w", err)
	}

	subs := relay.NewStore()

	pipe := pipeline.New(cfg, pipeline.Deps{
		Store:          st,
		Cache:          membership,
		Verifier:       verify.Schnorr{},
		Policy:         policy.Chain{policy.KindAllowlist{Kinds: cfg.Policy.AllowedKinds}},
		Subs:           subs,
		Notifier:       &notify.LogSink{Logger: logger},
		Logger:         logger,
		OperatorPubkey: operatorPubkey,
		OperatorSecret: operatorSecret,
		Domain:         cfg.Site.Domain,
	})

	if cfg.Retention.Enabled {
		retainer := retention.New(st, &cfg.Retention, operatorPubkey, logger)
		retainer.Start(ctx, time.Duration(cfg.Retention.PruneIntervalHours)*time.Hour)
		logger.Info("retention enabled", "interval_hours", cfg.Retention.PruneIntervalHours)
	}

	kr := st.Relay()
	kr.Info.Name = cfg.Site.Name
	kr.Info.Description = cfg.Site.Description
	kr.Info.PubKey = operatorPubkey
	kr.Info.Software = "ditto"
	kr.Info.Version = version

	// Ingestion goes through the pipeline, not straight to the backend;
	// queries stay on the eventstore handlers wired by storage.
	ingest := func(ctx context.Context, event *nostr.Event) error {
		return translateOutcome(pipe.Process(ctx, event))
	}
	kr.StoreEvent = []func(context.Context, *nostr.Event) error{ingest}
	kr.ReplaceEvent = []func(context.Context, *nostr.Event) error{ingest}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: kr}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("relay listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("relay server failed: %w", err)
	case sig := <-sigChan:
		logger.LogShutdown(sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	// Let committed events finish their indexing and notifications
	pipe.Drain()
	return nil
}

// translateOutcome maps pipeline outcomes to the NIP-01 OK-message prefixes
// clients expect.
func translateOutcome(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pipeline.ErrDuplicate):
		return fmt.Errorf("duplicate: already have this event")
	case errors.Is(err, pipeline.ErrBlocked):
		return fmt.Errorf("blocked: %s", trimSentinel(err))
	case errors.Is(err, pipeline.ErrInvalid):
		return fmt.Errorf("invalid: %s", trimSentinel(err))
	default:
		return fmt.Errorf("error: %s", err)
	}
}

func trimSentinel(err error) string {
	msg := err.Error()
	for _, sentinel := range []string{"invalid event: ", "blocked event: ", "duplicate event: "} {
		if rest, found := strings.CutPrefix(msg, sentinel); found {
			return rest
		}
	}
	return msg
}

func decodeNpub(npub string) (string, error) {
	prefix, value, err := nip19.Decode(npub)
	if err != nil {
		return "", err
	}
	if prefix != "npub" {
		return "", fmt.Errorf("expected npub, got %s", prefix)
	}
	return value.(string), nil
}

func decodeNsec(nsec string) (string, error) {
	prefix, value, err := nip19.Decode(nsec)
	if err != nil {
		return "", err
	}
	if prefix != "nsec" {
		return "", fmt.Errorf("expected nsec, got %s", prefix)
	}
	return value.(string), nil
}

func handleInit() {
	exampleConfig, err := config.GetExampleConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading example config: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(string(exampleConfig))
}
