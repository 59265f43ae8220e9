package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/answerline/answerline-relay/internal/adapter"
	adapterloopback "github.com/answerline/answerline-relay/internal/adapter/loopback"
	adapteropenai "github.com/answerline/answerline-relay/internal/adapter/openai"
	"github.com/answerline/answerline-relay/internal/config"
	"github.com/answerline/answerline-relay/internal/httpserver"
	"github.com/answerline/answerline-relay/internal/ledger"
	ledgerasync "github.com/answerline/answerline-relay/internal/ledger/async"
	ledgerpg "github.com/answerline/answerline-relay/internal/ledger/postgres"
	ledgersql "github.com/answerline/answerline-relay/internal/ledger/sqlite"
	"github.com/answerline/answerline-relay/internal/logging"
	"github.com/answerline/answerline-relay/internal/relay"
)

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	const maxLogBytes = int64(100 * 1024 * 1024)
	if logTarget := strings.TrimSpace(cfg.LogFile); logTarget != "" {
		rot, err := logging.NewRotatingWriter(logTarget, maxLogBytes)
		if err != nil {
			log.Fatalf("init rotating log: %v", err)
		}
		// Mirror to stdout as well for foreground runs.
		log.SetOutput(io.MultiWriter(os.Stdout, rot))
		defer rot.Close()
	}
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetPrefix("[relayd] ")

	store, err := openLedger(cfg)
	if err != nil {
		log.Fatalf("open ledger: %v", err)
	}
	defer store.Close()

	chatAdapter, err := buildAdapter(cfg)
	if err != nil {
		log.Fatalf("init adapter: %v", err)
	}

	prompts, err := relay.LoadPrompts(cfg.PromptsFile)
	if err != nil {
		log.Fatalf("load prompts: %v", err)
	}

	rel := relay.New(chatAdapter, cfg.Model, prompts)
	rel.SetLogger(log.New(log.Writer(), "[relayd/relay] ", log.LstdFlags|log.Lmicroseconds))

	httpSrv := httpserver.New(rel, store, cfg.Model)
	httpSrv.SetAllowedOrigins(cfg.AllowedOrigins)
	httpSrv.SetLogger(cfg.LogLevel, log.New(log.Writer(), "[relayd/http] ", log.LstdFlags|log.Lmicroseconds))

	srv := &http.Server{
		Addr:        cfg.HTTPAddress,
		Handler:     httpSrv.Router(),
		ReadTimeout: 15 * time.Second,
		// No write timeout: the ask stream stays open for the whole batch.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("relay listening on %s adapter=%s model=%s", cfg.HTTPAddress, cfg.Adapter, cfg.Model)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	<-sigs

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}

func buildAdapter(cfg config.Config) (adapter.ChatAdapter, error) {
	if cfg.Adapter == "loopback" {
		log.Printf("using loopback adapter: answers are echoed, not generated")
		return adapterloopback.New(), nil
	}
	return adapteropenai.New(adapteropenai.Config{
		APIKey:         cfg.OpenAIAPIKey,
		BaseURL:        cfg.OpenAIBaseURL,
		RequestTimeout: cfg.RequestTimeout,
	})
}

func openLedger(cfg config.Config) (ledger.Store, error) {
	var (
		store ledger.Store
		err   error
	)
	if strings.HasPrefix(cfg.LedgerPath, "postgres://") || strings.HasPrefix(cfg.LedgerPath, "postgresql://") {
		store, err = ledgerpg.New(cfg.LedgerPath)
	} else {
		store, err = ledgersql.New(cfg.LedgerPath)
	}
	if err != nil {
		return nil, err
	}
	if cfg.LedgerAsync {
		store = ledgerasync.New(store, ledgerasync.Config{
			Logger: log.New(log.Writer(), "[relayd/ledger] ", log.LstdFlags),
		})
	}
	return store, nil
}
