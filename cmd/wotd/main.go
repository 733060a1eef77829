package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-wot/wotd/internal/codec"
	"github.com/go-wot/wotd/internal/crypto"
	"github.com/go-wot/wotd/internal/downloadpolicy"
	"github.com/go-wot/wotd/internal/fastdownload"
	"github.com/go-wot/wotd/internal/graphstore"
	"github.com/go-wot/wotd/internal/maintenance"
	"github.com/go-wot/wotd/internal/scoreengine"
	"github.com/go-wot/wotd/internal/slowdownload"
	"github.com/go-wot/wotd/internal/transport"
	"github.com/go-wot/wotd/internal/trustgraph"
	"github.com/go-wot/wotd/internal/wotapi"
	"github.com/go-wot/wotd/internal/wotlog"
)

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	var (
		dbPath       = flag.String("db", getEnvOrDefault("DATA_DIR", "./wotd-data"), "graph store directory")
		httpAddr     = flag.String("http", ":8090", "address for the status/query API, empty to disable")
		transportKnd = flag.String("transport", "stub", "network client: stub|libp2p")
		legacyEngine = flag.Bool("legacy-score-engine", false, "force every trust mutation through full recomputation instead of the incremental fast path")
	)
	flag.Parse()

	scoreengine.UseLegacyReferenceImplementation = *legacyEngine

	logger := wotlog.New("wotd", wotlog.LevelNormal)

	if err := os.MkdirAll(*dbPath, 0o755); err != nil {
		log.Fatalf("create db dir: %v", err)
	}

	store, err := graphstore.NewSQLiteStore(&graphstore.SQLiteConfig{
		Path: filepath.Join(*dbPath, "graph.db"),
	}, graphstore.WithLogger(wotlog.New("graphstore", wotlog.LevelNormal)))
	if err != nil {
		log.Fatalf("open graph store: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var client transport.NetworkClient
	switch *transportKnd {
	case "stub":
		client = transport.NewStub()
	case "libp2p":
		verifier := crypto.NewEd25519Verifier()
		identityCodec := codec.NewIdentityFileCodec(verifier)
		libp2pClient, err := transport.NewLibP2PClient(ctx, transport.DefaultLibP2PConfig(), identityCodec, wotlog.New("transport.libp2p", wotlog.LevelNormal))
		if err != nil {
			log.Fatalf("start libp2p transport: %v", err)
		}
		defer libp2pClient.Close()
		client = libp2pClient
	default:
		log.Fatalf("unknown -transport %q (want stub|libp2p)", *transportKnd)
	}

	// Wiring order matches the dependency chain of §3: graph notifies the
	// score engine, the score engine notifies the download policy, and
	// the download policy drives the two downloaders. Downloaders are
	// constructed first since the policy needs both as plain interfaces.
	fast := fastdownload.New(store, nil, client, wotlog.New("fastdownload", wotlog.LevelNormal))
	pad, err := graphstore.NewPriorityPad(crypto.NewSecureRandomnessProvider())
	if err != nil {
		log.Fatalf("generate priority pad: %v", err)
	}
	slow := slowdownload.New(store, nil, client, pad, slowdownload.DefaultConfig(), wotlog.New("slowdownload", wotlog.LevelNormal))

	policy := downloadpolicy.New(store, fast, slow, wotlog.New("downloadpolicy", wotlog.LevelNormal))
	engine := scoreengine.New(store, policy, wotlog.New("scoreengine", wotlog.LevelNormal))
	graph := trustgraph.New(store, engine, wotlog.New("trustgraph", wotlog.LevelNormal))

	fast.SetGraph(graph)
	slow.SetGraph(graph)

	slow.Start(ctx)
	defer slow.Stop()

	statePath := filepath.Join(*dbPath, "maintenance-state.json")
	state, err := maintenance.LoadStateFile(statePath)
	if err != nil {
		log.Fatalf("load maintenance state: %v", err)
	}
	scheduler := maintenance.New(maintenance.DefaultConfig(), engine, store, state, wotlog.New("maintenance", wotlog.LevelNormal))
	scheduler.Start(maintenance.DefaultConfig())
	defer scheduler.Stop(30 * time.Second)

	var api *wotapi.Service
	serverErrors := make(chan error, 1)
	if *httpAddr != "" {
		api = wotapi.New(store, graph, scheduler, *httpAddr)
		go func() {
			logger.Normal("status API listening", map[string]interface{}{"addr": *httpAddr})
			if err := api.Start(); err != nil {
				serverErrors <- err
			}
		}()
	}

	logger.Normal("wotd started", map[string]interface{}{"db": *dbPath, "transport": *transportKnd})

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("status API failed", map[string]interface{}{"err": err.Error()})
	case <-interrupt:
		logger.Normal("shutting down", nil)
	}

	if api != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := api.Stop(shutdownCtx); err != nil {
			logger.Warning("status API shutdown error", map[string]interface{}{"err": err.Error()})
		}
	}

	fmt.Println("wotd stopped")
}
