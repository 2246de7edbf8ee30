// cmd/node is the main entrypoint for a guidnet overlay node.
//
// Configuration is entirely via flags/environment so a single binary can
// serve either role in the network: the one boot node (BOOT_NODE unset),
// reachable at a well-known address, or any number of ordinary nodes
// that join through it (BOOT_NODE set to that boot node's address).
//
// Example — boot node:
//
//	./node --addr :8080 --data-dir /var/guidnet/boot
//
// Example — ordinary node joining that boot node:
//
//	BOOT_NODE=localhost:8080 ./node --addr :8081 --data-dir /var/guidnet/n1
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"guidnet/internal/api"
	"guidnet/internal/broadcast"
	"guidnet/internal/dispatch"
	"guidnet/internal/guid"
	"guidnet/internal/join"
	"guidnet/internal/peerclient"
	"guidnet/internal/store"
	"guidnet/internal/syncengine"
)

func main() {
	// ── Flags ──────────────────────────────────────────────────────────────
	addr := flag.String("addr", ":8080", "Listen address (host:port), also this node's advertised address")
	bootAddrFlag := flag.String("boot-addr", "", "Boot node address (host:port); overridden by BOOT_NODE if set. Ignored on the boot node itself")
	dataDir := flag.String("data-dir", envOr("STORAGE_DIR", "/tmp/guidnet"), "Directory for WAL and snapshots")
	broadcastWorkers := flag.Int("broadcast-workers", 8, "Bounded worker pool size for outbound broadcast fan-out")
	flag.Parse()

	// BOOT_NODE unset means this process IS the boot node (spec §6); when
	// set, its value is the boot node's address to join through — not a
	// boolean flag.
	bootNodeEnv, isPeerNode := os.LookupEnv("BOOT_NODE")
	isBootNode := !isPeerNode

	bootAddr := *bootAddrFlag
	if isPeerNode && bootNodeEnv != "" {
		bootAddr = bootNodeEnv
	}
	if !isBootNode && bootAddr == "" {
		log.Fatal("FATAL: BOOT_NODE must name the boot node's address (or set --boot-addr) for a non-boot node")
	}
	selfAddr := *addr
	if isBootNode {
		bootAddr = selfAddr
	}

	syncInterval := envDuration("NETWORK_SYNC_INTERVAL", 60*time.Second)
	syncJitter := envDuration("NETWORK_SYNC_JITTER", 30*time.Second)

	if logDir := os.Getenv("LOG_DIR"); logDir != "" {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			log.Fatalf("create log dir: %v", err)
		}
		logFile, err := os.OpenFile(filepath.Join(logDir, "node.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			log.Fatalf("open log file: %v", err)
		}
		defer logFile.Close()
		log.SetOutput(logFile)
	}

	// ── Storage ────────────────────────────────────────────────────────────
	st, err := store.New(*dataDir)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()

	if isBootNode {
		// The boot node is always its own client at guid 0 — there is no
		// join handshake for it to go through.
		if err := st.SetClient(guid.Node{GUID: guid.Boot, Address: selfAddr}); err != nil {
			log.Fatalf("set boot identity: %v", err)
		}
	}

	// ── Wiring ─────────────────────────────────────────────────────────────
	dial := peerclient.NewDialer()
	dispatcher := dispatch.New(*broadcastWorkers, dial)
	joinSvc := join.New(st, isBootNode)
	broadcastEngine := broadcast.New(bootAddr, st, dial, dispatcher)
	broadcastEngine.OnDeadPeer(func(n guid.Node) {
		log.Printf("broadcast: peer %s reported dead", n.String())
	})

	// ── HTTP server ────────────────────────────────────────────────────────
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(api.Logger(), api.Recovery())

	handler := api.NewHandler(st, joinSvc, broadcastEngine)
	handler.Register(router)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// ── Background sync loop ───────────────────────────────────────────────
	// On the boot node this is a deliberate no-op: spec §4.4 says the sync
	// engine never runs there.
	ctx, cancelSync := context.WithCancel(context.Background())
	if !isBootNode {
		engine := syncengine.New(selfAddr, bootAddr, st, dial, syncInterval, syncJitter)
		go engine.Run(ctx)
	}

	// ── Background snapshot loop ───────────────────────────────────────────
	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := st.Snapshot(); err != nil {
				log.Printf("snapshot error: %v", err)
			}
		}
	}()

	// ── Graceful shutdown ──────────────────────────────────────────────────
	go func() {
		role := "node"
		if isBootNode {
			role = "boot node"
		}
		log.Printf("guidnet %s listening on %s (boot=%s)", role, *addr, bootAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down", selfAddr)
	cancelSync()
	dispatcher.StopWait()

	if err := st.Snapshot(); err != nil {
		log.Printf("final snapshot error: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("invalid %s=%q, using default %s: %v", key, v, fallback, err)
		return fallback
	}
	return d
}
