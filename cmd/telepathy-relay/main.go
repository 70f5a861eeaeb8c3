// Command telepathy-relay runs a standalone relay node (spec.md §4.I):
// a WebTransport/QUIC circuit relay with no application-level state,
// plus a small Echo-based health/metrics HTTP surface.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/chanderlud/telepathy/internal/relay"
)

func main() {
	addr := flag.String("addr", ":40142", "QUIC/WebTransport listen address")
	adminAddr := flag.String("admin-addr", ":40143", "health/metrics HTTP listen address (empty to disable)")
	keyPath := flag.String("key", "local_key.pem", "path to the relay's persisted ed25519 identity")
	certValidity := flag.Duration("cert-validity", 24*time.Hour, "self-signed TLS certificate validity")
	flag.Parse()

	key, err := relay.LoadOrCreateIdentity(*keyPath)
	if err != nil {
		log.Fatalf("[relay] identity: %v", err)
	}
	node := relay.NewNode(key)
	log.Printf("[relay] peer id: %s", node.ID)

	hostname := ""
	if host, _, err := net.SplitHostPort(*addr); err == nil && host != "" {
		hostname = host
	}
	tlsConfig, fingerprint, err := relay.GenerateTLSConfig(*certValidity, hostname)
	if err != nil {
		log.Fatalf("[relay] tls: %v", err)
	}
	log.Printf("[relay] TLS certificate fingerprint: %s", fingerprint)

	if abs, err := filepath.Abs(*keyPath); err == nil {
		log.Printf("[relay] identity persisted at %s", abs)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("[relay] shutting down...")
		cancel()
	}()

	if *adminAddr != "" {
		admin := relay.NewAdmin(node)
		go func() {
			if err := admin.Run(ctx, *adminAddr); err != nil {
				log.Printf("[relay] admin server: %v", err)
			}
		}()
		log.Printf("[relay] admin http listening on %s", *adminAddr)
	}

	if err := node.Serve(ctx, *addr, tlsConfig); err != nil {
		log.Fatalf("[relay] %v", err)
	}
}
