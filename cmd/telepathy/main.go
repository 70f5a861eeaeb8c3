// Command telepathy is a headless reference client: it wires internal/app
// to stdio-based implementations of the spec.md §6 collaborator interfaces
// (contact provider, call acceptor, status/call-state/chat sinks) instead
// of a real UI, which spec.md §1 explicitly leaves out of core scope.
//
// Grounded on server/cli.go's flag-subcommand dispatch shape, adapted from
// a database-backed chat server CLI to a line-oriented call-control REPL.
package main

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/chanderlud/telepathy/internal/app"
	"github.com/chanderlud/telepathy/internal/config"
	"github.com/chanderlud/telepathy/internal/peerid"
	"github.com/chanderlud/telepathy/internal/proto"
	"github.com/chanderlud/telepathy/internal/relay"
	"github.com/chanderlud/telepathy/internal/session"
	"github.com/chanderlud/telepathy/internal/stats"
)

func main() {
	keyPath := flag.String("key", "", "path to this client's persisted ed25519 identity (default: config dir)")
	relayAddr := flag.String("relay", "", "relay address, host:port (overrides config)")
	flag.Parse()

	cfg := config.Load()
	if *relayAddr != "" {
		cfg.RelayAddr = *relayAddr
	}
	path := *keyPath
	if path == "" {
		path = cfg.KeyPath
	}
	if path == "" {
		cfgPath, err := config.Path()
		if err != nil {
			log.Fatalf("config dir: %v", err)
		}
		path = filepath.Join(filepath.Dir(cfgPath), "identity.pem")
	}

	key, err := relay.LoadOrCreateIdentity(path)
	if err != nil {
		log.Fatalf("identity: %v", err)
	}
	self := peerid.FromPublicKey(key.Public().(ed25519.PublicKey))
	fmt.Printf("telepathy: your peer id is %s\n", self)
	fmt.Printf("telepathy: relay is %s\n", cfg.RelayAddr)

	local := proto.AudioHeader{
		SampleRate:   48000,
		CodecEnabled: true,
		VBR:          true,
		ResidualBits: float64(1 + cfg.NoiseLevel%8),
	}

	contacts := configContacts{entries: cfg.Contacts}

	cb := app.Callbacks{
		Contacts: contacts,
		Accept: func(ctx context.Context, peer peerid.ID, ringtone []byte, cancel <-chan struct{}) bool {
			name := peer.String()
			if c, ok := contacts.GetContact(peer); ok {
				name = c.Name
			}
			fmt.Printf("\nincoming call from %s [accept? y/n]: ", name)
			return readYesNo(cancel)
		},
		Status: func(peer peerid.ID, status session.StatusKind, relayed bool) {
			log.Printf("status: %s relayed=%v kind=%d", peer, relayed, status)
		},
		CallState: func(ev session.CallStateEvent) {
			log.Printf("call state: %+v", ev)
		},
		Chat: func(m app.ChatMessage) {
			fmt.Printf("\n<%s> %s\n", m.From, m.Text)
		},
		Stats: logStatsSink{},
		Manager: func(active, restartable bool) {
			log.Printf("manager: active=%v restartable=%v", active, restartable)
		},
	}
	a := app.New(self, cfg, local, cb)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("telepathy: shutting down...")
		a.Stop()
		cancel()
	}()

	go a.Run(ctx)

	repl(ctx, a, self, contacts)
}

// configContacts implements app.ContactProvider over the saved-contacts
// list in config.Config; resolving a contact only requires a PeerId, since
// a saved endpoint is not part of spec.md's config surface (rendezvous
// always happens through the relay).
type configContacts struct {
	entries []config.ContactEntry
}

func (c configContacts) GetContact(id peerid.ID) (app.Contact, bool) {
	for _, e := range c.entries {
		parsed, err := peerid.Parse(e.PeerID)
		if err == nil && parsed == id {
			return app.Contact{PeerID: id, Name: e.Name}, true
		}
	}
	return app.Contact{}, false
}

func (c configContacts) GetContacts() []app.Contact {
	out := make([]app.Contact, 0, len(c.entries))
	for _, e := range c.entries {
		if id, err := peerid.Parse(e.PeerID); err == nil {
			out = append(out, app.Contact{PeerID: id, Name: e.Name})
		}
	}
	return out
}

type logStatsSink struct{}

func (logStatsSink) Post(s stats.Statistics) {
	log.Printf("stats: in=%.2f out=%.2f latency=%.1fms up=%dB/s down=%dB/s loss=%d",
		s.InputLevel, s.OutputLevel, s.LatencyMs, s.UploadBps, s.DownloadBps, s.LossSamples)
}

// repl is the line-oriented command loop standing in for a real UI:
//
//	call <peer-id-hex|contact-name> <endpoint>   dial a peer and open a session (no call is placed)
//	contacts                                     list saved contacts
//	quit                                         shut down
func repl(ctx context.Context, a *app.App, self peerid.ID, contacts configContacts) {
	fmt.Println("commands: call <peer|name> <endpoint>, contacts, quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "call":
			if len(fields) < 3 {
				fmt.Println("usage: call <peer-id-hex|contact-name> <endpoint>")
				continue
			}
			peer, err := resolvePeer(contacts, fields[1])
			if err != nil {
				fmt.Printf("%v\n", err)
				continue
			}
			if err := a.StartSession(ctx, peer, []string{fields[2]}, []bool{false}); err != nil {
				fmt.Printf("session failed: %v\n", err)
				continue
			}
			fmt.Println("session established; no call placed")

		case "contacts":
			for _, c := range contacts.GetContacts() {
				fmt.Printf("  %s  %s\n", c.PeerID, c.Name)
			}

		case "quit", "exit":
			a.Stop()
			return

		default:
			fmt.Printf("unknown command %q\n", fields[0])
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// resolvePeer accepts either a hex PeerId or a saved contact name.
func resolvePeer(contacts configContacts, s string) (peerid.ID, error) {
	if id, err := peerid.Parse(s); err == nil {
		return id, nil
	}
	for _, c := range contacts.GetContacts() {
		if strings.EqualFold(c.Name, s) {
			return c.PeerID, nil
		}
	}
	return peerid.ID{}, fmt.Errorf("unknown peer or contact %q", s)
}

func readYesNo(cancel <-chan struct{}) bool {
	answered := make(chan bool, 1)
	go func() {
		var line string
		fmt.Scanln(&line)
		answered <- strings.EqualFold(strings.TrimSpace(line), "y")
	}()
	select {
	case v := <-answered:
		return v
	case <-cancel:
		return false
	}
}
