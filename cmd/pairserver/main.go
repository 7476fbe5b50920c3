// pairserver is the anonymous pairing gateway. It accepts WebSocket
// connections, matches waiting strangers first-come first-served, and
// relays opaque payloads between the members of each pairing.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/unimeet/stranger-chat/internal/messaging"
	"github.com/unimeet/stranger-chat/internal/metrics"
	"github.com/unimeet/stranger-chat/internal/pairing"
	"github.com/unimeet/stranger-chat/internal/presence"
	"github.com/unimeet/stranger-chat/internal/protocol"
	"github.com/unimeet/stranger-chat/internal/ratelimit"
	"github.com/unimeet/stranger-chat/internal/registry"
	"github.com/unimeet/stranger-chat/internal/relay"
	"github.com/unimeet/stranger-chat/internal/ws"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:          "pairserver",
		Short:        "Anonymous one-on-one pairing gateway",
		Long:         "WebSocket gateway that pairs anonymous strangers FIFO and relays their messages.",
		SilenceUsage: true,
		RunE:         runServer,
	}

	rootCmd.Flags().String("listen", "", "WebSocket listen address (default :8080, env LISTEN_ADDR)")
	rootCmd.Flags().String("allowed-origin", "", "required Origin header on upgrades; empty allows all (env ALLOWED_ORIGIN)")
	rootCmd.Flags().String("redis-addr", "", "Redis address for presence and rate limiting (default localhost:6379, env REDIS_ADDR)")
	rootCmd.Flags().String("nats-url", "", "NATS server URL (default nats://localhost:4222, env NATS_URL)")
	rootCmd.Flags().String("metrics-addr", "", "Prometheus metrics address, e.g. :9090; disabled if empty (env METRICS_ADDR)")
	rootCmd.Flags().String("server-name", "", "gateway instance name (default hostname, env SERVER_NAME)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolve returns the flag value, falling back to the environment variable
// and then the default.
func resolve(cmd *cobra.Command, flag, env, def string) string {
	if v, _ := cmd.Flags().GetString(flag); v != "" {
		return v
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}

func runServer(cmd *cobra.Command, args []string) error {
	config := ws.DefaultServerConfig()
	config.ListenAddr = resolve(cmd, "listen", "LISTEN_ADDR", config.ListenAddr)
	config.AllowedOrigin = resolve(cmd, "allowed-origin", "ALLOWED_ORIGIN", "")

	redisAddr := resolve(cmd, "redis-addr", "REDIS_ADDR", "localhost:6379")
	metricsAddr := resolve(cmd, "metrics-addr", "METRICS_ADDR", "")

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "pair-1"
	}
	serverName := resolve(cmd, "server-name", "SERVER_NAME", hostname)

	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = resolve(cmd, "nats-url", "NATS_URL", natsConfig.URL)
	natsConfig.Name = serverName

	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}

	presenceStore, err := presence.NewStore(redisAddr, serverName)
	if err != nil {
		return fmt.Errorf("connect to Redis: %w", err)
	}

	limiter := ratelimit.NewLimiter(presenceStore.Client())

	reg := registry.New()
	engine := pairing.New(reg, pairing.NewNATSNotifier(natsClient))
	messageRelay := relay.New(engine, natsClient)

	log.Printf("pairserver starting")
	log.Printf("  listen_addr:    %s", config.ListenAddr)
	log.Printf("  allowed_origin: %q", config.AllowedOrigin)
	log.Printf("  nats_url:       %s", natsConfig.URL)
	log.Printf("  redis_addr:     %s", redisAddr)
	log.Printf("  server_name:    %s", serverName)
	log.Printf("  metrics_addr:   %q", metricsAddr)

	// Declare server early so closures can capture it.
	var server *ws.Server

	dispatcher := ws.NewMessageDispatcher()

	// -----------------------------------------------------------------------
	// startConnection — enter the matching queue
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeStartConnection, func(conn *ws.Connection, msg interface{}) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		allowed, _ := limiter.Allow(ctx, conn.ID, ratelimit.RuleSearch)
		cancel()
		if !allowed {
			log.Printf("startConnection rate limited conn=%s", conn.ID)
			sendErrSelectingPair(conn)
			return
		}

		err := engine.StartSearch(conn.ID)
		switch {
		case err == nil:
			mirrorState(presenceStore, conn.ID, string(registry.StateSearching))
			metrics.SearchRequests.WithLabelValues("enqueued").Inc()
			log.Printf("startConnection conn=%s queued", conn.ID)
		case errors.Is(err, pairing.ErrAlreadyQueued), errors.Is(err, pairing.ErrAlreadyPaired):
			// Duplicate request, drop silently.
			metrics.SearchRequests.WithLabelValues("duplicate").Inc()
		default:
			log.Printf("startConnection conn=%s: %v", conn.ID, err)
			metrics.SearchRequests.WithLabelValues("rejected").Inc()
			sendErrSelectingPair(conn)
		}
	})

	// -----------------------------------------------------------------------
	// soloUserLeftTheChat — withdraw a pending search
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeSoloUserLeft, func(conn *ws.Connection, msg interface{}) {
		engine.CancelSearch(conn.ID)
		mirrorState(presenceStore, conn.ID, string(registry.StateIdle))
		log.Printf("soloUserLeftTheChat conn=%s", conn.ID)
	})

	// -----------------------------------------------------------------------
	// pairedUserLeftTheChat — abandon the partner and search again
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypePairedUserLeft, func(conn *ws.Connection, msg interface{}) {
		engine.NextPartner(conn.ID)
		mirrorState(presenceStore, conn.ID, string(registry.StateSearching))
		log.Printf("pairedUserLeftTheChat conn=%s re-queued", conn.ID)
	})

	// -----------------------------------------------------------------------
	// private message — relay an opaque payload to the partner
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypePrivateMessage, func(conn *ws.Connection, msg interface{}) {
		pm, ok := msg.(protocol.PrivateMessageMsg)
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		allowed, _ := limiter.Allow(ctx, conn.ID, ratelimit.RuleRelay)
		cancel()
		if !allowed {
			log.Printf("private message rate limited conn=%s", conn.ID)
			dispatcher.SendError(conn, "rate_limited", "too many messages")
			return
		}

		raw, err := protocol.NewServerMessage(protocol.TypePrivateMessage, pm)
		if err != nil {
			log.Printf("private message marshal conn=%s: %v", conn.ID, err)
			return
		}

		if err := messageRelay.Relay(conn.ID, pm.To, raw); err != nil {
			if errors.Is(err, relay.ErrNotPaired) {
				sendErrSelectingPair(conn)
				return
			}
			log.Printf("private message relay conn=%s: %v", conn.ID, err)
		}
	})

	// -----------------------------------------------------------------------
	// connection lifecycle
	// -----------------------------------------------------------------------

	// subscribeRelay attaches a connection to its pairing's relay subject,
	// forwarding frames from the partner (never its own) to the local socket.
	subscribeRelay := func(connID, pairingID string) {
		err := natsClient.SubscribeRelay(pairingID, connID, func(data []byte) {
			var frame relay.Frame
			if err := json.Unmarshal(data, &frame); err != nil {
				log.Printf("[relay-sub] bad frame for conn=%s: %v", connID, err)
				return
			}
			if frame.From == connID {
				return // don't echo to sender
			}
			if err := server.SendMessage(connID, frame.Payload); err != nil {
				log.Printf("[relay-sub] deliver to conn=%s failed: %v", connID, err)
			}
		})
		if err != nil {
			log.Printf("[relay-sub] subscribe pairing=%s conn=%s failed: %v", pairingID, connID, err)
		}
	}

	server = ws.NewServer(config, reg, presenceStore, limiter, dispatcher.Dispatch)
	dispatcher.SetServer(server)

	server.SetOnConnect(func(conn *ws.Connection) {
		connID := conn.ID
		err := natsClient.SubscribePairEvents(connID, func(data []byte) {
			var event pairing.Event
			if err := json.Unmarshal(data, &event); err != nil {
				log.Printf("[pair-sub] bad event for conn=%s: %v", connID, err)
				return
			}

			switch event.Type {
			case pairing.EventEstablished:
				subscribeRelay(connID, event.PairingID)
				mirrorState(presenceStore, connID, string(registry.StatePaired))
				resp, _ := protocol.NewServerMessage(protocol.TypeStrangerData, protocol.StrangerDataMsg{
					PairedUserID:     event.PeerID,
					StrangerUsername: event.PeerName,
					PairingID:        event.PairingID,
				})
				if err := server.SendMessage(connID, resp); err != nil {
					log.Printf("[pair-sub] send stranger data to conn=%s failed: %v", connID, err)
				}

			case pairing.EventPeerLeft:
				_ = natsClient.UnsubscribeRelay(connID)
				mirrorState(presenceStore, connID, string(registry.StateIdle))
				resp, _ := protocol.NewServerMessage(protocol.TypeStrangerLeft, protocol.StrangerLeftMsg{})
				if err := server.SendMessage(connID, resp); err != nil {
					log.Printf("[pair-sub] send stranger left to conn=%s failed: %v", connID, err)
				}
			}
		})
		if err != nil {
			log.Printf("[pair-sub] subscribe conn=%s failed: %v", connID, err)
		}
	})

	server.SetOnDisconnect(func(connID string) {
		engine.HandleClose(connID)
		_ = natsClient.UnsubscribeRelay(connID)
		if err := natsClient.UnsubscribePairEvents(connID); err != nil {
			log.Printf("[disconnect] unsubscribe events conn=%s: %v", connID, err)
		}
		log.Printf("disconnect cleanup conn=%s", connID)
	})

	// Background sweep pairs waiters a racing dequeue may have left behind.
	engineCtx, engineCancel := context.WithCancel(context.Background())
	go engine.Run(engineCtx)

	if metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			log.Printf("metrics listening on %s", metricsAddr)
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.Printf("metrics server error: %v", err)
			}
		}()
	}

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		engineCancel()
		natsClient.Close()
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if err := presenceStore.Close(); err != nil {
			log.Printf("presence store close error: %v", err)
		}
		os.Exit(0)
	}()

	return server.Start()
}

// sendErrSelectingPair sends the legacy pairing failure event.
func sendErrSelectingPair(conn *ws.Connection) {
	resp, err := protocol.NewServerMessage(protocol.TypeErrSelectingPair, protocol.ErrSelectingPairMsg{})
	if err != nil {
		log.Printf("build errSelectingPair conn=%s: %v", conn.ID, err)
		return
	}
	if err := conn.WriteMessage(resp); err != nil {
		log.Printf("send errSelectingPair conn=%s: %v", conn.ID, err)
	}
}

// mirrorState updates the Redis presence mirror, best effort.
func mirrorState(store *presence.Store, connID, state string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := store.UpdateState(ctx, connID, state); err != nil {
		log.Printf("[presence] update conn=%s state=%s: %v", connID, state, err)
	}
}
