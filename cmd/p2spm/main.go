// File: cmd/p2spm/main.go
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/frstrtr/rebot-sub001/api"
	"github.com/frstrtr/rebot-sub001/config"
	"github.com/frstrtr/rebot-sub001/node"
)

func main() {
	// Command line arguments
	var port = flag.Int("port", 9828, "P2P listen port")
	var httpAddr = flag.String("http", ":8081", "HTTP gateway listen address")
	var wsAddr = flag.String("ws", ":9000", "WebSocket gateway listen address")
	var dataDir = flag.String("data", "", "Data directory (default: ./data-<port>)")
	var bootstraps = flag.String("bootstrap", "", "Comma-separated bootstrap peers (host:port)")

	flag.Parse()

	// Set default data directory if not provided
	if *dataDir == "" {
		*dataDir = fmt.Sprintf("./data-%d", *port)
	}

	fmt.Printf("🚀 Starting p2spm node on port %d...\n", *port)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg.DataDir = *dataDir
	cfg.P2P.ListenPort = *port
	cfg.API.HTTPAddr = *httpAddr
	cfg.API.WebSocketAddr = *wsAddr

	// Parse bootstrap peers
	if *bootstraps != "" {
		cfg.P2P.BootstrapPeers = strings.Split(*bootstraps, ",")
		fmt.Printf("📡 Bootstrap peers: %v\n", cfg.P2P.BootstrapPeers)
	} else {
		fmt.Printf("📡 No bootstrap peers (waiting for inbound connections)\n")
	}

	// Initialize node
	n, err := node.NewNode(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize node: %v", err)
	}

	fmt.Printf("🔑 Node UUID: %s\n", n.ID())

	// Start the node (opens the P2P listener and bootstrap dialers)
	if err := n.Start(); err != nil {
		log.Fatalf("Failed to start node: %v", err)
	}

	fmt.Printf("✅ Node started successfully!\n")

	// Start the local query gateways
	httpServer := api.NewServer(n, cfg.API.HTTPAddr, cfg.API.EnableCORS)
	go func() {
		if err := httpServer.Start(); err != nil {
			log.Fatalf("HTTP gateway error: %v", err)
		}
	}()

	wsServer := api.NewWSServer(n, cfg.API.WebSocketAddr)
	go func() {
		if err := wsServer.Start(); err != nil {
			log.Fatalf("WebSocket gateway error: %v", err)
		}
	}()

	// Print initial status
	printNodeStatus(n)

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	fmt.Printf("🎉 p2spm node running! Press Ctrl+C to stop.\n")
	fmt.Println("📊 Node status will be printed every 30 seconds...")

	// Status reporting ticker
	statusTicker := time.NewTicker(30 * time.Second)
	defer statusTicker.Stop()

	for {
		select {
		case <-c:
			fmt.Printf("\n🛑 Shutting down p2spm node...\n")

			if err := wsServer.Stop(); err != nil {
				log.Printf("Error stopping WebSocket gateway: %v", err)
			}
			if err := httpServer.Stop(); err != nil {
				log.Printf("Error stopping HTTP gateway: %v", err)
			}
			if err := n.Stop(); err != nil {
				log.Printf("Error stopping node: %v", err)
			}

			fmt.Println("👋 Goodbye!")
			return

		case <-statusTicker.C:
			printNodeStatus(n)
		}
	}
}

// printNodeStatus displays node status including P2P information
func printNodeStatus(n *node.Node) {
	status := n.Status()

	fmt.Printf("\n📊 === NODE STATUS ===\n")
	fmt.Printf("Running: %v\n", status["running"])
	fmt.Printf("UUID: %v\n", status["node_id"])
	fmt.Printf("Uptime: %vs\n", status["uptime_seconds"])
	fmt.Printf("Records: %v\n", status["spammer_records"])

	if p2pStats, ok := status["p2p"].(map[string]interface{}); ok {
		fmt.Printf("Connected Peers: %v\n", p2pStats["connected_peers"])
		fmt.Printf("Messages Sent: %v\n", p2pStats["messages_sent"])
		fmt.Printf("Messages Received: %v\n", p2pStats["messages_received"])
	}

	if n.PeerCount() == 0 {
		fmt.Printf("⚠️  No P2P peers connected\n")
	} else {
		fmt.Printf("✅ P2P network active\n")
	}

	fmt.Println("===================")
}
