package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"paxos-smr/internal/paxos"
	"paxos-smr/internal/paxos/storage"
)

// SimpleLogger implements the paxos.Logger interface
type SimpleLogger struct {
	nodeID paxos.NodeID
}

func (l *SimpleLogger) Debugf(format string, args ...interface{}) {
	log.Printf("[node-%d] DEBUG: "+format, append([]interface{}{l.nodeID}, args...)...)
}

func (l *SimpleLogger) Infof(format string, args ...interface{}) {
	log.Printf("[node-%d] INFO: "+format, append([]interface{}{l.nodeID}, args...)...)
}

func (l *SimpleLogger) Warnf(format string, args ...interface{}) {
	log.Printf("[node-%d] WARN: "+format, append([]interface{}{l.nodeID}, args...)...)
}

func (l *SimpleLogger) Errorf(format string, args ...interface{}) {
	log.Printf("[node-%d] ERROR: "+format, append([]interface{}{l.nodeID}, args...)...)
}

// kvStore is a small deterministic executor: commands are "set key value" or
// "get key". Delivery ids dedupe re-delivery after crashes.
type kvStore struct {
	mu        sync.Mutex
	data      map[string]string
	delivered map[paxos.SlotIndex]bool
}

func newKVStore() *kvStore {
	return &kvStore{
		data:      make(map[string]string),
		delivered: make(map[paxos.SlotIndex]bool),
	}
}

func (s *kvStore) Deliver(p paxos.Payload) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parts := strings.SplitN(string(p.Command), " ", 3)
	switch parts[0] {
	case "set":
		if len(parts) != 3 {
			return []byte("ERR usage: set key value"), nil
		}
		if !s.delivered[p.DeliveryID] {
			s.data[parts[1]] = parts[2]
			s.delivered[p.DeliveryID] = true
		}
		return []byte("OK"), nil
	case "get":
		if len(parts) != 2 {
			return []byte("ERR usage: get key"), nil
		}
		return []byte(s.data[parts[1]]), nil
	default:
		return []byte("ERR unknown command"), nil
	}
}

// parsePeers parses "2=127.0.0.1:9002,3=127.0.0.1:9003" into the peer map.
func parsePeers(s string) (map[paxos.NodeID]string, error) {
	peers := make(map[paxos.NodeID]string)
	for _, entry := range strings.Split(s, ",") {
		id, addr, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			return nil, fmt.Errorf("peer entry %q is not id=addr", entry)
		}
		n, err := strconv.ParseUint(id, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("peer id %q: %w", id, err)
		}
		peers[paxos.NodeID(n)] = addr
	}
	return peers, nil
}

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	nodeID := flag.Uint("id", 1, "Node ID (unique, stable across restarts)")
	bindAddr := flag.String("bind", "127.0.0.1:9001", "Bind address")
	peersStr := flag.String("peers", "", "Comma-separated id=addr peer list")
	journalPath := flag.String("journal", "", "Path to the journal file (defaults to paxos-<id>.db)")
	demo := flag.Bool("demo", false, "Periodically submit demo commands while leader")
	flag.Parse()

	var config *paxos.Config
	var err error
	if *configPath != "" {
		config, err = paxos.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	} else {
		config = paxos.DefaultConfig()
		config.NodeID = paxos.NodeID(*nodeID)
		config.BindAddr = *bindAddr
		config.Peers, err = parsePeers(*peersStr)
		if err != nil {
			log.Fatalf("Failed to parse peers: %v", err)
		}
		config.JournalPath = *journalPath
		if config.JournalPath == "" {
			config.JournalPath = fmt.Sprintf("paxos-%d.db", config.NodeID)
		}
	}
	config.Logger = &SimpleLogger{nodeID: config.NodeID}

	journal, err := storage.NewBboltJournal(config.JournalPath)
	if err != nil {
		log.Fatalf("Failed to open journal: %v", err)
	}
	defer journal.Close()

	store := newKVStore()
	node, err := paxos.New(config, journal, store)
	if err != nil {
		log.Fatalf("Failed to create node: %v", err)
	}

	node.SetRoleChangeCallback(func(from, to paxos.Role) {
		log.Printf("[node-%d] ROLE: %s -> %s", config.NodeID, from, to)
	})

	if err := node.Start(); err != nil {
		log.Fatalf("Failed to start node: %v", err)
	}
	log.Printf("[node-%d] replica started on %s with peers %v", config.NodeID, config.BindAddr, config.Peers)

	stopDemo := make(chan struct{})
	if *demo {
		go func() {
			ticker := time.NewTicker(3 * time.Second)
			defer ticker.Stop()

			count := 0
			for {
				select {
				case <-ticker.C:
					if !node.IsLeader() {
						continue
					}
					count++
					cmd := fmt.Sprintf("set demo-%d written-by-%d", count, config.NodeID)
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					result, err := node.Submit(ctx, []byte(cmd))
					cancel()
					if err != nil {
						log.Printf("[node-%d] submit failed: %v", config.NodeID, err)
						continue
					}
					log.Printf("[node-%d] submitted %q -> %s", config.NodeID, cmd, result)
				case <-stopDemo:
					return
				}
			}
		}()
	}

	// Print statistics periodically
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				report := node.GetMetrics().GetReport()
				log.Printf("[node-%d] Metrics: role=%s committed=%d delivered=%d in=%d out=%d elections=%d backdowns=%d",
					config.NodeID, node.Role(), report.Committed, report.Delivered,
					report.MessagesIn, report.MessagesOut, report.LeaderElections, report.Backdowns)
			case <-stopDemo:
				return
			}
		}
	}()

	// Wait for termination signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down...")
	close(stopDemo)
	if err := node.Stop(); err != nil {
		log.Printf("Error stopping node: %v", err)
	}
	log.Printf("[node-%d] replica stopped", config.NodeID)
}
