package paxos

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
)

// Transport handles network communication between replicas. The core never
// sees addresses beyond the opaque ReplyAddress tokens it echoes back.
type Transport interface {
	// Start begins listening for incoming messages
	Start() error
	// Stop shuts down the transport
	Stop() error
	Sender
	// SetMessageHandler sets the handler for incoming messages
	SetMessageHandler(handler func(sender ReplyAddress, msg Message))
}

// envelope is the wire frame: a kind tag plus the JSON-encoded message.
type envelope struct {
	Kind    MessageKind     `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

func encodeMessage(msg Message) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", msg.Kind(), err)
	}
	return json.Marshal(envelope{Kind: msg.Kind(), Payload: payload})
}

func decodeMessage(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	var msg Message
	switch env.Kind {
	case PrepareKind:
		msg = &Prepare{}
	case PrepareAckKind:
		msg = &PrepareAck{}
	case PrepareNackKind:
		msg = &PrepareNack{}
	case AcceptKind:
		msg = &Accept{}
	case AcceptAckKind:
		msg = &AcceptAck{}
	case AcceptNackKind:
		msg = &AcceptNack{}
	case CommitKind:
		msg = &Commit{}
	case HeartbeatKind:
		msg = &Heartbeat{}
	case RetransmitRequestKind:
		msg = &RetransmitRequest{}
	case RetransmitResponseKind:
		msg = &RetransmitResponse{}
	case NotLeaderKind:
		msg = &NotLeader{}
	case ClientRequestKind:
		msg = &ClientRequest{}
	case ClientResponseKind:
		msg = &ClientResponse{}
	default:
		return nil, fmt.Errorf("unknown message kind %d", env.Kind)
	}
	if err := json.Unmarshal(env.Payload, msg); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", env.Kind, err)
	}
	return deref(msg), nil
}

// deref returns the value the decoded pointer wraps so handlers can type
// switch on concrete message values.
func deref(msg Message) Message {
	switch m := msg.(type) {
	case *Prepare:
		return *m
	case *PrepareAck:
		return *m
	case *PrepareNack:
		return *m
	case *Accept:
		return *m
	case *AcceptAck:
		return *m
	case *AcceptNack:
		return *m
	case *Commit:
		return *m
	case *Heartbeat:
		return *m
	case *RetransmitRequest:
		return *m
	case *RetransmitResponse:
		return *m
	case *NotLeader:
		return *m
	case *ClientRequest:
		return *m
	case *ClientResponse:
		return *m
	default:
		return msg
	}
}

// UDPTransport implements Transport over UDP with JSON frames. Loss and
// reordering are the protocol's problem, which is exactly the failure model
// the retransmission subprotocol covers.
type UDPTransport struct {
	bindAddr       string
	peers          []string
	conn           *net.UDPConn
	messageHandler func(ReplyAddress, Message)
	mu             sync.RWMutex
	shutdownCh     chan struct{}
	wg             sync.WaitGroup
	logger         Logger
}

// NewUDPTransport creates a UDP transport bound to bindAddr that broadcasts
// to peers.
func NewUDPTransport(bindAddr string, peers []string, logger Logger) *UDPTransport {
	return &UDPTransport{
		bindAddr:   bindAddr,
		peers:      peers,
		shutdownCh: make(chan struct{}),
		logger:     logger,
	}
}

// Start begins listening for incoming UDP messages.
func (t *UDPTransport) Start() error {
	addr, err := net.ResolveUDPAddr("udp", t.bindAddr)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}

	t.conn = conn
	t.wg.Add(1)
	go t.listen()

	t.logger.Infof("[transport] started UDP transport on %s", t.bindAddr)
	return nil
}

// Stop shuts down the transport.
func (t *UDPTransport) Stop() error {
	close(t.shutdownCh)
	if t.conn != nil {
		if err := t.conn.Close(); err != nil {
			t.logger.Errorf("[transport] error closing connection: %v", err)
		}
	}
	t.wg.Wait()
	t.logger.Infof("[transport] stopped UDP transport")
	return nil
}

// Send delivers one message to a single address.
func (t *UDPTransport) Send(addr ReplyAddress, msg Message) error {
	data, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	udpAddr, err := net.ResolveUDPAddr("udp", string(addr))
	if err != nil {
		return fmt.Errorf("failed to resolve target address %s: %w", addr, err)
	}
	if _, err := t.conn.WriteToUDP(data, udpAddr); err != nil {
		return fmt.Errorf("failed to send to %s: %w", addr, err)
	}
	return nil
}

// Broadcast delivers one message to every peer. A peer that cannot be
// reached is logged and skipped; the quorum logic absorbs the loss.
func (t *UDPTransport) Broadcast(msg Message) error {
	for _, peer := range t.peers {
		if err := t.Send(ReplyAddress(peer), msg); err != nil {
			t.logger.Warnf("[transport] broadcast to %s failed: %v", peer, err)
		}
	}
	return nil
}

// SetMessageHandler sets the handler for incoming messages.
func (t *UDPTransport) SetMessageHandler(handler func(ReplyAddress, Message)) {
	t.mu.Lock()
	t.messageHandler = handler
	t.mu.Unlock()
}

// listen continuously reads messages from the UDP socket.
func (t *UDPTransport) listen() {
	defer t.wg.Done()

	buf := make([]byte, 65536)
	for {
		select {
		case <-t.shutdownCh:
			return
		default:
		}

		n, remoteAddr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-t.shutdownCh:
				return
			default:
				t.logger.Errorf("[transport] read error: %v", err)
				continue
			}
		}

		msg, err := decodeMessage(buf[:n])
		if err != nil {
			t.logger.Errorf("[transport] dropping malformed message from %s: %v", remoteAddr, err)
			continue
		}

		t.mu.RLock()
		handler := t.messageHandler
		t.mu.RUnlock()
		if handler != nil {
			handler(ReplyAddress(remoteAddr.String()), msg)
		}
	}
}
