package paxos

import "sync/atomic"

// Metrics counts protocol events. All counters are updated atomically so the
// host may read them from any goroutine while the dispatcher runs.
type Metrics struct {
	messagesIn          atomic.Uint64
	messagesOut         atomic.Uint64
	clientCommands      atomic.Uint64
	delivered           atomic.Uint64
	committed           atomic.Uint64
	timeouts            atomic.Uint64
	failovers           atomic.Uint64
	leaderElections     atomic.Uint64
	backdowns           atomic.Uint64
	heartbeatsSent      atomic.Uint64
	heartbeatsSeen      atomic.Uint64
	retransmitRequests  atomic.Uint64
	retransmitResponses atomic.Uint64
	retransmitApplied   atomic.Uint64
}

// NewMetrics creates a metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) RecordMessageIn()          { m.messagesIn.Add(1) }
func (m *Metrics) RecordMessageOut()         { m.messagesOut.Add(1) }
func (m *Metrics) RecordClientCommand()      { m.clientCommands.Add(1) }
func (m *Metrics) RecordDelivered()          { m.delivered.Add(1) }
func (m *Metrics) RecordCommitted()          { m.committed.Add(1) }
func (m *Metrics) RecordTimeout()            { m.timeouts.Add(1) }
func (m *Metrics) RecordFailover()           { m.failovers.Add(1) }
func (m *Metrics) RecordLeaderElected()      { m.leaderElections.Add(1) }
func (m *Metrics) RecordBackdown()           { m.backdowns.Add(1) }
func (m *Metrics) RecordHeartbeatSent()      { m.heartbeatsSent.Add(1) }
func (m *Metrics) RecordHeartbeatSeen()      { m.heartbeatsSeen.Add(1) }
func (m *Metrics) RecordRetransmitRequest()  { m.retransmitRequests.Add(1) }
func (m *Metrics) RecordRetransmitResponse() { m.retransmitResponses.Add(1) }
func (m *Metrics) RecordRetransmitApplied()  { m.retransmitApplied.Add(1) }

// Report is a point-in-time snapshot of the counters.
type Report struct {
	MessagesIn          uint64 `json:"messages_in"`
	MessagesOut         uint64 `json:"messages_out"`
	ClientCommands      uint64 `json:"client_commands"`
	Delivered           uint64 `json:"delivered"`
	Committed           uint64 `json:"committed"`
	Timeouts            uint64 `json:"timeouts"`
	Failovers           uint64 `json:"failovers"`
	LeaderElections     uint64 `json:"leader_elections"`
	Backdowns           uint64 `json:"backdowns"`
	HeartbeatsSent      uint64 `json:"heartbeats_sent"`
	HeartbeatsSeen      uint64 `json:"heartbeats_seen"`
	RetransmitRequests  uint64 `json:"retransmit_requests"`
	RetransmitResponses uint64 `json:"retransmit_responses"`
	RetransmitApplied   uint64 `json:"retransmit_applied"`
}

// GetReport returns a snapshot of all counters.
func (m *Metrics) GetReport() Report {
	return Report{
		MessagesIn:          m.messagesIn.Load(),
		MessagesOut:         m.messagesOut.Load(),
		ClientCommands:      m.clientCommands.Load(),
		Delivered:           m.delivered.Load(),
		Committed:           m.committed.Load(),
		Timeouts:            m.timeouts.Load(),
		Failovers:           m.failovers.Load(),
		LeaderElections:     m.leaderElections.Load(),
		Backdowns:           m.backdowns.Load(),
		HeartbeatsSent:      m.heartbeatsSent.Load(),
		HeartbeatsSeen:      m.heartbeatsSeen.Load(),
		RetransmitRequests:  m.retransmitRequests.Load(),
		RetransmitResponses: m.retransmitResponses.Load(),
		RetransmitApplied:   m.retransmitApplied.Load(),
	}
}
