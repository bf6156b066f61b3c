package domain

import "time"

// MaxAgentIDLength and the charset rule of §3.1.
const MaxAgentIDLength = 255

var agentIDPattern = `^[A-Za-z0-9_-]{1,255}$`

// AgentProfile describes an agent at registration time (§4.8).
type AgentProfile struct {
	AgentID      string
	Capabilities []string
	RegisteredAt time.Time
	InboxCap     int
}

// AgentRecord is the registry's owned view of a live agent (§3.3).
type AgentRecord struct {
	Profile        AgentProfile
	InFlight       map[string]struct{} // cognition ids owned by this agent
	Subscriptions  []EventSelector
}

// Message is one inter-agent communication unit (§4.8).
type Message struct {
	MessageID string
	From      string
	To        string
	Payload   interface{}
	SentAt    time.Time
}
