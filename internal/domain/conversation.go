package domain

// SessionState is the submit guard of a chat session.
type SessionState string

const (
	SessionIdle    SessionState = "idle"
	SessionSending SessionState = "sending"
)

// ChatSession is the session-scoped state of one chat widget. Lease names
// the turn holding the submit lock while State is sending.
type ChatSession struct {
	ID         string
	Transcript []ChatTurn
	State      SessionState
	Lease      string
}

// TurnRecord is a single persisted transcript entry.
type TurnRecord struct {
	PK        string
	SK        string
	SessionID string
	Seq       int
	Role      Role
	Text      string
	TTL       int64
}

// SessionMeta stores aggregate session state, including the submit lock.
// Version increases on every write and guards conditional updates.
type SessionMeta struct {
	PK        string
	SK        string
	SessionID string
	Status    SessionState
	Turns     int
	LockedAt  int64
	Version   int
	TTL       int64
}
