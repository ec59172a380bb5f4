package domain

// AuthEventKind classifies identity-change notifications.
type AuthEventKind int

const (
	SignedIn AuthEventKind = iota
	SignedOut
	TokenExpired
)

func (k AuthEventKind) String() string {
	switch k {
	case SignedIn:
		return "signed_in"
	case SignedOut:
		return "signed_out"
	case TokenExpired:
		return "token_expired"
	default:
		return "unknown"
	}
}

// AuthEvent is pushed by the backend whenever the session changes.
// Identity is nil for SignedOut and TokenExpired.
type AuthEvent struct {
	Kind     AuthEventKind
	Identity *Identity
}

// ChangeType is the kind of row mutation reported by a change notification.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// AllChanges lists every change type, the "*" subscription.
var AllChanges = []ChangeType{ChangeInsert, ChangeUpdate, ChangeDelete}

// ChangeEvent is a server-pushed notification that a watched row changed.
type ChangeEvent struct {
	Type     ChangeType `json:"type"`
	Table    string     `json:"table"`
	RecordID string     `json:"id"`
	OwnerID  string     `json:"user_id"`
}

// SyncState is the coarse state of the bookmark cache.
type SyncState int

const (
	SyncIdle SyncState = iota
	SyncRefreshing
	SyncError
)

func (s SyncState) String() string {
	switch s {
	case SyncIdle:
		return "idle"
	case SyncRefreshing:
		return "refreshing"
	case SyncError:
		return "error"
	default:
		return "unknown"
	}
}
