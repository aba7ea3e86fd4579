package queue

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Action is the change a queue item announces to the search engines.
type Action string

const (
	ActionUpdated Action = "updated"
	ActionDeleted Action = "deleted"
)

// Status is the delivery state of a queue item. Items start Pending and are
// moved to Done or Failed by the dispatcher; terminal states are never
// re-entered.
type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Engine identifiers as stored in the engines column and the engine
// (last attempt) column.
const (
	EngineBing   = "bing"
	EngineGoogle = "google"
)

// EngineSet is the set of engines an item was enqueued for. It is persisted
// as a JSON array in a single column.
type EngineSet []string

// Has reports whether name is part of the set.
func (e EngineSet) Has(name string) bool {
	for _, n := range e {
		if n == name {
			return true
		}
	}

	return false
}

func (e *EngineSet) Scan(value interface{}) error {
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, e)
	case string:
		return json.Unmarshal([]byte(v), e)
	case nil:
		*e = nil
		return nil
	default:
		return errors.New("EngineSet.Scan: invalid datatype for column engines")
	}
}

func (e EngineSet) Value() (driver.Value, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}

	// Stored as text, not a blob, for the TEXT affinity drivers.
	return string(b), nil
}

// Item is one row of the submission queue: a single (URL, action) intent,
// possibly fanned out to several engines.
type Item struct {
	ID       int64
	URL      string
	Action   Action
	Engines  EngineSet
	Status   Status
	Engine   string // engine of the last recorded attempt, empty before any
	HTTPCode int
	Response string
	Attempts int

	CreatedAt   time.Time
	ProcessedAt time.Time // zero until an outcome is recorded
}
