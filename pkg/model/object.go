package model

import (
	"fmt"
	"time"
)

// ObjectRecord is one live object of a heap dump.
type ObjectRecord struct {
	ID          string `json:"id"`
	TypeName    string `json:"type"`
	ShallowSize int64  `json:"shallow_size"`
	// RetainedSize is the declared retained size. Zero means the dump did not
	// carry one and it has to be computed from the reference graph.
	RetainedSize int64 `json:"retained_size,omitempty"`
	// Refs are outgoing, non-owning references to other object ids.
	Refs       []string  `json:"refs,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}

// Validate checks the record invariants.
func (o *ObjectRecord) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("object has no identifier")
	}
	if o.ShallowSize < 0 {
		return fmt.Errorf("object %s has negative shallow size %d", o.ID, o.ShallowSize)
	}
	if o.RetainedSize != 0 && o.RetainedSize < o.ShallowSize {
		return fmt.Errorf("object %s retained size %d is smaller than shallow size %d",
			o.ID, o.RetainedSize, o.ShallowSize)
	}
	return nil
}

// HasDeclaredRetained reports whether the dump carried a retained size.
func (o *ObjectRecord) HasDeclaredRetained() bool {
	return o.RetainedSize > 0
}

// Capture is one thread dump and heap dump pair taken at about the same time.
type Capture struct {
	Threads []ThreadSnapshot `json:"threads"`
	Objects []ObjectRecord   `json:"objects"`
}

// IsEmpty reports whether both snapshots are empty.
func (c *Capture) IsEmpty() bool {
	return len(c.Threads) == 0 && len(c.Objects) == 0
}
