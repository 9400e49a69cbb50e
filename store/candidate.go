package store

import "github.com/jacentio/xmlvault/xmlkey"

// DeletionCandidate is a view of one bucket entry offered to a Selector.
// The selector marks an entry for removal by assigning it a deletion order.
type DeletionCandidate struct {
	key     string
	element *xmlkey.Element
	order   *int
}

// Selector chooses which entries to delete by calling SetDeletionOrder on
// candidates. Candidates left unordered are kept.
type Selector func(candidates []*DeletionCandidate)

// Key returns the entry name.
func (c *DeletionCandidate) Key() string {
	return c.key
}

// Element returns the parsed payload.
func (c *DeletionCandidate) Element() *xmlkey.Element {
	return c.element
}

// DeletionOrder returns the assigned order and whether one is set.
func (c *DeletionCandidate) DeletionOrder() (int, bool) {
	if c.order == nil {
		return 0, false
	}
	return *c.order, true
}

// SetDeletionOrder marks the candidate for deletion. Lower orders are
// removed first.
func (c *DeletionCandidate) SetDeletionOrder(order int) {
	c.order = &order
}

// ClearDeletionOrder keeps the candidate.
func (c *DeletionCandidate) ClearDeletionOrder() {
	c.order = nil
}
