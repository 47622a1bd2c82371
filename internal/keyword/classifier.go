// Package keyword maps memo text to target accounts through an ordered
// list of substring rules. It is the fallback classifier used when a
// provider's structured fields alone don't determine where a transaction
// books.
package keyword

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jinsol/smsledger/internal/db"
)

// Keyword is one memo-substring rule. Lower priority wins.
type Keyword struct {
	UID        string
	Keyword    string
	Priority   int
	AccountUID string
}

// Classifier scans active keywords in ascending priority order. The
// in-memory list is replaced wholesale on every mutation, never mutated
// in place, so concurrent readers see a consistent snapshot.
type Classifier struct {
	db *db.DB

	mu   sync.RWMutex
	list []Keyword
}

func NewClassifier(database *db.DB) (*Classifier, error) {
	c := &Classifier{db: database}
	if err := c.Refresh(); err != nil {
		return nil, err
	}
	return c, nil
}

// Refresh reloads the sorted keyword list from storage and swaps it in.
func (c *Classifier) Refresh() error {
	records, err := c.db.GetKeywords()
	if err != nil {
		return fmt.Errorf("loading keywords: %w", err)
	}

	list := make([]Keyword, 0, len(records))
	for _, r := range records {
		list = append(list, Keyword{
			UID:        r.UID,
			Keyword:    r.Keyword,
			Priority:   r.Priority,
			AccountUID: r.AccountUID,
		})
	}

	c.mu.Lock()
	c.list = list
	c.mu.Unlock()
	return nil
}

func (c *Classifier) snapshot() []Keyword {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.list
}

// FindFirstMatch returns the first keyword (by ascending priority) whose
// text is a literal, case-sensitive substring of the memo, or nil.
func (c *Classifier) FindFirstMatch(memo string) *Keyword {
	if memo == "" {
		return nil
	}
	for _, k := range c.snapshot() {
		if strings.Contains(memo, k.Keyword) {
			match := k
			return &match
		}
	}
	return nil
}

// All returns the active keywords in ascending priority order.
func (c *Classifier) All() []Keyword {
	return c.snapshot()
}

// Add creates a keyword rule and returns its uid.
func (c *Classifier) Add(keyword string, priority int, accountUID string) (string, error) {
	uid := uuid.NewString()
	err := c.db.AddKeyword(db.KeywordRecord{
		UID:        uid,
		Keyword:    keyword,
		Priority:   priority,
		AccountUID: accountUID,
	})
	if err != nil {
		return "", fmt.Errorf("adding keyword: %w", err)
	}
	return uid, c.Refresh()
}

// Delete removes a keyword rule. The in-memory list is refreshed before
// returning, so no later classification sees the deleted rule.
func (c *Classifier) Delete(uid string) error {
	if err := c.db.DeleteKeyword(uid); err != nil {
		return fmt.Errorf("deleting keyword: %w", err)
	}
	return c.Refresh()
}

// UpdatePriorities reassigns priorities as one atomic batch. On failure
// nothing is persisted and the in-memory list is left unchanged.
func (c *Classifier) UpdatePriorities(updates []db.PriorityUpdate) error {
	if err := c.db.UpdateKeywordPriorities(updates); err != nil {
		return fmt.Errorf("updating priorities: %w", err)
	}
	return c.Refresh()
}
