// Package inbox drives the lifecycle of a raw message: triage against the
// provider registry and message parser, lazy keyword classification, and
// at-most-once transaction creation.
package inbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jinsol/smsledger/internal/db"
	"github.com/jinsol/smsledger/internal/keyword"
	"github.com/jinsol/smsledger/internal/ledger"
	"github.com/jinsol/smsledger/internal/message"
	"github.com/jinsol/smsledger/internal/models"
	"github.com/jinsol/smsledger/internal/provider"
	"github.com/shopspring/decimal"
)

// DefaultBatchSize bounds the working set of a bulk import.
const DefaultBatchSize = 100

// State of an inbox entry. Unparsed and NoKeyword are stable until
// external input changes them (memo edit, new keyword, re-import).
type State string

const (
	StateUnparsed       State = "unparsed"
	StateNoKeyword      State = "no_keyword"
	StateKeywordMatched State = "keyword_matched"
	StateCompleted      State = "completed"
)

var (
	// ErrNotFound means the inbox entry uid is unknown.
	ErrNotFound = errors.New("inbox entry not found")
	// ErrNotParsed means the entry has no extracted amount to register.
	ErrNotParsed = errors.New("inbox entry is not parsed")
	// ErrNoKeyword means no keyword matches the entry's memo, so no
	// target account can be determined.
	ErrNoKeyword = errors.New("no keyword matches the memo")
	// ErrNotActive means the entry's provider is not active or has no
	// bound account.
	ErrNotActive = errors.New("provider is not active")
	// ErrAlreadyCompleted guards against creating a second transaction
	// from the same entry.
	ErrAlreadyCompleted = errors.New("inbox entry already completed")
)

// Ledger is the external collaborator that books transactions.
type Ledger interface {
	CreateTransaction(ledger.Entry) (string, error)
}

// Entry is the read view of one triaged message with its resolved state.
// The keyword is looked up lazily on every read, so adding a rule later
// upgrades the display state without migration.
type Entry struct {
	Record  db.InboxRecord
	Fields  map[string]string
	State   State
	Keyword *keyword.Keyword
}

// Triage owns the inbox lifecycle.
type Triage struct {
	db         *db.DB
	registry   *provider.Registry
	classifier *keyword.Classifier
	book       Ledger
	currency   string
	batchSize  int

	// serializes completion; the at-most-once guard needs check and
	// create to be one step
	completeMu sync.Mutex
}

func NewTriage(database *db.DB, registry *provider.Registry, classifier *keyword.Classifier, book Ledger, defaultCurrency string, batchSize int) *Triage {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Triage{
		db:         database,
		registry:   registry,
		classifier: classifier,
		book:       book,
		currency:   defaultCurrency,
		batchSize:  batchSize,
	}
}

// Import triages a batch of raw messages: resolves each sender to an
// active provider, parses the body, and stores the resulting inbox rows
// in fixed-size batches in ascending timestamp order. Messages that match
// no provider are stored unparsed for visibility.
func (t *Triage) Import(messages []models.SMSMessage) (imported, parsed int, err error) {
	sorted := make([]models.SMSMessage, len(messages))
	copy(sorted, messages)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	for start := 0; start < len(sorted); start += t.batchSize {
		end := start + t.batchSize
		if end > len(sorted) {
			end = len(sorted)
		}

		batch := make([]db.InboxRecord, 0, end-start)
		for _, m := range sorted[start:end] {
			record, ok := t.triageOne(m)
			if ok {
				parsed++
			}
			batch = append(batch, record)
		}

		if err := t.db.AddInboxEntries(batch); err != nil {
			return imported, parsed, fmt.Errorf("storing inbox batch: %w", err)
		}
		imported += len(batch)
	}

	log.Printf("Imported %d messages (%d parsed)", imported, parsed)
	return imported, parsed, nil
}

// triageOne builds the inbox row for a single raw message. The returned
// bool reports whether parsing succeeded.
func (t *Triage) triageOne(m models.SMSMessage) (db.InboxRecord, bool) {
	def := t.registry.FindActiveByPhone(m.Address)

	inbound := &message.Inbound{
		Type:      message.TypeSMS,
		MessageID: m.MessageID,
		Timestamp: m.Timestamp,
		Address:   m.Address,
		Body:      m.Body,
		Provider:  def,
	}

	record := db.InboxRecord{
		UID:         uuid.NewString(),
		MessageID:   m.MessageID,
		MessageType: message.TypeSMS,
		Timestamp:   m.Timestamp,
		Address:     m.Address,
		Body:        m.Body,
	}
	if def != nil {
		record.ProviderUID = def.UID
	}

	ext := message.Triage(inbound, t.currency)
	if ext == nil {
		return record, false
	}

	fieldsJSON, err := json.Marshal(ext.Fields)
	if err != nil {
		log.Printf("Degrading message %s to unparsed: encoding fields: %v", m.MessageID, err)
		return record, false
	}

	record.Parsed = true
	record.Amount = ext.Amount.String()
	record.Currency = ext.Currency
	record.Memo = ext.Memo
	record.Fields = string(fieldsJSON)
	return record, true
}

// resolve builds the read view of a stored row, classifying the memo.
func (t *Triage) resolve(record db.InboxRecord) Entry {
	entry := Entry{Record: record}

	if record.Fields != "" {
		if err := json.Unmarshal([]byte(record.Fields), &entry.Fields); err != nil {
			log.Printf("Decoding fields of entry %s: %v", record.UID, err)
		}
	}

	switch {
	case record.Completed:
		entry.State = StateCompleted
		entry.Keyword = t.classifier.FindFirstMatch(record.Memo)
	case !record.Parsed:
		entry.State = StateUnparsed
	default:
		entry.Keyword = t.classifier.FindFirstMatch(record.Memo)
		if entry.Keyword != nil {
			entry.State = StateKeywordMatched
		} else {
			entry.State = StateNoKeyword
		}
	}
	return entry
}

// Entries returns the filtered inbox in ascending timestamp order.
func (t *Triage) Entries(filter db.InboxFilter) ([]Entry, error) {
	records, err := t.db.GetInbox(filter)
	if err != nil {
		return nil, fmt.Errorf("loading inbox: %w", err)
	}

	entries := make([]Entry, 0, len(records))
	for _, r := range records {
		entries = append(entries, t.resolve(r))
	}
	return entries, nil
}

// Entry returns the read view of one inbox entry.
func (t *Triage) Entry(uid string) (*Entry, error) {
	record, err := t.db.GetInboxEntry(uid)
	if err != nil {
		return nil, fmt.Errorf("loading inbox entry: %w", err)
	}
	if record == nil {
		return nil, ErrNotFound
	}
	entry := t.resolve(*record)
	return &entry, nil
}

// SetMemo rewrites an entry's memo so keyword matching can be repaired.
func (t *Triage) SetMemo(uid, memo string) error {
	return t.db.SetInboxMemo(uid, memo)
}

// Complete creates a balanced transaction from a keyword-matched entry
// (debit the provider's account, credit the keyword's account) and marks
// the entry completed. At most one transaction is ever created per entry;
// a ledger failure leaves the entry retriable.
func (t *Triage) Complete(uid string) (string, error) {
	t.completeMu.Lock()
	defer t.completeMu.Unlock()

	entry, err := t.Entry(uid)
	if err != nil {
		return "", err
	}

	switch entry.State {
	case StateCompleted:
		return "", ErrAlreadyCompleted
	case StateUnparsed:
		return "", ErrNotParsed
	case StateNoKeyword:
		return "", ErrNoKeyword
	}

	def := t.registry.FindActiveByUID(entry.Record.ProviderUID)
	if def == nil || def.AccountUID == "" {
		return "", ErrNotActive
	}

	amount, err := decimal.NewFromString(entry.Record.Amount)
	if err != nil {
		return "", fmt.Errorf("stored amount %q: %w", entry.Record.Amount, err)
	}

	txnUID, err := t.book.CreateTransaction(ledger.Entry{
		Amount:        amount,
		Currency:      entry.Record.Currency,
		Memo:          entry.Record.Memo,
		Timestamp:     message.TransactionTime(entry.Record.Timestamp, entry.Fields),
		DebitAccount:  def.AccountUID,
		CreditAccount: entry.Keyword.AccountUID,
	})
	if err != nil {
		// Entry stays KeywordMatched; the caller may retry.
		return "", fmt.Errorf("creating transaction: %w", err)
	}

	ok, err := t.db.CompleteInboxEntry(uid, txnUID)
	if err != nil {
		return "", fmt.Errorf("marking entry completed: %w", err)
	}
	if !ok {
		return "", ErrAlreadyCompleted
	}
	return txnUID, nil
}
