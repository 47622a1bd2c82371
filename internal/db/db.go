package db

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
-- Loaded configuration metadata (version token etc.)
CREATE TABLE IF NOT EXISTS config_meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

-- Provider definitions loaded from the configuration document
CREATE TABLE IF NOT EXISTS providers (
    uid TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    phone TEXT NOT NULL,
    patterns TEXT NOT NULL,
    globs TEXT NOT NULL,
    icon_name TEXT,
    account_uid TEXT,
    active INTEGER NOT NULL DEFAULT 0,
    last_sync TEXT
);

-- Inbox of triaged messages
CREATE TABLE IF NOT EXISTS inbox (
    uid TEXT PRIMARY KEY,
    message_id TEXT UNIQUE NOT NULL,
    message_type TEXT NOT NULL DEFAULT 'sms',
    timestamp TEXT NOT NULL,
    address TEXT NOT NULL,
    body TEXT NOT NULL,
    provider_uid TEXT,
    parsed INTEGER NOT NULL DEFAULT 0,
    amount TEXT,
    currency TEXT,
    memo TEXT,
    fields TEXT,
    completed INTEGER NOT NULL DEFAULT 0,
    transaction_uid TEXT
);

-- Keyword rules mapping memo substrings to target accounts
CREATE TABLE IF NOT EXISTS keywords (
    uid TEXT PRIMARY KEY,
    keyword TEXT NOT NULL,
    priority INTEGER NOT NULL,
    account_uid TEXT NOT NULL
);

-- Double-entry transactions created from inbox entries
CREATE TABLE IF NOT EXISTS transactions (
    uid TEXT PRIMARY KEY,
    timestamp TEXT NOT NULL,
    memo TEXT,
    currency TEXT NOT NULL,
    amount TEXT NOT NULL,
    debit_account TEXT NOT NULL,
    credit_account TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_providers_active ON providers(active);
CREATE INDEX IF NOT EXISTS idx_inbox_provider ON inbox(provider_uid);
CREATE INDEX IF NOT EXISTS idx_inbox_timestamp ON inbox(timestamp);
CREATE INDEX IF NOT EXISTS idx_keywords_priority ON keywords(priority);
`

type DB struct {
	conn *sql.DB
}

func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return db, nil
}

func (db *DB) migrate() error {
	_, err := db.conn.Exec(schema)
	if err != nil {
		return fmt.Errorf("executing migration: %w", err)
	}
	return nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

// GetConfigVersion returns the version token of the loaded configuration,
// or "" if none was ever loaded.
func (db *DB) GetConfigVersion() (string, error) {
	var v string
	err := db.conn.QueryRow(`SELECT value FROM config_meta WHERE key = 'config_version'`).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

// SetConfigVersion records the version token of the loaded configuration.
func (db *DB) SetConfigVersion(version string) error {
	_, err := db.conn.Exec(`
		INSERT INTO config_meta (key, value) VALUES ('config_version', ?)
		ON CONFLICT(key) DO UPDATE SET value = ?
	`, version, version)
	return err
}

// ProviderRecord is a provider definition row.
type ProviderRecord struct {
	UID        string
	Name       string
	Phone      string
	Patterns   string // separator-joined compiled regex sources
	Globs      string // separator-joined glob strings, parallel to Patterns
	IconName   string
	AccountUID string
	Active     bool
	LastSync   *time.Time
}

// UpsertProviders bulk-loads provider definitions in one transaction.
// Existing rows keep their account binding and active flag; only the
// definition fields coming from the configuration document are replaced.
func (db *DB) UpsertProviders(records []ProviderRecord) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO providers (uid, name, phone, patterns, globs, icon_name)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(uid) DO UPDATE SET
			name = excluded.name,
			phone = excluded.phone,
			patterns = excluded.patterns,
			globs = excluded.globs,
			icon_name = excluded.icon_name
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.Exec(r.UID, r.Name, r.Phone, r.Patterns, r.Globs, r.IconName); err != nil {
			return fmt.Errorf("upserting provider %s: %w", r.UID, err)
		}
	}

	return tx.Commit()
}

const providerColumns = `uid, name, phone, patterns, globs, icon_name, account_uid, active, last_sync`

func scanProvider(scan func(dest ...interface{}) error) (*ProviderRecord, error) {
	var r ProviderRecord
	var active int
	var iconName, accountUID, lastSync sql.NullString
	if err := scan(&r.UID, &r.Name, &r.Phone, &r.Patterns, &r.Globs, &iconName, &accountUID, &active, &lastSync); err != nil {
		return nil, err
	}
	r.IconName = iconName.String
	r.AccountUID = accountUID.String
	r.Active = active == 1
	if lastSync.Valid {
		t, _ := time.Parse(time.RFC3339, lastSync.String)
		r.LastSync = &t
	}
	return &r, nil
}

// GetProviders returns provider rows, optionally filtered by active flag.
func (db *DB) GetProviders(activeOnly *bool) ([]ProviderRecord, error) {
	query := `SELECT ` + providerColumns + ` FROM providers`
	var args []interface{}
	if activeOnly != nil {
		query += ` WHERE active = ?`
		args = append(args, boolInt(*activeOnly))
	}
	query += ` ORDER BY name ASC`

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var providers []ProviderRecord
	for rows.Next() {
		r, err := scanProvider(rows.Scan)
		if err != nil {
			return nil, err
		}
		providers = append(providers, *r)
	}
	return providers, rows.Err()
}

// GetProvider returns a single provider row, or nil if absent.
func (db *DB) GetProvider(uid string) (*ProviderRecord, error) {
	row := db.conn.QueryRow(`SELECT `+providerColumns+` FROM providers WHERE uid = ?`, uid)
	r, err := scanProvider(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// SetProviderActive flips a provider's active flag. Activation binds the
// target account and stamps last_sync; deactivation leaves the binding in
// place so reactivation restores it.
func (db *DB) SetProviderActive(uid, accountUID string, active bool) error {
	var res sql.Result
	var err error
	if active {
		res, err = db.conn.Exec(`
			UPDATE providers SET active = 1, account_uid = ?, last_sync = ? WHERE uid = ?
		`, accountUID, time.Now().UTC().Format(time.RFC3339), uid)
	} else {
		res, err = db.conn.Exec(`UPDATE providers SET active = 0 WHERE uid = ?`, uid)
	}
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("provider %s not found", uid)
	}
	return nil
}

// InboxRecord is one triaged message row.
type InboxRecord struct {
	UID            string
	MessageID      string
	MessageType    string
	Timestamp      time.Time
	Address        string
	Body           string
	ProviderUID    string
	Parsed         bool
	Amount         string
	Currency       string
	Memo           string
	Fields         string // JSON object of named capture groups
	Completed      bool
	TransactionUID string
}

// AddInboxEntries inserts a batch of inbox rows in one transaction.
// Re-imported messages (same message_id) are reparsed in place unless the
// entry was already completed.
func (db *DB) AddInboxEntries(records []InboxRecord) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO inbox (uid, message_id, message_type, timestamp, address, body,
			provider_uid, parsed, amount, currency, memo, fields)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			provider_uid = excluded.provider_uid,
			parsed = excluded.parsed,
			amount = excluded.amount,
			currency = excluded.currency,
			memo = excluded.memo,
			fields = excluded.fields
		WHERE inbox.completed = 0
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		_, err := stmt.Exec(r.UID, r.MessageID, r.MessageType,
			r.Timestamp.UTC().Format(time.RFC3339), r.Address, r.Body,
			nullable(r.ProviderUID), boolInt(r.Parsed), nullable(r.Amount),
			nullable(r.Currency), nullable(r.Memo), nullable(r.Fields))
		if err != nil {
			return fmt.Errorf("inserting inbox entry %s: %w", r.MessageID, err)
		}
	}

	return tx.Commit()
}

// InboxFilter narrows GetInbox results. Nil pointer fields are ignored.
type InboxFilter struct {
	ProviderUID  string
	Parsed       *bool
	Completed    *bool
	MemoContains string
}

const inboxColumns = `uid, message_id, message_type, timestamp, address, body,
	provider_uid, parsed, amount, currency, memo, fields, completed, transaction_uid`

func scanInbox(scan func(dest ...interface{}) error) (*InboxRecord, error) {
	var r InboxRecord
	var tsStr string
	var parsed, completed int
	var providerUID, amount, currency, memo, fields, txnUID sql.NullString
	err := scan(&r.UID, &r.MessageID, &r.MessageType, &tsStr, &r.Address, &r.Body,
		&providerUID, &parsed, &amount, &currency, &memo, &fields, &completed, &txnUID)
	if err != nil {
		return nil, err
	}
	r.Timestamp, _ = time.Parse(time.RFC3339, tsStr)
	r.ProviderUID = providerUID.String
	r.Parsed = parsed == 1
	r.Amount = amount.String
	r.Currency = currency.String
	r.Memo = memo.String
	r.Fields = fields.String
	r.Completed = completed == 1
	r.TransactionUID = txnUID.String
	return &r, nil
}

// GetInbox returns inbox rows in ascending timestamp order.
func (db *DB) GetInbox(filter InboxFilter) ([]InboxRecord, error) {
	query := `SELECT ` + inboxColumns + ` FROM inbox WHERE 1=1`
	var args []interface{}

	if filter.ProviderUID != "" {
		query += ` AND provider_uid = ?`
		args = append(args, filter.ProviderUID)
	}
	if filter.Parsed != nil {
		query += ` AND parsed = ?`
		args = append(args, boolInt(*filter.Parsed))
	}
	if filter.Completed != nil {
		query += ` AND completed = ?`
		args = append(args, boolInt(*filter.Completed))
	}
	if filter.MemoContains != "" {
		query += ` AND memo LIKE ?`
		args = append(args, "%"+filter.MemoContains+"%")
	}
	query += ` ORDER BY timestamp ASC`

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []InboxRecord
	for rows.Next() {
		r, err := scanInbox(rows.Scan)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *r)
	}
	return entries, rows.Err()
}

// GetInboxEntry returns one inbox row, or nil if absent.
func (db *DB) GetInboxEntry(uid string) (*InboxRecord, error) {
	row := db.conn.QueryRow(`SELECT `+inboxColumns+` FROM inbox WHERE uid = ?`, uid)
	r, err := scanInbox(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// SetInboxMemo rewrites the memo of an uncompleted entry, so keyword
// matching can be repaired by hand.
func (db *DB) SetInboxMemo(uid, memo string) error {
	res, err := db.conn.Exec(`UPDATE inbox SET memo = ? WHERE uid = ? AND completed = 0`, memo, uid)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("inbox entry %s not found or completed", uid)
	}
	return nil
}

// CompleteInboxEntry marks an entry completed and records the created
// transaction. Returns false when the entry was already completed, which
// is the at-most-once guard for transaction creation.
func (db *DB) CompleteInboxEntry(uid, transactionUID string) (bool, error) {
	res, err := db.conn.Exec(`
		UPDATE inbox SET completed = 1, transaction_uid = ?
		WHERE uid = ? AND completed = 0
	`, transactionUID, uid)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	return affected > 0, err
}

// KeywordRecord is one keyword rule row.
type KeywordRecord struct {
	UID        string
	Keyword    string
	Priority   int
	AccountUID string
}

// AddKeyword inserts a keyword rule.
func (db *DB) AddKeyword(r KeywordRecord) error {
	_, err := db.conn.Exec(`
		INSERT INTO keywords (uid, keyword, priority, account_uid)
		VALUES (?, ?, ?, ?)
	`, r.UID, r.Keyword, r.Priority, r.AccountUID)
	return err
}

// DeleteKeyword removes a keyword rule.
func (db *DB) DeleteKeyword(uid string) error {
	res, err := db.conn.Exec(`DELETE FROM keywords WHERE uid = ?`, uid)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("keyword %s not found", uid)
	}
	return nil
}

// GetKeywords returns keyword rules in ascending priority order. Ties keep
// insertion order.
func (db *DB) GetKeywords() ([]KeywordRecord, error) {
	rows, err := db.conn.Query(`
		SELECT uid, keyword, priority, account_uid
		FROM keywords
		ORDER BY priority ASC, rowid ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keywords []KeywordRecord
	for rows.Next() {
		var r KeywordRecord
		if err := rows.Scan(&r.UID, &r.Keyword, &r.Priority, &r.AccountUID); err != nil {
			return nil, err
		}
		keywords = append(keywords, r)
	}
	return keywords, rows.Err()
}

// PriorityUpdate pairs a keyword uid with its new priority.
type PriorityUpdate struct {
	UID      string
	Priority int
}

// UpdateKeywordPriorities applies a batch of priority changes atomically.
// If any uid is unknown the whole batch rolls back.
func (db *DB) UpdateKeywordPriorities(updates []PriorityUpdate) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`UPDATE keywords SET priority = ? WHERE uid = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, u := range updates {
		res, err := stmt.Exec(u.Priority, u.UID)
		if err != nil {
			return fmt.Errorf("updating keyword %s: %w", u.UID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("keyword %s not found", u.UID)
		}
	}

	return tx.Commit()
}

// TransactionRecord is one created double-entry transaction row.
type TransactionRecord struct {
	UID           string
	Timestamp     time.Time
	Memo          string
	Currency      string
	Amount        string
	DebitAccount  string
	CreditAccount string
}

// AddTransaction records a created transaction.
func (db *DB) AddTransaction(r TransactionRecord) error {
	_, err := db.conn.Exec(`
		INSERT INTO transactions (uid, timestamp, memo, currency, amount, debit_account, credit_account, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.UID, r.Timestamp.UTC().Format(time.RFC3339), nullable(r.Memo), r.Currency,
		r.Amount, r.DebitAccount, r.CreditAccount, time.Now().UTC().Format(time.RFC3339))
	return err
}

// GetTransaction returns one transaction row, or nil if absent.
func (db *DB) GetTransaction(uid string) (*TransactionRecord, error) {
	var r TransactionRecord
	var tsStr, createdStr string
	var memo sql.NullString
	err := db.conn.QueryRow(`
		SELECT uid, timestamp, memo, currency, amount, debit_account, credit_account, created_at
		FROM transactions WHERE uid = ?
	`, uid).Scan(&r.UID, &tsStr, &memo, &r.Currency, &r.Amount, &r.DebitAccount, &r.CreditAccount, &createdStr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.Timestamp, _ = time.Parse(time.RFC3339, tsStr)
	r.Memo = memo.String
	return &r, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
