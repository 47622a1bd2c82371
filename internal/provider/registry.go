// Package provider holds compiled provider definitions and resolves
// inbound messages to the provider that sent them.
package provider

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jinsol/smsledger/internal/configdoc"
	"github.com/jinsol/smsledger/internal/db"
	"github.com/jinsol/smsledger/internal/pattern"
	"github.com/jinsol/smsledger/internal/phone"
)

// ErrVersionNotNewer signals that a configuration document's version is
// not strictly newer than the stored one. Callers treat it as "already
// current", not as a failure.
var ErrVersionNotNewer = errors.New("configuration version is not newer")

// ErrNotFound is returned when a provider uid is unknown.
var ErrNotFound = errors.New("provider not found")

// uidNamespace makes provider uids stable across reloads: the same
// provider name always maps to the same uid.
var uidNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// Definition is a provider with its compiled message patterns.
type Definition struct {
	UID        string
	Name       string
	Phone      string
	IconName   string
	AccountUID string
	Active     bool
	LastSync   *time.Time
	Patterns   []*pattern.Pattern
}

// snapshot is the immutable read view of the active provider set. It is
// rebuilt wholesale on every mutation and swapped in under the registry
// lock; readers always see either the old or the new view.
type snapshot struct {
	active []*Definition
	byUID  map[string]*Definition

	// memoized phone lookups for this snapshot's lifetime
	phoneMu   sync.Mutex
	phoneMemo map[string]*Definition
}

// Registry owns provider definitions. Mutations refresh the whole
// in-memory cache from storage; there is no incremental update.
type Registry struct {
	db      *db.DB
	matcher *phone.Matcher

	mu   sync.RWMutex
	snap *snapshot
}

func NewRegistry(database *db.DB, matcher *phone.Matcher) (*Registry, error) {
	r := &Registry{db: database, matcher: matcher}
	if err := r.Refresh(); err != nil {
		return nil, err
	}
	return r, nil
}

// UIDForName derives the stable uid for a provider name.
func UIDForName(name string) string {
	return uuid.NewSHA1(uidNamespace, []byte(name)).String()
}

// LoadAll bulk-loads a configuration document. Returns ErrVersionNotNewer
// when the document's version does not exceed the stored version.
// Providers whose templates fail to compile are skipped with a log line;
// loading continues for the rest.
func (r *Registry) LoadAll(doc *configdoc.Document) error {
	current, err := r.db.GetConfigVersion()
	if err != nil {
		return fmt.Errorf("reading stored config version: %w", err)
	}
	if !versionNewer(doc.Version, current) {
		return fmt.Errorf("%w: stored %q, incoming %q", ErrVersionNotNewer, current, doc.Version)
	}

	components := doc.ComponentMap()

	var records []db.ProviderRecord
	for _, p := range doc.Providers {
		var regexes, globs []string
		var bad bool
		for _, tmpl := range p.Messages {
			compiled, err := pattern.Compile(tmpl, components)
			if err != nil {
				log.Printf("Skipping provider %s: %v", p.Name, err)
				bad = true
				break
			}
			regexes = append(regexes, compiled.Regex())
			globs = append(globs, compiled.Glob())
		}
		if bad || len(regexes) == 0 {
			continue
		}

		phoneNo := p.PhoneNo
		if normalized, err := r.matcher.Normalize(phoneNo); err == nil {
			phoneNo = normalized
		}

		records = append(records, db.ProviderRecord{
			UID:      UIDForName(p.Name),
			Name:     p.Name,
			Phone:    phoneNo,
			Patterns: strings.Join(regexes, pattern.Separator),
			Globs:    strings.Join(globs, pattern.Separator),
			IconName: p.Icon,
		})
	}

	if err := r.db.UpsertProviders(records); err != nil {
		return fmt.Errorf("storing providers: %w", err)
	}
	if err := r.db.SetConfigVersion(doc.Version); err != nil {
		return fmt.Errorf("recording config version: %w", err)
	}

	log.Printf("Loaded %d providers (config version %s)", len(records), doc.Version)
	return r.Refresh()
}

// Refresh rebuilds the active-provider cache from storage and swaps it in.
func (r *Registry) Refresh() error {
	active := true
	records, err := r.db.GetProviders(&active)
	if err != nil {
		return fmt.Errorf("loading active providers: %w", err)
	}

	snap := &snapshot{
		byUID:     make(map[string]*Definition, len(records)),
		phoneMemo: make(map[string]*Definition),
	}
	for _, rec := range records {
		def, err := definitionFromRecord(rec)
		if err != nil {
			log.Printf("Skipping stored provider %s: %v", rec.Name, err)
			continue
		}
		snap.active = append(snap.active, def)
		snap.byUID[def.UID] = def
	}

	r.mu.Lock()
	r.snap = snap
	r.mu.Unlock()
	return nil
}

func definitionFromRecord(rec db.ProviderRecord) (*Definition, error) {
	regexes := strings.Split(rec.Patterns, pattern.Separator)
	globs := strings.Split(rec.Globs, pattern.Separator)
	if len(regexes) != len(globs) {
		return nil, fmt.Errorf("pattern/glob count mismatch: %d vs %d", len(regexes), len(globs))
	}

	patterns := make([]*pattern.Pattern, 0, len(regexes))
	for i, src := range regexes {
		p, err := pattern.FromRegex(src, globs[i])
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}

	return &Definition{
		UID:        rec.UID,
		Name:       rec.Name,
		Phone:      rec.Phone,
		IconName:   rec.IconName,
		AccountUID: rec.AccountUID,
		Active:     rec.Active,
		LastSync:   rec.LastSync,
		Patterns:   patterns,
	}, nil
}

func (r *Registry) snapshot() *snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

// FindActiveByPhone returns the first active provider whose phone identity
// matches the sender address, or nil. Results are memoized per raw input
// for the lifetime of the current cache.
func (r *Registry) FindActiveByPhone(phoneNo string) *Definition {
	snap := r.snapshot()

	snap.phoneMu.Lock()
	if def, ok := snap.phoneMemo[phoneNo]; ok {
		snap.phoneMu.Unlock()
		return def
	}
	snap.phoneMu.Unlock()

	var found *Definition
	for _, def := range snap.active {
		if r.matcher.SameNumber(phoneNo, def.Phone) {
			found = def
			break
		}
	}

	snap.phoneMu.Lock()
	snap.phoneMemo[phoneNo] = found
	snap.phoneMu.Unlock()
	return found
}

// FindActiveByUID returns the active provider with the given uid, or nil.
func (r *Registry) FindActiveByUID(uid string) *Definition {
	return r.snapshot().byUID[uid]
}

// Active returns the current active provider set.
func (r *Registry) Active() []*Definition {
	return r.snapshot().active
}

// Activate binds a target account and enables the provider for matching.
func (r *Registry) Activate(uid, accountUID string) error {
	if err := r.db.SetProviderActive(uid, accountUID, true); err != nil {
		return fmt.Errorf("activating provider: %w", err)
	}
	return r.Refresh()
}

// Deactivate disables the provider for matching. The account binding is
// kept so reactivation restores it.
func (r *Registry) Deactivate(uid string) error {
	if err := r.db.SetProviderActive(uid, "", false); err != nil {
		return fmt.Errorf("deactivating provider: %w", err)
	}
	return r.Refresh()
}

// versionNewer reports whether incoming is strictly newer than current.
// Versions compare numerically when both parse as integers, else
// lexically. An empty current always loses.
func versionNewer(incoming, current string) bool {
	if current == "" {
		return true
	}
	in, errIn := strconv.Atoi(incoming)
	cur, errCur := strconv.Atoi(current)
	if errIn == nil && errCur == nil {
		return in > cur
	}
	return incoming > current
}
