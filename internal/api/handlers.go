package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jinsol/smsledger/internal/config"
	"github.com/jinsol/smsledger/internal/configdoc"
	"github.com/jinsol/smsledger/internal/db"
	"github.com/jinsol/smsledger/internal/inbox"
	"github.com/jinsol/smsledger/internal/keyword"
	"github.com/jinsol/smsledger/internal/models"
	"github.com/jinsol/smsledger/internal/provider"
)

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error: message,
		Code:  code,
	})
}

type Handlers struct {
	cfg        *config.Config
	db         *db.DB
	registry   *provider.Registry
	classifier *keyword.Classifier
	triage     *inbox.Triage
}

func NewHandlers(cfg *config.Config, database *db.DB, registry *provider.Registry, classifier *keyword.Classifier, triage *inbox.Triage) *Handlers {
	return &Handlers{
		cfg:        cfg,
		db:         database,
		registry:   registry,
		classifier: classifier,
		triage:     triage,
	}
}

// Health handles GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	version, err := h.db.GetConfigVersion()
	status := "ok"
	if err != nil {
		status = "degraded"
		log.Printf("Health check: reading config version: %v", err)
	}

	resp := models.HealthResponse{
		Status:    status,
		Providers: len(h.registry.Active()),
		Version:   version,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

// Providers handles GET /api/v1/providers
func (h *Handlers) Providers(w http.ResponseWriter, r *http.Request) {
	var activeOnly *bool
	switch r.URL.Query().Get("active") {
	case "":
	case "true":
		v := true
		activeOnly = &v
	case "false":
		v := false
		activeOnly = &v
	default:
		writeError(w, http.StatusBadRequest, "active must be true or false", "INVALID_FILTER")
		return
	}

	records, err := h.db.GetProviders(activeOnly)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database error", "DB_ERROR")
		return
	}

	providers := make([]models.Provider, 0, len(records))
	for _, rec := range records {
		p := models.Provider{
			UID:      rec.UID,
			Name:     rec.Name,
			Phone:    rec.Phone,
			IconName: rec.IconName,
			Account:  rec.AccountUID,
			Active:   rec.Active,
		}
		if rec.LastSync != nil {
			p.LastSync = rec.LastSync.UTC().Format(time.RFC3339)
		}
		providers = append(providers, p)
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(models.ProvidersResponse{Providers: providers})
}

// ActivateProvider handles POST /api/v1/providers/{uid}/activate
func (h *Handlers) ActivateProvider(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")

	var req models.ActivateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "INVALID_BODY")
		return
	}
	if req.AccountUID == "" {
		writeError(w, http.StatusBadRequest, "account_uid is required", "MISSING_ACCOUNT")
		return
	}

	if err := h.registry.Activate(uid, req.AccountUID); err != nil {
		log.Printf("Failed to activate provider %s: %v", uid, err)
		writeError(w, http.StatusNotFound, "provider not found", "NOT_FOUND")
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "active", "uid": uid})
}

// DeactivateProvider handles POST /api/v1/providers/{uid}/deactivate
func (h *Handlers) DeactivateProvider(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")

	if err := h.registry.Deactivate(uid); err != nil {
		log.Printf("Failed to deactivate provider %s: %v", uid, err)
		writeError(w, http.StatusNotFound, "provider not found", "NOT_FOUND")
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "inactive", "uid": uid})
}

// Keywords handles GET /api/v1/keywords
func (h *Handlers) Keywords(w http.ResponseWriter, r *http.Request) {
	list := h.classifier.All()

	keywords := make([]models.Keyword, 0, len(list))
	for _, k := range list {
		keywords = append(keywords, models.Keyword{
			UID:      k.UID,
			Keyword:  k.Keyword,
			Priority: k.Priority,
			Account:  k.AccountUID,
		})
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(models.KeywordsResponse{Keywords: keywords})
}

// AddKeyword handles POST /api/v1/keywords
func (h *Handlers) AddKeyword(w http.ResponseWriter, r *http.Request) {
	var req models.Keyword
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "INVALID_BODY")
		return
	}
	if req.Keyword == "" {
		writeError(w, http.StatusBadRequest, "keyword is required", "MISSING_KEYWORD")
		return
	}
	if req.Account == "" {
		writeError(w, http.StatusBadRequest, "account_uid is required", "MISSING_ACCOUNT")
		return
	}

	uid, err := h.classifier.Add(req.Keyword, req.Priority, req.Account)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to add keyword", "DB_ERROR")
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(models.Keyword{
		UID:      uid,
		Keyword:  req.Keyword,
		Priority: req.Priority,
		Account:  req.Account,
	})
}

// DeleteKeyword handles DELETE /api/v1/keywords/{uid}
func (h *Handlers) DeleteKeyword(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")

	if err := h.classifier.Delete(uid); err != nil {
		log.Printf("Failed to delete keyword %s: %v", uid, err)
		writeError(w, http.StatusNotFound, "keyword not found", "NOT_FOUND")
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "deleted", "uid": uid})
}

// ReorderKeywords handles PUT /api/v1/keywords/priorities
func (h *Handlers) ReorderKeywords(w http.ResponseWriter, r *http.Request) {
	var req models.ReorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "INVALID_BODY")
		return
	}
	if len(req.Updates) == 0 {
		writeError(w, http.StatusBadRequest, "updates must not be empty", "MISSING_UPDATES")
		return
	}

	updates := make([]db.PriorityUpdate, 0, len(req.Updates))
	for _, u := range req.Updates {
		updates = append(updates, db.PriorityUpdate{UID: u.UID, Priority: u.Priority})
	}

	if err := h.classifier.UpdatePriorities(updates); err != nil {
		log.Printf("Failed to reorder keywords: %v", err)
		writeError(w, http.StatusConflict, "priority batch rejected", "REORDER_FAILED")
		return
	}

	h.Keywords(w, r)
}

// ImportMessages handles POST /api/v1/messages
func (h *Handlers) ImportMessages(w http.ResponseWriter, r *http.Request) {
	var req models.ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "INVALID_BODY")
		return
	}
	for _, m := range req.Messages {
		if m.MessageID == "" {
			writeError(w, http.StatusBadRequest, "every message needs a message_id", "MISSING_MESSAGE_ID")
			return
		}
	}

	imported, parsed, err := h.triage.Import(req.Messages)
	if err != nil {
		log.Printf("Import failed: %v", err)
		writeError(w, http.StatusInternalServerError, "import failed", "IMPORT_FAILED")
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(models.ImportResponse{Imported: imported, Parsed: parsed})
}

// Inbox handles GET /api/v1/inbox
func (h *Handlers) Inbox(w http.ResponseWriter, r *http.Request) {
	filter := db.InboxFilter{
		ProviderUID:  r.URL.Query().Get("provider_uid"),
		MemoContains: r.URL.Query().Get("memo"),
	}
	var ok bool
	if filter.Parsed, ok = boolFilter(r, "parsed"); !ok {
		writeError(w, http.StatusBadRequest, "parsed must be true or false", "INVALID_FILTER")
		return
	}
	if filter.Completed, ok = boolFilter(r, "completed"); !ok {
		writeError(w, http.StatusBadRequest, "completed must be true or false", "INVALID_FILTER")
		return
	}

	entries, err := h.triage.Entries(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database error", "DB_ERROR")
		return
	}

	out := make([]models.InboxEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, inboxEntryView(e))
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(models.InboxResponse{Entries: out})
}

// InboxEntry handles GET /api/v1/inbox/{uid}
func (h *Handlers) InboxEntry(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")

	entry, err := h.triage.Entry(uid)
	if errors.Is(err, inbox.ErrNotFound) {
		writeError(w, http.StatusNotFound, "inbox entry not found", "NOT_FOUND")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database error", "DB_ERROR")
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(inboxEntryView(*entry))
}

// SetMemo handles PUT /api/v1/inbox/{uid}/memo
func (h *Handlers) SetMemo(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")

	var req struct {
		Memo string `json:"memo"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "INVALID_BODY")
		return
	}

	if err := h.triage.SetMemo(uid, req.Memo); err != nil {
		log.Printf("Failed to set memo on %s: %v", uid, err)
		writeError(w, http.StatusNotFound, "inbox entry not found or completed", "NOT_FOUND")
		return
	}

	entry, err := h.triage.Entry(uid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database error", "DB_ERROR")
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(inboxEntryView(*entry))
}

// Register handles POST /api/v1/inbox/{uid}/register
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")

	txnUID, err := h.triage.Complete(uid)
	switch {
	case errors.Is(err, inbox.ErrNotFound):
		writeError(w, http.StatusNotFound, "inbox entry not found", "NOT_FOUND")
		return
	case errors.Is(err, inbox.ErrAlreadyCompleted):
		writeError(w, http.StatusConflict, "entry already registered", "ALREADY_COMPLETED")
		return
	case errors.Is(err, inbox.ErrNotParsed):
		writeError(w, http.StatusUnprocessableEntity, "entry has no parsed amount", "NOT_PARSED")
		return
	case errors.Is(err, inbox.ErrNoKeyword):
		writeError(w, http.StatusUnprocessableEntity, "no keyword matches the memo", "NO_KEYWORD")
		return
	case errors.Is(err, inbox.ErrNotActive):
		writeError(w, http.StatusUnprocessableEntity, "provider is not active", "PROVIDER_INACTIVE")
		return
	case err != nil:
		log.Printf("Failed to register %s: %v", uid, err)
		writeError(w, http.StatusInternalServerError, "registration failed", "REGISTER_FAILED")
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(models.RegisterResponse{TransactionUID: txnUID})
}

// ReloadConfig handles POST /api/v1/config/reload
func (h *Handlers) ReloadConfig(w http.ResponseWriter, r *http.Request) {
	doc, err := configdoc.Load(h.cfg.ConfigPath)
	if err != nil {
		log.Printf("Failed to load config document: %v", err)
		writeError(w, http.StatusInternalServerError, "cannot load config document", "CONFIG_LOAD_FAILED")
		return
	}

	err = h.registry.LoadAll(doc)
	if errors.Is(err, provider.ErrVersionNotNewer) {
		version, verr := h.db.GetConfigVersion()
		if verr != nil {
			writeError(w, http.StatusInternalServerError, "database error", "DB_ERROR")
			return
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(models.ReloadResponse{Status: "current", Version: version})
		return
	}
	if err != nil {
		log.Printf("Failed to reload providers: %v", err)
		writeError(w, http.StatusInternalServerError, "reload failed", "RELOAD_FAILED")
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(models.ReloadResponse{Status: "loaded", Version: doc.Version})
}

func inboxEntryView(e inbox.Entry) models.InboxEntry {
	rec := e.Record
	view := models.InboxEntry{
		UID:            rec.UID,
		MessageID:      rec.MessageID,
		Timestamp:      rec.Timestamp,
		Address:        rec.Address,
		Body:           rec.Body,
		ProviderUID:    rec.ProviderUID,
		State:          string(e.State),
		Parsed:         rec.Parsed,
		Amount:         rec.Amount,
		Currency:       rec.Currency,
		Memo:           rec.Memo,
		Fields:         e.Fields,
		Completed:      rec.Completed,
		TransactionUID: rec.TransactionUID,
	}
	if e.Keyword != nil {
		view.KeywordUID = e.Keyword.UID
	}
	return view
}

func boolFilter(r *http.Request, name string) (*bool, bool) {
	switch r.URL.Query().Get(name) {
	case "":
		return nil, true
	case "true":
		v := true
		return &v, true
	case "false":
		v := false
		return &v, true
	default:
		return nil, false
	}
}
