package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/jinsol/smsledger/internal/config"
	"github.com/jinsol/smsledger/internal/configdoc"
	"github.com/jinsol/smsledger/internal/db"
	"github.com/jinsol/smsledger/internal/inbox"
	"github.com/jinsol/smsledger/internal/keyword"
	"github.com/jinsol/smsledger/internal/ledger"
	"github.com/jinsol/smsledger/internal/models"
	"github.com/jinsol/smsledger/internal/phone"
	"github.com/jinsol/smsledger/internal/provider"
)

const testConfigDoc = `<?xml version="1.0" encoding="utf-8"?>
<autoregister version="3">
    <component name="cardno" value="[\d*]+"/>
    <component name="holder" value="\S+"/>
    <component name="instalment" value="일시불|[0-9]+개월"/>
    <component name="amount" value="[\d,]+"/>
    <component name="accum" value="[\d,]+"/>
    <component name="vendor" value=".+"/>
    <component name="date" value="\d{2}/\d{2}"/>
    <component name="time" value="\d{2}:\d{2}"/>
    <provider name="hanacard" phoneNo="+82-1599-1111" icon="hanacard">
        <message>하나({cardno}) {holder}님 {instalment} {amount}원 {date} {time} 누적 {accum}원 {vendor}</message>
    </provider>
</autoregister>`

const testToken = "test_token"

func setupTestServer(t *testing.T) (*httptest.Server, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "smsledger-api-test-*")
	if err != nil {
		t.Fatalf("creating temp dir: %v", err)
	}

	configPath := tmpDir + "/providers.xml"
	if err := os.WriteFile(configPath, []byte(testConfigDoc), 0644); err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("writing config document: %v", err)
	}

	cfg := &config.Config{
		Port:        "0",
		DBPath:      tmpDir + "/test.db",
		ConfigPath:  configPath,
		Region:      "KR",
		Currency:    "KRW",
		Token:       testToken,
		Timezone:    "UTC",
		ImportBatch: 100,
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("opening database: %v", err)
	}

	registry, err := provider.NewRegistry(database, phone.NewMatcher(cfg.Region))
	if err != nil {
		t.Fatalf("creating registry: %v", err)
	}
	doc, err := configdoc.Load(configPath)
	if err != nil {
		t.Fatalf("loading config document: %v", err)
	}
	if err := registry.LoadAll(doc); err != nil {
		t.Fatalf("loading providers: %v", err)
	}
	if err := registry.Activate(provider.UIDForName("hanacard"), "acct-card"); err != nil {
		t.Fatalf("activating provider: %v", err)
	}

	classifier, err := keyword.NewClassifier(database)
	if err != nil {
		t.Fatalf("creating classifier: %v", err)
	}

	book := ledger.NewBook(database)
	triage := inbox.NewTriage(database, registry, classifier, book, cfg.Currency, cfg.ImportBatch)

	router := NewRouter(cfg, database, registry, classifier, triage)
	server := httptest.NewServer(router)

	cleanup := func() {
		server.Close()
		database.Close()
		os.RemoveAll(tmpDir)
	}

	return server, cleanup
}

func doJSON(t *testing.T, method, url string, payload string) *http.Response {
	t.Helper()

	var body *bytes.Buffer
	if payload != "" {
		body = bytes.NewBufferString(payload)
	} else {
		body = &bytes.Buffer{}
	}

	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testToken)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()

	resp, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}

	var body models.HealthResponse
	json.NewDecoder(resp.Body).Decode(&body)

	if body.Status != "ok" {
		t.Errorf("expected status ok, got %v", body.Status)
	}
	if body.Providers != 1 {
		t.Errorf("expected 1 active provider, got %d", body.Providers)
	}
	if body.Version != "3" {
		t.Errorf("expected config version 3, got %q", body.Version)
	}
}

func TestImportRequiresAuth(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()

	payload := `{"messages":[{"message_id":"m1","timestamp":"2024-01-15T09:00:00Z","address":"1599-1111","body":"test"}]}`
	resp, err := http.Post(server.URL+"/api/v1/messages", "application/json", bytes.NewBufferString(payload))
	if err != nil {
		t.Fatalf("POST /messages: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected status 401 without auth, got %d", resp.StatusCode)
	}
}

func TestInvalidToken(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()

	req, _ := http.NewRequest("GET", server.URL+"/api/v1/inbox", nil)
	req.Header.Set("Authorization", "Bearer wrong_token")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /inbox: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected status 401 with invalid token, got %d", resp.StatusCode)
	}
}

func TestProvidersEndpoint(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()

	resp := doJSON(t, "GET", server.URL+"/api/v1/providers", "")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}

	var body models.ProvidersResponse
	json.NewDecoder(resp.Body).Decode(&body)

	if len(body.Providers) != 1 {
		t.Fatalf("expected 1 provider, got %d", len(body.Providers))
	}
	p := body.Providers[0]
	if p.Name != "hanacard" || !p.Active || p.Account != "acct-card" {
		t.Errorf("unexpected provider view: %+v", p)
	}

	// Deactivate, then filter on active
	resp2 := doJSON(t, "POST", server.URL+"/api/v1/providers/"+p.UID+"/deactivate", "")
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("deactivate: expected status 200, got %d", resp2.StatusCode)
	}

	resp3 := doJSON(t, "GET", server.URL+"/api/v1/providers?active=true", "")
	defer resp3.Body.Close()
	var filtered models.ProvidersResponse
	json.NewDecoder(resp3.Body).Decode(&filtered)
	if len(filtered.Providers) != 0 {
		t.Errorf("expected no active providers after deactivate, got %d", len(filtered.Providers))
	}
}

func TestActivateUnknownProvider(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()

	resp := doJSON(t, "POST", server.URL+"/api/v1/providers/no-such-uid/activate", `{"account_uid":"acct"}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", resp.StatusCode)
	}
}

func TestKeywordLifecycle(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()

	resp := doJSON(t, "POST", server.URL+"/api/v1/keywords", `{"keyword":"마트","priority":1,"account_uid":"acct-groceries"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", resp.StatusCode)
	}
	var created models.Keyword
	json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()
	if created.UID == "" {
		t.Fatal("expected uid in created keyword")
	}

	resp2 := doJSON(t, "GET", server.URL+"/api/v1/keywords", "")
	var listed models.KeywordsResponse
	json.NewDecoder(resp2.Body).Decode(&listed)
	resp2.Body.Close()
	if len(listed.Keywords) != 1 || listed.Keywords[0].Keyword != "마트" {
		t.Fatalf("unexpected keyword list: %+v", listed.Keywords)
	}

	resp3 := doJSON(t, "PUT", server.URL+"/api/v1/keywords/priorities",
		`{"updates":[{"uid":"`+created.UID+`","priority":5}]}`)
	var reordered models.KeywordsResponse
	json.NewDecoder(resp3.Body).Decode(&reordered)
	resp3.Body.Close()
	if resp3.StatusCode != http.StatusOK {
		t.Fatalf("reorder: expected status 200, got %d", resp3.StatusCode)
	}
	if reordered.Keywords[0].Priority != 5 {
		t.Errorf("expected priority 5 after reorder, got %d", reordered.Keywords[0].Priority)
	}

	resp4 := doJSON(t, "DELETE", server.URL+"/api/v1/keywords/"+created.UID, "")
	resp4.Body.Close()
	if resp4.StatusCode != http.StatusOK {
		t.Fatalf("delete: expected status 200, got %d", resp4.StatusCode)
	}

	resp5 := doJSON(t, "DELETE", server.URL+"/api/v1/keywords/"+created.UID, "")
	resp5.Body.Close()
	if resp5.StatusCode != http.StatusNotFound {
		t.Errorf("second delete: expected status 404, got %d", resp5.StatusCode)
	}
}

func TestReorderUnknownKeywordRejected(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()

	resp := doJSON(t, "PUT", server.URL+"/api/v1/keywords/priorities",
		`{"updates":[{"uid":"no-such","priority":1}]}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected status 409, got %d", resp.StatusCode)
	}
}

func TestImportAndRegisterFlow(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()

	payload := `{"messages":[{
		"message_id":"m1",
		"timestamp":"2017-05-07T10:00:00Z",
		"address":"1599-1111",
		"body":"하나(7*7*) 진*규님 일시불 76,000원 05/07 13:41 누적 461,983원 (주)채드에이컷스"
	}]}`

	resp := doJSON(t, "POST", server.URL+"/api/v1/messages", payload)
	var imported models.ImportResponse
	json.NewDecoder(resp.Body).Decode(&imported)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("import: expected status 200, got %d", resp.StatusCode)
	}
	if imported.Imported != 1 || imported.Parsed != 1 {
		t.Fatalf("expected 1 imported 1 parsed, got %+v", imported)
	}

	resp2 := doJSON(t, "GET", server.URL+"/api/v1/inbox?parsed=true", "")
	var listed models.InboxResponse
	json.NewDecoder(resp2.Body).Decode(&listed)
	resp2.Body.Close()
	if len(listed.Entries) != 1 {
		t.Fatalf("expected 1 inbox entry, got %d", len(listed.Entries))
	}
	entry := listed.Entries[0]
	if entry.State != "no_keyword" {
		t.Errorf("expected state no_keyword before keyword exists, got %q", entry.State)
	}
	if entry.Amount != "76000" || entry.Currency != "KRW" {
		t.Errorf("unexpected extraction: amount=%q currency=%q", entry.Amount, entry.Currency)
	}

	// Register must be refused until a keyword matches the memo
	resp3 := doJSON(t, "POST", server.URL+"/api/v1/inbox/"+entry.UID+"/register", "")
	resp3.Body.Close()
	if resp3.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("register without keyword: expected status 422, got %d", resp3.StatusCode)
	}

	resp4 := doJSON(t, "POST", server.URL+"/api/v1/keywords", `{"keyword":"채드","priority":1,"account_uid":"acct-food"}`)
	resp4.Body.Close()

	resp5 := doJSON(t, "POST", server.URL+"/api/v1/inbox/"+entry.UID+"/register", "")
	var registered models.RegisterResponse
	json.NewDecoder(resp5.Body).Decode(&registered)
	resp5.Body.Close()
	if resp5.StatusCode != http.StatusOK {
		t.Fatalf("register: expected status 200, got %d", resp5.StatusCode)
	}
	if registered.TransactionUID == "" {
		t.Fatal("expected transaction uid in register response")
	}

	// Second registration of the same entry must be refused
	resp6 := doJSON(t, "POST", server.URL+"/api/v1/inbox/"+entry.UID+"/register", "")
	resp6.Body.Close()
	if resp6.StatusCode != http.StatusConflict {
		t.Errorf("second register: expected status 409, got %d", resp6.StatusCode)
	}

	resp7 := doJSON(t, "GET", server.URL+"/api/v1/inbox/"+entry.UID, "")
	var final models.InboxEntry
	json.NewDecoder(resp7.Body).Decode(&final)
	resp7.Body.Close()
	if final.State != "completed" || final.TransactionUID != registered.TransactionUID {
		t.Errorf("unexpected final entry: state=%q txn=%q", final.State, final.TransactionUID)
	}
}

func TestSetMemoReclassifies(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()

	payload := `{"messages":[{
		"message_id":"m1",
		"timestamp":"2017-05-07T10:00:00Z",
		"address":"1599-1111",
		"body":"하나(7*7*) 진*규님 일시불 76,000원 05/07 13:41 누적 461,983원 (주)채드에이컷스"
	}]}`
	resp := doJSON(t, "POST", server.URL+"/api/v1/messages", payload)
	resp.Body.Close()

	resp2 := doJSON(t, "POST", server.URL+"/api/v1/keywords", `{"keyword":"커피","priority":1,"account_uid":"acct-coffee"}`)
	resp2.Body.Close()

	resp3 := doJSON(t, "GET", server.URL+"/api/v1/inbox", "")
	var listed models.InboxResponse
	json.NewDecoder(resp3.Body).Decode(&listed)
	resp3.Body.Close()
	entry := listed.Entries[0]
	if entry.State != "no_keyword" {
		t.Fatalf("expected no_keyword before memo edit, got %q", entry.State)
	}

	resp4 := doJSON(t, "PUT", server.URL+"/api/v1/inbox/"+entry.UID+"/memo", `{"memo":"시내 커피"}`)
	var edited models.InboxEntry
	json.NewDecoder(resp4.Body).Decode(&edited)
	resp4.Body.Close()
	if resp4.StatusCode != http.StatusOK {
		t.Fatalf("memo: expected status 200, got %d", resp4.StatusCode)
	}
	if edited.State != "keyword_matched" {
		t.Errorf("expected keyword_matched after memo edit, got %q", edited.State)
	}
}

func TestInboxFilterValidation(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()

	resp := doJSON(t, "GET", server.URL+"/api/v1/inbox?parsed=maybe", "")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected status 400 for bad filter, got %d", resp.StatusCode)
	}
}

func TestReloadConfigSameVersion(t *testing.T) {
	server, cleanup := setupTestServer(t)
	defer cleanup()

	resp := doJSON(t, "POST", server.URL+"/api/v1/config/reload", "")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}

	var body models.ReloadResponse
	json.NewDecoder(resp.Body).Decode(&body)
	if body.Status != "current" || body.Version != "3" {
		t.Errorf("expected current/3, got %+v", body)
	}
}
