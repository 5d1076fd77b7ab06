package gateway_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"pdsnotes/gateway"
	"pdsnotes/models"
)

// fakePDS records requests and answers with canned handlers.
type fakePDS struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   []map[string]any
	handler  func(w http.ResponseWriter, r *http.Request, body map[string]any)
}

func (f *fakePDS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	f.mu.Lock()
	f.requests = append(f.requests, r)
	f.bodies = append(f.bodies, body)
	f.mu.Unlock()
	f.handler(w, r, body)
}

func (f *fakePDS) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// setupTestGateway starts an httptest server and a client pointed at it
// with a session already installed.
func setupTestGateway(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, body map[string]any)) (*gateway.Client, *fakePDS, func()) {
	t.Helper()

	pds := &fakePDS{handler: handler}
	srv := httptest.NewServer(pds)

	client := gateway.New(gateway.Options{BaseURL: srv.URL, Timeout: 5 * time.Second, PageSize: 2})
	client.SetSession(&models.Session{
		Handle:    "alice.test",
		DID:       "did:plc:alice",
		AccessJwt: "access-token",
		PDSURL:    srv.URL,
	})

	return client, pds, srv.Close
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestCallsWithoutSessionFailFast(t *testing.T) {
	client, pds, cleanup := setupTestGateway(t, func(w http.ResponseWriter, r *http.Request, _ map[string]any) {
		writeJSON(w, http.StatusOK, map[string]any{})
	})
	defer cleanup()

	client.Logout()
	ctx := context.Background()
	note := &models.Note{Title: "x"}

	if _, _, err := client.Create(ctx, models.KindNote, note); !errors.Is(err, models.ErrNotAuthenticated) {
		t.Errorf("Create: expected ErrNotAuthenticated, got %v", err)
	}
	if _, err := client.Update(ctx, models.KindNote, "k", note); !errors.Is(err, models.ErrNotAuthenticated) {
		t.Errorf("Update: expected ErrNotAuthenticated, got %v", err)
	}
	if err := client.Delete(ctx, models.KindNote, "k"); !errors.Is(err, models.ErrNotAuthenticated) {
		t.Errorf("Delete: expected ErrNotAuthenticated, got %v", err)
	}
	if _, err := client.ListAll(ctx, models.KindNote); !models.IsNotAuthenticated(err) {
		t.Errorf("ListAll: expected ErrNotAuthenticated, got %v", err)
	}
	if pds.count() != 0 {
		t.Errorf("expected no network calls without a session, got %d", pds.count())
	}
}

func TestCreateSendsRecordAndReturnsRef(t *testing.T) {
	client, pds, cleanup := setupTestGateway(t, func(w http.ResponseWriter, r *http.Request, body map[string]any) {
		if r.URL.Path != "/xrpc/com.atproto.repo.createRecord" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"uri": "at://did:plc:alice/app.mbdio.uk.tag/3kxyz",
			"cid": "bafy123",
		})
	})
	defer cleanup()

	tag := &models.Tag{Name: "work", Color: "#112233", CreatedAt: time.Now()}
	uri, cid, err := client.Create(context.Background(), models.KindTag, tag)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if uri != "at://did:plc:alice/app.mbdio.uk.tag/3kxyz" || cid != "bafy123" {
		t.Errorf("unexpected ref %s %s", uri, cid)
	}
	if models.RKeyFromURI(uri) != "3kxyz" {
		t.Errorf("expected rkey 3kxyz from uri")
	}

	req := pds.requests[0]
	if got := req.Header.Get("Authorization"); got != "Bearer access-token" {
		t.Errorf("expected bearer header, got %q", got)
	}
	body := pds.bodies[0]
	if body["repo"] != "did:plc:alice" || body["collection"] != "app.mbdio.uk.tag" {
		t.Errorf("unexpected create body: %v", body)
	}
	record, _ := body["record"].(map[string]any)
	if record["$type"] != "app.mbdio.uk.tag" || record["name"] != "work" {
		t.Errorf("unexpected record value: %v", record)
	}
}

func TestUpdateAndDeleteCarryKey(t *testing.T) {
	client, pds, cleanup := setupTestGateway(t, func(w http.ResponseWriter, r *http.Request, body map[string]any) {
		writeJSON(w, http.StatusOK, map[string]string{"uri": "at://x/y/k1", "cid": "cid-2"})
	})
	defer cleanup()
	ctx := context.Background()

	cid, err := client.Update(ctx, models.KindNote, "k1", &models.Note{Title: "t"})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if cid != "cid-2" {
		t.Errorf("expected cid-2, got %s", cid)
	}
	if err := client.Delete(ctx, models.KindNote, "k1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if pds.requests[0].URL.Path != "/xrpc/com.atproto.repo.putRecord" || pds.bodies[0]["rkey"] != "k1" {
		t.Errorf("unexpected put request %s %v", pds.requests[0].URL.Path, pds.bodies[0])
	}
	if pds.requests[1].URL.Path != "/xrpc/com.atproto.repo.deleteRecord" || pds.bodies[1]["rkey"] != "k1" {
		t.Errorf("unexpected delete request %s %v", pds.requests[1].URL.Path, pds.bodies[1])
	}
}

func TestListAllFollowsCursor(t *testing.T) {
	client, pds, cleanup := setupTestGateway(t, func(w http.ResponseWriter, r *http.Request, _ map[string]any) {
		q := r.URL.Query()
		if q.Get("limit") != "2" || q.Get("collection") != "app.mbdio.uk.note" {
			t.Errorf("unexpected query %v", q)
		}
		switch q.Get("cursor") {
		case "":
			writeJSON(w, http.StatusOK, map[string]any{
				"records": []map[string]any{
					{"uri": "at://a/app.mbdio.uk.note/1", "cid": "c1", "value": map[string]any{"title": "one"}},
					{"uri": "at://a/app.mbdio.uk.note/2", "cid": "c2", "value": map[string]any{"title": "two"}},
				},
				"cursor": "page2",
			})
		case "page2":
			writeJSON(w, http.StatusOK, map[string]any{
				"records": []map[string]any{
					{"uri": "at://a/app.mbdio.uk.note/3", "cid": "c3", "value": map[string]any{"title": "three"}},
				},
			})
		default:
			t.Errorf("unexpected cursor %s", q.Get("cursor"))
		}
	})
	defer cleanup()

	records, err := client.ListAll(context.Background(), models.KindNote)
	if err != nil {
		t.Fatalf("ListAll failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records across pages, got %d", len(records))
	}
	if pds.count() != 2 {
		t.Errorf("expected 2 page requests, got %d", pds.count())
	}
	if records[2].CID != "c3" {
		t.Errorf("expected last record c3, got %s", records[2].CID)
	}
}

func TestRemoteFailureCarriesServerMessage(t *testing.T) {
	client, _, cleanup := setupTestGateway(t, func(w http.ResponseWriter, r *http.Request, _ map[string]any) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":   "InvalidRequest",
			"message": "record too large",
		})
	})
	defer cleanup()

	_, _, err := client.Create(context.Background(), models.KindNote, &models.Note{Title: "x"})
	re, ok := models.AsRemoteFailure(err)
	if !ok {
		t.Fatalf("expected RemoteOperationError, got %v", err)
	}
	if re.Message != "record too large" || re.Status != http.StatusBadRequest {
		t.Errorf("unexpected failure %+v", re)
	}
	if re.Kind != models.KindNote || re.Operation != models.OpCreate {
		t.Errorf("unexpected kind/op %s/%s", re.Kind, re.Operation)
	}
}

func TestRemoteFailureFallsBackToStatusText(t *testing.T) {
	client, _, cleanup := setupTestGateway(t, func(w http.ResponseWriter, r *http.Request, _ map[string]any) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "<html>upstream down</html>")
	})
	defer cleanup()

	err := client.Delete(context.Background(), models.KindFolder, "f1")
	re, ok := models.AsRemoteFailure(err)
	if !ok {
		t.Fatalf("expected RemoteOperationError, got %v", err)
	}
	if re.Message != http.StatusText(http.StatusBadGateway) {
		t.Errorf("expected status text, got %q", re.Message)
	}
	if !strings.Contains(err.Error(), "delete") {
		t.Errorf("error should name the operation: %v", err)
	}
}

func TestTransportFailureIsRemoteFailure(t *testing.T) {
	client := gateway.New(gateway.Options{BaseURL: "http://127.0.0.1:1", Timeout: time.Second})
	client.SetSession(&models.Session{DID: "did:plc:x", AccessJwt: "t", PDSURL: "http://127.0.0.1:1"})

	_, err := client.ListAll(context.Background(), models.KindTheme)
	re, ok := models.AsRemoteFailure(err)
	if !ok {
		t.Fatalf("expected RemoteOperationError for transport failure, got %v", err)
	}
	if re.Status != 0 {
		t.Errorf("expected status 0 for transport failure, got %d", re.Status)
	}
}

func TestLoginInstallsSession(t *testing.T) {
	client, pds, cleanup := setupTestGateway(t, func(w http.ResponseWriter, r *http.Request, body map[string]any) {
		if body["identifier"] != "alice.test" || body["password"] != "pw" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "AuthenticationRequired", "message": "Invalid identifier or password"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"handle":     "alice.test",
			"did":        "did:plc:alice",
			"accessJwt":  "new-access",
			"refreshJwt": "new-refresh",
		})
	})
	defer cleanup()
	client.Logout()
	ctx := context.Background()

	if _, err := client.Login(ctx, "alice.test", "wrong"); err == nil {
		t.Fatal("expected login failure with wrong password")
	}
	if client.Session() != nil {
		t.Error("failed login must not install a session")
	}

	sess, err := client.Login(ctx, "alice.test", "pw")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if sess.AccessJwt != "new-access" || client.Session().DID != "did:plc:alice" {
		t.Errorf("unexpected session %+v", sess)
	}
	if sess.PDSURL == "" {
		t.Error("expected PDS URL defaulted to base URL")
	}
	if pds.requests[len(pds.requests)-1].Header.Get("Authorization") != "" {
		t.Error("createSession must not send a bearer token")
	}
}
