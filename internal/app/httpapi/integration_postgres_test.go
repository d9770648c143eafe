//go:build integration && postgres

package httpapi

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/tidwall/gjson"

	app "github.com/R3E-Network/lockswap/internal/app"
	"github.com/R3E-Network/lockswap/internal/app/domain/ledger"
	"github.com/R3E-Network/lockswap/internal/app/storage"
	"github.com/R3E-Network/lockswap/internal/app/storage/postgres"
	"github.com/R3E-Network/lockswap/internal/middleware"
	"github.com/R3E-Network/lockswap/internal/platform/migrations"
)

// Runs a lock/unlock round trip over HTTP with the Postgres ledger behind it.
func TestIntegrationPostgres(t *testing.T) {
	_ = godotenv.Load() // allow .env for local runs
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping Postgres integration")
	}

	ctx := context.Background()
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	if err := migrations.Apply(ctx, db.DB); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	rt := storage.Runtime{}.WithDefaults()
	application, err := app.New(app.Stores{Ledger: postgres.New(db, rt), Runtime: rt}, app.Options{DisableKeeper: true}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	if err := application.Start(ctx); err != nil {
		t.Fatalf("start application: %v", err)
	}
	t.Cleanup(func() { _ = application.Stop(ctx) })

	auth := middleware.NewAuthMiddleware([]byte("integration-secret"), "", nil)
	server := httptest.NewServer(New(application, Config{Auth: auth, Audit: newAuditLog(100, nil)}))
	defer server.Close()

	owner := ledger.Address("integration-" + time.Now().Format("150405.000000"))
	token, err := auth.Issue(owner, time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	call := func(method, path, body string) *http.Response {
		req, err := http.NewRequest(method, server.URL+path, strings.NewReader(body))
		if err != nil {
			t.Fatalf("build request: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", method, path, err)
		}
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	resp := call(http.MethodPost, "/items", `{"type":"ticket","data":{"seat":"A1"}}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register item: status %d", resp.StatusCode)
	}
	item := readJSON(t, resp).Get("id").String()

	resp = call(http.MethodPost, "/locks", `{"item_id":"`+item+`"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create lock: status %d", resp.StatusCode)
	}
	body := readJSON(t, resp)
	lockID, keyID := body.Get("lock.id").String(), body.Get("key.id").String()

	resp = call(http.MethodPost, "/locks/"+lockID+"/unlock", `{"key_id":"`+keyID+`"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unlock: status %d", resp.StatusCode)
	}

	obj, err := application.Ledger.Get(ctx, ledger.ID(item))
	if err != nil {
		t.Fatalf("reload item: %v", err)
	}
	if obj.Owner != ledger.AccountOwner(owner) {
		t.Fatalf("item owner = %v, want %s", obj.Owner, owner)
	}
}

func readJSON(t *testing.T, resp *http.Response) gjson.Result {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return gjson.ParseBytes(raw)
}
