package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"

	"stageline/internal/config"
	"stageline/internal/db"
	"stageline/internal/domain"
	"stageline/internal/events"
	"stageline/internal/migrate"
	"stageline/internal/repo"
)

func TestKindFilter(t *testing.T) {
	if !newKindFilter(nil).match("anything") {
		t.Fatal("empty filter should match everything")
	}
	f := newKindFilter([]string{"stage.advanced", " ", ""})
	if !f.match("stage.advanced") || f.match("task.created") {
		t.Fatal("filter mismatch")
	}
}

func TestPostEventDelivery(t *testing.T) {
	var got webhookEvent
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := &Dispatcher{client: srv.Client()}
	evt := domain.Event{
		ID:         7,
		TS:         "2024-01-01T00:00:00Z",
		Type:       "stage.advanced",
		OrgID:      "org-1",
		EntityKind: "task",
		EntityID:   "t1",
		ActorEmail: "a@x.dev",
		Payload:    `{"stage":"Design"}`,
	}
	hook := config.WebhookConfig{URL: srv.URL, Secret: "hush"}
	if err := d.postEvent(context.Background(), hook, evt); err != nil {
		t.Fatalf("post: %v", err)
	}
	if got.ID != 7 || got.Type != "stage.advanced" {
		t.Fatalf("delivered = %+v", got)
	}
	if gotHeaders.Get("X-Stageline-Event") != "stage.advanced" || gotHeaders.Get("X-Stageline-Secret") != "hush" {
		t.Fatalf("headers = %v", gotHeaders)
	}
}

func TestCursorStartsAtTail(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx := context.Background()
	tx, err := conn.Begin()
	if err != nil {
		t.Fatal(err)
	}
	w := events.Writer{DB: conn}
	if err := w.Append(ctx, tx, "task.created", "org-1", "p1", "task", "t1", "a@x.dev", nil); err != nil {
		t.Fatalf("append event: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	d := &Dispatcher{
		Repo:    repo.Repo{DB: conn},
		Log:     logrus.New(),
		cursors: make(map[int]int64),
	}
	cur := d.cursorFor(ctx, 0)
	if cur != 1 {
		t.Fatalf("cursor = %d, want tail 1", cur)
	}
	replay, err := d.Repo.EventsAfter(ctx, 10, cur, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(replay) != 0 {
		t.Fatalf("new hook would replay %d historical events", len(replay))
	}
}

func TestPostEventFailureReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	d := &Dispatcher{client: srv.Client()}
	err := d.postEvent(context.Background(), config.WebhookConfig{URL: srv.URL}, domain.Event{ID: 1, Type: "x"})
	if err == nil {
		t.Fatal("5xx delivery reported as success")
	}
}
