// internal/mcp/server_test.go
package mcp

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/colebrumley/cortex/internal/action"
	"github.com/colebrumley/cortex/internal/rules"
	"github.com/colebrumley/cortex/internal/state"
)

type recordingPresenter struct {
	got    action.Alert
	button string
	err    error
}

func (p *recordingPresenter) ShowAlert(_ context.Context, a action.Alert) (string, error) {
	p.got = a
	return p.button, p.err
}

func newTestServer(t *testing.T, presenter action.Presenter) (*Server, *rules.Store) {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("state.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := rules.NewStore(db)
	err = store.Add(rules.Rule{
		ID:       "focus",
		Name:     "no social media",
		Type:     rules.TypeCount,
		Count:    &rules.CountConfig{MaxCount: 3},
		Actions:  []rules.Action{{Type: "alert"}},
		IsActive: true,
	})
	if err != nil {
		t.Fatalf("store.Add() error = %v", err)
	}
	return NewServer(store, db, presenter, ""), store
}

func TestNewServer(t *testing.T) {
	server, _ := newTestServer(t, nil)
	if server == nil || server.server == nil {
		t.Fatal("NewServer() returned nil")
	}
	if server.Handler() == nil {
		t.Error("Handler() returned nil")
	}
}

func TestToolHandlers(t *testing.T) {
	presenter := &recordingPresenter{button: "OK"}
	server, store := newTestServer(t, presenter)
	ctx := context.Background()

	t.Run("show_popup", func(t *testing.T) {
		_, output, err := server.handleShowPopup(ctx, nil, ShowPopupInput{
			Message:  "Back to work?",
			Severity: "critical",
		})
		if err != nil {
			t.Fatalf("handleShowPopup() error = %v", err)
		}
		if output.Button != "OK" {
			t.Errorf("button = %q, want OK", output.Button)
		}
		if presenter.got.Title != "Cortex" || presenter.got.Severity != "critical" {
			t.Errorf("unexpected alert %+v", presenter.got)
		}
	})

	t.Run("show_popup requires message", func(t *testing.T) {
		if _, _, err := server.handleShowPopup(ctx, nil, ShowPopupInput{}); err == nil {
			t.Error("handleShowPopup() should reject an empty message")
		}
	})

	t.Run("log_activity and search", func(t *testing.T) {
		_, logged, err := server.handleLogActivity(ctx, nil, LogActivityInput{
			Activity:   "reading documentation",
			Productive: true,
			AppName:    "Safari",
			Domain:     "pkg.go.dev",
		})
		if err != nil {
			t.Fatalf("handleLogActivity() error = %v", err)
		}
		if logged.ID <= 0 {
			t.Errorf("handleLogActivity() returned invalid ID: %d", logged.ID)
		}

		_, found, err := server.handleSearchActivity(ctx, nil, SearchActivityInput{Query: "documentation"})
		if err != nil {
			t.Fatalf("handleSearchActivity() error = %v", err)
		}
		if found.Count != 1 || found.Events[0].Domain != "pkg.go.dev" {
			t.Errorf("unexpected search result %+v", found)
		}
	})

	t.Run("list and toggle", func(t *testing.T) {
		_, list, err := server.handleListRules(ctx, nil, ListRulesInput{ActiveOnly: true})
		if err != nil {
			t.Fatalf("handleListRules() error = %v", err)
		}
		if list.Count != 1 || list.Rules[0].ID != "focus" {
			t.Fatalf("unexpected rules %+v", list)
		}

		_, toggled, err := server.handleToggleRule(ctx, nil, ToggleRuleInput{ID: "focus"})
		if err != nil {
			t.Fatalf("handleToggleRule() error = %v", err)
		}
		if toggled.IsActive {
			t.Error("rule should be inactive after toggle")
		}
		if got := store.Active(); len(got) != 0 {
			t.Errorf("store still has %d active rules", len(got))
		}

		_, list, _ = server.handleListRules(ctx, nil, ListRulesInput{ActiveOnly: true})
		if list.Count != 0 {
			t.Errorf("active_only list count = %d, want 0", list.Count)
		}
	})

	t.Run("toggle non-existent", func(t *testing.T) {
		_, _, err := server.handleToggleRule(ctx, nil, ToggleRuleInput{ID: "missing"})
		if err == nil || !strings.Contains(err.Error(), "not found") {
			t.Errorf("handleToggleRule() error = %v, want not found", err)
		}
	})
}

func TestShowPopupWithoutPresenter(t *testing.T) {
	server, _ := newTestServer(t, nil)
	_, _, err := server.handleShowPopup(context.Background(), nil, ShowPopupInput{Message: "hi"})
	if err == nil {
		t.Error("expected error without a presenter")
	}
}

func TestShowPopupPresenterError(t *testing.T) {
	server, _ := newTestServer(t, &recordingPresenter{err: errors.New("osascript failed")})
	_, _, err := server.handleShowPopup(context.Background(), nil, ShowPopupInput{Message: "hi"})
	if err == nil || !strings.Contains(err.Error(), "osascript failed") {
		t.Errorf("error = %v, want presenter error", err)
	}
}
