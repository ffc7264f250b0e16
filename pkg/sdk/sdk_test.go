package sdk_test

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/assetgrid-dev/assetgrid-core/internal/api"
	"github.com/assetgrid-dev/assetgrid-core/internal/gateway"
	"github.com/assetgrid-dev/assetgrid-core/internal/store"
	"github.com/assetgrid-dev/assetgrid-core/pkg/schema"
	"github.com/assetgrid-dev/assetgrid-core/pkg/sdk"
)

// startServer runs the real daemon stack on a test listener and returns a
// connected client for alice, the server URL, and the backing store.
func startServer(t *testing.T) (*sdk.Client, string, *store.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), 30*time.Second)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	logger := log.New(io.Discard, "", 0)
	h := &api.Handler{
		Gateway: gateway.New(s, s, logger),
		Reader:  s,
		Locks:   s,
		Logger:  logger,
	}
	srv := httptest.NewServer(api.NewRouter(h, map[string]string{
		"tok-alice": "alice",
		"tok-bob":   "bob",
	}))
	t.Cleanup(srv.Close)

	return sdk.New(srv.URL, "tok-alice"), srv.URL, s
}

func floatp(f float64) *float64 { return &f }

func TestClientRoundTrip(t *testing.T) {
	client, _, _ := startServer(t)

	def, err := client.CreateField(schema.FieldDefinition{
		Name:        "cpu",
		Kind:        schema.KindNumber,
		Constraints: schema.Constraints{Min: floatp(1), Max: floatp(64)},
	})
	if err != nil {
		t.Fatalf("CreateField failed: %v", err)
	}
	if def.ID == "" {
		t.Fatal("no field ID assigned")
	}

	asset, err := client.CreateAsset(map[string]any{def.ID: 8})
	if err != nil {
		t.Fatalf("CreateAsset failed: %v", err)
	}

	logs, err := client.UpdateAssetField(asset.ID, def.ID, 16)
	if err != nil {
		t.Fatalf("UpdateAssetField failed: %v", err)
	}
	if len(logs) == 0 {
		t.Error("expected the unlocked-write warning in the log trail")
	}

	got, err := client.GetAsset(asset.ID)
	if err != nil {
		t.Fatalf("GetAsset failed: %v", err)
	}
	if got.Metadata[def.ID] != float64(16) {
		t.Errorf("metadata = %v", got.Metadata)
	}

	entries, err := client.Audit(asset.ID, 10)
	if err != nil {
		t.Fatalf("Audit failed: %v", err)
	}
	if len(entries) == 0 || entries[0].Actor != "alice" {
		t.Errorf("audit = %+v", entries)
	}
}

func TestClientErrorMapping(t *testing.T) {
	client, baseURL, _ := startServer(t)

	if _, err := client.GetAsset("nope"); !errors.Is(err, sdk.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	bad := sdk.New(baseURL, "tok-wrong")
	if _, err := bad.ListAssets(); !errors.Is(err, sdk.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}

	if _, err := client.CreateField(schema.FieldDefinition{Name: "name", Kind: schema.KindAssetName}); err != nil {
		t.Fatalf("first asset-name field: %v", err)
	}
	_, err := client.CreateField(schema.FieldDefinition{Name: "title", Kind: schema.KindAssetName})
	if !errors.Is(err, sdk.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}

	def, err := client.CreateField(schema.FieldDefinition{
		Name:        "cpu",
		Kind:        schema.KindNumber,
		Constraints: schema.Constraints{Max: floatp(64)},
	})
	if err != nil {
		t.Fatalf("CreateField failed: %v", err)
	}
	asset, err := client.CreateAsset(nil)
	if err != nil {
		t.Fatalf("CreateAsset failed: %v", err)
	}
	_, err = client.UpdateAssetField(asset.ID, def.ID, 999)
	var verr *sdk.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Messages[def.ID] == "" {
		t.Errorf("expected a message for %s, got %v", def.ID, verr.Messages)
	}
}

func TestLocalAndRemoteValidationAgree(t *testing.T) {
	client, _, _ := startServer(t)

	def, err := client.CreateField(schema.FieldDefinition{
		Name:        "addr",
		Kind:        schema.KindIP,
		Constraints: schema.Constraints{Subnet: "10.10.10.0/27"},
	})
	if err != nil {
		t.Fatalf("CreateField failed: %v", err)
	}

	for _, value := range []any{"10.10.10.4", "10.10.10.40", "not an ip"} {
		localMsg, err := sdk.CheckLocal(def, value)
		if err != nil {
			t.Fatalf("CheckLocal errored: %v", err)
		}
		remote, err := client.Validate(map[string]any{def.ID: value})
		if err != nil {
			t.Fatalf("Validate failed: %v", err)
		}
		if remote[def.ID] != localMsg {
			t.Errorf("value %v: local %q, remote %q", value, localMsg, remote[def.ID])
		}
	}
}

func TestFieldLockSession(t *testing.T) {
	client, _, s := startServer(t)
	ctx := context.Background()

	def, _ := client.CreateField(schema.FieldDefinition{Name: "cpu", Kind: schema.KindNumber})
	a1, _ := client.CreateAsset(nil)
	a2, _ := client.CreateAsset(nil)

	sess := sdk.NewFieldLockSession(client, time.Second, 0)
	defer sess.Close()

	if res, err := sess.Acquire(a1.ID, def.ID); err != nil || !res.Granted {
		t.Fatalf("acquire 1: %v %+v", err, res)
	}
	if res, err := sess.Acquire(a2.ID, def.ID); err != nil || !res.Granted {
		t.Fatalf("acquire 2: %v %+v", err, res)
	}
	// Re-acquiring a held lock answers locally.
	if res, err := sess.Acquire(a1.ID, def.ID); err != nil || !res.Granted {
		t.Fatalf("re-acquire: %v %+v", err, res)
	}
	if sess.HeldCount() != 2 {
		t.Fatalf("held count = %d", sess.HeldCount())
	}

	// One renewal pass keeps both alive.
	sess.Tick()
	if sess.HeldCount() != 2 {
		t.Fatalf("held count after tick = %d", sess.HeldCount())
	}
	state, _ := client.FieldLockState(a1.ID, def.ID)
	if !state.Locked || state.Holder != "alice" {
		t.Fatalf("server state after tick = %+v", state)
	}

	// If a lock disappears under us, the next tick drops it from the set.
	if res, err := s.ReleaseFieldLock(ctx, a1.ID, def.ID, "alice"); err != nil || !res.Granted {
		t.Fatalf("server-side release: %v %+v", err, res)
	}
	sess.Tick()
	if sess.Held(a1.ID, def.ID) {
		t.Error("lost lock still tracked as held")
	}
	if !sess.Held(a2.ID, def.ID) {
		t.Error("surviving lock dropped")
	}

	// Close releases what remains.
	sess.Close()
	state, _ = client.FieldLockState(a2.ID, def.ID)
	if state.Locked {
		t.Errorf("lock still live after Close: %+v", state)
	}
}

func TestFieldLockSessionBudget(t *testing.T) {
	client, _, _ := startServer(t)

	def, _ := client.CreateField(schema.FieldDefinition{Name: "cpu", Kind: schema.KindNumber})
	asset, _ := client.CreateAsset(nil)

	sess := sdk.NewFieldLockSession(client, time.Second, 2)
	defer sess.Close()
	sess.Acquire(asset.ID, def.ID)

	sess.Tick()
	sess.Tick()
	if sess.HeldCount() != 1 {
		t.Fatalf("held count within budget = %d", sess.HeldCount())
	}
	// Third tick exceeds the budget of 2 and releases everything.
	sess.Tick()
	if sess.HeldCount() != 0 {
		t.Fatalf("held count past budget = %d", sess.HeldCount())
	}
	state, _ := client.FieldLockState(asset.ID, def.ID)
	if state.Locked {
		t.Errorf("budget release did not reach the server: %+v", state)
	}

	// The budget belongs to the interaction, not the session: a lock taken
	// after the release must survive its first renewal pass.
	sess.Acquire(asset.ID, def.ID)
	sess.Tick()
	if sess.HeldCount() != 1 {
		t.Fatal("re-acquired lock dropped on the first tick after the budget release")
	}
	state, _ = client.FieldLockState(asset.ID, def.ID)
	if !state.Locked || state.Holder != "alice" {
		t.Fatalf("server state after re-acquire = %+v", state)
	}

	// Touch resets the counter, so an active session keeps its locks.
	sess.Tick()
	sess.Touch()
	sess.Tick()
	if sess.HeldCount() != 1 {
		t.Errorf("touched session lost its lock")
	}
}

func TestRecordLockSessionBudget(t *testing.T) {
	client, _, _ := startServer(t)

	def, _ := client.CreateField(schema.FieldDefinition{Name: "cpu", Kind: schema.KindNumber})

	sess := sdk.NewRecordLockSession(client, time.Second, 1)
	defer sess.Close()
	sess.Acquire(def.ID)

	sess.Tick()
	if sess.Held() != def.ID {
		t.Fatalf("held within budget = %q", sess.Held())
	}
	// Second tick exceeds the budget of 1 and releases the lock.
	sess.Tick()
	if sess.Held() != "" {
		t.Fatalf("held past budget = %q", sess.Held())
	}
	state, _ := client.RecordLockState(def.ID)
	if state.Locked {
		t.Errorf("budget release did not reach the server: %+v", state)
	}

	// A fresh acquire gets a fresh budget.
	sess.Acquire(def.ID)
	sess.Tick()
	if sess.Held() != def.ID {
		t.Error("re-acquired lock dropped on the first tick after the budget release")
	}
}

func TestRecordLockSessionExclusive(t *testing.T) {
	client, _, _ := startServer(t)

	f1, _ := client.CreateField(schema.FieldDefinition{Name: "cpu", Kind: schema.KindNumber})
	f2, _ := client.CreateField(schema.FieldDefinition{Name: "ram", Kind: schema.KindNumber})

	sess := sdk.NewRecordLockSession(client, time.Second, 0)
	defer sess.Close()

	if res, err := sess.Acquire(f1.ID); err != nil || !res.Granted {
		t.Fatalf("acquire f1: %v %+v", err, res)
	}
	// Switching definitions releases the old lock first.
	if res, err := sess.Acquire(f2.ID); err != nil || !res.Granted {
		t.Fatalf("acquire f2: %v %+v", err, res)
	}
	if sess.Held() != f2.ID {
		t.Errorf("held = %q", sess.Held())
	}

	state, _ := client.RecordLockState(f1.ID)
	if state.Locked {
		t.Errorf("old lock still live: %+v", state)
	}
	state, _ = client.RecordLockState(f2.ID)
	if !state.Locked || state.Holder != "alice" {
		t.Errorf("new lock state = %+v", state)
	}

	sess.Tick()
	if sess.Held() != f2.ID {
		t.Error("tick dropped a healthy lock")
	}

	sess.Close()
	state, _ = client.RecordLockState(f2.ID)
	if state.Locked {
		t.Errorf("lock still live after Close: %+v", state)
	}
}
