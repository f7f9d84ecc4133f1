package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DecentraLabsCom/lab-reservation-engine/internal/cache"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/errs"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/events"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/flow"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/intent"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/ledger"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/model"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/reconcile"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/retry"
)

// toggleStore wraps a Store and fails every Put while failing is set, which
// lets a test break the cache between two phases of one operation.
type toggleStore struct {
	cache.Store
	failing atomic.Bool

	mu          sync.Mutex
	invalidated []string
}

func (s *toggleStore) Put(ctx context.Context, collection, field string, value []byte) error {
	if s.failing.Load() {
		return errors.New("store down")
	}
	return s.Store.Put(ctx, collection, field, value)
}

func (s *toggleStore) Invalidate(ctx context.Context, collection string) error {
	s.mu.Lock()
	s.invalidated = append(s.invalidated, collection)
	s.mu.Unlock()
	return s.Store.Invalidate(ctx, collection)
}

func (s *toggleStore) invalidations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.invalidated...)
}

type capturedSignals struct {
	mu   sync.Mutex
	sigs []events.Signal
}

func captureSignals(bus events.Bus, name string) *capturedSignals {
	c := &capturedSignals{}
	bus.Subscribe(name, func(s events.Signal) {
		c.mu.Lock()
		c.sigs = append(c.sigs, s)
		c.mu.Unlock()
	})
	return c
}

func (c *capturedSignals) all() []events.Signal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]events.Signal(nil), c.sigs...)
}

type publisherSpy struct {
	mu       sync.Mutex
	bookings []model.Booking
}

func (p *publisherSpy) PublishSubmitted(_ context.Context, b model.Booking) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bookings = append(p.bookings, b)
	return nil
}

// testDeps builds a full dependency set over an in-memory store. The
// reconciler's invalidator is a no-op recorder so armed schedules do not
// wipe the store the test asserts on.
func testDeps(t *testing.T, store cache.Store) (Deps, *events.MemoryBus) {
	t.Helper()
	bus := events.NewMemoryBus()
	rec := reconcile.New(func(context.Context, string) error { return nil }, bus, time.Hour, time.Hour)
	t.Cleanup(rec.Close)
	fl := flow.New(true, 60, bus)
	t.Cleanup(fl.Close)
	return Deps{
		Cache:      cache.NewBookingCache(store),
		Flow:       fl,
		Bus:        bus,
		Reconciler: rec,
	}, bus
}

func walletRequest() CreateRequest {
	return CreateRequest{LabID: "1", Start: "1741942800", End: "1741946400", UserAddress: "0xuser", Note: "afternoon slot"}
}

func TestNewMutatorValidatesDeps(t *testing.T) {
	_, err := NewMutator(ModeWallet, Deps{})
	assert.True(t, errs.IsKind(err, errs.KindValidation))

	deps, _ := testDeps(t, cache.NewMemoryStore())
	_, err = NewMutator(ModeWallet, deps)
	assert.Error(t, err, "wallet mode requires a ledger writer")

	_, err = NewMutator(ModeInstitutional, deps)
	assert.Error(t, err, "institutional mode requires an intent orchestrator")

	deps.Ledger = ledger.WriterFunc(func(context.Context, string, []string) (string, error) { return "", nil })
	_, err = NewMutator(Mode("browser"), deps)
	assert.Error(t, err)

	m, err := NewMutator(ModeWallet, deps)
	require.NoError(t, err)
	assert.NotNil(t, m)
}

func TestWalletCreateReservation(t *testing.T) {
	ctx := context.Background()
	deps, bus := testDeps(t, cache.NewMemoryStore())
	onchain := captureSignals(bus, events.SignalOnChainRequested)

	var wrote struct {
		method string
		args   []string
	}
	deps.Ledger = ledger.WriterFunc(func(_ context.Context, method string, args []string) (string, error) {
		wrote.method = method
		wrote.args = args
		return "0xTXHASH", nil
	})
	spy := &publisherSpy{}
	deps.Publisher = spy

	m, err := NewMutator(ModeWallet, deps)
	require.NoError(t, err)

	b, err := m.CreateReservation(ctx, walletRequest())
	require.NoError(t, err)

	assert.Equal(t, ledger.MethodReserve, wrote.method)
	assert.Equal(t, []string{"1", "1741942800", "1741946400"}, wrote.args)

	assert.Equal(t, model.StatusPending, b.Status)
	assert.Equal(t, "0xTXHASH", b.TransactionHash)
	assert.False(t, b.IsOptimistic)
	assert.True(t, b.IsPending)

	// Exactly one entry, stored under the temporary key.
	all, err := deps.Cache.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, b.ReservationKey, all[0].ReservationKey)
	assert.False(t, all[0].IsOptimistic)

	sigs := onchain.all()
	require.Len(t, sigs, 1)
	assert.Equal(t, b.ReservationKey, sigs[0].ReservationKey)

	assert.True(t, deps.Reconciler.Active(b.ReservationKey))
	require.Len(t, spy.bookings, 1)
	assert.Equal(t, b.ReservationKey, spy.bookings[0].ReservationKey)

	// The freshly written pending entry registers the request.
	assert.Equal(t, flow.StageRequestRegistered, deps.Flow.Stage())
}

func TestWalletCreateLedgerRejection(t *testing.T) {
	ctx := context.Background()
	deps, _ := testDeps(t, cache.NewMemoryStore())

	rejection := errors.New("user rejected transaction in wallet")
	deps.Ledger = ledger.WriterFunc(func(context.Context, string, []string) (string, error) {
		return "", rejection
	})

	m, err := NewMutator(ModeWallet, deps)
	require.NoError(t, err)

	_, err = m.CreateReservation(ctx, walletRequest())
	assert.Same(t, rejection, err, "the wallet's error must surface unmodified")

	all, err := deps.Cache.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all, "rollback must remove the optimistic entry")
	assert.Equal(t, flow.StageIdle, deps.Flow.Stage())
}

func TestWalletCreateReplaceFailureIsContained(t *testing.T) {
	ctx := context.Background()
	store := &toggleStore{Store: cache.NewMemoryStore()}
	deps, _ := testDeps(t, store)

	// The ledger write is the boundary between the two phases: the
	// optimistic add succeeds, everything after the write fails.
	deps.Ledger = ledger.WriterFunc(func(context.Context, string, []string) (string, error) {
		store.failing.Store(true)
		return "0xTXHASH", nil
	})

	m, err := NewMutator(ModeWallet, deps)
	require.NoError(t, err)

	b, err := m.CreateReservation(ctx, walletRequest())
	require.NoError(t, err, "a broken cache must not fail a sent transaction")
	assert.Equal(t, "0xTXHASH", b.TransactionHash)

	// The containment path invalidated the coarse partition exactly once
	// and both scoped ones.
	inv := store.invalidations()
	coarse := 0
	for _, name := range inv {
		if name == "bookings:all" {
			coarse++
		}
	}
	assert.Equal(t, 1, coarse, "expected a single coarse invalidation, got %v", inv)
	assert.Contains(t, inv, "bookings:lab:1")
	assert.Contains(t, inv, "bookings:user:0xuser")
}

func TestWalletCreateValidation(t *testing.T) {
	deps, _ := testDeps(t, cache.NewMemoryStore())
	deps.Ledger = ledger.WriterFunc(func(context.Context, string, []string) (string, error) { return "", nil })
	m, err := NewMutator(ModeWallet, deps)
	require.NoError(t, err)

	_, err = m.CreateReservation(context.Background(), CreateRequest{Start: "1", End: "2", UserAddress: "0xuser"})
	assert.True(t, errs.IsKind(err, errs.KindValidation))

	_, err = m.CreateReservation(context.Background(), CreateRequest{LabID: "1", Start: "1", End: "2"})
	assert.True(t, errs.IsKind(err, errs.KindValidation))
}

func TestWalletCancelReservation(t *testing.T) {
	ctx := context.Background()
	deps, bus := testDeps(t, cache.NewMemoryStore())
	onchain := captureSignals(bus, events.SignalOnChainRequested)

	status := model.StatusPending
	require.NoError(t, deps.Cache.AddBooking(ctx, model.Booking{
		ReservationKey: "42", LabID: "1", UserAddress: "0xuser",
		Status: status, StatusCategory: status.Category(), IsPending: true,
	}))

	var wrote struct {
		method string
		args   []string
	}
	deps.Ledger = ledger.WriterFunc(func(_ context.Context, method string, args []string) (string, error) {
		wrote.method = method
		wrote.args = args
		return "0xCANCEL", nil
	})

	m, err := NewMutator(ModeWallet, deps)
	require.NoError(t, err)
	require.NoError(t, m.CancelReservation(ctx, "42", "0xuser"))

	assert.Equal(t, ledger.MethodCancelRequest, wrote.method)
	assert.Equal(t, []string{"42"}, wrote.args)

	got, ok, err := deps.Cache.Get(ctx, "42")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.StatusCancelRequested, got.Status)
	assert.Equal(t, "0xCANCEL", got.TransactionHash)

	assert.Len(t, onchain.all(), 1)
	assert.True(t, deps.Reconciler.Active("42"))
}

func TestWalletCancelLedgerRejection(t *testing.T) {
	ctx := context.Background()
	deps, _ := testDeps(t, cache.NewMemoryStore())

	rejection := errors.New("nothing to cancel")
	deps.Ledger = ledger.WriterFunc(func(context.Context, string, []string) (string, error) {
		return "", rejection
	})

	m, err := NewMutator(ModeWallet, deps)
	require.NoError(t, err)

	err = m.CancelBooking(ctx, "42", "0xuser")
	assert.Same(t, rejection, err)
}

func TestWalletRequestFundsRejected(t *testing.T) {
	deps, _ := testDeps(t, cache.NewMemoryStore())
	deps.Ledger = ledger.WriterFunc(func(context.Context, string, []string) (string, error) { return "", nil })
	m, err := NewMutator(ModeWallet, deps)
	require.NoError(t, err)

	err = m.RequestFunds(context.Background(), "0xuser", "10")
	assert.True(t, errs.IsKind(err, errs.KindValidation))
}

// intentBackend serves the institutional flow over httptest.
type intentBackend struct {
	auth model.AuthStatus
	exec model.ExecStatus
}

func (ib *intentBackend) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(v))
	}
	mux.HandleFunc("/intents/reservations/prepare", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, model.PrepareResponse{
			Intent:                 "intent-1",
			AuthorizationURL:       "https://auth.example/session/abc",
			AuthorizationSessionID: "session-abc",
		})
	})
	mux.HandleFunc("/intents/actions/prepare", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, model.PrepareResponse{
			Intent:                 "intent-2",
			AuthorizationURL:       "https://auth.example/session/def",
			AuthorizationSessionID: "session-def",
		})
	})
	mux.HandleFunc("/intents/authorizations/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, ib.auth)
	})
	mux.HandleFunc("/intents/requests/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, ib.exec)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func institutionalOrchestrator(t *testing.T, ib *intentBackend) *intent.Orchestrator {
	t.Helper()
	srv := ib.server(t)
	return &intent.Orchestrator{
		Client:     intent.NewClient(srv.URL, 0),
		Opener:     &intent.HeadlessOpener{},
		AuthPolicy: retry.Policy{Interval: time.Millisecond, MaxAttempts: 20},
		ExecPolicy: retry.Policy{Interval: time.Millisecond, MaxAttempts: 20},
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestInstitutionalCreateReservation(t *testing.T) {
	ctx := context.Background()
	deps, bus := testDeps(t, cache.NewMemoryStore())
	onchain := captureSignals(bus, events.SignalOnChainRequested)

	ib := &intentBackend{
		auth: model.AuthStatus{Status: model.AuthStatusSuccess, RequestID: "req-9"},
		exec: model.ExecStatus{Status: model.ExecStatusExecuted, TxHash: "0xEXEC", ReservationKey: "777"},
	}
	deps.Intents = institutionalOrchestrator(t, ib)

	m, err := NewMutator(ModeInstitutional, deps)
	require.NoError(t, err)
	defer m.Close()

	b, err := m.CreateReservation(ctx, walletRequest())
	require.NoError(t, err)
	assert.Equal(t, model.StatusRequested, b.Status)
	assert.Equal(t, "req-9", b.IntentRequestID)
	assert.True(t, b.IsOptimistic)

	// The detached execution poll converges the entry onto its
	// definitive reservation key.
	waitFor(t, func() bool {
		got, ok, err := deps.Cache.Get(ctx, "777")
		return err == nil && ok && got.Status == model.StatusPending
	}, "executed intent never converged the cache entry")

	got, _, err := deps.Cache.Get(ctx, "777")
	require.NoError(t, err)
	assert.Equal(t, "0xEXEC", got.TransactionHash)
	assert.False(t, got.IsOptimistic)

	waitFor(t, func() bool { return len(onchain.all()) == 1 }, "no on-chain-requested signal")
	waitFor(t, func() bool { return deps.Reconciler.Active("777") }, "reconciler never armed for the definitive key")
}

func TestInstitutionalCreateDeclinedLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	deps, _ := testDeps(t, cache.NewMemoryStore())

	ib := &intentBackend{auth: model.AuthStatus{Status: model.AuthStatusCancelled}}
	deps.Intents = institutionalOrchestrator(t, ib)

	m, err := NewMutator(ModeInstitutional, deps)
	require.NoError(t, err)
	defer m.Close()

	_, err = m.CreateReservation(ctx, walletRequest())
	require.Error(t, err)
	assert.Equal(t, errs.CodeAuthCancelled, errs.CodeOf(err))
	assert.Equal(t, "Authorization window closed", err.Error())

	all, err := deps.Cache.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all, "a declined ceremony must not create a booking")

	// The flow stays in processing until a denial or explicit reset.
	assert.Equal(t, flow.StageProcessing, deps.Flow.Stage())
}

func TestInstitutionalCreateFailedExecutionAnnotates(t *testing.T) {
	ctx := context.Background()
	deps, _ := testDeps(t, cache.NewMemoryStore())

	ib := &intentBackend{
		auth: model.AuthStatus{Status: model.AuthStatusSuccess, RequestID: "req-9"},
		exec: model.ExecStatus{Status: model.ExecStatusRejected, Error: "insufficient funds"},
	}
	deps.Intents = institutionalOrchestrator(t, ib)

	m, err := NewMutator(ModeInstitutional, deps)
	require.NoError(t, err)
	defer m.Close()

	b, err := m.CreateReservation(ctx, walletRequest())
	require.NoError(t, err)

	waitFor(t, func() bool {
		got, ok, err := deps.Cache.Get(ctx, b.ReservationKey)
		return err == nil && ok && got.Note == "insufficient funds"
	}, "rejection was never annotated on the cache entry")

	got, _, err := deps.Cache.Get(ctx, b.ReservationKey)
	require.NoError(t, err)
	assert.Equal(t, model.ExecStatusRejected, got.IntentStatus)
}

func TestInstitutionalCancelReservation(t *testing.T) {
	ctx := context.Background()
	deps, _ := testDeps(t, cache.NewMemoryStore())

	status := model.StatusPending
	require.NoError(t, deps.Cache.AddBooking(ctx, model.Booking{
		ReservationKey: "42", LabID: "1", UserAddress: "0xuser",
		Status: status, StatusCategory: status.Category(), IsPending: true,
	}))

	ib := &intentBackend{
		auth: model.AuthStatus{Status: model.AuthStatusSuccess, RequestID: "req-c"},
		exec: model.ExecStatus{Status: model.ExecStatusExecuted},
	}
	deps.Intents = institutionalOrchestrator(t, ib)

	m, err := NewMutator(ModeInstitutional, deps)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.CancelReservation(ctx, "42", "0xuser"))

	got, ok, err := deps.Cache.Get(ctx, "42")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.StatusCancelRequested, got.Status)
	assert.Equal(t, "req-c", got.IntentRequestID)
	assert.True(t, deps.Reconciler.Active("42"))
}

func TestInstitutionalRequiresCapability(t *testing.T) {
	deps, _ := testDeps(t, cache.NewMemoryStore())
	deps.Intents = &intent.Orchestrator{Client: intent.NewClient("http://localhost:0", 0)}

	m, err := NewMutator(ModeInstitutional, deps)
	require.NoError(t, err)
	defer m.Close()

	_, err = m.CreateReservation(context.Background(), walletRequest())
	assert.True(t, errs.IsKind(err, errs.KindValidation))
}

func TestInvalidatorQueryKeys(t *testing.T) {
	ctx := context.Background()
	c := cache.NewBookingCache(cache.NewMemoryStore())
	status := model.StatusPending
	require.NoError(t, c.AddBooking(ctx, model.Booking{
		ReservationKey: "10", LabID: "1", UserAddress: "0xa",
		Status: status, StatusCategory: status.Category(),
	}))
	inv := NewInvalidator(c)

	require.NoError(t, inv(ctx, "lab:1"))
	byLab, err := c.ByLab(ctx, "1")
	require.NoError(t, err)
	assert.Empty(t, byLab)

	require.NoError(t, inv(ctx, "user:0xa"))
	byUser, err := c.ByUser(ctx, "0xa")
	require.NoError(t, err)
	assert.Empty(t, byUser)

	require.NoError(t, inv(ctx, "all"))
	all, err := c.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestQueryKeys(t *testing.T) {
	assert.Equal(t, []string{"all", "lab:1", "user:0xa"}, queryKeys("1", "0xa"))
	assert.Equal(t, []string{"all"}, queryKeys("", ""))
}
