package intent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DecentraLabsCom/lab-reservation-engine/internal/errs"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/model"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/retry"
)

type fakeWindow struct{ closed atomic.Bool }

func (w *fakeWindow) Closed() bool { return w.closed.Load() }
func (w *fakeWindow) Close()       {}

type fakeOpener struct {
	window  *fakeWindow
	err     error
	opens   int
	lastURL string
}

func (o *fakeOpener) Open(url string) (Window, error) {
	o.opens++
	o.lastURL = url
	if o.err != nil {
		return nil, o.err
	}
	return o.window, nil
}

// backend is a scripted intent backend. statusResponses are served in order;
// the last one repeats.
type backend struct {
	prep            model.PrepareResponse
	statusResponses []model.AuthStatus
	statusHits      atomic.Int32
	execResponses   []model.ExecStatus
	execHits        atomic.Int32
	finalize        model.FinalizeResponse
}

func (b *backend) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(v))
	}
	mux.HandleFunc("/intents/reservations/prepare", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, b.prep)
	})
	mux.HandleFunc("/intents/actions/prepare", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, b.prep)
	})
	mux.HandleFunc("/intents/reservations/finalize", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, b.finalize)
	})
	mux.HandleFunc("/intents/actions/finalize", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, b.finalize)
	})
	mux.HandleFunc("/intents/authorizations/", func(w http.ResponseWriter, r *http.Request) {
		i := int(b.statusHits.Add(1)) - 1
		if i >= len(b.statusResponses) {
			i = len(b.statusResponses) - 1
		}
		writeJSON(w, b.statusResponses[i])
	})
	mux.HandleFunc("/intents/requests/", func(w http.ResponseWriter, r *http.Request) {
		i := int(b.execHits.Add(1)) - 1
		if i >= len(b.execResponses) {
			i = len(b.execResponses) - 1
		}
		writeJSON(w, b.execResponses[i])
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func sessionPrep() model.PrepareResponse {
	return model.PrepareResponse{
		Intent:                 "intent-1",
		AuthorizationURL:       "https://auth.example/session/abc",
		AuthorizationSessionID: "session-abc",
		BackendAuthToken:       "token-xyz",
	}
}

func fastPolicy() retry.Policy {
	return retry.Policy{Interval: time.Millisecond, MaxAttempts: 20}
}

func reservationReq() model.PrepareReservation {
	return model.PrepareReservation{LabID: "1", UserAddress: "0xuser", Start: "1000", End: "2000"}
}

func TestAuthorizeReservationSessionSuccess(t *testing.T) {
	b := &backend{
		prep: sessionPrep(),
		statusResponses: []model.AuthStatus{
			{Status: "PENDING"},
			{Status: model.AuthStatusSuccess, RequestID: "req-9"},
		},
	}
	srv := b.server(t)

	opener := &fakeOpener{window: &fakeWindow{}}
	var stages []Stage
	o := &Orchestrator{
		Client:     NewClient(srv.URL, 0),
		Opener:     opener,
		AuthPolicy: fastPolicy(),
		Observer:   func(a Attempt) { stages = append(stages, a.Stage) },
	}

	auth, err := o.AuthorizeReservation(context.Background(), reservationReq())
	require.NoError(t, err)
	assert.Equal(t, "req-9", auth.RequestID)
	assert.Equal(t, "https://auth.example/session/abc", opener.lastURL)
	assert.Equal(t, []Stage{StagePreparing, StageAwaiting, StageSuccess}, stages)
}

func TestAuthorizeReservationWindowBlocked(t *testing.T) {
	b := &backend{prep: sessionPrep(), statusResponses: []model.AuthStatus{{Status: "PENDING"}}}
	srv := b.server(t)

	o := &Orchestrator{
		Client:     NewClient(srv.URL, 0),
		Opener:     &fakeOpener{err: errors.New("display unavailable")},
		AuthPolicy: fastPolicy(),
	}

	_, err := o.AuthorizeReservation(context.Background(), reservationReq())
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindAuthorizationDeclined))
	assert.Equal(t, errs.CodeAuthPopupBlocked, errs.CodeOf(err))
	assert.Equal(t, "Authorization window could not be opened", err.Error())
	assert.Zero(t, b.statusHits.Load(), "a blocked window must not reach the status endpoint")
}

func TestAuthorizeReservationWindowClosed(t *testing.T) {
	b := &backend{prep: sessionPrep(), statusResponses: []model.AuthStatus{{Status: "PENDING"}}}
	srv := b.server(t)

	w := &fakeWindow{}
	w.closed.Store(true)
	o := &Orchestrator{
		Client:     NewClient(srv.URL, 0),
		Opener:     &fakeOpener{window: w},
		AuthPolicy: fastPolicy(),
	}

	var stages []Stage
	o.Observer = func(a Attempt) { stages = append(stages, a.Stage) }

	_, err := o.AuthorizeReservation(context.Background(), reservationReq())
	require.Error(t, err)
	assert.Equal(t, errs.CodeAuthCancelled, errs.CodeOf(err))
	assert.Equal(t, "Authorization window closed", err.Error())
	assert.Equal(t, StageCancelled, stages[len(stages)-1])
}

func TestAuthorizeReservationSuccessWithoutRequestID(t *testing.T) {
	b := &backend{
		prep:            sessionPrep(),
		statusResponses: []model.AuthStatus{{Status: model.AuthStatusSuccess}},
	}
	srv := b.server(t)

	o := &Orchestrator{Client: NewClient(srv.URL, 0), Opener: &fakeOpener{window: &fakeWindow{}}, AuthPolicy: fastPolicy()}

	_, err := o.AuthorizeReservation(context.Background(), reservationReq())
	require.Error(t, err)
	assert.Equal(t, errs.CodeAuthCancelled, errs.CodeOf(err))
}

func TestAuthorizeReservationFailedSurfacesReason(t *testing.T) {
	b := &backend{
		prep:            sessionPrep(),
		statusResponses: []model.AuthStatus{{Status: model.AuthStatusFailed, Error: "quota exceeded"}},
	}
	srv := b.server(t)

	o := &Orchestrator{Client: NewClient(srv.URL, 0), Opener: &fakeOpener{window: &fakeWindow{}}, AuthPolicy: fastPolicy()}

	_, err := o.AuthorizeReservation(context.Background(), reservationReq())
	require.Error(t, err)
	assert.Equal(t, errs.CodeAuthFailed, errs.CodeOf(err))
	assert.Equal(t, "quota exceeded", err.Error())
}

func TestAuthorizeReservationPollExhaustedIsUnknown(t *testing.T) {
	b := &backend{prep: sessionPrep(), statusResponses: []model.AuthStatus{{Status: "PENDING"}}}
	srv := b.server(t)

	var stages []Stage
	o := &Orchestrator{
		Client:     NewClient(srv.URL, 0),
		Opener:     &fakeOpener{window: &fakeWindow{}},
		AuthPolicy: retry.Policy{Interval: time.Millisecond, MaxAttempts: 3},
		Observer:   func(a Attempt) { stages = append(stages, a.Stage) },
	}

	_, err := o.AuthorizeReservation(context.Background(), reservationReq())
	require.Error(t, err)
	assert.Equal(t, errs.CodeAuthCancelled, errs.CodeOf(err))
	assert.Equal(t, StageUnknown, stages[len(stages)-1])
}

func TestAuthorizeReservationCeremonyPath(t *testing.T) {
	b := &backend{
		prep: model.PrepareResponse{
			Intent:                 "intent-1",
			WebauthnChallenge:      "challenge-123",
			AuthorizationSessionID: "session-abc",
		},
		finalize: model.FinalizeResponse{Status: model.AuthStatusSuccess, RequestID: "req-5"},
	}
	srv := b.server(t)

	var gotChallenge string
	o := &Orchestrator{
		Client: NewClient(srv.URL, 0),
		Ceremony: func(_ context.Context, challenge string) (string, error) {
			gotChallenge = challenge
			return "signed-assertion", nil
		},
	}

	auth, err := o.AuthorizeReservation(context.Background(), reservationReq())
	require.NoError(t, err)
	assert.Equal(t, "req-5", auth.RequestID)
	assert.Equal(t, "challenge-123", gotChallenge)
}

func TestAuthorizeReservationCeremonyRefused(t *testing.T) {
	b := &backend{
		prep: model.PrepareResponse{
			Intent:                 "intent-1",
			WebauthnChallenge:      "challenge-123",
			AuthorizationSessionID: "session-abc",
		},
	}
	srv := b.server(t)

	o := &Orchestrator{
		Client: NewClient(srv.URL, 0),
		Ceremony: func(context.Context, string) (string, error) {
			return "", errors.New("user refused")
		},
	}

	_, err := o.AuthorizeReservation(context.Background(), reservationReq())
	require.Error(t, err)
	assert.Equal(t, errs.CodeAuthCancelled, errs.CodeOf(err))
}

func TestAuthorizeReservationValidation(t *testing.T) {
	o := &Orchestrator{}
	_, err := o.AuthorizeReservation(context.Background(), model.PrepareReservation{})
	assert.True(t, errs.IsKind(err, errs.KindValidation))
}

func TestObserverSeesSessionAndToken(t *testing.T) {
	b := &backend{
		prep:            sessionPrep(),
		statusResponses: []model.AuthStatus{{Status: model.AuthStatusSuccess, RequestID: "req-9"}},
	}
	srv := b.server(t)

	var attempts []Attempt
	o := &Orchestrator{
		Client:     NewClient(srv.URL, 0),
		Opener:     &fakeOpener{window: &fakeWindow{}},
		AuthPolicy: fastPolicy(),
		Observer:   func(a Attempt) { attempts = append(attempts, a) },
	}

	_, err := o.AuthorizeReservation(context.Background(), reservationReq())
	require.NoError(t, err)

	require.Len(t, attempts, 3)
	assert.Equal(t, "0xuser", attempts[0].UserAddress)
	assert.Equal(t, "session-abc", attempts[1].SessionID)
	assert.Equal(t, "token-xyz", attempts[1].BackendAuthToken)
	assert.Equal(t, "req-9", attempts[2].RequestID)
}

func TestPollExecution(t *testing.T) {
	b := &backend{
		prep: sessionPrep(),
		execResponses: []model.ExecStatus{
			{Status: model.ExecStatusProcessing},
			{Status: model.ExecStatusExecuted, TxHash: "0xabc", ReservationKey: "42"},
		},
	}
	srv := b.server(t)

	o := &Orchestrator{Client: NewClient(srv.URL, 0), ExecPolicy: fastPolicy()}
	st, err := o.PollExecution(context.Background(), "req-9")
	require.NoError(t, err)
	assert.Equal(t, model.ExecStatusExecuted, st.Status)
	assert.Equal(t, "0xabc", st.TxHash)
	assert.Equal(t, "42", st.ReservationKey)
	assert.Equal(t, int32(2), b.execHits.Load())
}

func TestPollExecutionExhausted(t *testing.T) {
	b := &backend{prep: sessionPrep(), execResponses: []model.ExecStatus{{Status: model.ExecStatusProcessing}}}
	srv := b.server(t)

	o := &Orchestrator{Client: NewClient(srv.URL, 0), ExecPolicy: retry.Policy{Interval: time.Millisecond, MaxAttempts: 2}}
	_, err := o.PollExecution(context.Background(), "req-9")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindTransport))
}

func TestPollExecutionCancelled(t *testing.T) {
	b := &backend{prep: sessionPrep(), execResponses: []model.ExecStatus{{Status: model.ExecStatusProcessing}}}
	srv := b.server(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o := &Orchestrator{Client: NewClient(srv.URL, 0), ExecPolicy: fastPolicy()}
	_, err := o.PollExecution(ctx, "req-9")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPollExecutionRequiresRequestID(t *testing.T) {
	o := &Orchestrator{}
	_, err := o.PollExecution(context.Background(), "")
	assert.True(t, errs.IsKind(err, errs.KindValidation))
}

func TestClientCarriesBackendErrorPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"slot already booked"}`))
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, 0)
	_, err := c.PrepareReservation(context.Background(), reservationReq())
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindTransport))
	assert.Contains(t, err.Error(), "slot already booked")
}
