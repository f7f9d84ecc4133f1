package intent

import (
	"context"

	"github.com/DecentraLabsCom/lab-reservation-engine/internal/errs"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/model"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/retry"
)

// Window is a supervised authorization window. The engine only ever asks
// whether the user has closed it; rendering and navigation belong to the
// host environment.
type Window interface {
	Closed() bool
	Close()
}

// WindowOpener opens a supervised window at an authorization URL. Open
// returning an error means no window could be shown at all; the ceremony is
// then declined without contacting the status endpoint.
type WindowOpener interface {
	Open(url string) (Window, error)
}

// CeremonyFunc performs a local credential ceremony over the backend's
// challenge and returns the signed assertion.
type CeremonyFunc func(ctx context.Context, challenge string) (assertion string, err error)

// Outcome is the terminal result of one authorization attempt, expressed in
// the backend's status vocabulary plus the resolved request id when one
// exists.
type Outcome struct {
	Status    string
	RequestID string
	Reason    string
}

// Authorizer obtains out-of-band authorization for a prepared intent.
type Authorizer interface {
	Authorize(ctx context.Context, prep *model.PrepareResponse) (Outcome, error)
}

// assertionAuthorizer runs the local credential ceremony and finalizes the
// intent with the resulting assertion.
type assertionAuthorizer struct {
	ceremony CeremonyFunc
	finalize func(ctx context.Context, req model.FinalizeRequest) (*model.FinalizeResponse, error)
}

func (a *assertionAuthorizer) Authorize(ctx context.Context, prep *model.PrepareResponse) (Outcome, error) {
	assertion, err := a.ceremony(ctx, prep.WebauthnChallenge)
	if err != nil {
		// The credential layer reports user refusal as an error; either
		// way no intent was authorized.
		return Outcome{}, errs.Wrap(errs.KindAuthorizationDeclined, errs.CodeAuthCancelled,
			"credential ceremony did not complete", err)
	}
	resp, err := a.finalize(ctx, model.FinalizeRequest{
		Intent:                 prep.Intent,
		AuthorizationSessionID: prep.AuthorizationSessionID,
		Assertion:              assertion,
	})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Status: resp.Status, RequestID: resp.RequestID, Reason: resp.Error}, nil
}

// sessionAuthorizer opens a supervised window at the authorization URL and
// polls the status endpoint until a terminal status arrives, the window is
// closed, or the poll budget runs out.
type sessionAuthorizer struct {
	opener WindowOpener
	status func(ctx context.Context, sessionID string) (*model.AuthStatus, error)
	policy retry.Policy
}

func (a *sessionAuthorizer) Authorize(ctx context.Context, prep *model.PrepareResponse) (Outcome, error) {
	w, err := a.opener.Open(prep.AuthorizationURL)
	if err != nil {
		return Outcome{}, errs.Declined(errs.CodeAuthPopupBlocked, "Authorization window could not be opened")
	}
	defer w.Close()

	var outcome Outcome
	err = retry.Poll(ctx, a.policy, func(ctx context.Context) (bool, error) {
		st, err := a.status(ctx, prep.AuthorizationSessionID)
		if err != nil {
			return false, err
		}
		switch st.Status {
		case model.AuthStatusSuccess, model.AuthStatusFailed, model.AuthStatusCancelled:
			outcome = Outcome{Status: st.Status, RequestID: st.RequestID, Reason: st.Error}
			return true, nil
		}
		if w.Closed() {
			// The user closed the window before a terminal status was
			// observed. Deterministic end of the wait, independent of
			// the poll budget.
			return false, errs.Declined(errs.CodeAuthCancelled, "Authorization window closed")
		}
		return false, nil
	})
	if err == retry.ErrExhausted {
		outcome = Outcome{Status: model.AuthStatusUnknown}
		return outcome, nil
	}
	if err != nil {
		return Outcome{}, err
	}
	return outcome, nil
}
