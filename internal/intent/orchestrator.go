package intent

import (
	"context"
	"log"
	"time"

	"github.com/DecentraLabsCom/lab-reservation-engine/internal/errs"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/model"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/retry"
)

// Stage of an authorization attempt. Attempts move
// PREPARING → AWAITING_AUTHORIZATION → terminal.
type Stage string

const (
	StagePreparing Stage = "PREPARING"
	StageAwaiting  Stage = "AWAITING_AUTHORIZATION"
	StageSuccess   Stage = "SUCCESS"
	StageFailed    Stage = "FAILED"
	StageCancelled Stage = "CANCELLED"
	StageUnknown   Stage = "UNKNOWN"
)

// Attempt is one authorization attempt as observed by outside watchers
// (the session repository persists these).
type Attempt struct {
	SessionID   string
	UserAddress string
	Stage       Stage
	RequestID   string
	Reason      string
	// BackendAuthToken is handed through in memory only; persistence
	// stores a hash of it.
	BackendAuthToken string
}

// AttemptObserver is notified on every stage change. Observers must not
// block.
type AttemptObserver func(Attempt)

// Orchestrator runs authorization attempts end to end. The two auth
// mechanisms are injected: a CeremonyFunc for environments with a local
// credential, a WindowOpener for supervised-window environments. Either may
// be nil; the prepare response decides which one is needed.
type Orchestrator struct {
	Client   *Client
	Opener   WindowOpener
	Ceremony CeremonyFunc

	// AuthPolicy bounds the supervised-window status poll; ExecPolicy
	// bounds the post-authorization execution poll. Both are policy
	// values, not protocol constants.
	AuthPolicy retry.Policy
	ExecPolicy retry.Policy

	// Observer is optional.
	Observer AttemptObserver
}

// DefaultAuthPolicy and DefaultExecPolicy are the observed budgets of the
// original deployment. Override via config.
var (
	DefaultAuthPolicy = retry.Policy{Interval: 2 * time.Second, MaxDuration: 60 * time.Second}
	DefaultExecPolicy = retry.Policy{Interval: 2 * time.Second, MaxDuration: 120 * time.Second}
)

// Authorization is a successfully authorized intent.
type Authorization struct {
	RequestID string
	Prepare   *model.PrepareResponse
}

// AuthorizeReservation prepares a reservation intent and runs the
// authorization ceremony for it.
func (o *Orchestrator) AuthorizeReservation(ctx context.Context, req model.PrepareReservation) (*Authorization, error) {
	if req.LabID == "" || req.UserAddress == "" {
		return nil, errs.Validation("lab id and user address are required")
	}
	return o.run(ctx, req.UserAddress,
		func(ctx context.Context) (*model.PrepareResponse, error) {
			return o.Client.PrepareReservation(ctx, req)
		},
		o.Client.FinalizeReservation,
	)
}

// AuthorizeAction prepares a generic action intent (cancel-request,
// cancel-booking, request-funds) and runs the authorization ceremony.
func (o *Orchestrator) AuthorizeAction(ctx context.Context, req model.PrepareAction) (*Authorization, error) {
	if req.Action == "" || req.UserAddress == "" {
		return nil, errs.Validation("action and user address are required")
	}
	return o.run(ctx, req.UserAddress,
		func(ctx context.Context) (*model.PrepareResponse, error) {
			return o.Client.PrepareAction(ctx, req)
		},
		o.Client.FinalizeAction,
	)
}

func (o *Orchestrator) run(
	ctx context.Context,
	userAddress string,
	prepare func(ctx context.Context) (*model.PrepareResponse, error),
	finalize func(ctx context.Context, req model.FinalizeRequest) (*model.FinalizeResponse, error),
) (*Authorization, error) {
	o.observe(Attempt{UserAddress: userAddress, Stage: StagePreparing})
	prep, err := prepare(ctx)
	if err != nil {
		return nil, err
	}
	o.observe(Attempt{
		SessionID:        prep.AuthorizationSessionID,
		UserAddress:      userAddress,
		Stage:            StageAwaiting,
		BackendAuthToken: prep.BackendAuthToken,
	})

	auth, err := o.pick(prep, finalize)
	if err != nil {
		return nil, err
	}
	outcome, err := auth.Authorize(ctx, prep)
	if err != nil {
		o.observe(Attempt{SessionID: prep.AuthorizationSessionID, UserAddress: userAddress, Stage: stageOf(err)})
		return nil, err
	}

	switch outcome.Status {
	case model.AuthStatusSuccess:
		if outcome.RequestID == "" {
			// A success with no resolvable request id is ambiguous;
			// treat it as a cancellation rather than guess.
			o.observe(Attempt{SessionID: prep.AuthorizationSessionID, UserAddress: userAddress, Stage: StageCancelled})
			return nil, errs.Declined(errs.CodeAuthCancelled, "authorization succeeded without a request id")
		}
		o.observe(Attempt{SessionID: prep.AuthorizationSessionID, UserAddress: userAddress, Stage: StageSuccess, RequestID: outcome.RequestID})
		return &Authorization{RequestID: outcome.RequestID, Prepare: prep}, nil
	case model.AuthStatusFailed:
		reason := outcome.Reason
		if reason == "" {
			reason = "authorization failed"
		}
		o.observe(Attempt{SessionID: prep.AuthorizationSessionID, UserAddress: userAddress, Stage: StageFailed, Reason: reason})
		return nil, errs.Declined(errs.CodeAuthFailed, reason)
	case model.AuthStatusCancelled:
		o.observe(Attempt{SessionID: prep.AuthorizationSessionID, UserAddress: userAddress, Stage: StageCancelled})
		return nil, errs.Declined(errs.CodeAuthCancelled, "Authorization window closed")
	default:
		o.observe(Attempt{SessionID: prep.AuthorizationSessionID, UserAddress: userAddress, Stage: StageUnknown})
		return nil, errs.Declined(errs.CodeAuthCancelled, "authorization ended without a terminal status")
	}
}

// pick chooses the authorization mechanism the prepare response asks for.
func (o *Orchestrator) pick(
	prep *model.PrepareResponse,
	finalize func(ctx context.Context, req model.FinalizeRequest) (*model.FinalizeResponse, error),
) (Authorizer, error) {
	if prep.WebauthnChallenge != "" && o.Ceremony != nil {
		return &assertionAuthorizer{ceremony: o.Ceremony, finalize: finalize}, nil
	}
	if prep.AuthorizationURL != "" {
		if o.Opener == nil {
			return nil, errs.Declined(errs.CodeAuthPopupBlocked, "no window opener available")
		}
		policy := o.AuthPolicy
		if policy.Interval <= 0 {
			policy = DefaultAuthPolicy
		}
		return &sessionAuthorizer{opener: o.Opener, status: o.Client.AuthorizationStatus, policy: policy}, nil
	}
	return nil, errs.Validation("prepare response offers no authorization mechanism")
}

// PollExecution tracks an authorized intent to a terminal execution state.
// The poll is bounded by ExecPolicy and aborts when ctx is cancelled, so a
// superseding action or teardown can stop it.
func (o *Orchestrator) PollExecution(ctx context.Context, requestID string) (*model.ExecStatus, error) {
	if requestID == "" {
		return nil, errs.Validation("request id is required")
	}
	policy := o.ExecPolicy
	if policy.Interval <= 0 {
		policy = DefaultExecPolicy
	}
	var last *model.ExecStatus
	err := retry.Poll(ctx, policy, func(ctx context.Context) (bool, error) {
		st, err := o.Client.ExecutionStatus(ctx, requestID)
		if err != nil {
			return false, err
		}
		last = st
		return model.ExecTerminal(st.Status), nil
	})
	if err == retry.ErrExhausted {
		return nil, errs.Transport("intent execution poll exhausted", err)
	}
	if err != nil {
		return nil, err
	}
	return last, nil
}

func (o *Orchestrator) observe(a Attempt) {
	if o.Observer != nil {
		o.Observer(a)
	}
}

func stageOf(err error) Stage {
	switch errs.CodeOf(err) {
	case errs.CodeAuthCancelled, errs.CodeAuthPopupBlocked:
		return StageCancelled
	case errs.CodeAuthFailed:
		return StageFailed
	}
	log.Printf("intent: authorization attempt ended with non-terminal error: %v", err)
	return StageUnknown
}
