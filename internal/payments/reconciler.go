package payments

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/noorcart/noorcart-backend/internal/checkout"
	"github.com/noorcart/noorcart-backend/internal/orders"
	"github.com/noorcart/noorcart-backend/pkg/config"
	"github.com/noorcart/noorcart-backend/pkg/db/models"
	"github.com/noorcart/noorcart-backend/pkg/enums"
	pkgerrors "github.com/noorcart/noorcart-backend/pkg/errors"
	"github.com/noorcart/noorcart-backend/pkg/logger"
	"github.com/noorcart/noorcart-backend/pkg/metrics"
)

const webhookMarkTTL = 24 * time.Hour

const (
	channelReturn  = "return"
	channelWebhook = "webhook"
	channelPoll    = "poll"
	channelSweep   = "sweep"
)

type webhookGuard interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	WebhookEventKey(gateway, eventID string) string
}

// Resolution is the reconciler's answer for one delivered notification.
type Resolution struct {
	Session   *models.CheckoutSession
	Order     *models.Order
	Outcome   *NormalizedOutcome
	Settled   bool
	Duplicate bool
}

// Reconciler folds the three notification channels (return redirect, webhook,
// client poll) into one state machine. No channel assumes it confirms first;
// the order unique index and the guarded session transitions make any
// delivery order converge on the same result.
type Reconciler struct {
	registry     *Registry
	sessions     checkout.Repository
	checkoutSvc  checkout.Service
	materializer orders.Materializer
	guard        webhookGuard
	metrics      *metrics.PaymentMetrics
	log          *logger.Logger
	poll         config.PollConfig
}

// NewReconciler builds the notification reconciler.
func NewReconciler(
	registry *Registry,
	sessions checkout.Repository,
	checkoutSvc checkout.Service,
	materializer orders.Materializer,
	guard webhookGuard,
	paymentMetrics *metrics.PaymentMetrics,
	log *logger.Logger,
	poll config.PollConfig,
) (*Reconciler, error) {
	if registry == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "adapter registry required")
	}
	if sessions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "session repository required")
	}
	if checkoutSvc == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "checkout service required")
	}
	if materializer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order materializer required")
	}
	if guard == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook guard required")
	}
	if log == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	if poll.Attempts <= 0 {
		poll.Attempts = 10
	}
	if poll.Interval <= 0 {
		poll.Interval = 3 * time.Second
	}
	return &Reconciler{
		registry:     registry,
		sessions:     sessions,
		checkoutSvc:  checkoutSvc,
		materializer: materializer,
		guard:        guard,
		metrics:      paymentMetrics,
		log:          log,
		poll:         poll,
	}, nil
}

// Initiate prepares the gateway leg for a freshly created session.
func (r *Reconciler) Initiate(ctx context.Context, session *models.CheckoutSession) (*InitiateResult, error) {
	if session.Status != enums.SessionStatusInitiated {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "session already settled")
	}
	adapter, err := r.registry.Get(session.PaymentMethod)
	if err != nil {
		return nil, err
	}
	result, err := adapter.Initiate(ctx, session)
	if err != nil {
		return nil, err
	}
	if result.PaymentID != "" {
		if err := r.sessions.SetPaymentID(ctx, session.ID, result.PaymentID); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// HandleReturn processes the browser redirect. A payload that fails
// authentication does not decide anything; the reconciler falls back to the
// authoritative status query before giving up.
func (r *Reconciler) HandleReturn(ctx context.Context, gateway enums.PaymentGateway, params url.Values) (*Resolution, error) {
	adapter, err := r.registry.Get(gateway)
	if err != nil {
		return nil, err
	}

	ctx = r.log.WithGateway(ctx, gateway.String())
	outcome, verifyErr := adapter.VerifyReturn(ctx, params)
	if verifyErr != nil {
		if !pkgerrors.IsIndeterminate(verifyErr) {
			return nil, verifyErr
		}
		r.log.Warn(ctx, "return payload failed verification, falling back to status query")
		fallback, fallbackErr := r.statusFallback(ctx, adapter, params)
		if fallbackErr != nil {
			// The fallback could not decide either; surface the original
			// verification failure.
			return nil, verifyErr
		}
		outcome = fallback
	}

	session, err := r.sessions.FindByTrackID(ctx, outcome.TrackID)
	if err != nil {
		return nil, err
	}
	return r.resolve(ctx, session, outcome, channelReturn)
}

func (r *Reconciler) statusFallback(ctx context.Context, adapter Adapter, params url.Values) (*NormalizedOutcome, error) {
	trackID := adapter.TrackIDFromReturn(params)
	if trackID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "return payload carries no track id")
	}
	session, err := r.sessions.FindByTrackID(ctx, trackID)
	if err != nil {
		return nil, err
	}
	return adapter.Status(ctx, session)
}

// HandleWebhook processes a server-to-server notification. The redis mark
// makes redeliveries cheap no-ops; if processing fails after the mark it is
// removed again so the gateway's retry can reprocess.
func (r *Reconciler) HandleWebhook(ctx context.Context, gateway enums.PaymentGateway, body []byte) (*Resolution, error) {
	adapter, err := r.registry.Get(gateway)
	if err != nil {
		return nil, err
	}

	ctx = r.log.WithGateway(ctx, gateway.String())
	outcome, err := adapter.VerifyWebhook(ctx, body)
	if err != nil {
		return nil, err
	}

	eventKey := r.guard.WebhookEventKey(gateway.String(), webhookEventID(outcome, body))
	fresh, err := r.guard.SetNX(ctx, eventKey, time.Now().UTC().Format(time.RFC3339), webhookMarkTTL)
	if err != nil {
		// Redis being down must not drop a confirmation. Process without the
		// guard; downstream idempotency absorbs the duplicate risk.
		r.log.Warn(ctx, "webhook dedupe mark unavailable, processing without guard")
		fresh = true
	}
	if !fresh {
		session, err := r.sessions.FindByTrackID(ctx, outcome.TrackID)
		if err != nil {
			return nil, err
		}
		return &Resolution{Session: session, Outcome: outcome, Settled: session.Status.IsTerminal(), Duplicate: true}, nil
	}

	session, err := r.sessions.FindByTrackID(ctx, outcome.TrackID)
	if err != nil {
		r.unmark(ctx, eventKey)
		return nil, err
	}
	resolution, err := r.resolve(ctx, session, outcome, channelWebhook)
	if err != nil {
		r.unmark(ctx, eventKey)
		return nil, err
	}
	return resolution, nil
}

func (r *Reconciler) unmark(ctx context.Context, key string) {
	if err := r.guard.Del(ctx, key); err != nil {
		r.log.Warn(r.log.WithField(ctx, "key", key), "failed to remove webhook dedupe mark")
	}
}

// Poll drives the client-initiated confirmation loop: bounded constant-backoff
// status checks, then one last authoritative query at the deadline. A session
// still pending after that stays initiated; polling never times a payment out.
func (r *Reconciler) Poll(ctx context.Context, sessionID uuid.UUID) (*Resolution, error) {
	session, err := r.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if resolution := r.shortCircuit(session); resolution != nil {
		return resolution, nil
	}

	adapter, err := r.registry.Get(session.PaymentMethod)
	if err != nil {
		return nil, err
	}
	ctx = r.log.WithGateway(r.log.WithSessionID(ctx, session.ID.String()), session.PaymentMethod.String())

	var outcome *NormalizedOutcome
	backoff := retry.WithMaxRetries(uint64(r.poll.Attempts), retry.NewConstant(r.poll.Interval))
	pollErr := retry.Do(ctx, backoff, func(ctx context.Context) error {
		current, err := adapter.Status(ctx, session)
		if err != nil {
			return retry.RetryableError(err)
		}
		if current.Result == ResultPending {
			return retry.RetryableError(pkgerrors.New(pkgerrors.CodeDependency, "payment still pending"))
		}
		outcome = current
		return nil
	})
	if pollErr != nil {
		// Deadline reached. One final authoritative check before answering.
		final, finalErr := adapter.Status(ctx, session)
		if finalErr != nil || final.Result == ResultPending {
			r.metrics.IncOutcome(session.PaymentMethod.String(), channelPoll, string(ResultPending))
			return &Resolution{Session: session, Outcome: final, Settled: false}, nil
		}
		outcome = final
	}

	return r.resolve(ctx, session, outcome, channelPoll)
}

// shortCircuit answers for sessions that already reached a terminal state.
func (r *Reconciler) shortCircuit(session *models.CheckoutSession) *Resolution {
	if !session.Status.IsTerminal() {
		return nil
	}
	return &Resolution{Session: session, Settled: true}
}

// resolve applies one verified outcome to the session state machine.
func (r *Reconciler) resolve(ctx context.Context, session *models.CheckoutSession, outcome *NormalizedOutcome, channel string) (*Resolution, error) {
	gateway := session.PaymentMethod.String()
	ctx = r.log.WithSessionID(ctx, session.ID.String())

	if session.Status.IsTerminal() {
		// Late or contradictory notifications never reopen a settled
		// session. For paid sessions the existing order is returned, so a
		// duplicate or out-of-order delivery reports the same order id.
		r.metrics.IncOutcome(gateway, channel, "terminal_short_circuit")
		resolution := &Resolution{Session: session, Outcome: outcome, Settled: true}
		if session.Status == enums.SessionStatusPaid {
			order, err := r.materializer.Materialize(ctx, orders.MaterializeInput{Session: session})
			if err != nil {
				return nil, err
			}
			resolution.Order = order
		}
		return resolution, nil
	}

	if err := CheckAmount(session, outcome); err != nil {
		// The session stays initiated and the stock stays reserved; the
		// mismatch counter is the operator's signal to investigate.
		r.metrics.IncAmountMismatch(gateway)
		r.log.Error(ctx, "paid amount does not match session total", err)
		return nil, err
	}

	switch outcome.Result {
	case ResultCaptured:
		order, err := r.materializer.Materialize(ctx, orders.MaterializeInput{
			Session:       session,
			TransactionID: outcome.TransactionID,
			AuthCode:      outcome.AuthCode,
			ReferenceCode: outcome.ReferenceCode,
			RawResponse:   outcome.Raw,
			Token:         outcome.Token,
		})
		if err != nil {
			return nil, err
		}
		r.metrics.IncOutcome(gateway, channel, string(ResultCaptured))
		return &Resolution{Session: session, Order: order, Outcome: outcome, Settled: true}, nil

	case ResultDeclined:
		reason := outcome.Reason
		if reason == "" {
			reason = "payment declined"
		}
		if err := r.checkoutSvc.FailSession(ctx, session.ID, reason); err != nil {
			return nil, err
		}
		r.metrics.IncOutcome(gateway, channel, string(ResultDeclined))
		return &Resolution{Session: session, Outcome: outcome, Settled: true}, nil

	default:
		r.metrics.IncOutcome(gateway, channel, string(ResultPending))
		return &Resolution{Session: session, Outcome: outcome, Settled: false}, nil
	}
}

// ObserveStaleSessions publishes the age of the oldest initiated session.
// Stale sessions are surfaced, never swept; only a gateway-confirmed outcome
// settles a payment attempt.
func (r *Reconciler) ObserveStaleSessions(ctx context.Context, olderThan time.Duration) error {
	stale, err := r.sessions.ListStale(ctx, olderThan, 1)
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		r.metrics.SetStaleSessionAge(0)
		return nil
	}
	r.metrics.SetStaleSessionAge(time.Since(stale[0].CreatedAt))
	return nil
}

// ReconcileStale runs one authoritative status pass over sessions that have
// been initiated longer than olderThan. Sessions settle only on a confirmed
// gateway outcome; a pending or unreachable status leaves them open for the
// next pass.
func (r *Reconciler) ReconcileStale(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	stale, err := r.sessions.ListStale(ctx, olderThan, limit)
	if err != nil {
		return 0, err
	}

	settled := 0
	for i := range stale {
		session := &stale[i]
		sessionCtx := r.log.WithSessionID(ctx, session.ID.String())

		adapter, err := r.registry.Get(session.PaymentMethod)
		if err != nil {
			r.log.Warn(sessionCtx, "stale session has no configured gateway")
			continue
		}
		outcome, err := adapter.Status(sessionCtx, session)
		if err != nil {
			r.log.Error(sessionCtx, "stale session status query failed", err)
			continue
		}
		resolution, err := r.resolve(sessionCtx, session, outcome, channelSweep)
		if err != nil {
			r.log.Error(sessionCtx, "stale session reconciliation failed", err)
			continue
		}
		if resolution.Settled {
			settled++
		}
	}
	return settled, nil
}

func webhookEventID(outcome *NormalizedOutcome, body []byte) string {
	if outcome.TransactionID != "" {
		return outcome.TransactionID
	}
	if outcome.PaymentID != "" {
		return outcome.PaymentID
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
