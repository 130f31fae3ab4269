package submitter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/marketoracle/internal/domain"
	"github.com/alanyoungcy/marketoracle/internal/platform/relay"
)

// RelayAPI is the relay client surface used by the relay strategy.
type RelayAPI interface {
	CreateTask(ctx context.Context, chainID int64, target string, data []byte, idempotencyKey string) (string, error)
	GetTask(ctx context.Context, taskID string) (relay.TaskStatus, error)
}

// Relay submits fulfillResolution as a sponsored relay task and polls it to
// a terminal state.
type Relay struct {
	api          RelayAPI
	chainID      int64
	contract     string
	pollInterval time.Duration
	pollTimeout  time.Duration
	journal      domain.RelayTaskStore
	logger       *slog.Logger
	now          func() time.Time
}

// NewRelay creates the relay strategy. journal may be nil.
func NewRelay(api RelayAPI, chainID int64, contract string, pollInterval, pollTimeout time.Duration, journal domain.RelayTaskStore, logger *slog.Logger) *Relay {
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	return &Relay{
		api:          api,
		chainID:      chainID,
		contract:     contract,
		pollInterval: pollInterval,
		pollTimeout:  pollTimeout,
		journal:      journal,
		logger:       logger,
		now:          time.Now,
	}
}

// Name implements Strategy.
func (r *Relay) Name() domain.SubmissionStrategy { return domain.StrategyRelay }

// Attempt implements Strategy. A task is created only when neither the
// submission nor the journal has one in flight for the same payload; a poll
// timeout leaves the task id in place so the next attempt, or the next
// Submit, keeps polling the same task.
func (r *Relay) Attempt(ctx context.Context, sub *Submission) (domain.TxReceipt, error) {
	if sub.TaskID == "" {
		if err := r.resume(ctx, sub); err != nil {
			return domain.TxReceipt{}, &domain.SubmissionError{MarketID: sub.MarketID, Kind: domain.SubmissionRetryable, Err: err}
		}
	}
	if sub.TaskID == "" {
		id, err := r.api.CreateTask(ctx, r.chainID, r.contract, sub.Payload, r.idempotencyKey(sub))
		if err != nil {
			return domain.TxReceipt{}, err
		}
		sub.TaskID = id
		r.save(ctx, sub, relay.TaskStatus{TaskID: id, TaskState: relay.StateCheckPending})
		r.logger.InfoContext(ctx, "relay task created",
			slog.String("market_id", sub.MarketID),
			slog.String("task_id", id),
		)
	}

	st, err := r.poll(ctx, sub.TaskID)
	if err != nil {
		return domain.TxReceipt{}, &domain.SubmissionError{MarketID: sub.MarketID, Kind: domain.SubmissionRetryable, Err: err}
	}
	r.save(ctx, sub, st)

	switch st.Status() {
	case domain.RelayExecuted:
		return domain.TxReceipt{
			MarketID:    sub.MarketID,
			Outcome:     sub.Outcome,
			Strategy:    domain.StrategyRelay,
			TxHash:      st.TransactionHash,
			BlockNumber: st.BlockNumber,
			RelayTaskID: st.TaskID,
		}, nil
	case domain.RelayFailed:
		r.retire(sub)
		err := fmt.Errorf("relay task %s reverted: %s", st.TaskID, st.LastCheckMessage)
		return domain.TxReceipt{}, &domain.SubmissionError{MarketID: sub.MarketID, Kind: Classify(err), Err: err}
	default:
		r.retire(sub)
		return domain.TxReceipt{}, &domain.SubmissionError{
			MarketID: sub.MarketID,
			Kind:     domain.SubmissionRetryable,
			Err:      fmt.Errorf("relay task %s cancelled", st.TaskID),
		}
	}
}

// resume adopts a journaled task for the same market and payload that has
// not reached a terminal state. Terminal tasks for the payload advance the
// generation so the next create uses a key the relay has not seen.
func (r *Relay) resume(ctx context.Context, sub *Submission) error {
	if r.journal == nil {
		return nil
	}
	tasks, err := r.journal.ListByMarket(ctx, sub.MarketID)
	if err != nil {
		return fmt.Errorf("relay: read journal: %w", err)
	}
	payload := hexPayload(sub.Payload)
	terminal := 0
	for _, t := range tasks {
		if !strings.EqualFold(t.Payload, payload) {
			continue
		}
		if !t.Status.Terminal() {
			sub.TaskID = t.TaskID
			r.logger.InfoContext(ctx, "resuming relay task",
				slog.String("market_id", sub.MarketID),
				slog.String("task_id", t.TaskID),
			)
			return nil
		}
		terminal++
	}
	if terminal > sub.Generation {
		sub.Generation = terminal
		sub.IdempotencyKey = ""
	}
	return nil
}

// retire forgets a task that reached Failed or Cancelled.
func (r *Relay) retire(sub *Submission) {
	sub.TaskID = ""
	sub.IdempotencyKey = ""
	sub.Generation++
}

// idempotencyKey is derived from the call itself, so a create that timed out
// after the relay accepted it maps back to the same task even from a later
// Submit.
func (r *Relay) idempotencyKey(sub *Submission) string {
	if sub.IdempotencyKey == "" {
		name := fmt.Sprintf("oracle-relay:%d:%s:%s:%s:%d",
			r.chainID, strings.ToLower(r.contract), sub.MarketID, hexPayload(sub.Payload), sub.Generation)
		sub.IdempotencyKey = uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
	}
	return sub.IdempotencyKey
}

func hexPayload(b []byte) string {
	return fmt.Sprintf("0x%x", b)
}

// poll waits until the task is terminal or pollTimeout elapses. Lookup
// errors are tolerated until the timeout.
func (r *Relay) poll(ctx context.Context, taskID string) (relay.TaskStatus, error) {
	pctx := ctx
	if r.pollTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, r.pollTimeout)
		defer cancel()
	}
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		st, err := r.api.GetTask(pctx, taskID)
		if err == nil && st.Status().Terminal() {
			return st, nil
		}
		if err != nil {
			lastErr = err
		}
		select {
		case <-pctx.Done():
			if ctx.Err() != nil {
				return relay.TaskStatus{}, ctx.Err()
			}
			if lastErr != nil {
				return relay.TaskStatus{}, fmt.Errorf("relay task %s still pending after %s: %w", taskID, r.pollTimeout, lastErr)
			}
			return relay.TaskStatus{}, fmt.Errorf("relay task %s still pending after %s: timeout", taskID, r.pollTimeout)
		case <-ticker.C:
		}
	}
}

func (r *Relay) save(ctx context.Context, sub *Submission, st relay.TaskStatus) {
	if r.journal == nil {
		return
	}
	now := r.now().UTC()
	task := domain.RelayTask{
		TaskID:         st.TaskID,
		MarketID:       sub.MarketID,
		TargetContract: r.contract,
		Payload:        hexPayload(sub.Payload),
		Status:         st.Status(),
		TxHash:         st.TransactionHash,
		LastCheckMsg:   st.LastCheckMessage,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.journal.Save(ctx, task); err != nil {
		r.logger.WarnContext(ctx, "relay journal write failed",
			slog.String("task_id", st.TaskID),
			slog.String("error", err.Error()),
		)
	}
}
