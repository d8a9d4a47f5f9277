package guard

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"wa_guard_bot/internal/domain"
	"wa_guard_bot/internal/logging"
)

// cycleTimeout bounds a single reconcile pass. The running guard is held for
// the whole pass, so a pass without a deadline would skip every later tick.
// Overridable in tests.
var cycleTimeout = 30 * time.Second

type watchdogStore interface {
	ListEnabled(ctx context.Context) ([]domain.ProtectionRecord, error)
	Update(ctx context.Context, chatID string, patch Patch) (domain.ProtectionRecord, error)
}

// Watchdog periodically reconciles live group-admin state against the
// protection registry, covering demote events the listener never saw. Each
// chat's pass is isolated: one failure never aborts the cycle for others.
type Watchdog struct {
	records   watchdogStore
	messenger Messenger
	gate      Gate
	interval  time.Duration
	logger    *logrus.Entry

	running atomic.Bool
}

// NewWatchdog constructs a Watchdog ticking at the given interval.
func NewWatchdog(records watchdogStore, messenger Messenger, gate Gate, interval time.Duration, logger *logrus.Entry) *Watchdog {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Watchdog{
		records:   records,
		messenger: messenger,
		gate:      gate,
		interval:  interval,
		logger:    logger,
	}
}

// Start runs the reconcile loop until the context is canceled. It returns
// immediately; the loop runs on its own goroutine.
func (w *Watchdog) Start(ctx context.Context) error {
	if w == nil || w.records == nil || w.messenger == nil {
		return errors.New("watchdog is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if w.interval <= 0 {
		return errors.New("watchdog interval must be positive")
	}

	ticker := time.NewTicker(w.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.RunCycle(ctx)
			case <-ctx.Done():
				w.logger.WithField("event", "watchdog_stopped").Info("watchdog stopped")
				return
			}
		}
	}()

	w.logger.WithFields(logging.Fields{
		"event":    "watchdog_started",
		"interval": w.interval.String(),
	}).Info("watchdog started")

	return nil
}

// RunCycle executes one reconcile pass, bounded by cycleTimeout. If a previous
// cycle is still running the call is skipped rather than queued.
func (w *Watchdog) RunCycle(ctx context.Context) {
	if !w.running.CompareAndSwap(false, true) {
		w.logger.WithField("event", "watchdog_tick_skipped").Debug("previous cycle still running")
		return
	}
	defer w.running.Store(false)

	if ctx == nil {
		ctx = context.Background()
	}

	cycleCtx, cancel := context.WithTimeout(ctx, cycleTimeout)
	defer cancel()

	records, err := w.records.ListEnabled(cycleCtx)
	if err != nil {
		w.logger.WithField("event", "watchdog_list_error").WithError(err).Warn("could not list enabled records")
		return
	}

	for _, record := range records {
		w.reconcileChat(cycleCtx, record)
	}
}

func (w *Watchdog) reconcileChat(ctx context.Context, record domain.ProtectionRecord) {
	if !record.Enabled || !domain.IsGroupJID(record.ChatID) {
		return
	}

	if !w.messenger.GroupReady(record.ChatID) {
		logging.WithContext(w.logger, logging.Context{
			Event:  "watchdog_no_session",
			ChatID: record.ChatID,
		}).Debug("no live session for chat yet")
		return
	}

	membership, err := w.messenger.GroupMembership(ctx, record.ChatID)
	if err != nil {
		logging.WithContext(w.logger, logging.Context{
			Event:  "watchdog_membership_error",
			ChatID: record.ChatID,
		}).WithError(err).Warn("could not fetch group membership")
		return
	}

	if !membership.HasAdmin(w.messenger.BotID()) {
		logging.WithContext(w.logger, logging.Context{
			Event:  "watchdog_bot_not_admin",
			ChatID: record.ChatID,
		}).Debug("bot lacks admin rights, skipping chat")
		return
	}

	liveAdmins := membership.AdminIDs()
	protected := record.EffectiveProtected(liveAdmins)

	restored := 0
	for jid := range protected {
		member, present := membership.Find(jid)
		if !present || member.IsAdmin() {
			continue
		}

		if w.gate != nil && !w.gate.Allow(ctx, record.ChatID, jid) {
			continue
		}

		if err := w.messenger.PromoteMember(ctx, record.ChatID, jid); err != nil {
			logging.WithContext(w.logger, logging.Context{
				Event:    "watchdog_promote_error",
				ChatID:   record.ChatID,
				MemberID: jid,
			}).WithError(err).Warn("promote failed")
			continue
		}
		restored++
	}

	if restored > 0 {
		logging.WithContext(w.logger, logging.Context{
			Event:  "watchdog_restored",
			ChatID: record.ChatID,
		}).WithField("restored", restored).Info("restored demoted protected members")
	}

	// Diagnostics snapshot only; never consulted as an enforcement gate.
	admins := domain.UniqueJIDs(liveAdmins)
	if _, err := w.records.Update(ctx, record.ChatID, Patch{LastKnownAdmins: &admins}); err != nil {
		logging.WithContext(w.logger, logging.Context{
			Event:  "watchdog_snapshot_error",
			ChatID: record.ChatID,
		}).WithError(err).Debug("could not update admin snapshot")
	}
}
