package guard

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"wa_guard_bot/internal/domain"
	"wa_guard_bot/internal/logging"
)

type recordGetter interface {
	Get(ctx context.Context, chatID string) (domain.ProtectionRecord, error)
}

// Listener reacts to group membership-change notifications, re-promoting
// protected members immediately after a demote. Restoration is best-effort:
// failures are logged and swallowed so one member's failure never blocks the
// rest.
type Listener struct {
	records   recordGetter
	messenger Messenger
	gate      Gate
	logger    *logrus.Entry
}

// NewListener constructs a Listener.
func NewListener(records recordGetter, messenger Messenger, gate Gate, logger *logrus.Entry) *Listener {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Listener{
		records:   records,
		messenger: messenger,
		gate:      gate,
		logger:    logger,
	}
}

// HandleMembershipChange processes one notification. Non-demote actions and
// non-group chats are ignored.
func (l *Listener) HandleMembershipChange(ctx context.Context, change domain.MembershipChange) error {
	if l == nil || l.records == nil || l.messenger == nil {
		return errors.New("listener is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if change.Action != domain.ActionDemote {
		return nil
	}
	if !domain.IsGroupJID(change.GroupID) {
		return nil
	}

	record, err := l.records.Get(ctx, change.GroupID)
	if err != nil {
		logging.WithContext(l.logger, logging.Context{
			Event:  "listener_record_error",
			ChatID: change.GroupID,
		}).WithError(err).Warn("could not load protection record")
		return nil
	}
	if !record.Enabled {
		return nil
	}

	// The demote itself may have just changed group state, so the membership
	// snapshot must be fetched fresh here.
	membership, err := l.messenger.GroupMembership(ctx, change.GroupID)
	if err != nil {
		logging.WithContext(l.logger, logging.Context{
			Event:  "listener_membership_error",
			ChatID: change.GroupID,
		}).WithError(err).Warn("could not fetch group membership")
		return nil
	}

	protected := record.EffectiveProtected(membership.AdminIDs())

	// A demote can only hit an admin, so when all admins are protected every
	// affected member qualifies even though the fresh snapshot no longer
	// lists them as one.
	affected := make([]string, 0, len(change.Affected))
	for _, id := range change.Affected {
		jid := domain.NormalizeJID(id)
		if _, ok := protected[jid]; ok || record.ProtectsAllAdmins() {
			affected = append(affected, jid)
		}
	}
	if len(affected) == 0 {
		return nil
	}

	if !membership.HasAdmin(l.messenger.BotID()) {
		logging.WithContext(l.logger, logging.Context{
			Event:  "listener_bot_not_admin",
			ChatID: change.GroupID,
		}).Warn("cannot restore demoted member, bot lacks admin rights")
		l.sendNotice(ctx, change.GroupID,
			"A protected member was demoted but the bot is not an admin here, so it cannot restore them.")
		return nil
	}

	for _, jid := range affected {
		if l.gate != nil && !l.gate.Allow(ctx, change.GroupID, jid) {
			logging.WithContext(l.logger, logging.Context{
				Event:    "listener_cooldown_skip",
				ChatID:   change.GroupID,
				MemberID: jid,
			}).Debug("promote suppressed by cooldown")
			continue
		}

		if err := l.messenger.PromoteMember(ctx, change.GroupID, jid); err != nil {
			logging.WithContext(l.logger, logging.Context{
				Event:    "listener_promote_error",
				ChatID:   change.GroupID,
				MemberID: jid,
			}).WithError(err).Warn("promote failed")
			continue
		}

		logging.WithContext(l.logger, logging.Context{
			Event:    "listener_restored",
			ChatID:   change.GroupID,
			MemberID: jid,
		}).Info("restored demoted protected member")
	}

	return nil
}

func (l *Listener) sendNotice(ctx context.Context, chatID, text string) {
	if err := l.messenger.SendText(ctx, chatID, text, nil); err != nil {
		logging.WithContext(l.logger, logging.Context{
			Event:  "listener_notice_error",
			ChatID: chatID,
		}).WithError(err).Debug("could not deliver notice")
	}
}
