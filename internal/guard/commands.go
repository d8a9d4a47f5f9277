package guard

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"wa_guard_bot/internal/domain"
	"wa_guard_bot/internal/logging"
)

type recordStore interface {
	Get(ctx context.Context, chatID string) (domain.ProtectionRecord, error)
	Update(ctx context.Context, chatID string, patch Patch) (domain.ProtectionRecord, error)
	AddProtected(ctx context.Context, chatID, memberID string) (domain.ProtectionRecord, error)
	RemoveProtected(ctx context.Context, chatID, memberID string) (domain.ProtectionRecord, error)
}

// Commands is the chat-facing control surface for the protection registry:
// antidemote on|off|status|protectme|add|remove|list|mode|alladmins.
type Commands struct {
	records   recordStore
	messenger Messenger
	ownerJID  string
	sudoJIDs  []string
	logger    *logrus.Entry
}

// NewCommands constructs the command handler. The owner is auto-protected by
// the "on" subcommand; owner and sudo members pass the authorization gate.
func NewCommands(records recordStore, messenger Messenger, owner string, sudo []string, logger *logrus.Entry) *Commands {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Commands{
		records:   records,
		messenger: messenger,
		ownerJID:  domain.NormalizeJID(owner),
		sudoJIDs:  domain.UniqueJIDs(sudo),
		logger:    logger,
	}
}

// Handle executes one antidemote invocation. args holds the words after the
// command name; an empty args defaults to "status".
func (c *Commands) Handle(ctx context.Context, msg Message, args []string) error {
	if c == nil || c.records == nil || c.messenger == nil {
		return errors.New("command handler is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	sub := "status"
	if len(args) > 0 {
		sub = strings.ToLower(strings.TrimSpace(args[0]))
	}

	if !msg.IsGroup {
		c.reply(ctx, msg.ChatID, "Anti-demote works only in groups.", nil)
		return nil
	}

	if mutatingSubcommand(sub) && !c.authorized(ctx, msg) {
		// Unauthorized callers get silence, matching the enforcement policy
		// of the rest of the command surface.
		logging.WithContext(c.logger, logging.Context{
			Event:  "command_unauthorized",
			ChatID: msg.ChatID,
		}).WithField("sub", sub).Debug("ignoring unauthorized command")
		return nil
	}

	switch sub {
	case "status":
		return c.handleStatus(ctx, msg)
	case "on":
		return c.handleOn(ctx, msg)
	case "off":
		return c.handleOff(ctx, msg)
	case "protectme":
		return c.handleProtect(ctx, msg, msg.Sender, "You are now protected.")
	case "add":
		target, ok := firstMention(msg)
		if !ok {
			c.reply(ctx, msg.ChatID, "Tag a user: antidemote add @user", nil)
			return nil
		}
		return c.handleProtect(ctx, msg, target, "Added: @"+mentionLabel(target))
	case "remove":
		return c.handleRemove(ctx, msg)
	case "list":
		return c.handleList(ctx, msg)
	case "mode":
		return c.handleMode(ctx, msg, args)
	case "alladmins":
		return c.handleAllAdmins(ctx, msg, args)
	default:
		c.reply(ctx, msg.ChatID, "Unknown subcommand.\nUse: antidemote on|off|status|protectme|add|remove|list|mode|alladmins", nil)
		return nil
	}
}

func (c *Commands) handleStatus(ctx context.Context, msg Message) error {
	record, err := c.records.Get(ctx, msg.ChatID)
	if err != nil {
		return c.fail(ctx, msg.ChatID, "load record", err)
	}

	c.reply(ctx, msg.ChatID, statusCard(record), nil)
	return nil
}

func (c *Commands) handleOn(ctx context.Context, msg Message) error {
	owner := c.ownerJID
	if owner == "" {
		owner = domain.NormalizeJID(msg.Sender)
	}

	record, err := c.records.Get(ctx, msg.ChatID)
	if err != nil {
		return c.fail(ctx, msg.ChatID, "load record", err)
	}

	enabled := true
	members := domain.UniqueJIDs(append(append([]string{}, record.ProtectedMembers...), owner))
	record, err = c.records.Update(ctx, msg.ChatID, Patch{Enabled: &enabled, ProtectedMembers: &members})
	if err != nil {
		return c.fail(ctx, msg.ChatID, "enable protection", err)
	}

	c.reply(ctx, msg.ChatID, "Anti-demote enabled.\n\n"+statusCard(record), nil)
	return nil
}

func (c *Commands) handleOff(ctx context.Context, msg Message) error {
	enabled := false
	record, err := c.records.Update(ctx, msg.ChatID, Patch{Enabled: &enabled})
	if err != nil {
		return c.fail(ctx, msg.ChatID, "disable protection", err)
	}

	c.reply(ctx, msg.ChatID, "Anti-demote disabled.\n\n"+statusCard(record), nil)
	return nil
}

func (c *Commands) handleProtect(ctx context.Context, msg Message, memberID, confirmation string) error {
	jid := domain.NormalizeJID(memberID)
	if jid == "" {
		c.reply(ctx, msg.ChatID, "No member to protect.", nil)
		return nil
	}

	if _, err := c.records.AddProtected(ctx, msg.ChatID, jid); err != nil {
		return c.fail(ctx, msg.ChatID, "protect member", err)
	}

	c.reply(ctx, msg.ChatID, confirmation, []string{jid})
	return nil
}

func (c *Commands) handleRemove(ctx context.Context, msg Message) error {
	target, ok := firstMention(msg)
	if !ok {
		c.reply(ctx, msg.ChatID, "Tag a user: antidemote remove @user", nil)
		return nil
	}

	if _, err := c.records.RemoveProtected(ctx, msg.ChatID, target); err != nil {
		return c.fail(ctx, msg.ChatID, "unprotect member", err)
	}

	c.reply(ctx, msg.ChatID, "Removed: @"+mentionLabel(target), []string{target})
	return nil
}

func (c *Commands) handleList(ctx context.Context, msg Message) error {
	record, err := c.records.Get(ctx, msg.ChatID)
	if err != nil {
		return c.fail(ctx, msg.ChatID, "load record", err)
	}

	members := domain.UniqueJIDs(record.ProtectedMembers)
	if len(members) == 0 {
		c.reply(ctx, msg.ChatID, "Protected list is empty.", nil)
		return nil
	}

	lines := make([]string, 0, len(members)+1)
	lines = append(lines, "Protected members:")
	for _, jid := range members {
		lines = append(lines, "- @"+mentionLabel(jid))
	}

	c.reply(ctx, msg.ChatID, strings.Join(lines, "\n"), members)
	return nil
}

func (c *Commands) handleMode(ctx context.Context, msg Message, args []string) error {
	if len(args) < 2 {
		c.reply(ctx, msg.ChatID, "Use: antidemote mode all | selected", nil)
		return nil
	}

	mode, ok := domain.ParseMode(args[1])
	if !ok {
		c.reply(ctx, msg.ChatID, "Use: antidemote mode all | selected", nil)
		return nil
	}

	record, err := c.records.Update(ctx, msg.ChatID, Patch{Mode: &mode})
	if err != nil {
		return c.fail(ctx, msg.ChatID, "set mode", err)
	}

	c.reply(ctx, msg.ChatID, "Mode set: "+strings.ToUpper(mode)+"\n\n"+statusCard(record), nil)
	return nil
}

func (c *Commands) handleAllAdmins(ctx context.Context, msg Message, args []string) error {
	if len(args) < 2 {
		c.reply(ctx, msg.ChatID, "Use: antidemote alladmins on | off", nil)
		return nil
	}

	var value bool
	switch strings.ToLower(strings.TrimSpace(args[1])) {
	case "on":
		value = true
	case "off":
		value = false
	default:
		c.reply(ctx, msg.ChatID, "Use: antidemote alladmins on | off", nil)
		return nil
	}

	record, err := c.records.Update(ctx, msg.ChatID, Patch{AllAdmins: &value})
	if err != nil {
		return c.fail(ctx, msg.ChatID, "set alladmins", err)
	}

	state := "OFF"
	if value {
		state = "ON"
	}

	c.reply(ctx, msg.ChatID, "All Admins: "+state+"\n\n"+statusCard(record), nil)
	return nil
}

// authorized passes the bot's own messages, the owner, sudo members, and
// current group admins. A failed membership lookup counts as unauthorized.
func (c *Commands) authorized(ctx context.Context, msg Message) bool {
	if msg.FromMe {
		return true
	}

	sender := domain.NormalizeJID(msg.Sender)
	if sender == "" {
		return false
	}
	if sender == c.ownerJID {
		return true
	}
	for _, jid := range c.sudoJIDs {
		if sender == jid {
			return true
		}
	}

	if msg.IsGroup {
		membership, err := c.messenger.GroupMembership(ctx, msg.ChatID)
		if err != nil {
			logging.WithContext(c.logger, logging.Context{
				Event:  "command_auth_error",
				ChatID: msg.ChatID,
			}).WithError(err).Debug("could not verify sender admin rights")
			return false
		}
		return membership.HasAdmin(sender)
	}

	return false
}

func (c *Commands) reply(ctx context.Context, chatID, text string, mentions []string) {
	if err := c.messenger.SendText(ctx, chatID, text, mentions); err != nil {
		logging.WithContext(c.logger, logging.Context{
			Event:  "command_reply_error",
			ChatID: chatID,
		}).WithError(err).Warn("could not deliver reply")
	}
}

func (c *Commands) fail(ctx context.Context, chatID, op string, err error) error {
	logging.WithContext(c.logger, logging.Context{
		Event:  "command_error",
		ChatID: chatID,
	}).WithField("op", op).WithError(err).Error("command failed")

	c.reply(ctx, chatID, "Anti-demote error, try again later.", nil)
	return fmt.Errorf("%s: %w", op, err)
}

func mutatingSubcommand(sub string) bool {
	switch sub {
	case "on", "off", "protectme", "add", "remove", "mode", "alladmins":
		return true
	default:
		return false
	}
}

func firstMention(msg Message) (string, bool) {
	for _, id := range msg.Mentions {
		if jid := domain.NormalizeJID(id); jid != "" {
			return jid, true
		}
	}
	return "", false
}

func mentionLabel(jid string) string {
	if at := strings.Index(jid, "@"); at > 0 {
		return jid[:at]
	}
	return jid
}

func statusCard(record domain.ProtectionRecord) string {
	onOff := func(v bool) string {
		if v {
			return "YES"
		}
		return "NO"
	}

	mode := record.Mode
	if mode == "" {
		mode = domain.ModeSelected
	}

	return strings.Join([]string{
		"ANTI-DEMOTE",
		"------------------",
		"Enabled: " + onOff(record.Enabled),
		"Mode: " + strings.ToUpper(mode),
		"All Admins: " + onOff(record.AllAdmins),
		fmt.Sprintf("Protected: %d", len(record.ProtectedMembers)),
		"------------------",
		"Bot must be admin to restore demotions.",
	}, "\n")
}
