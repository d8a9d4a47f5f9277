// Package whatsapp wraps the whatsmeow client behind the messenger surface
// the guard package enforces through.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"wa_guard_bot/internal/config"
	"wa_guard_bot/internal/domain"
	"wa_guard_bot/internal/guard"
	"wa_guard_bot/internal/logging"
)

const (
	commandTimeout = 30 * time.Second
	enforceTimeout = 30 * time.Second
)

// Command names the bot answers to.
var commandNames = map[string]struct{}{
	"antidemote": {},
	"antid":      {},
}

// CommandHandler consumes parsed chat commands.
type CommandHandler interface {
	Handle(ctx context.Context, msg guard.Message, args []string) error
}

// ChangeHandler consumes group membership-change notifications.
type ChangeHandler interface {
	HandleMembershipChange(ctx context.Context, change domain.MembershipChange) error
}

// Client is the WhatsApp transport. It implements guard.Messenger and feeds
// inbound events to the configured handlers.
type Client struct {
	wa        *whatsmeow.Client
	prefix    string
	pairPhone string
	logger    *logrus.Entry

	commands CommandHandler
	changes  ChangeHandler

	mu    sync.RWMutex
	ready map[string]struct{}
}

// NewClient opens the session store and builds a WhatsApp client. It does not
// connect; call SetHandlers and then Connect.
func NewClient(ctx context.Context, cfg config.Config, logger *logrus.Entry) (*Client, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	container, err := sqlstore.New(ctx, cfg.SessionDBDriver, cfg.SessionDBURI, waLog.Stdout("Session", "WARN", false))
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}

	return &Client{
		wa:        whatsmeow.NewClient(device, waLog.Stdout("Client", "WARN", false)),
		prefix:    cfg.CommandPrefix,
		pairPhone: cfg.PairPhone,
		logger:    logger,
		ready:     make(map[string]struct{}),
	}, nil
}

// SetHandlers installs the command and membership-change consumers. Must be
// called before Connect.
func (c *Client) SetHandlers(commands CommandHandler, changes ChangeHandler) {
	c.commands = commands
	c.changes = changes
}

// Connect registers the event handler and opens the WhatsApp connection. A
// fresh device logs in via pair code when a phone number is configured, or
// prints a QR code to the log otherwise.
func (c *Client) Connect(ctx context.Context) error {
	if c == nil || c.wa == nil {
		return errors.New("client is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	c.wa.AddEventHandler(c.handleEvent)

	if c.wa.Store.ID == nil {
		if c.pairPhone != "" {
			return c.connectWithPairCode(ctx)
		}
		return c.connectWithQR(ctx)
	}

	if err := c.wa.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	return nil
}

func (c *Client) connectWithQR(ctx context.Context) error {
	qrChan, err := c.wa.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("qr channel: %w", err)
	}
	if err := c.wa.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	go func() {
		for item := range qrChan {
			if item.Event == "code" {
				c.logger.WithField("event", "qr_login").Info("scan this code with WhatsApp:\n" + item.Code)
				continue
			}
			c.logger.WithFields(logging.Fields{
				"event": "qr_login",
				"state": item.Event,
			}).Info("login state changed")
		}
	}()

	return nil
}

func (c *Client) connectWithPairCode(ctx context.Context) error {
	if err := c.wa.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	code, err := c.wa.PairPhone(ctx, c.pairPhone, true, whatsmeow.PairClientChrome, "Chrome (Linux)")
	if err != nil {
		return fmt.Errorf("request pair code: %w", err)
	}

	c.logger.WithFields(logging.Fields{
		"event": "pair_login",
		"code":  code,
	}).Info("enter this code in WhatsApp under linked devices")

	return nil
}

// Disconnect closes the WhatsApp connection.
func (c *Client) Disconnect() {
	if c != nil && c.wa != nil {
		c.wa.Disconnect()
	}
}

// IsConnected reports whether the WhatsApp socket is up.
func (c *Client) IsConnected() bool {
	return c != nil && c.wa != nil && c.wa.IsConnected()
}

// BotID implements guard.Messenger.
func (c *Client) BotID() string {
	if c == nil || c.wa == nil || c.wa.Store.ID == nil {
		return ""
	}
	return c.wa.Store.ID.ToNonAD().String()
}

// GroupMembership implements guard.Messenger with a fresh metadata fetch.
func (c *Client) GroupMembership(ctx context.Context, groupID string) (domain.Membership, error) {
	jid, err := types.ParseJID(groupID)
	if err != nil {
		return domain.Membership{}, fmt.Errorf("parse group jid: %w", err)
	}

	info, err := c.wa.GetGroupInfo(ctx, jid)
	if err != nil {
		return domain.Membership{}, fmt.Errorf("fetch group info: %w", err)
	}

	members := make([]domain.Member, 0, len(info.Participants))
	for _, p := range info.Participants {
		members = append(members, domain.Member{
			ID:   p.JID.ToNonAD().String(),
			Role: participantRole(p),
		})
	}

	return domain.Membership{GroupID: groupID, Members: members}, nil
}

// PromoteMember implements guard.Messenger.
func (c *Client) PromoteMember(ctx context.Context, groupID, memberID string) error {
	groupJID, err := types.ParseJID(groupID)
	if err != nil {
		return fmt.Errorf("parse group jid: %w", err)
	}
	memberJID, err := types.ParseJID(memberID)
	if err != nil {
		return fmt.Errorf("parse member jid: %w", err)
	}

	if _, err := c.wa.UpdateGroupParticipants(ctx, groupJID, []types.JID{memberJID}, whatsmeow.ParticipantChangePromote); err != nil {
		return fmt.Errorf("promote participant: %w", err)
	}

	return nil
}

// SendText implements guard.Messenger. Mentioned JIDs are tagged so clients
// render them as taps.
func (c *Client) SendText(ctx context.Context, chatID, text string, mentions []string) error {
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return fmt.Errorf("parse chat jid: %w", err)
	}

	msg := &waE2E.Message{Conversation: proto.String(text)}
	if len(mentions) > 0 {
		msg = &waE2E.Message{
			ExtendedTextMessage: &waE2E.ExtendedTextMessage{
				Text: proto.String(text),
				ContextInfo: &waE2E.ContextInfo{
					MentionedJID: mentions,
				},
			},
		}
	}

	if _, err := c.wa.SendMessage(ctx, jid, msg); err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	return nil
}

// GroupReady implements guard.Messenger. A group is ready once any event has
// been observed from it on the current connection.
func (c *Client) GroupReady(groupID string) bool {
	if c == nil {
		return false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.ready[groupID]
	return ok
}

func (c *Client) markReady(groupID string) {
	c.mu.Lock()
	c.ready[groupID] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) handleEvent(evt interface{}) {
	switch e := evt.(type) {
	case *events.Message:
		c.onMessage(e)
	case *events.GroupInfo:
		c.onGroupInfo(e)
	case *events.Connected:
		c.logger.WithField("event", "whatsapp_connected").Info("connected to WhatsApp")
	case *events.LoggedOut:
		c.logger.WithField("event", "whatsapp_logged_out").Warn("device logged out, session must be relinked")
	}
}

func (c *Client) onMessage(e *events.Message) {
	if e.Info.IsGroup {
		c.markReady(e.Info.Chat.String())
	}
	if c.commands == nil {
		return
	}

	text, mentions := textAndMentions(e.Message)
	args, ok := parseCommand(text, c.prefix)
	if !ok {
		return
	}

	msg := guard.Message{
		ChatID:   e.Info.Chat.String(),
		Sender:   e.Info.Sender.ToNonAD().String(),
		FromMe:   e.Info.IsFromMe,
		IsGroup:  e.Info.IsGroup,
		Mentions: mentions,
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if err := c.commands.Handle(ctx, msg, args); err != nil {
		c.logger.WithFields(logging.Fields{
			"event":   "command_handler_error",
			"chat_id": msg.ChatID,
		}).WithError(err).Warn("command handling failed")
	}
}

func (c *Client) onGroupInfo(e *events.GroupInfo) {
	c.markReady(e.JID.String())

	if c.changes == nil || len(e.Demote) == 0 {
		return
	}

	affected := make([]string, 0, len(e.Demote))
	for _, jid := range e.Demote {
		affected = append(affected, jid.ToNonAD().String())
	}

	change := domain.MembershipChange{
		GroupID:  e.JID.String(),
		Affected: affected,
		Action:   domain.ActionDemote,
	}

	ctx, cancel := context.WithTimeout(context.Background(), enforceTimeout)
	defer cancel()

	if err := c.changes.HandleMembershipChange(ctx, change); err != nil {
		c.logger.WithFields(logging.Fields{
			"event":   "change_handler_error",
			"chat_id": change.GroupID,
		}).WithError(err).Warn("membership change handling failed")
	}
}

// parseCommand checks a message text for the command prefix and one of the
// bot's command names, returning the remaining words.
func parseCommand(text, prefix string) ([]string, bool) {
	if prefix == "" || !strings.HasPrefix(text, prefix) {
		return nil, false
	}

	fields := strings.Fields(strings.TrimPrefix(text, prefix))
	if len(fields) == 0 {
		return nil, false
	}
	if _, ok := commandNames[strings.ToLower(fields[0])]; !ok {
		return nil, false
	}

	return fields[1:], true
}

func participantRole(p types.GroupParticipant) string {
	switch {
	case p.IsSuperAdmin:
		return domain.RoleSuperAdmin
	case p.IsAdmin:
		return domain.RoleAdmin
	default:
		return domain.RoleMember
	}
}

// textAndMentions pulls the plain text and mentioned JIDs out of a message,
// looking through the extended and caption variants clients actually send.
func textAndMentions(msg *waE2E.Message) (string, []string) {
	if msg == nil {
		return "", nil
	}

	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText(), ext.GetContextInfo().GetMentionedJID()
	}
	if img := msg.GetImageMessage(); img != nil {
		return img.GetCaption(), img.GetContextInfo().GetMentionedJID()
	}
	if vid := msg.GetVideoMessage(); vid != nil {
		return vid.GetCaption(), vid.GetContextInfo().GetMentionedJID()
	}

	return msg.GetConversation(), nil
}
