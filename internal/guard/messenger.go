// Package guard implements the anti-demote protection engine: the persisted
// protection registry, the membership-change listener, the reconcile watchdog,
// and the chat command interface that drives them.
package guard

import (
	"context"

	"wa_guard_bot/internal/domain"
)

// Messenger captures the messaging-client operations enforcement relies on.
// The production implementation wraps whatsmeow; tests provide fakes.
type Messenger interface {
	// BotID returns the bot's own member JID.
	BotID() string
	// GroupMembership fetches a fresh participant snapshot for the group.
	GroupMembership(ctx context.Context, groupID string) (domain.Membership, error)
	// PromoteMember grants admin rights to the member in the group.
	PromoteMember(ctx context.Context, groupID, memberID string) error
	// SendText delivers a plain text message, optionally mentioning members.
	SendText(ctx context.Context, chatID, text string, mentions []string) error
	// GroupReady reports whether a live session has seen the group at least
	// once, i.e. whether enforcement can address it.
	GroupReady(groupID string) bool
}

// Message is one inbound command invocation extracted from a chat message.
type Message struct {
	ChatID   string
	Sender   string
	FromMe   bool
	IsGroup  bool
	Mentions []string
}
