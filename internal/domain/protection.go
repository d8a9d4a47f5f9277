// Package domain defines shared domain constants and types.
package domain

import (
	"sort"
	"strings"
	"time"
)

const (
	// ModeSelected protects only the explicit member list.
	ModeSelected = "selected"
	// ModeAllAdmins additionally protects every current group admin.
	ModeAllAdmins = "all_admins"
)

// ParseMode maps user-facing mode words onto the stored mode constants.
func ParseMode(value string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "selected":
		return ModeSelected, true
	case "all", "alladmins", "all_admins":
		return ModeAllAdmins, true
	default:
		return "", false
	}
}

// ProtectionRecord holds the anti-demote configuration for one group chat.
type ProtectionRecord struct {
	ChatID           string    `bson:"chat_id" json:"chat_id"`
	Enabled          bool      `bson:"enabled" json:"enabled"`
	Mode             string    `bson:"mode" json:"mode"`
	AllAdmins        bool      `bson:"all_admins" json:"all_admins"`
	ProtectedMembers []string  `bson:"protected_members" json:"protected_members"`
	LastKnownAdmins  []string  `bson:"last_known_admins" json:"last_known_admins"`
	LastActionAt     time.Time `bson:"last_action_at" json:"last_action_at"`
}

// NewProtectionRecord returns the default record for a chat that has never
// been configured.
func NewProtectionRecord(chatID string) ProtectionRecord {
	return ProtectionRecord{
		ChatID:           chatID,
		Enabled:          false,
		Mode:             ModeSelected,
		ProtectedMembers: []string{},
		LastKnownAdmins:  []string{},
	}
}

// IsProtected reports whether the member is on the explicit protected list.
func (r ProtectionRecord) IsProtected(memberID string) bool {
	target := NormalizeJID(memberID)
	for _, id := range r.ProtectedMembers {
		if NormalizeJID(id) == target {
			return true
		}
	}
	return false
}

// ProtectsAllAdmins reports whether enforcement must cover every live admin,
// either via the mode or the standalone toggle.
func (r ProtectionRecord) ProtectsAllAdmins() bool {
	return r.AllAdmins || r.Mode == ModeAllAdmins
}

// EffectiveProtected computes the set enforcement acts on: the explicit list,
// plus the supplied live admins when ProtectsAllAdmins is true. The live list
// is always fetched at enforcement time; LastKnownAdmins is never consulted.
func (r ProtectionRecord) EffectiveProtected(liveAdmins []string) map[string]struct{} {
	set := make(map[string]struct{}, len(r.ProtectedMembers)+len(liveAdmins))
	for _, id := range r.ProtectedMembers {
		if jid := NormalizeJID(id); jid != "" {
			set[jid] = struct{}{}
		}
	}

	if r.ProtectsAllAdmins() {
		for _, id := range liveAdmins {
			if jid := NormalizeJID(id); jid != "" {
				set[jid] = struct{}{}
			}
		}
	}

	return set
}

// NormalizeJID coerces a phone number or partial identifier into a full user
// JID. Values already carrying a server part are returned unchanged.
func NormalizeJID(value string) string {
	s := strings.TrimSpace(value)
	if s == "" {
		return ""
	}
	if strings.Contains(s, "@") {
		return s
	}

	var digits strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return s
	}

	return digits.String() + "@s.whatsapp.net"
}

// UniqueJIDs normalizes, deduplicates, and sorts a member list.
func UniqueJIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		jid := NormalizeJID(id)
		if jid == "" {
			continue
		}
		if _, ok := seen[jid]; ok {
			continue
		}
		seen[jid] = struct{}{}
		out = append(out, jid)
	}

	sort.Strings(out)
	return out
}

// IsGroupJID reports whether the chat identifier names a group.
func IsGroupJID(chatID string) bool {
	return strings.HasSuffix(strings.TrimSpace(chatID), "@g.us")
}
