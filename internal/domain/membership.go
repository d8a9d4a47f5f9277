package domain

// Group participant roles as reported by the messaging client.
const (
	RoleMember     = "member"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "superadmin"
)

// Membership change actions delivered by the messaging client.
const (
	ActionPromote = "promote"
	ActionDemote  = "demote"
	ActionAdd     = "add"
	ActionRemove  = "remove"
)

// Member is one group participant with its current role.
type Member struct {
	ID   string
	Role string
}

// IsAdmin reports whether the member holds admin or superadmin rights.
func (m Member) IsAdmin() bool {
	return m.Role == RoleAdmin || m.Role == RoleSuperAdmin
}

// Membership is a point-in-time snapshot of a group's participants.
type Membership struct {
	GroupID string
	Members []Member
}

// AdminIDs returns the normalized JIDs of every admin in the snapshot.
func (ms Membership) AdminIDs() []string {
	admins := make([]string, 0, len(ms.Members))
	for _, m := range ms.Members {
		if m.IsAdmin() {
			admins = append(admins, NormalizeJID(m.ID))
		}
	}
	return admins
}

// Find returns the participant entry for the given member, if present.
func (ms Membership) Find(memberID string) (Member, bool) {
	target := NormalizeJID(memberID)
	for _, m := range ms.Members {
		if NormalizeJID(m.ID) == target {
			return m, true
		}
	}
	return Member{}, false
}

// HasAdmin reports whether the given member is currently an admin.
func (ms Membership) HasAdmin(memberID string) bool {
	m, ok := ms.Find(memberID)
	return ok && m.IsAdmin()
}

// MembershipChange is a group membership notification from the messaging
// client.
type MembershipChange struct {
	GroupID  string
	Affected []string
	Action   string
}
