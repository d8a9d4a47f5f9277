package guard

import (
	"context"
	"errors"
	"strings"
	"testing"

	"wa_guard_bot/internal/domain"
)

type fakeCommandStore struct {
	record    domain.ProtectionRecord
	getErr    error
	updateErr error

	patches []Patch
	added   []string
	removed []string
}

func (f *fakeCommandStore) Get(_ context.Context, chatID string) (domain.ProtectionRecord, error) {
	if f.getErr != nil {
		return domain.ProtectionRecord{}, f.getErr
	}
	record := f.record
	record.ChatID = chatID
	return record, nil
}

func (f *fakeCommandStore) Update(_ context.Context, chatID string, patch Patch) (domain.ProtectionRecord, error) {
	if f.updateErr != nil {
		return domain.ProtectionRecord{}, f.updateErr
	}
	f.patches = append(f.patches, patch)

	record := f.record
	record.ChatID = chatID
	if patch.Enabled != nil {
		record.Enabled = *patch.Enabled
	}
	if patch.Mode != nil {
		record.Mode = *patch.Mode
	}
	if patch.AllAdmins != nil {
		record.AllAdmins = *patch.AllAdmins
	}
	if patch.ProtectedMembers != nil {
		record.ProtectedMembers = *patch.ProtectedMembers
	}
	f.record = record
	return record, nil
}

func (f *fakeCommandStore) AddProtected(_ context.Context, chatID, memberID string) (domain.ProtectionRecord, error) {
	if f.updateErr != nil {
		return domain.ProtectionRecord{}, f.updateErr
	}
	f.added = append(f.added, memberID)
	return f.record, nil
}

func (f *fakeCommandStore) RemoveProtected(_ context.Context, chatID, memberID string) (domain.ProtectionRecord, error) {
	if f.updateErr != nil {
		return domain.ProtectionRecord{}, f.updateErr
	}
	f.removed = append(f.removed, memberID)
	return f.record, nil
}

const testOwner = "5551230000@s.whatsapp.net"

func ownerMessage() Message {
	return Message{
		ChatID:  testGroup,
		Sender:  testOwner,
		IsGroup: true,
	}
}

func newTestCommands(store *fakeCommandStore, messenger *fakeMessenger) *Commands {
	return NewCommands(store, messenger, "5551230000", nil, nil)
}

func lastReply(t *testing.T, messenger *fakeMessenger) sentText {
	t.Helper()
	if len(messenger.sent) == 0 {
		t.Fatal("no reply sent")
	}
	return messenger.sent[len(messenger.sent)-1]
}

func TestCommandsDefaultsToStatus(t *testing.T) {
	store := &fakeCommandStore{record: domain.ProtectionRecord{Enabled: true, Mode: domain.ModeSelected}}
	messenger := &fakeMessenger{botID: testBot}
	commands := newTestCommands(store, messenger)

	if err := commands.Handle(context.Background(), ownerMessage(), nil); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	reply := lastReply(t, messenger)
	if !strings.Contains(reply.text, "ANTI-DEMOTE") || !strings.Contains(reply.text, "Enabled: YES") {
		t.Fatalf("reply = %q, want status card", reply.text)
	}
}

func TestCommandsOnEnablesAndProtectsOwner(t *testing.T) {
	store := &fakeCommandStore{record: domain.ProtectionRecord{Mode: domain.ModeSelected}}
	messenger := &fakeMessenger{botID: testBot}
	commands := newTestCommands(store, messenger)

	if err := commands.Handle(context.Background(), ownerMessage(), []string{"on"}); err != nil {
		t.Fatalf("Handle(on) error = %v", err)
	}

	if len(store.patches) != 1 {
		t.Fatalf("patches = %d, want 1", len(store.patches))
	}
	patch := store.patches[0]
	if patch.Enabled == nil || !*patch.Enabled {
		t.Error("Enabled patch missing, want enable")
	}
	if patch.ProtectedMembers == nil || len(*patch.ProtectedMembers) != 1 || (*patch.ProtectedMembers)[0] != testOwner {
		t.Errorf("ProtectedMembers patch = %v, want owner auto-protected", patch.ProtectedMembers)
	}

	reply := lastReply(t, messenger)
	if !strings.Contains(reply.text, "enabled") {
		t.Errorf("reply = %q, want enable confirmation", reply.text)
	}
}

func TestCommandsOnKeepsExistingProtectedMembers(t *testing.T) {
	store := &fakeCommandStore{record: domain.ProtectionRecord{
		Mode:             domain.ModeSelected,
		ProtectedMembers: []string{"111222333@s.whatsapp.net"},
	}}
	messenger := &fakeMessenger{botID: testBot}
	commands := newTestCommands(store, messenger)

	if err := commands.Handle(context.Background(), ownerMessage(), []string{"on"}); err != nil {
		t.Fatalf("Handle(on) error = %v", err)
	}

	patch := store.patches[0]
	if patch.ProtectedMembers == nil || len(*patch.ProtectedMembers) != 2 {
		t.Fatalf("ProtectedMembers patch = %v, want existing member plus owner", patch.ProtectedMembers)
	}
}

func TestCommandsOffDisables(t *testing.T) {
	store := &fakeCommandStore{record: domain.ProtectionRecord{Enabled: true}}
	messenger := &fakeMessenger{botID: testBot}
	commands := newTestCommands(store, messenger)

	if err := commands.Handle(context.Background(), ownerMessage(), []string{"off"}); err != nil {
		t.Fatalf("Handle(off) error = %v", err)
	}

	if len(store.patches) != 1 || store.patches[0].Enabled == nil || *store.patches[0].Enabled {
		t.Fatalf("patches = %+v, want single disable", store.patches)
	}
}

func TestCommandsUnauthorizedMutationIsSilentlyIgnored(t *testing.T) {
	store := &fakeCommandStore{}
	messenger := &fakeMessenger{botID: testBot}
	commands := newTestCommands(store, messenger)

	msg := Message{ChatID: testGroup, Sender: "666777888@s.whatsapp.net", IsGroup: true}
	if err := commands.Handle(context.Background(), msg, []string{"on"}); err != nil {
		t.Fatalf("Handle(on) error = %v", err)
	}

	if len(store.patches) != 0 {
		t.Errorf("patches = %v, want none for unauthorized sender", store.patches)
	}
	if len(messenger.sent) != 0 {
		t.Errorf("sent = %v, want silence for unauthorized sender", messenger.sent)
	}
}

func TestCommandsStatusAllowedForAnyone(t *testing.T) {
	store := &fakeCommandStore{}
	messenger := &fakeMessenger{botID: testBot}
	commands := newTestCommands(store, messenger)

	msg := Message{ChatID: testGroup, Sender: "666777888@s.whatsapp.net", IsGroup: true}
	if err := commands.Handle(context.Background(), msg, []string{"status"}); err != nil {
		t.Fatalf("Handle(status) error = %v", err)
	}

	if len(messenger.sent) != 1 {
		t.Fatalf("sent = %v, want one status reply", messenger.sent)
	}
}

func TestCommandsSudoSenderIsAuthorized(t *testing.T) {
	store := &fakeCommandStore{}
	messenger := &fakeMessenger{botID: testBot}
	commands := NewCommands(store, messenger, "5551230000", []string{"666777888"}, nil)

	msg := Message{ChatID: testGroup, Sender: "666777888@s.whatsapp.net", IsGroup: true}
	if err := commands.Handle(context.Background(), msg, []string{"off"}); err != nil {
		t.Fatalf("Handle(off) error = %v", err)
	}

	if len(store.patches) != 1 {
		t.Fatalf("patches = %d, want 1 for sudo sender", len(store.patches))
	}
}

func TestCommandsGroupAdminIsAuthorized(t *testing.T) {
	store := &fakeCommandStore{}
	messenger := &fakeMessenger{
		botID: testBot,
		membership: domain.Membership{
			GroupID: testGroup,
			Members: []domain.Member{
				{ID: "666777888@s.whatsapp.net", Role: domain.RoleAdmin},
			},
		},
	}
	commands := newTestCommands(store, messenger)

	msg := Message{ChatID: testGroup, Sender: "666777888@s.whatsapp.net", IsGroup: true}
	if err := commands.Handle(context.Background(), msg, []string{"off"}); err != nil {
		t.Fatalf("Handle(off) error = %v", err)
	}

	if len(store.patches) != 1 {
		t.Fatalf("patches = %d, want 1 for group admin", len(store.patches))
	}
}

func TestCommandsFromMeIsAuthorized(t *testing.T) {
	store := &fakeCommandStore{}
	messenger := &fakeMessenger{botID: testBot}
	commands := NewCommands(store, messenger, "", nil, nil)

	msg := Message{ChatID: testGroup, Sender: testBot, FromMe: true, IsGroup: true}
	if err := commands.Handle(context.Background(), msg, []string{"off"}); err != nil {
		t.Fatalf("Handle(off) error = %v", err)
	}

	if len(store.patches) != 1 {
		t.Fatalf("patches = %d, want 1 for own message", len(store.patches))
	}
}

func TestCommandsRejectedOutsideGroups(t *testing.T) {
	store := &fakeCommandStore{}
	messenger := &fakeMessenger{botID: testBot}
	commands := newTestCommands(store, messenger)

	msg := Message{ChatID: testOwner, Sender: testOwner, IsGroup: false}
	if err := commands.Handle(context.Background(), msg, []string{"on"}); err != nil {
		t.Fatalf("Handle(on) error = %v", err)
	}

	if len(store.patches) != 0 {
		t.Errorf("patches = %v, want none outside groups", store.patches)
	}
	reply := lastReply(t, messenger)
	if !strings.Contains(reply.text, "only in groups") {
		t.Errorf("reply = %q, want groups-only notice", reply.text)
	}
}

func TestCommandsStatusRejectedOutsideGroups(t *testing.T) {
	store := &fakeCommandStore{}
	messenger := &fakeMessenger{botID: testBot}
	commands := newTestCommands(store, messenger)

	msg := Message{ChatID: testOwner, Sender: testOwner, IsGroup: false}
	if err := commands.Handle(context.Background(), msg, []string{"status"}); err != nil {
		t.Fatalf("Handle(status) error = %v", err)
	}

	reply := lastReply(t, messenger)
	if !strings.Contains(reply.text, "only in groups") {
		t.Errorf("reply = %q, want groups-only notice", reply.text)
	}
}

func TestCommandsProtectMe(t *testing.T) {
	store := &fakeCommandStore{}
	messenger := &fakeMessenger{botID: testBot}
	commands := newTestCommands(store, messenger)

	if err := commands.Handle(context.Background(), ownerMessage(), []string{"protectme"}); err != nil {
		t.Fatalf("Handle(protectme) error = %v", err)
	}

	if len(store.added) != 1 || store.added[0] != testOwner {
		t.Fatalf("added = %v, want sender protected", store.added)
	}
}

func TestCommandsAddRequiresMention(t *testing.T) {
	store := &fakeCommandStore{}
	messenger := &fakeMessenger{botID: testBot}
	commands := newTestCommands(store, messenger)

	if err := commands.Handle(context.Background(), ownerMessage(), []string{"add"}); err != nil {
		t.Fatalf("Handle(add) error = %v", err)
	}

	if len(store.added) != 0 {
		t.Errorf("added = %v, want none without a mention", store.added)
	}
	reply := lastReply(t, messenger)
	if !strings.Contains(reply.text, "Tag a user") {
		t.Errorf("reply = %q, want usage hint", reply.text)
	}
}

func TestCommandsAddMentionedMember(t *testing.T) {
	store := &fakeCommandStore{}
	messenger := &fakeMessenger{botID: testBot}
	commands := newTestCommands(store, messenger)

	msg := ownerMessage()
	msg.Mentions = []string{"111222333"}
	if err := commands.Handle(context.Background(), msg, []string{"add"}); err != nil {
		t.Fatalf("Handle(add) error = %v", err)
	}

	if len(store.added) != 1 || store.added[0] != "111222333@s.whatsapp.net" {
		t.Fatalf("added = %v, want normalized mention", store.added)
	}
	reply := lastReply(t, messenger)
	if len(reply.mentions) != 1 || reply.mentions[0] != "111222333@s.whatsapp.net" {
		t.Errorf("reply mentions = %v, want added member tagged", reply.mentions)
	}
}

func TestCommandsRemoveMentionedMember(t *testing.T) {
	store := &fakeCommandStore{}
	messenger := &fakeMessenger{botID: testBot}
	commands := newTestCommands(store, messenger)

	msg := ownerMessage()
	msg.Mentions = []string{"111222333@s.whatsapp.net"}
	if err := commands.Handle(context.Background(), msg, []string{"remove"}); err != nil {
		t.Fatalf("Handle(remove) error = %v", err)
	}

	if len(store.removed) != 1 || store.removed[0] != "111222333@s.whatsapp.net" {
		t.Fatalf("removed = %v, want mentioned member", store.removed)
	}
}

func TestCommandsModeSetsStoredConstant(t *testing.T) {
	store := &fakeCommandStore{}
	messenger := &fakeMessenger{botID: testBot}
	commands := newTestCommands(store, messenger)

	if err := commands.Handle(context.Background(), ownerMessage(), []string{"mode", "all"}); err != nil {
		t.Fatalf("Handle(mode all) error = %v", err)
	}

	if len(store.patches) != 1 || store.patches[0].Mode == nil || *store.patches[0].Mode != domain.ModeAllAdmins {
		t.Fatalf("patches = %+v, want all_admins mode", store.patches)
	}
}

func TestCommandsModeRejectsUnknownValue(t *testing.T) {
	store := &fakeCommandStore{}
	messenger := &fakeMessenger{botID: testBot}
	commands := newTestCommands(store, messenger)

	if err := commands.Handle(context.Background(), ownerMessage(), []string{"mode", "sideways"}); err != nil {
		t.Fatalf("Handle(mode sideways) error = %v", err)
	}

	if len(store.patches) != 0 {
		t.Errorf("patches = %v, want none for unknown mode", store.patches)
	}
	reply := lastReply(t, messenger)
	if !strings.Contains(reply.text, "antidemote mode") {
		t.Errorf("reply = %q, want usage hint", reply.text)
	}
}

func TestCommandsAllAdminsToggle(t *testing.T) {
	store := &fakeCommandStore{}
	messenger := &fakeMessenger{botID: testBot}
	commands := newTestCommands(store, messenger)

	if err := commands.Handle(context.Background(), ownerMessage(), []string{"alladmins", "on"}); err != nil {
		t.Fatalf("Handle(alladmins on) error = %v", err)
	}
	if err := commands.Handle(context.Background(), ownerMessage(), []string{"alladmins", "off"}); err != nil {
		t.Fatalf("Handle(alladmins off) error = %v", err)
	}

	if len(store.patches) != 2 {
		t.Fatalf("patches = %d, want 2", len(store.patches))
	}
	if store.patches[0].AllAdmins == nil || !*store.patches[0].AllAdmins {
		t.Error("first patch, want alladmins on")
	}
	if store.patches[1].AllAdmins == nil || *store.patches[1].AllAdmins {
		t.Error("second patch, want alladmins off")
	}
}

func TestCommandsListEmptyAndPopulated(t *testing.T) {
	store := &fakeCommandStore{}
	messenger := &fakeMessenger{botID: testBot}
	commands := newTestCommands(store, messenger)

	if err := commands.Handle(context.Background(), ownerMessage(), []string{"list"}); err != nil {
		t.Fatalf("Handle(list) error = %v", err)
	}
	if reply := lastReply(t, messenger); !strings.Contains(reply.text, "empty") {
		t.Errorf("reply = %q, want empty-list notice", reply.text)
	}

	store.record.ProtectedMembers = []string{"111222333@s.whatsapp.net", "444555666@s.whatsapp.net"}
	if err := commands.Handle(context.Background(), ownerMessage(), []string{"list"}); err != nil {
		t.Fatalf("Handle(list) error = %v", err)
	}

	reply := lastReply(t, messenger)
	if !strings.Contains(reply.text, "@111222333") || !strings.Contains(reply.text, "@444555666") {
		t.Errorf("reply = %q, want both members listed", reply.text)
	}
	if len(reply.mentions) != 2 {
		t.Errorf("reply mentions = %v, want both members tagged", reply.mentions)
	}
}

func TestCommandsUnknownSubcommand(t *testing.T) {
	store := &fakeCommandStore{}
	messenger := &fakeMessenger{botID: testBot}
	commands := newTestCommands(store, messenger)

	if err := commands.Handle(context.Background(), ownerMessage(), []string{"frobnicate"}); err != nil {
		t.Fatalf("Handle(frobnicate) error = %v", err)
	}

	reply := lastReply(t, messenger)
	if !strings.Contains(reply.text, "Unknown subcommand") {
		t.Errorf("reply = %q, want usage reply", reply.text)
	}
}

func TestCommandsStoreFailureReportsAndReturnsError(t *testing.T) {
	store := &fakeCommandStore{updateErr: errors.New("db down")}
	messenger := &fakeMessenger{botID: testBot}
	commands := newTestCommands(store, messenger)

	if err := commands.Handle(context.Background(), ownerMessage(), []string{"off"}); err == nil {
		t.Fatal("Handle(off) with failing store, want error")
	}

	reply := lastReply(t, messenger)
	if !strings.Contains(reply.text, "error") {
		t.Errorf("reply = %q, want error notice", reply.text)
	}
}

func TestCommandsNotInitialized(t *testing.T) {
	var commands *Commands
	if err := commands.Handle(context.Background(), ownerMessage(), nil); err == nil {
		t.Fatal("Handle() on nil handler, want error")
	}
}
