package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"wa_guard_bot/internal/domain"
	"wa_guard_bot/internal/logging"
)

type protectionCollection interface {
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
}

// Patch describes a partial update to a protection record. Nil fields are
// left untouched.
type Patch struct {
	Enabled          *bool
	Mode             *string
	AllAdmins        *bool
	ProtectedMembers *[]string
	LastKnownAdmins  *[]string
}

// Registry is the durable chat-to-ProtectionRecord mapping. Updates are
// scoped to one record at a time; concurrent edits to the same chat resolve
// last-writer-wins.
type Registry struct {
	protection protectionCollection
	logger     *logrus.Entry
}

// NewRegistry constructs a Registry for the provided protection collection.
func NewRegistry(protection protectionCollection, logger *logrus.Entry) *Registry {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Registry{
		protection: protection,
		logger:     logger,
	}
}

// Get fetches the record for a chat, returning defaults when none is stored.
// A missing record is not an error.
func (r *Registry) Get(ctx context.Context, chatID string) (domain.ProtectionRecord, error) {
	if r == nil || r.protection == nil {
		return domain.ProtectionRecord{}, errors.New("protection registry is not initialized")
	}
	if ctx == nil {
		return domain.ProtectionRecord{}, errors.New("context is required")
	}
	if chatID == "" {
		return domain.ProtectionRecord{}, errors.New("chat id is required")
	}

	result := r.protection.FindOne(ctx, bson.M{"chat_id": chatID})
	if result == nil {
		return domain.ProtectionRecord{}, errors.New("find record returned no result")
	}
	if err := result.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.NewProtectionRecord(chatID), nil
		}
		return domain.ProtectionRecord{}, fmt.Errorf("find record: %w", err)
	}

	var record domain.ProtectionRecord
	if err := result.Decode(&record); err != nil {
		return domain.ProtectionRecord{}, fmt.Errorf("decode record: %w", err)
	}

	return record, nil
}

// Update merges the patch into the stored record, stamps last_action_at,
// persists via upsert, and returns the new value.
func (r *Registry) Update(ctx context.Context, chatID string, patch Patch) (domain.ProtectionRecord, error) {
	record, err := r.Get(ctx, chatID)
	if err != nil {
		return domain.ProtectionRecord{}, err
	}

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
		record.ProtectedMembers = domain.UniqueJIDs(*patch.ProtectedMembers)
	}
	if patch.LastKnownAdmins != nil {
		record.LastKnownAdmins = domain.UniqueJIDs(*patch.LastKnownAdmins)
	}

	record.ChatID = chatID
	record.LastActionAt = time.Now().UTC().Truncate(time.Millisecond)

	update := bson.M{
		"$set": bson.M{
			"enabled":           record.Enabled,
			"mode":              record.Mode,
			"all_admins":        record.AllAdmins,
			"protected_members": record.ProtectedMembers,
			"last_known_admins": record.LastKnownAdmins,
			"last_action_at":    record.LastActionAt,
		},
		"$setOnInsert": bson.M{
			"chat_id": chatID,
		},
	}

	if _, err := r.protection.UpdateOne(ctx,
		bson.M{"chat_id": chatID},
		update,
		options.Update().SetUpsert(true),
	); err != nil {
		return domain.ProtectionRecord{}, fmt.Errorf("update record: %w", err)
	}

	logging.WithContext(r.logger, logging.Context{
		Event:  "registry_update",
		ChatID: chatID,
	}).WithFields(logging.Fields{
		"enabled": record.Enabled,
		"mode":    record.Mode,
	}).Debug("updated protection record")

	return record, nil
}

// AddProtected adds a member to the protected list. Adding an already
// protected member is a no-op.
func (r *Registry) AddProtected(ctx context.Context, chatID, memberID string) (domain.ProtectionRecord, error) {
	jid := domain.NormalizeJID(memberID)
	if jid == "" {
		return domain.ProtectionRecord{}, errors.New("member id is required")
	}

	record, err := r.Get(ctx, chatID)
	if err != nil {
		return domain.ProtectionRecord{}, err
	}

	if record.IsProtected(jid) {
		return record, nil
	}

	members := append(append([]string{}, record.ProtectedMembers...), jid)
	return r.Update(ctx, chatID, Patch{ProtectedMembers: &members})
}

// RemoveProtected removes a member from the protected list. Removing an
// absent member is a no-op.
func (r *Registry) RemoveProtected(ctx context.Context, chatID, memberID string) (domain.ProtectionRecord, error) {
	jid := domain.NormalizeJID(memberID)
	if jid == "" {
		return domain.ProtectionRecord{}, errors.New("member id is required")
	}

	record, err := r.Get(ctx, chatID)
	if err != nil {
		return domain.ProtectionRecord{}, err
	}

	if !record.IsProtected(jid) {
		return record, nil
	}

	members := make([]string, 0, len(record.ProtectedMembers))
	for _, id := range record.ProtectedMembers {
		if domain.NormalizeJID(id) != jid {
			members = append(members, id)
		}
	}

	return r.Update(ctx, chatID, Patch{ProtectedMembers: &members})
}

// ListEnabled returns every record with enforcement switched on.
func (r *Registry) ListEnabled(ctx context.Context) ([]domain.ProtectionRecord, error) {
	if r == nil || r.protection == nil {
		return nil, errors.New("protection registry is not initialized")
	}
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	cursor, err := r.protection.Find(ctx, bson.M{"enabled": true})
	if err != nil {
		return nil, fmt.Errorf("list enabled records: %w", err)
	}

	var records []domain.ProtectionRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("decode enabled records: %w", err)
	}

	return records, nil
}
