package mongodb

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/sonomandeep/deviceauth/domain"
	serrors "github.com/sonomandeep/deviceauth/errors"
)

// DeviceAuthRepository implements domain.AuthorizationRepository on MongoDB.
type DeviceAuthRepository struct {
	deviceAuth *mongo.Collection
}

// NewDeviceAuthRepository creates the repository and ensures its indexes:
// unique device_code, plus a partial unique index on user_code scoped to
// pending records, which enforces user-code uniqueness among in-flight
// requests without reserving codes forever.
func NewDeviceAuthRepository(ctx context.Context, db *mongo.Database) (*DeviceAuthRepository, error) {
	repo := &DeviceAuthRepository{
		deviceAuth: db.Collection(DeviceAuthCollectionName),
	}

	_, err := repo.deviceAuth.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "device_code", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "user_code", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"status": domain.DeviceAuthorizationStatusPending}),
		},
		{
			Keys: bson.D{{Key: "expires_at", Value: 1}},
		},
	})
	if err != nil {
		return nil, err
	}

	return repo, nil
}

// Save implements domain.AuthorizationRepository.
func (r *DeviceAuthRepository) Save(ctx context.Context, auth *domain.DeviceAuthorization) error {
	if auth.ID == "" {
		auth.ID = uuid.NewString()
	}
	if auth.CreatedAt.IsZero() {
		auth.CreatedAt = time.Now().UTC()
	}

	_, err := r.deviceAuth.InsertOne(ctx, auth)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return serrors.ErrUserCodeAlreadyExists
		}
		return err
	}

	return nil
}

// GetByDeviceCode implements domain.AuthorizationRepository.
func (r *DeviceAuthRepository) GetByDeviceCode(ctx context.Context, deviceCode string) (*domain.DeviceAuthorization, error) {
	var result domain.DeviceAuthorization

	err := r.deviceAuth.FindOne(ctx, bson.M{"device_code": deviceCode}).Decode(&result)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrDeviceCodeNotFound
		}

		return nil, err
	}

	return &result, nil
}

// GetByUserCode returns the most recent record carrying the user code. User
// codes are only unique among pending records, so sorting by created_at keeps
// stale terminal records from shadowing a live request.
func (r *DeviceAuthRepository) GetByUserCode(ctx context.Context, userCode string) (*domain.DeviceAuthorization, error) {
	var result domain.DeviceAuthorization

	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})
	err := r.deviceAuth.FindOne(ctx, bson.M{"user_code": userCode}, opts).Decode(&result)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrUserCodeNotFound
		}
		return nil, err
	}

	return &result, nil
}

// Approve implements the guarded pending -> approved transition.
func (r *DeviceAuthRepository) Approve(ctx context.Context, userCode string, by domain.Approver) (*domain.DeviceAuthorization, error) {
	filter := bson.M{
		"user_code":  userCode,
		"expires_at": bson.M{"$gt": time.Now().UTC()},
		"status":     domain.DeviceAuthorizationStatusPending,
	}
	update := bson.M{
		"$set": bson.M{
			"status":      domain.DeviceAuthorizationStatusApproved,
			"approved_by": by,
		},
	}
	opt := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updatedDoc domain.DeviceAuthorization
	err := r.deviceAuth.FindOneAndUpdate(ctx, filter, update, opt).Decode(&updatedDoc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrCannotApprove
		}
		return nil, err
	}

	return &updatedDoc, nil
}

// Deny implements the guarded pending -> denied transition.
func (r *DeviceAuthRepository) Deny(ctx context.Context, userCode string) (*domain.DeviceAuthorization, error) {
	filter := bson.M{
		"user_code":  userCode,
		"expires_at": bson.M{"$gt": time.Now().UTC()},
		"status":     domain.DeviceAuthorizationStatusPending,
	}
	update := bson.M{
		"$set": bson.M{"status": domain.DeviceAuthorizationStatusDenied},
	}
	opt := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updatedDoc domain.DeviceAuthorization
	err := r.deviceAuth.FindOneAndUpdate(ctx, filter, update, opt).Decode(&updatedDoc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrCannotApprove
		}
		return nil, err
	}

	return &updatedDoc, nil
}

// RecordPoll implements domain.AuthorizationRepository.
func (r *DeviceAuthRepository) RecordPoll(ctx context.Context, deviceCode string, polledAt time.Time, newInterval int) error {
	set := bson.M{"last_polled_at": polledAt}
	if newInterval > 0 {
		set["interval"] = newInterval
	}

	result, err := r.deviceAuth.UpdateOne(ctx, bson.M{"device_code": deviceCode}, bson.M{"$set": set})
	if err != nil {
		return err
	}

	if result.MatchedCount == 0 {
		return serrors.ErrDeviceCodeNotFound
	}

	return nil
}

// Claim implements the guarded approved -> consumed transition. The filter
// requires the credential ID to be unset, making issuance write-once even
// under concurrent duplicate polls.
func (r *DeviceAuthRepository) Claim(ctx context.Context, deviceCode, credentialID string) (*domain.DeviceAuthorization, error) {
	filter := bson.M{
		"device_code":          deviceCode,
		"status":               domain.DeviceAuthorizationStatusApproved,
		"issued_credential_id": bson.M{"$exists": false},
	}
	update := bson.M{
		"$set": bson.M{
			"status":               domain.DeviceAuthorizationStatusConsumed,
			"issued_credential_id": credentialID,
		},
	}
	opt := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updatedDoc domain.DeviceAuthorization
	err := r.deviceAuth.FindOneAndUpdate(ctx, filter, update, opt).Decode(&updatedDoc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrCannotClaim
		}
		return nil, err
	}

	return &updatedDoc, nil
}

// Expire implements domain.AuthorizationRepository.
func (r *DeviceAuthRepository) Expire(ctx context.Context, deviceCode string) error {
	filter := bson.M{
		"device_code": deviceCode,
		"status": bson.M{"$in": []domain.DeviceAuthorizationStatus{
			domain.DeviceAuthorizationStatusPending,
			domain.DeviceAuthorizationStatusApproved,
		}},
	}
	update := bson.M{"$set": bson.M{"status": domain.DeviceAuthorizationStatusExpired}}

	_, err := r.deviceAuth.UpdateOne(ctx, filter, update)

	return err
}

// MarkExpired implements domain.AuthorizationRepository.
func (r *DeviceAuthRepository) MarkExpired(ctx context.Context, now time.Time) (int64, error) {
	filter := bson.M{
		"expires_at": bson.M{"$lte": now},
		"status": bson.M{"$in": []domain.DeviceAuthorizationStatus{
			domain.DeviceAuthorizationStatusPending,
			domain.DeviceAuthorizationStatusApproved,
		}},
	}
	update := bson.M{"$set": bson.M{"status": domain.DeviceAuthorizationStatusExpired}}

	result, err := r.deviceAuth.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, err
	}

	return result.ModifiedCount, nil
}

// PurgeExpiredBefore implements domain.AuthorizationRepository.
func (r *DeviceAuthRepository) PurgeExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.deviceAuth.DeleteMany(ctx, bson.M{
		"expires_at": bson.M{"$lte": cutoff},
	})
	if err != nil {
		return 0, err
	}

	return result.DeletedCount, nil
}
