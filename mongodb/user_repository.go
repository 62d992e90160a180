package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/pmb2/Social-Genius-sub006/domain"
)

// UserRepositoryMongo implements domain.UserRepository over the users and
// federated identities collections.
type UserRepositoryMongo struct {
	users      *mongo.Collection
	identities *mongo.Collection
}

// NewUserRepositoryMongo creates a UserRepositoryMongo and ensures its
// indexes.
func NewUserRepositoryMongo(ctx context.Context, db *mongo.Database) (*UserRepositoryMongo, error) {
	repo := &UserRepositoryMongo{
		users:      db.Collection(UsersCollection),
		identities: db.Collection(FederatedIdentitiesCollection),
	}
	if err := repo.createIndexes(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *UserRepositoryMongo) createIndexes(ctx context.Context) error {
	userIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true).SetCollation(&options.Collation{Locale: "en", Strength: 2}),
		},
		{
			Keys:    bson.D{{Key: "business_id", Value: 1}},
			Options: options.Index(),
		},
	}
	if _, err := r.users.Indexes().CreateMany(ctx, userIndexes); err != nil {
		return fmt.Errorf("failed to create indexes for %s collection: %w", UsersCollection, err)
	}

	identityIndexes := []mongo.IndexModel{
		{
			// One local account per external identity.
			Keys:    bson.D{{Key: "provider", Value: 1}, {Key: "provider_user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			// One linked account per provider per local user.
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "provider", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	if _, err := r.identities.Indexes().CreateMany(ctx, identityIndexes); err != nil {
		return fmt.Errorf("failed to create indexes for %s collection: %w", FederatedIdentitiesCollection, err)
	}
	log.Info().Msg("Indexes for user collections ensured.")
	return nil
}

func (r *UserRepositoryMongo) CreateUser(ctx context.Context, user *domain.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	_, err := r.users.InsertOne(ctx, user)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("user with email %q already exists", user.Email)
		}
		log.Error().Err(err).Str("user_id", user.ID).Msg("Error creating user")
		return err
	}
	return nil
}

func (r *UserRepositoryMongo) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	var user domain.User
	err := r.users.FindOne(ctx, bson.M{"_id": id}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrUserNotFound
		}
		log.Error().Err(err).Str("user_id", id).Msg("Error loading user")
		return nil, err
	}
	return &user, nil
}

func (r *UserRepositoryMongo) FindByFederatedIdentity(ctx context.Context, provider, providerUserID string) (*domain.User, error) {
	var identity domain.FederatedIdentity
	filter := bson.M{"provider": provider, "provider_user_id": providerUserID}
	err := r.identities.FindOne(ctx, filter).Decode(&identity)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrUserNotFound
		}
		log.Error().Err(err).Str("provider", provider).Msg("Error loading federated identity")
		return nil, err
	}
	return r.GetUserByID(ctx, identity.UserID)
}

// LinkIdentity upserts the identity on (user_id, provider): relinking the
// same provider replaces the previous external account.
func (r *UserRepositoryMongo) LinkIdentity(ctx context.Context, identity *domain.FederatedIdentity) error {
	if identity.ID == "" {
		identity.ID = uuid.NewString()
	}
	now := time.Now().UTC()

	filter := bson.M{"user_id": identity.UserID, "provider": identity.Provider}
	update := bson.M{
		"$set": bson.M{
			"provider_user_id": identity.ProviderUserID,
			"provider_email":   identity.ProviderEmail,
			"updated_at":       now,
		},
		"$setOnInsert": bson.M{
			"_id":        identity.ID,
			"created_at": now,
		},
	}
	_, err := r.identities.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return errors.New("external identity is already linked to another account")
		}
		log.Error().Err(err).Str("user_id", identity.UserID).Str("provider", identity.Provider).Msg("Error linking federated identity")
		return err
	}
	return nil
}

var _ domain.UserRepository = (*UserRepositoryMongo)(nil)
