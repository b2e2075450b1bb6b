// Package farmstore reads and writes the farm documents the background jobs
// depend on. The collections are owned by the CRUD API; this package only
// touches the fields the jobs need.
package farmstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"farm-jobs/internal/config"
	"farm-jobs/internal/models"
)

// ErrNotFound is returned when a profile does not exist for a user.
var ErrNotFound = errors.New("not found")

const (
	profilesCollection      = "profiles"
	inventoriesCollection   = "inventories"
	productsCollection      = "products"
	categoriesCollection    = "categories"
	usagesCollection        = "usages"
	notificationsCollection = "notifications"
)

// Connect opens and pings a Mongo client.
func Connect(ctx context.Context, cfg config.Config) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.MongoConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("mongo connect failed: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping failed: %w", err)
	}
	return client, nil
}

// Store wraps the farm database.
type Store struct {
	db  *mongo.Database
	now func() time.Time
}

func New(db *mongo.Database) *Store {
	return &Store{db: db, now: time.Now}
}

// EnsureIndexes creates the lookup indexes the job queries rely on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := map[string]mongo.IndexModel{
		profilesCollection: {
			Keys:    bson.D{{Key: "user", Value: 1}},
			Options: options.Index().SetName("user_lookup"),
		},
		inventoriesCollection: {
			Keys:    bson.D{{Key: "user", Value: 1}},
			Options: options.Index().SetName("user_lookup"),
		},
		usagesCollection: {
			Keys:    bson.D{{Key: "user", Value: 1}, {Key: "usedOn", Value: -1}},
			Options: options.Index().SetName("user_used_on"),
		},
		notificationsCollection: {
			Keys:    bson.D{{Key: "recipient", Value: 1}, {Key: "createdAt", Value: -1}},
			Options: options.Index().SetName("recipient_created_at"),
		},
	}
	for coll, model := range indexes {
		if _, err := s.db.Collection(coll).Indexes().CreateOne(ctx, model); err != nil {
			return fmt.Errorf("ensure index on %s: %w", coll, err)
		}
	}
	return nil
}

// ProfileByUser loads the profile owned by userID.
func (s *Store) ProfileByUser(ctx context.Context, userID string) (models.Profile, error) {
	uid, err := objectID(userID)
	if err != nil {
		return models.Profile{}, err
	}
	var p models.Profile
	err = s.db.Collection(profilesCollection).FindOne(ctx, bson.M{"user": uid}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Profile{}, fmt.Errorf("%w: profile for user %s", ErrNotFound, userID)
	}
	if err != nil {
		return models.Profile{}, fmt.Errorf("find profile: %w", err)
	}
	return p, nil
}

// InventoryForUser returns every inventory line of userID with product and
// category resolved.
func (s *Store) InventoryForUser(ctx context.Context, userID string) ([]models.Inventory, error) {
	uid, err := objectID(userID)
	if err != nil {
		return nil, err
	}
	var items []models.Inventory
	if err := s.findAll(ctx, inventoriesCollection, bson.M{"user": uid}, nil, &items); err != nil {
		return nil, fmt.Errorf("find inventory: %w", err)
	}
	if err := s.resolveProducts(ctx, items); err != nil {
		return nil, err
	}
	return items, nil
}

// UsageSince returns the usage records of userID on or after since, newest
// first, each resolved through inventory, product and category.
func (s *Store) UsageSince(ctx context.Context, userID string, since time.Time) ([]models.Usage, error) {
	uid, err := objectID(userID)
	if err != nil {
		return nil, err
	}
	var usages []models.Usage
	filter := bson.M{"user": uid, "usedOn": bson.M{"$gte": since}}
	sort := options.Find().SetSort(bson.D{{Key: "usedOn", Value: -1}})
	if err := s.findAll(ctx, usagesCollection, filter, sort, &usages); err != nil {
		return nil, fmt.Errorf("find usage: %w", err)
	}

	ids := make([]primitive.ObjectID, 0, len(usages))
	for _, u := range usages {
		ids = append(ids, u.InventoryID)
	}
	var items []models.Inventory
	if err := s.findAll(ctx, inventoriesCollection, bson.M{"_id": bson.M{"$in": uniqueIDs(ids)}}, nil, &items); err != nil {
		return nil, fmt.Errorf("find usage inventory: %w", err)
	}
	if err := s.resolveProducts(ctx, items); err != nil {
		return nil, err
	}
	byID := make(map[primitive.ObjectID]*models.Inventory, len(items))
	for i := range items {
		byID[items[i].ID] = &items[i]
	}
	for i := range usages {
		usages[i].Inventory = byID[usages[i].InventoryID]
	}
	return usages, nil
}

// SaveInventorySummary replaces the summary on a profile. The write is
// unconditional, so concurrent runs for one user resolve as last writer wins.
func (s *Store) SaveInventorySummary(ctx context.Context, profileID primitive.ObjectID, summary models.AiInventorySummary) error {
	res, err := s.db.Collection(profilesCollection).UpdateOne(ctx,
		bson.M{"_id": profileID},
		bson.M{"$set": bson.M{"aiInventorySummary": summary, "updatedAt": s.now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("save inventory summary: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: profile %s", ErrNotFound, profileID.Hex())
	}
	return nil
}

// InsertNotification stores an unread system notification.
func (s *Store) InsertNotification(ctx context.Context, recipient, message string) error {
	uid, err := objectID(recipient)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	_, err = s.db.Collection(notificationsCollection).InsertOne(ctx, models.Notification{
		Recipient: uid,
		Type:      "system",
		Message:   message,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *Store) resolveProducts(ctx context.Context, items []models.Inventory) error {
	if len(items) == 0 {
		return nil
	}
	productIDs := make([]primitive.ObjectID, 0, len(items))
	for _, it := range items {
		productIDs = append(productIDs, it.ProductID)
	}
	var products []models.Product
	if err := s.findAll(ctx, productsCollection, bson.M{"_id": bson.M{"$in": uniqueIDs(productIDs)}}, nil, &products); err != nil {
		return fmt.Errorf("find products: %w", err)
	}

	categoryIDs := make([]primitive.ObjectID, 0, len(products))
	for _, p := range products {
		categoryIDs = append(categoryIDs, p.CategoryID)
	}
	var categories []models.Category
	if err := s.findAll(ctx, categoriesCollection, bson.M{"_id": bson.M{"$in": uniqueIDs(categoryIDs)}}, nil, &categories); err != nil {
		return fmt.Errorf("find categories: %w", err)
	}

	catByID := make(map[primitive.ObjectID]*models.Category, len(categories))
	for i := range categories {
		catByID[categories[i].ID] = &categories[i]
	}
	prodByID := make(map[primitive.ObjectID]*models.Product, len(products))
	for i := range products {
		products[i].Category = catByID[products[i].CategoryID]
		prodByID[products[i].ID] = &products[i]
	}
	for i := range items {
		items[i].Product = prodByID[items[i].ProductID]
	}
	return nil
}

func (s *Store) findAll(ctx context.Context, coll string, filter any, opts *options.FindOptions, dst any) error {
	var findOpts []*options.FindOptions
	if opts != nil {
		findOpts = append(findOpts, opts)
	}
	cur, err := s.db.Collection(coll).Find(ctx, filter, findOpts...)
	if err != nil {
		return err
	}
	return cur.All(ctx, dst)
}

func objectID(hex string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: invalid id %q", ErrNotFound, hex)
	}
	return id, nil
}

func uniqueIDs(ids []primitive.ObjectID) []primitive.ObjectID {
	seen := make(map[primitive.ObjectID]struct{}, len(ids))
	out := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		if id.IsZero() {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
