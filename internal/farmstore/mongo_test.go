package farmstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"farm-jobs/internal/config"
	"farm-jobs/internal/farmstore"
	"farm-jobs/internal/models"
)

// setupMongo spins up a Mongo container and returns a database handle.
func setupMongo(t *testing.T) *mongo.Database {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "mongo:7",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForListeningPort("27017/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "27017")
	require.NoError(t, err)

	client, err := farmstore.Connect(ctx, config.Config{
		MongoURI:            "mongodb://" + host + ":" + port.Port(),
		MongoConnectTimeout: 20 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })
	return client.Database("farm_test")
}

type fixture struct {
	user      primitive.ObjectID
	profileID primitive.ObjectID
	seedsID   primitive.ObjectID
}

func seed(t *testing.T, db *mongo.Database) fixture {
	t.Helper()
	ctx := context.Background()
	f := fixture{user: primitive.NewObjectID(), profileID: primitive.NewObjectID(), seedsID: primitive.NewObjectID()}

	catID := primitive.NewObjectID()
	prodID := primitive.NewObjectID()
	_, err := db.Collection("categories").InsertOne(ctx, bson.M{"_id": catID, "name": "Seeds"})
	require.NoError(t, err)
	_, err = db.Collection("products").InsertOne(ctx, bson.M{"_id": prodID, "name": "Wheat seed", "unit": "kg", "category": catID})
	require.NoError(t, err)
	_, err = db.Collection("inventories").InsertOne(ctx, bson.M{"_id": f.seedsID, "user": f.user, "product": prodID, "quantity": 4})
	require.NoError(t, err)
	_, err = db.Collection("profiles").InsertOne(ctx, bson.M{
		"_id":     f.profileID,
		"user":    f.user,
		"address": bson.M{"city": "Ludhiana", "region": "Punjab", "country": "India"},
		"location": bson.M{
			"type":        "Point",
			"coordinates": []float64{75.85, 30.9},
		},
	})
	require.NoError(t, err)

	now := time.Now().UTC()
	_, err = db.Collection("usages").InsertMany(ctx, []any{
		bson.M{"user": f.user, "inventory": f.seedsID, "quantityUsed": 2, "usedOn": now.AddDate(0, -2, 0), "crop": "Wheat"},
		bson.M{"user": f.user, "inventory": f.seedsID, "quantityUsed": 3, "usedOn": now.AddDate(0, -1, 0), "purpose": "sowing"},
		bson.M{"user": f.user, "inventory": f.seedsID, "quantityUsed": 9, "usedOn": now.AddDate(-2, 0, 0)},
	})
	require.NoError(t, err)
	return f
}

func TestStore_LoadsResolvedDocuments(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	db := setupMongo(t)
	ctx := context.Background()
	f := seed(t, db)
	st := farmstore.New(db)
	require.NoError(t, st.EnsureIndexes(ctx))

	profile, err := st.ProfileByUser(ctx, f.user.Hex())
	require.NoError(t, err)
	assert.Equal(t, "Punjab", profile.Address.Region)
	require.NotNil(t, profile.Location)
	assert.Equal(t, []float64{75.85, 30.9}, profile.Location.Coordinates)

	items, err := st.InventoryForUser(ctx, f.user.Hex())
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NotNil(t, items[0].Product)
	assert.Equal(t, "Wheat seed", items[0].Product.Name)
	require.NotNil(t, items[0].Product.Category)
	assert.Equal(t, "Seeds", items[0].Product.Category.Name)

	usages, err := st.UsageSince(ctx, f.user.Hex(), time.Now().AddDate(-1, 0, 0))
	require.NoError(t, err)
	require.Len(t, usages, 2)
	assert.Equal(t, "sowing", usages[0].Purpose, "newest first")
	assert.Equal(t, "Wheat", usages[1].Crop)
	require.NotNil(t, usages[0].Inventory)
	assert.Equal(t, "kg", usages[0].Inventory.Product.Unit)
}

func TestStore_ProfileNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	st := farmstore.New(setupMongo(t))

	_, err := st.ProfileByUser(context.Background(), primitive.NewObjectID().Hex())
	assert.True(t, errors.Is(err, farmstore.ErrNotFound))

	_, err = st.ProfileByUser(context.Background(), "not-an-object-id")
	assert.True(t, errors.Is(err, farmstore.ErrNotFound))
}

func TestStore_SaveSummaryAndNotify(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	db := setupMongo(t)
	ctx := context.Background()
	f := seed(t, db)
	st := farmstore.New(db)

	summary := models.AiInventorySummary{
		ProcurementPlan: []models.ProcurementItem{{Item: "Wheat seed", RecommendedQuantity: "50 kg"}},
	}
	require.NoError(t, st.SaveInventorySummary(ctx, f.profileID, summary))

	profile, err := st.ProfileByUser(ctx, f.user.Hex())
	require.NoError(t, err)
	require.NotNil(t, profile.AiInventorySummary)
	assert.Equal(t, "50 kg", profile.AiInventorySummary.ProcurementPlan[0].RecommendedQuantity)

	err = st.SaveInventorySummary(ctx, primitive.NewObjectID(), summary)
	assert.ErrorIs(t, err, farmstore.ErrNotFound)

	require.NoError(t, st.InsertNotification(ctx, f.user.Hex(), "Low stock: Wheat seed"))
	var n models.Notification
	require.NoError(t, db.Collection("notifications").FindOne(ctx, bson.M{"recipient": f.user}).Decode(&n))
	assert.Equal(t, "system", n.Type)
	assert.False(t, n.IsRead)
	assert.False(t, n.IsSeen)
}
