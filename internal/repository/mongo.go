package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/hbkhrishi0412-afk/reride-sub004/internal/config"
	"github.com/hbkhrishi0412-afk/reride-sub004/internal/models"
)

// MongoRepository persists whole conversation documents keyed by the stable
// conversation id. Implements store.Repository.
type MongoRepository struct {
	coll *mongo.Collection
}

func NewMongoClient(ctx context.Context, cfg *config.Config) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}
	return client, nil
}

func NewMongoRepository(coll *mongo.Collection) *MongoRepository {
	idx := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "customer_id", Value: 1}},
			Options: options.Index().SetName("customer_idx"),
		},
		{
			Keys:    bson.D{{Key: "seller_id", Value: 1}},
			Options: options.Index().SetName("seller_idx"),
		},
		{
			Keys:    bson.D{{Key: "last_message_at", Value: -1}},
			Options: options.Index().SetName("last_message_idx"),
		},
	}
	_, _ = coll.Indexes().CreateMany(context.Background(), idx)
	return &MongoRepository{coll: coll}
}

func (r *MongoRepository) LoadAll(ctx context.Context) ([]*models.Conversation, error) {
	cur, err := r.coll.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []*models.Conversation
	for cur.Next(ctx) {
		var c models.Conversation
		if err := cur.Decode(&c); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, cur.Err()
}

func (r *MongoRepository) Save(ctx context.Context, c *models.Conversation) error {
	opts := options.Replace().SetUpsert(true)
	_, err := r.coll.ReplaceOne(ctx, bson.M{"_id": c.ID}, c, opts)
	return err
}
