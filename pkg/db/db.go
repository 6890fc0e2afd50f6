package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"talk-archive/pkg/domain"
)

// Client wraps the MongoDB client used to keep raw ingestion results.
type Client struct {
	mongoClient *mongo.Client
	database    *mongo.Database
	collection  *mongo.Collection
}

// NewClient creates a new Mongo client. Connection errors surface from Connect.
func NewClient(connectionString, databaseName, collectionName string) *Client {
	clientOptions := options.Client().ApplyURI(connectionString)
	mongoClient, err := mongo.Connect(context.Background(), clientOptions)
	if err != nil {
		return &Client{}
	}

	database := mongoClient.Database(databaseName)
	return &Client{
		mongoClient: mongoClient,
		database:    database,
		collection:  database.Collection(collectionName),
	}
}

// Connect verifies the server answers.
func (c *Client) Connect(ctx context.Context) error {
	if c.mongoClient == nil {
		return fmt.Errorf("mongo client not initialized")
	}
	return c.mongoClient.Ping(ctx, nil)
}

// Close closes the MongoDB connection.
func (c *Client) Close(ctx context.Context) error {
	if c.mongoClient == nil {
		return nil
	}
	return c.mongoClient.Disconnect(ctx)
}

// SaveRawResult upserts the JSON document of one ingestion result keyed by name.
func (c *Client) SaveRawResult(ctx context.Context, name string, raw []byte) error {
	if c.collection == nil {
		return fmt.Errorf("collection not initialized")
	}

	var doc bson.M
	if err := bson.UnmarshalExtJSON(raw, false, &doc); err != nil {
		return fmt.Errorf("decode result %s: %w", name, err)
	}

	filter := bson.M{"name": name}
	update := bson.M{"$set": bson.M{
		"name":       name,
		"content":    doc,
		"created_at": time.Now().UTC(),
	}}
	_, err := c.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

// RawResult returns the stored document for name as relaxed extended JSON.
func (c *Client) RawResult(ctx context.Context, name string) ([]byte, error) {
	if c.collection == nil {
		return nil, fmt.Errorf("collection not initialized")
	}

	var row struct {
		Content bson.M `bson:"content"`
	}
	err := c.collection.FindOne(ctx, bson.M{"name": name}).Decode(&row)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.E(domain.KindNotFound, "db.RawResult", fmt.Errorf("result %s: %w", name, domain.ErrNotFound))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read result %s: %w", name, err)
	}
	return bson.MarshalExtJSON(row.Content, false, false)
}

// RawResultNames returns the names of every stored result as a set.
func (c *Client) RawResultNames(ctx context.Context) (map[string]bool, error) {
	if c.collection == nil {
		return nil, fmt.Errorf("collection not initialized")
	}

	cursor, err := c.collection.Find(ctx, bson.M{}, options.Find().SetProjection(bson.M{"name": 1, "_id": 0}))
	if err != nil {
		return nil, fmt.Errorf("failed to query result names: %w", err)
	}
	defer cursor.Close(ctx)

	names := make(map[string]bool)
	for cursor.Next(ctx) {
		var row struct {
			Name string `bson:"name"`
		}
		if err := cursor.Decode(&row); err != nil {
			continue
		}
		if row.Name != "" {
			names[row.Name] = true
		}
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return names, nil
}
