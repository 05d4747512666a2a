package db

import (
	"context"
	"errors"
	"fmt"

	"deck-updater/pkg/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrArticleNotFound is returned when no published article matches a title.
var ErrArticleNotFound = errors.New("published article not found")

// Client wraps the MongoDB client and the articles collection
type Client struct {
	mongoClient *mongo.Client
	database    *mongo.Database
	collection  *mongo.Collection
}

// NewClient creates a new database client
func NewClient(connectionString, databaseName, collectionName string) *Client {
	clientOptions := options.Client().ApplyURI(connectionString)
	mongoClient, err := mongo.Connect(context.Background(), clientOptions)
	if err != nil {
		// Return client with nil - error will be caught during Connect()
		return &Client{}
	}

	database := mongoClient.Database(databaseName)
	collection := database.Collection(collectionName)

	return &Client{
		mongoClient: mongoClient,
		database:    database,
		collection:  collection,
	}
}

// Connect verifies the connection to MongoDB
func (c *Client) Connect(ctx context.Context) error {
	if c.mongoClient == nil {
		return fmt.Errorf("mongo client not initialized")
	}
	return c.mongoClient.Ping(ctx, nil)
}

// Close closes the MongoDB connection
func (c *Client) Close(ctx context.Context) error {
	if c.mongoClient == nil {
		return nil
	}
	return c.mongoClient.Disconnect(ctx)
}

// EnsureIndexes creates the indexes the paged listing, title lookups and audio
// reference counts use.
func (c *Client) EnsureIndexes(ctx context.Context) error {
	if c.collection == nil {
		return fmt.Errorf("collection not initialized")
	}

	_, err := c.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "published", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "title", Value: 1}, {Key: "published", Value: 1}}},
		{Keys: bson.D{{Key: "slides.audio", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}
	return nil
}

// FindPublished returns the published article with the given title
func (c *Client) FindPublished(ctx context.Context, title string) (*domain.Article, error) {
	if c.collection == nil {
		return nil, fmt.Errorf("collection not initialized")
	}

	var article domain.Article
	err := c.collection.FindOne(ctx, bson.M{"title": title, "published": true}).Decode(&article)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", ErrArticleNotFound, title)
	}
	if err != nil {
		return nil, fmt.Errorf("find article %q: %w", title, err)
	}
	return &article, nil
}

// CountPublished returns the number of published articles
func (c *Client) CountPublished(ctx context.Context) (int64, error) {
	if c.collection == nil {
		return 0, fmt.Errorf("collection not initialized")
	}

	n, err := c.collection.CountDocuments(ctx, bson.M{"published": true})
	if err != nil {
		return 0, fmt.Errorf("count published articles: %w", err)
	}
	return n, nil
}

// FindPageOfPublished returns up to limit published articles after skipping
// skip of them, oldest first.
func (c *Client) FindPageOfPublished(ctx context.Context, skip, limit int64) ([]domain.Article, error) {
	if c.collection == nil {
		return nil, fmt.Errorf("collection not initialized")
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetSkip(skip).
		SetLimit(limit)

	cursor, err := c.collection.Find(ctx, bson.M{"published": true}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query articles: %w", err)
	}
	defer cursor.Close(ctx)

	articles := make([]domain.Article, 0, limit)
	if err := cursor.All(ctx, &articles); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return articles, nil
}

// BulkUpdateSlides writes slides, sections and updated_at for every entry in
// one unordered bulk operation.
func (c *Client) BulkUpdateSlides(ctx context.Context, updates []domain.SlideUpdate) (*domain.BulkResult, error) {
	if c.collection == nil {
		return nil, fmt.Errorf("collection not initialized")
	}
	if len(updates) == 0 {
		return &domain.BulkResult{}, nil
	}

	models := make([]mongo.WriteModel, 0, len(updates))
	for _, u := range updates {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": u.ID}).
			SetUpdate(bson.M{"$set": bson.M{
				"slides":     u.Slides,
				"sections":   u.Sections,
				"updated_at": u.UpdatedAt,
			}}))
	}

	res, err := c.collection.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return nil, fmt.Errorf("bulk write %d articles: %w", len(updates), err)
	}
	return &domain.BulkResult{Matched: res.MatchedCount, Modified: res.ModifiedCount}, nil
}

// IncrementReads bumps the read counter of a published article and returns
// the updated document.
func (c *Client) IncrementReads(ctx context.Context, title string) (*domain.Article, error) {
	if c.collection == nil {
		return nil, fmt.Errorf("collection not initialized")
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var article domain.Article
	err := c.collection.FindOneAndUpdate(ctx,
		bson.M{"title": title, "published": true},
		bson.M{"$inc": bson.M{"reads": 1}},
		opts,
	).Decode(&article)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", ErrArticleNotFound, title)
	}
	if err != nil {
		return nil, fmt.Errorf("increment reads of %q: %w", title, err)
	}
	return &article, nil
}

// CountAudioReferences counts articles, published or not, with at least one
// slide narrated by locator.
func (c *Client) CountAudioReferences(ctx context.Context, locator string) (int64, error) {
	if c.collection == nil {
		return 0, fmt.Errorf("collection not initialized")
	}

	n, err := c.collection.CountDocuments(ctx, bson.M{"slides.audio": locator})
	if err != nil {
		return 0, fmt.Errorf("count references to %s: %w", locator, err)
	}
	return n, nil
}

// InsertArticle stores a new article document
func (c *Client) InsertArticle(ctx context.Context, article *domain.Article) error {
	if c.collection == nil {
		return fmt.Errorf("collection not initialized")
	}

	res, err := c.collection.InsertOne(ctx, article)
	if err != nil {
		return fmt.Errorf("insert article %q: %w", article.Title, err)
	}
	if id, ok := res.InsertedID.(primitive.ObjectID); ok {
		article.ID = id
	}
	return nil
}
