package repository

import (
	"context"
	"echoscribe/internal/models"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoArticleRepository stores articles as documents
type MongoArticleRepository struct {
	client   *mongo.Client
	articles *mongo.Collection
}

var _ ArticleRepository = (*MongoArticleRepository)(nil)

// NewMongoArticleRepository connects to MongoDB and prepares the articles collection
func NewMongoArticleRepository(ctx context.Context, uri, database string) (*MongoArticleRepository, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	col := client.Database(database).Collection("articles")
	_, err = col.Indexes().CreateMany(connectCtx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "job_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	if err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create article indexes: %w", err)
	}

	return &MongoArticleRepository{client: client, articles: col}, nil
}

// Close disconnects the client
func (r *MongoArticleRepository) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}

func (r *MongoArticleRepository) CreateArticle(ctx context.Context, article *models.Article) error {
	if article.CreatedAt.IsZero() {
		article.CreatedAt = time.Now().UTC()
	}
	if _, err := r.articles.InsertOne(ctx, article); err != nil {
		return fmt.Errorf("failed to insert article: %w", err)
	}
	return nil
}

func (r *MongoArticleRepository) GetArticleByID(ctx context.Context, id string) (*models.Article, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *MongoArticleRepository) GetArticleByJobID(ctx context.Context, jobID string) (*models.Article, error) {
	return r.findOne(ctx, bson.M{"job_id": jobID})
}

func (r *MongoArticleRepository) findOne(ctx context.Context, filter bson.M) (*models.Article, error) {
	var article models.Article
	if err := r.articles.FindOne(ctx, filter).Decode(&article); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find article: %w", err)
	}
	return &article, nil
}

func (r *MongoArticleRepository) ListArticlesByOwner(ctx context.Context, ownerID string) ([]*models.Article, error) {
	opts := options.Find().SetSort(bson.M{"created_at": -1})
	cursor, err := r.articles.Find(ctx, bson.M{"owner_id": ownerID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query articles: %w", err)
	}
	defer cursor.Close(ctx)

	var articles []*models.Article
	if err := cursor.All(ctx, &articles); err != nil {
		return nil, fmt.Errorf("failed to decode articles: %w", err)
	}
	return articles, nil
}

func (r *MongoArticleRepository) DeleteArticlesByOwner(ctx context.Context, ownerID string) (int64, error) {
	res, err := r.articles.DeleteMany(ctx, bson.M{"owner_id": ownerID})
	if err != nil {
		return 0, fmt.Errorf("failed to delete articles: %w", err)
	}
	return res.DeletedCount, nil
}
