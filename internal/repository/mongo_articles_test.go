package repository

import (
	"context"
	"echoscribe/internal/models"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

func newTestArticle(id, jobID, ownerID string, createdAt time.Time) *models.Article {
	return &models.Article{
		ID:              id,
		JobID:           jobID,
		OwnerID:         ownerID,
		Title:           "Show notes",
		Slug:            "show-notes",
		MetaDescription: "Notes for the show.",
		Keywords:        []string{"podcast", "notes"},
		Markdown:        "# Show notes",
		HTML:            "<h1>Show notes</h1>",
		SchemaOrg:       map[string]any{"@type": "Article"},
		OpenGraph:       map[string]string{"og:title": "Show notes"},
		Metadata:        models.ArticleMetadata{WordCount: 2, ReadingMinutes: 1, Headings: []string{"Intro"}},
		CreatedAt:       createdAt,
	}
}

func TestArticle_BSONRoundTrip(t *testing.T) {
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	article := newTestArticle("a1", "j1", "u1", created)

	raw, err := bson.Marshal(article)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	doc := bson.Raw(raw)
	for _, key := range []string{"_id", "job_id", "owner_id", "meta_description", "schema_org", "open_graph", "created_at"} {
		if _, err := doc.LookupErr(key); err != nil {
			t.Errorf("expected field %s in document, got %v", key, err)
		}
	}
	wordCount, err := doc.LookupErr("metadata", "word_count")
	if err != nil {
		t.Fatalf("expected metadata.word_count in document, got %v", err)
	}
	var n int
	if err := wordCount.Unmarshal(&n); err != nil || n != 2 {
		t.Errorf("expected metadata.word_count 2, got %d (%v)", n, err)
	}

	var decoded models.Article
	if err := bson.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if decoded.ID != "a1" || decoded.JobID != "j1" || decoded.OwnerID != "u1" {
		t.Errorf("unexpected ids %+v", decoded)
	}
	if len(decoded.Keywords) != 2 || decoded.Keywords[1] != "notes" {
		t.Errorf("unexpected keywords %v", decoded.Keywords)
	}
	if decoded.SchemaOrg["@type"] != "Article" {
		t.Errorf("expected schema type Article, got %v", decoded.SchemaOrg["@type"])
	}
	if decoded.OpenGraph["og:title"] != "Show notes" {
		t.Errorf("unexpected open graph %v", decoded.OpenGraph)
	}
	if decoded.Metadata.ReadingMinutes != 1 || len(decoded.Metadata.Headings) != 1 {
		t.Errorf("unexpected metadata %+v", decoded.Metadata)
	}
	if !decoded.CreatedAt.Equal(created) {
		t.Errorf("expected created at %v, got %v", created, decoded.CreatedAt)
	}
}

func TestArticle_BSONOmitsEmptyOptionalMaps(t *testing.T) {
	article := newTestArticle("a1", "j1", "u1", time.Now())
	article.SchemaOrg = nil
	article.OpenGraph = nil

	raw, err := bson.Marshal(article)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	for _, key := range []string{"schema_org", "open_graph"} {
		if _, err := bson.Raw(raw).LookupErr(key); err == nil {
			t.Errorf("expected %s to be omitted", key)
		}
	}
}

// newTestMongoRepository connects to MONGO_URI with a throwaway database
func newTestMongoRepository(t *testing.T) *MongoArticleRepository {
	t.Helper()
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI not set")
	}

	ctx := context.Background()
	database := fmt.Sprintf("echoscribe_test_%d", time.Now().UnixNano())
	repo, err := NewMongoArticleRepository(ctx, uri, database)
	if err != nil {
		t.Fatalf("failed to open mongo repository: %v", err)
	}
	t.Cleanup(func() {
		repo.client.Database(database).Drop(context.Background())
		repo.Close(context.Background())
	})
	return repo
}

func TestMongoArticleRepository_CreateAndGet(t *testing.T) {
	repo := newTestMongoRepository(t)
	ctx := context.Background()

	if err := repo.CreateArticle(ctx, newTestArticle("a1", "j1", "u1", time.Time{})); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	byID, err := repo.GetArticleByID(ctx, "a1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if byID.JobID != "j1" || byID.CreatedAt.IsZero() {
		t.Errorf("unexpected article %+v", byID)
	}

	byJob, err := repo.GetArticleByJobID(ctx, "j1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if byJob.ID != "a1" {
		t.Errorf("expected article a1, got %s", byJob.ID)
	}

	if _, err := repo.GetArticleByID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := repo.GetArticleByJobID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMongoArticleRepository_UniqueJobID(t *testing.T) {
	repo := newTestMongoRepository(t)
	ctx := context.Background()

	if err := repo.CreateArticle(ctx, newTestArticle("a1", "j1", "u1", time.Now())); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := repo.CreateArticle(ctx, newTestArticle("a2", "j1", "u1", time.Now())); err == nil {
		t.Error("expected a second article for the same job to be rejected")
	}
}

func TestMongoArticleRepository_ListAndDeleteByOwner(t *testing.T) {
	repo := newTestMongoRepository(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	articles := []*models.Article{
		newTestArticle("a1", "j1", "u1", base),
		newTestArticle("a2", "j2", "u1", base.Add(time.Hour)),
		newTestArticle("a3", "j3", "u2", base),
	}
	for _, a := range articles {
		if err := repo.CreateArticle(ctx, a); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	}

	listed, err := repo.ListArticlesByOwner(ctx, "u1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected 2 articles, got %d", len(listed))
	}
	if listed[0].ID != "a2" {
		t.Errorf("expected newest first, got %s", listed[0].ID)
	}

	deleted, err := repo.DeleteArticlesByOwner(ctx, "u1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if deleted != 2 {
		t.Errorf("expected 2 deleted, got %d", deleted)
	}
	if _, err := repo.GetArticleByID(ctx, "a3"); err != nil {
		t.Errorf("expected other owner's article to remain, got %v", err)
	}
}
