package repository

import (
	"context"
	"database/sql"
	"echoscribe/internal/models"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

var articleColumns = []string{
	"id", "job_id", "owner_id", "title", "slug", "meta_description", "keywords",
	"markdown", "html", "schema_org", "open_graph", "metadata", "created_at",
}

// CreateArticle stores a generated article
func (s *SQLStore) CreateArticle(ctx context.Context, article *models.Article) error {
	if article.CreatedAt.IsZero() {
		article.CreatedAt = time.Now().UTC()
	}

	keywords, err := json.Marshal(article.Keywords)
	if err != nil {
		return fmt.Errorf("failed to encode keywords: %w", err)
	}
	schemaOrg, err := marshalOptional(article.SchemaOrg)
	if err != nil {
		return fmt.Errorf("failed to encode schema markup: %w", err)
	}
	openGraph, err := marshalOptional(article.OpenGraph)
	if err != nil {
		return fmt.Errorf("failed to encode open graph tags: %w", err)
	}
	metadata, err := json.Marshal(article.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	insert := s.sb.Insert("articles").Columns(articleColumns...).Values(
		article.ID,
		article.JobID,
		article.OwnerID,
		article.Title,
		article.Slug,
		article.MetaDescription,
		string(keywords),
		article.Markdown,
		article.HTML,
		schemaOrg,
		openGraph,
		string(metadata),
		article.CreatedAt.Unix(),
	)
	if _, err := s.exec(ctx, s.db, insert); err != nil {
		return fmt.Errorf("failed to create article: %w", err)
	}
	return nil
}

// GetArticleByID retrieves an article by ID
func (s *SQLStore) GetArticleByID(ctx context.Context, id string) (*models.Article, error) {
	return s.getArticle(ctx, sq.Eq{"id": id})
}

// GetArticleByJobID retrieves the article produced by a job
func (s *SQLStore) GetArticleByJobID(ctx context.Context, jobID string) (*models.Article, error) {
	return s.getArticle(ctx, sq.Eq{"job_id": jobID})
}

func (s *SQLStore) getArticle(ctx context.Context, where sq.Eq) (*models.Article, error) {
	row, err := s.queryRow(ctx, s.db, s.sb.Select(articleColumns...).From("articles").Where(where))
	if err != nil {
		return nil, err
	}
	article, err := scanArticle(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get article: %w", err)
	}
	return article, nil
}

// ListArticlesByOwner lists an owner's articles, newest first
func (s *SQLStore) ListArticlesByOwner(ctx context.Context, ownerID string) ([]*models.Article, error) {
	q := s.sb.Select(articleColumns...).From("articles").
		Where(sq.Eq{"owner_id": ownerID}).
		OrderBy("created_at DESC")
	rows, err := s.query(ctx, s.db, q)
	if err != nil {
		return nil, fmt.Errorf("failed to query articles: %w", err)
	}
	defer rows.Close()

	var articles []*models.Article
	for rows.Next() {
		article, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan article: %w", err)
		}
		articles = append(articles, article)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate articles: %w", err)
	}
	return articles, nil
}

// DeleteArticlesByOwner removes every article of an owner
func (s *SQLStore) DeleteArticlesByOwner(ctx context.Context, ownerID string) (int64, error) {
	res, err := s.exec(ctx, s.db, s.sb.Delete("articles").Where(sq.Eq{"owner_id": ownerID}))
	if err != nil {
		return 0, fmt.Errorf("failed to delete articles: %w", err)
	}
	return res.RowsAffected()
}

func scanArticle(row rowScanner) (*models.Article, error) {
	var a models.Article
	var keywords string
	var schemaOrg, openGraph, metadata sql.NullString
	var createdAt int64

	err := row.Scan(
		&a.ID,
		&a.JobID,
		&a.OwnerID,
		&a.Title,
		&a.Slug,
		&a.MetaDescription,
		&keywords,
		&a.Markdown,
		&a.HTML,
		&schemaOrg,
		&openGraph,
		&metadata,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(keywords), &a.Keywords); err != nil {
		return nil, fmt.Errorf("failed to decode keywords: %w", err)
	}
	if schemaOrg.Valid {
		if err := json.Unmarshal([]byte(schemaOrg.String), &a.SchemaOrg); err != nil {
			return nil, fmt.Errorf("failed to decode schema markup: %w", err)
		}
	}
	if openGraph.Valid {
		if err := json.Unmarshal([]byte(openGraph.String), &a.OpenGraph); err != nil {
			return nil, fmt.Errorf("failed to decode open graph tags: %w", err)
		}
	}
	if metadata.Valid {
		if err := json.Unmarshal([]byte(metadata.String), &a.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	a.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &a, nil
}

func marshalOptional[T any](v map[string]T) (any, error) {
	if len(v) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}
