package models

import "time"

// GeneratedArticle is the parsed output of the generation service
type GeneratedArticle struct {
	Title           string            `json:"title"`
	Slug            string            `json:"slug,omitempty"`
	MetaDescription string            `json:"metaDescription,omitempty"`
	Keywords        []string          `json:"keywords,omitempty"`
	Markdown        string            `json:"markdown"`
	HTML            string            `json:"html"`
	SchemaOrg       map[string]any    `json:"schemaOrg,omitempty"`
	OpenGraph       map[string]string `json:"openGraph,omitempty"`
}

// ArticleMetadata is derived from the rendered HTML body
type ArticleMetadata struct {
	WordCount      int      `json:"word_count" bson:"word_count"`
	ReadingMinutes int      `json:"reading_minutes" bson:"reading_minutes"`
	Headings       []string `json:"headings,omitempty" bson:"headings,omitempty"`
}

// Article is the persisted result of a completed job
type Article struct {
	ID              string            `json:"id" bson:"_id"`
	JobID           string            `json:"job_id" bson:"job_id"`
	OwnerID         string            `json:"owner_id" bson:"owner_id"`
	Title           string            `json:"title" bson:"title"`
	Slug            string            `json:"slug" bson:"slug"`
	MetaDescription string            `json:"meta_description" bson:"meta_description"`
	Keywords        []string          `json:"keywords" bson:"keywords"`
	Markdown        string            `json:"markdown" bson:"markdown"`
	HTML            string            `json:"html" bson:"html"`
	SchemaOrg       map[string]any    `json:"schema_org,omitempty" bson:"schema_org,omitempty"`
	OpenGraph       map[string]string `json:"open_graph,omitempty" bson:"open_graph,omitempty"`
	Metadata        ArticleMetadata   `json:"metadata" bson:"metadata"`
	CreatedAt       time.Time         `json:"created_at" bson:"created_at"`
}
