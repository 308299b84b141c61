package generation

import (
	"echoscribe/internal/models"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrNoJSON        = errors.New("no JSON object found in response")
	ErrInvalidJSON   = errors.New("invalid JSON in response")
	ErrMissingFields = errors.New("missing required fields in response")
)

// maxExcerpt bounds how much of a bad reply is carried for diagnostics
const maxExcerpt = 500

// ResponseError wraps a parse or validation failure with an excerpt of the reply
type ResponseError struct {
	Err     error
	Excerpt string
}

func (e *ResponseError) Error() string {
	return e.Err.Error()
}

func (e *ResponseError) Unwrap() error {
	return e.Err
}

// Truncate shortens s to at most n bytes without splitting a UTF-8 sequence
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut]
}

// ParseArticle extracts, decodes and validates the article carried in a reply
func ParseArticle(reply string) (*models.GeneratedArticle, error) {
	fail := func(err error) error {
		return &ResponseError{Err: err, Excerpt: Truncate(reply, maxExcerpt)}
	}

	raw, ok := ExtractJSON(reply)
	if !ok {
		return nil, fail(ErrNoJSON)
	}

	var wire wireArticle
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		if err2 := json.Unmarshal([]byte(SanitizeEscapes(raw)), &wire); err2 != nil {
			return nil, fail(fmt.Errorf("%w: %v", ErrInvalidJSON, err))
		}
	}
	article := wire.article()

	var missing []string
	if strings.TrimSpace(article.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(article.Markdown) == "" {
		missing = append(missing, "markdown")
	}
	if strings.TrimSpace(article.HTML) == "" {
		missing = append(missing, "html")
	}
	if len(missing) > 0 {
		return nil, fail(fmt.Errorf("%w: %s", ErrMissingFields, strings.Join(missing, ", ")))
	}

	return article, nil
}

// wireArticle holds every field raw so a mistyped optional field is dropped
// instead of failing the reply
type wireArticle struct {
	Title           json.RawMessage `json:"title"`
	Slug            json.RawMessage `json:"slug"`
	MetaDescription json.RawMessage `json:"metaDescription"`
	Keywords        json.RawMessage `json:"keywords"`
	Markdown        json.RawMessage `json:"markdown"`
	HTML            json.RawMessage `json:"html"`
	SchemaOrg       json.RawMessage `json:"schemaOrg"`
	OpenGraph       json.RawMessage `json:"openGraph"`
}

func (w *wireArticle) article() *models.GeneratedArticle {
	return &models.GeneratedArticle{
		Title:           stringField(w.Title),
		Slug:            stringField(w.Slug),
		MetaDescription: stringField(w.MetaDescription),
		Keywords:        keywordsField(w.Keywords),
		Markdown:        stringField(w.Markdown),
		HTML:            stringField(w.HTML),
		SchemaOrg:       objectField(w.SchemaOrg),
		OpenGraph:       openGraphField(w.OpenGraph),
	}
}

// stringField returns "" for absent or non-string values
func stringField(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// keywordsField accepts a list of scalars or a comma separated string
func keywordsField(raw json.RawMessage) []string {
	var list []any
	if err := json.Unmarshal(raw, &list); err == nil {
		keywords := make([]string, 0, len(list))
		for _, v := range list {
			if s, ok := scalarString(v); ok && strings.TrimSpace(s) != "" {
				keywords = append(keywords, strings.TrimSpace(s))
			}
		}
		return keywords
	}

	var joined string
	if err := json.Unmarshal(raw, &joined); err != nil {
		return nil
	}
	var keywords []string
	for _, part := range strings.Split(joined, ",") {
		if part = strings.TrimSpace(part); part != "" {
			keywords = append(keywords, part)
		}
	}
	return keywords
}

func objectField(raw json.RawMessage) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	return obj
}

// openGraphField keeps scalar tags as strings and drops nested values
func openGraphField(raw json.RawMessage) map[string]string {
	obj := objectField(raw)
	if len(obj) == 0 {
		return nil
	}
	tags := make(map[string]string, len(obj))
	for k, v := range obj {
		if s, ok := scalarString(v); ok {
			tags[k] = s
		}
	}
	if len(tags) == 0 {
		return nil
	}
	return tags
}

func scalarString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(x), true
	default:
		return "", false
	}
}

// ExtractJSON returns the first balanced {...} span of s. Braces inside JSON
// strings are ignored.
func ExtractJSON(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// SanitizeEscapes drops backslashes that do not start a valid JSON escape
func SanitizeEscapes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		if i+1 >= len(s) {
			break
		}
		next := s[i+1]
		switch next {
		case '"', '\\', '/', 'b', 'f', 'n', 'r', 't':
			b.WriteByte(c)
			b.WriteByte(next)
			i++
		case 'u':
			if i+5 < len(s) && isHex4(s[i+2:i+6]) {
				b.WriteByte(c)
			}
		}
	}
	return b.String()
}

func isHex4(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return len(s) == 4
}
