package generation

// ArticlePrompt is the default instruction sent alongside the media
const ArticlePrompt = `Listen to the attached podcast episode and write an SEO-optimized blog article about it.

Respond with a single JSON object and nothing else, using these keys:
  "title": article headline,
  "slug": url slug for the headline,
  "metaDescription": at most 160 characters,
  "keywords": array of 5 to 10 keywords,
  "markdown": the full article in Markdown,
  "html": the same article as semantic HTML using h2, h3, p, ul and blockquote,
  "schemaOrg": a schema.org Article object,
  "openGraph": an object with og:title, og:description and og:type.

Write in the language spoken in the episode.`
