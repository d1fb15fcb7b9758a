package parser

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// BodyCleaner normalizes raw message bodies into plain text suitable for
// the extraction service: HTML stripped, encoding artifacts removed,
// whitespace collapsed.
type BodyCleaner struct {
	whitespaceRegex *regexp.Regexp
	newlineRegex    *regexp.Regexp
	invisibleRegex  *regexp.Regexp
	softBreakRegex  *regexp.Regexp
}

// NewBodyCleaner creates a new body cleaner
func NewBodyCleaner() *BodyCleaner {
	return &BodyCleaner{
		whitespaceRegex: regexp.MustCompile(`[^\S\n]+`),
		newlineRegex:    regexp.MustCompile(`\n{3,}`),
		// Remove invisible Unicode characters (zero-width spaces, etc.)
		invisibleRegex: regexp.MustCompile(`[\x{200B}-\x{200D}\x{FEFF}\x{00AD}\x{2060}-\x{2064}\x{206A}-\x{206F}]+`),
		// Quoted-printable soft line breaks that survived MIME decoding
		softBreakRegex: regexp.MustCompile(`=\s*\n`),
	}
}

// Clean picks the best body of a message and normalizes it. The plain-text
// part wins; the HTML part is converted to text when no usable plain text
// exists.
func (c *BodyCleaner) Clean(bodyText, bodyHTML string) (string, error) {
	text := bodyText
	if strings.TrimSpace(text) == "" && bodyHTML != "" {
		converted, err := c.htmlToText(bodyHTML)
		if err != nil {
			return "", err
		}
		text = converted
	}
	return c.normalize(text), nil
}

// htmlToText converts HTML to plain text
func (c *BodyCleaner) htmlToText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}

	// Remove script and style elements
	doc.Find("script, style, head, meta, link").Remove()

	// Add newlines before block elements
	doc.Find("p, div, br, h1, h2, h3, h4, h5, h6, li, tr").Each(func(i int, s *goquery.Selection) {
		s.PrependHtml("\n")
	})

	return doc.Text(), nil
}

// normalize strips encoding artifacts and collapses whitespace
func (c *BodyCleaner) normalize(text string) string {
	// Quoted-printable residue seen in bank alert emails
	text = c.softBreakRegex.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "=20", " ")
	text = strings.ReplaceAll(text, "=A0", " ")
	text = strings.ReplaceAll(text, "\r", "")

	text = c.invisibleRegex.ReplaceAllString(text, "")
	text = c.whitespaceRegex.ReplaceAllString(text, " ")

	// Trim each line and drop empty ones
	lines := strings.Split(text, "\n")
	var cleanLines []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			cleanLines = append(cleanLines, line)
		}
	}
	text = strings.Join(cleanLines, "\n")

	text = c.newlineRegex.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
