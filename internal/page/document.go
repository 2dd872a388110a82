// Package page holds the parsed representation of a rendered HTML page.
package page

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// ErrParse is returned when rendered HTML cannot be turned into a document.
var ErrParse = errors.New("parse html")

// hiddenElements never contribute to the visible text of a page.
const hiddenElements = "script, style, noscript, template"

// Document is a navigable tree built from the HTML a browser rendered.
type Document struct {
	source string
	doc    *goquery.Document
}

// Parse builds a Document from rendered HTML.
func Parse(source string) (*Document, error) {
	root, err := html.Parse(strings.NewReader(source))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	return &Document{
		source: source,
		doc:    goquery.NewDocumentFromNode(root),
	}, nil
}

// HTML returns the rendered source the document was parsed from.
func (d *Document) HTML() string {
	return d.source
}

// Title returns the trimmed contents of the first <title> element.
func (d *Document) Title() string {
	return strings.TrimSpace(d.doc.Find("title").First().Text())
}

// Find runs a CSS selector against the document.
func (d *Document) Find(selector string) *goquery.Selection {
	return d.doc.Find(selector)
}

// Text returns the visible text of the body with runs of whitespace collapsed
// to a single space.
func (d *Document) Text() string {
	body := d.doc.Find("body").First()
	if body.Length() == 0 {
		body = d.doc.Selection
	}
	clone := body.Clone()
	clone.Find(hiddenElements).Remove()
	return strings.Join(strings.Fields(clone.Text()), " ")
}

// Excerpt returns at most n runes of Text.
func (d *Document) Excerpt(n int) string {
	return truncateRunes(d.Text(), n)
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
