// Package extractor finds downloadable documents and images referenced by a page.
//
// HTML pages are scanned for anchors and images; RSS, Atom and JSON feeds are
// scanned for item enclosures, item images and item links. References are
// resolved against the page URL and classified by file extension.
package extractor

import (
	"bytes"
	"fmt"
	"net/url"
	"path"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"site_tracker/internal/model"
)

// ParseError reports content that could not be parsed. Callers treat it as a
// page with no resources.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse content: %v", e.Err) }

func (e *ParseError) Unwrap() error { return e.Err }

// Classifier decides whether a URL points to an allowed document or image.
type Classifier struct {
	documents []string
	images    []string
}

// NewClassifier creates a Classifier from extension lists such as ".pdf".
func NewClassifier(documentExts, imageExts []string) *Classifier {
	norm := func(exts []string) []string {
		out := make([]string, 0, len(exts))
		for _, e := range exts {
			e = strings.ToLower(strings.TrimSpace(e))
			if e != "" && !strings.HasPrefix(e, ".") {
				e = "." + e
			}
			if e != "" {
				out = append(out, e)
			}
		}
		return out
	}
	return &Classifier{documents: norm(documentExts), images: norm(imageExts)}
}

// Classify returns the resource kind for an absolute URL, judged by the
// lower-cased extension of its path. ok is false for unrecognized extensions.
func (c *Classifier) Classify(absURL string) (kind model.Kind, ok bool) {
	u, err := url.Parse(absURL)
	if err != nil {
		return "", false
	}
	ext := strings.ToLower(path.Ext(u.Path))
	switch {
	case ext == "":
		return "", false
	case slices.Contains(c.documents, ext):
		return model.KindDocument, true
	case slices.Contains(c.images, ext):
		return model.KindImage, true
	default:
		return "", false
	}
}

// Extractor turns page content into a resource set.
type Extractor struct {
	classifier *Classifier
}

// New creates an Extractor using the given Classifier.
func New(c *Classifier) *Extractor {
	return &Extractor{classifier: c}
}

// Extract returns the resources referenced by content, resolved against baseURL.
// The result is deduplicated by URL: the position of the first occurrence is kept
// and the last occurrence's name and kind win. On a ParseError the returned set
// is empty.
func (e *Extractor) Extract(content []byte, baseURL string) ([]model.Resource, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, &ParseError{Err: fmt.Errorf("base url: %w", err)}
	}

	var found []model.Resource
	if gofeed.DetectFeedType(bytes.NewReader(content)) != gofeed.FeedTypeUnknown {
		found, err = e.fromFeed(content, base)
	} else {
		found, err = e.fromHTML(content, base)
	}
	if err != nil {
		return nil, err
	}
	return Dedup(found), nil
}

func (e *Extractor) fromHTML(content []byte, base *url.URL) ([]model.Resource, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil, &ParseError{Err: err}
	}

	var out []model.Resource

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		abs, ok := resolve(base, Requote(strings.TrimSpace(href)))
		if !ok {
			return
		}
		kind, ok := e.classifier.Classify(abs)
		if !ok {
			return
		}
		out = append(out, model.Resource{
			Name: nameOr(strings.TrimSpace(s.Text()), abs),
			URL:  abs,
			Kind: kind,
		})
	})

	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		abs, ok := resolve(base, strings.TrimSpace(src))
		if !ok {
			return
		}
		// An <img> always yields an image, even when the URL carries a document
		// extension, so it overrides an anchor to the same URL.
		if _, ok := e.classifier.Classify(abs); !ok {
			return
		}
		alt, _ := s.Attr("alt")
		out = append(out, model.Resource{
			Name: nameOr(strings.TrimSpace(alt), abs),
			URL:  abs,
			Kind: model.KindImage,
		})
	})

	return out, nil
}

func (e *Extractor) fromFeed(content []byte, base *url.URL) ([]model.Resource, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(content))
	if err != nil {
		return nil, &ParseError{Err: err}
	}

	var out []model.Resource
	add := func(ref, name string) {
		abs, ok := resolve(base, Requote(strings.TrimSpace(ref)))
		if !ok {
			return
		}
		kind, ok := e.classifier.Classify(abs)
		if !ok {
			return
		}
		out = append(out, model.Resource{Name: nameOr(strings.TrimSpace(name), abs), URL: abs, Kind: kind})
	}

	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		add(item.Link, item.Title)
		for _, enc := range item.Enclosures {
			if enc != nil {
				add(enc.URL, item.Title)
			}
		}
		if item.Image != nil {
			add(item.Image.URL, item.Image.Title)
		}
	}
	return out, nil
}

// Dedup removes resources with duplicate URLs. Each URL keeps the position of its
// first occurrence and the value of its last occurrence.
func Dedup(in []model.Resource) []model.Resource {
	index := make(map[string]int, len(in))
	out := make([]model.Resource, 0, len(in))
	for _, r := range in {
		if i, ok := index[r.URL]; ok {
			out[i] = r
			continue
		}
		index[r.URL] = len(out)
		out = append(out, r)
	}
	return out
}

func resolve(base *url.URL, ref string) (string, bool) {
	if ref == "" {
		return "", false
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(u)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	return abs.String(), true
}

// nameOr returns name, or the URL's file name without extension when name is empty.
func nameOr(name, absURL string) string {
	if name != "" {
		return name
	}
	u, err := url.Parse(absURL)
	if err != nil {
		return ""
	}
	b := path.Base(u.Path)
	return strings.TrimSuffix(b, path.Ext(b))
}

// Requote percent-encodes characters that are not allowed in a URL while leaving
// reserved characters and existing valid escapes untouched.
func Requote(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]):
			b.WriteByte(c)
		case c == '%':
			b.WriteString("%25")
		case isSafe(c):
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

func isSafe(c byte) bool {
	if 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9' {
		return true
	}
	return strings.IndexByte("-._~!#$&'()*+,/:;=?@[]", c) >= 0
}
