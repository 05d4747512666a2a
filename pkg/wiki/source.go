// Package wiki fetches article text from a MediaWiki site and splits it into
// sections.
package wiki

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"

	"deck-updater/pkg/domain"
	"deck-updater/pkg/httpclient"
)

var (
	ErrArticleNotFound = errors.New("article not found upstream")
	ErrEmptyArticle    = errors.New("article has no text content")
)

// skippedSections never become slides.
var skippedSections = map[string]bool{
	"references":      true,
	"external links":  true,
	"see also":        true,
	"notes":           true,
	"further reading": true,
	"bibliography":    true,
	"sources":         true,
	"citations":       true,
}

// Source fetches rendered article HTML through the MediaWiki parse API.
type Source struct {
	client  *httpclient.HTTPClient
	baseURL string
}

// NewSource creates a source for the wiki at baseURL (e.g. "https://en.wikipedia.org").
func NewSource(baseURL string) *Source {
	return &Source{
		client:  httpclient.NewClient(httpclient.BotClient),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

type parseResponse struct {
	Parse *struct {
		Title string `json:"title"`
		Text  string `json:"text"`
	} `json:"parse"`
	Error *struct {
		Code string `json:"code"`
		Info string `json:"info"`
	} `json:"error"`
}

// FetchSections returns the article's sections in document order.
func (s *Source) FetchSections(ctx context.Context, title string) ([]domain.Section, error) {
	html, err := s.fetchHTML(ctx, title)
	if err != nil {
		return nil, err
	}

	sections, err := ExtractSections(html, title)
	if err != nil {
		return nil, fmt.Errorf("extract sections of %q: %w", title, err)
	}
	return sections, nil
}

func (s *Source) fetchHTML(ctx context.Context, title string) (string, error) {
	query := url.Values{}
	query.Set("action", "parse")
	query.Set("page", title)
	query.Set("prop", "text")
	query.Set("format", "json")
	query.Set("formatversion", "2")
	query.Set("redirects", "1")

	resp, err := s.client.Get(ctx, s.baseURL+"/w/api.php?"+query.Encode())
	if err != nil {
		return "", fmt.Errorf("failed to fetch %q: %w", title, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", ErrArticleNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	var parsed parseResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode parse response: %w", err)
	}
	if parsed.Error != nil {
		if parsed.Error.Code == "missingtitle" || parsed.Error.Code == "invalidtitle" {
			return "", fmt.Errorf("%w: %s", ErrArticleNotFound, title)
		}
		return "", fmt.Errorf("wiki API error %s: %s", parsed.Error.Code, parsed.Error.Info)
	}
	if parsed.Parse == nil || strings.TrimSpace(parsed.Parse.Text) == "" {
		return "", ErrEmptyArticle
	}

	return parsed.Parse.Text, nil
}

// ExtractSections splits rendered article HTML on its h2–h4 headings. The
// lead text before the first heading becomes a section titled leadTitle.
// Paragraph breaks inside a section are kept as newlines. When no structured
// text can be found the readable text of the whole page is returned as a
// single section.
func ExtractSections(htmlContent, leadTitle string) ([]domain.Section, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	root := doc.Find(".mw-parser-output").First()
	if root.Length() == 0 {
		root = doc.Find("body").First()
	}

	root.Find("sup.reference, .mw-editsection, style, script, table, figure, .thumb, .hatnote, .navbox, .reflist, .mw-empty-elt").Remove()

	var (
		sections []domain.Section
		current  = domain.Section{Title: leadTitle}
		paras    []string
		skipping bool
	)

	flush := func() {
		if !skipping && len(paras) > 0 {
			current.Text = strings.Join(paras, "\n")
			sections = append(sections, current)
		}
		paras = nil
	}

	root.Children().Each(func(_ int, sel *goquery.Selection) {
		if heading, ok := headingText(sel); ok {
			flush()
			current = domain.Section{Title: heading}
			skipping = skippedSections[strings.ToLower(heading)]
			return
		}
		if skipping {
			return
		}

		switch goquery.NodeName(sel) {
		case "p", "blockquote":
			if text := cleanText(sel.Text()); text != "" {
				paras = append(paras, text)
			}
		case "ul", "ol", "dl":
			sel.Find("li, dd").Each(func(_ int, item *goquery.Selection) {
				if text := cleanText(item.Text()); text != "" {
					paras = append(paras, text)
				}
			})
		}
	})
	flush()

	if len(sections) > 0 {
		return sections, nil
	}

	log.Printf("Wiki: no sectioned text found for %q, falling back to readability", leadTitle)
	article, err := readability.FromReader(strings.NewReader(htmlContent), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to extract text: %w", err)
	}
	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return nil, ErrEmptyArticle
	}
	return []domain.Section{{Title: leadTitle, Text: text}}, nil
}

// headingText recognises both bare headings and the div.mw-heading wrapper
// newer MediaWiki versions emit.
func headingText(sel *goquery.Selection) (string, bool) {
	switch goquery.NodeName(sel) {
	case "h2", "h3", "h4":
		return cleanText(sel.Text()), true
	case "div":
		if sel.HasClass("mw-heading") {
			return cleanText(sel.Find("h2, h3, h4").First().Text()), true
		}
	}
	return "", false
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
