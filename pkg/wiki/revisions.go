package wiki

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"deck-updater/pkg/httpclient"
)

var ErrNoRevisions = errors.New("history feed contains no revisions")

// RevisionChecker reads an article's history Atom feed to find when it last
// changed.
type RevisionChecker struct {
	feedParser *gofeed.Parser
	baseURL    string
}

// NewRevisionChecker creates a checker for the wiki at baseURL.
func NewRevisionChecker(baseURL string) *RevisionChecker {
	parser := gofeed.NewParser()
	parser.UserAgent = httpclient.BotUserAgent
	parser.Client = httpclient.NewClient(httpclient.BotClient).HTTP()

	return &RevisionChecker{
		feedParser: parser,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// HistoryFeedURL returns the Atom history feed URL for title.
func (c *RevisionChecker) HistoryFeedURL(title string) string {
	query := url.Values{}
	query.Set("title", title)
	query.Set("action", "history")
	query.Set("feed", "atom")
	return c.baseURL + "/w/index.php?" + query.Encode()
}

// LastRevision returns the timestamp of the newest revision of title.
func (c *RevisionChecker) LastRevision(ctx context.Context, title string) (time.Time, error) {
	feed, err := c.feedParser.ParseURLWithContext(c.HistoryFeedURL(title), ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse history feed: %w", err)
	}

	var latest time.Time
	for _, item := range feed.Items {
		for _, ts := range []*time.Time{item.UpdatedParsed, item.PublishedParsed} {
			if ts != nil && ts.After(latest) {
				latest = *ts
			}
		}
	}
	if latest.IsZero() && feed.UpdatedParsed != nil {
		latest = *feed.UpdatedParsed
	}
	if latest.IsZero() {
		return time.Time{}, ErrNoRevisions
	}
	return latest, nil
}
