// Package market extracts app records from marketplace listing markup.
package market

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/bionicspirit/market-crawler/internal/crawler"
)

// Selectors for the listing markup. The listing container doubles as the
// schema sentinel: a response without it is a degraded parse, not an empty
// page.
const (
	listingSelector = "div.apps-listing"
	snippetSelector = "div.snippet"
)

var (
	nonDigits  = regexp.MustCompile(`\D+`)
	priceValue = regexp.MustCompile(`[\d.]+`)
	installs   = regexp.MustCompile(`([\d,]+)\s*-\s*([\d,]+)`)
)

// Config controls link resolution.
type Config struct {
	// BaseURL resolves relative app/developer links, e.g.
	// "https://market.android.com".
	BaseURL string
}

// Extractor implements crawler.Extractor over marketplace listing pages.
type Extractor struct {
	base *url.URL
}

// New builds an Extractor. An unparseable base URL is a setup error.
func New(cfg Config) (*Extractor, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", cfg.BaseURL, err)
	}
	return &Extractor{base: base}, nil
}

// Extract parses listing markup into records. It never panics on malformed
// markup; a document without the listing container reports degraded=true so
// the caller can retry instead of treating it as the catalog's end.
func (e *Extractor) Extract(body []byte) ([]crawler.AppRecord, bool, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, true, fmt.Errorf("parse listing markup: %w", err)
	}

	listing := doc.Find(listingSelector)
	if listing.Length() == 0 {
		return nil, true, nil
	}

	var records []crawler.AppRecord
	listing.Find(snippetSelector).Each(func(_ int, s *goquery.Selection) {
		if rec, ok := e.extractSnippet(s); ok {
			records = append(records, rec)
		}
	})
	return records, false, nil
}

func (e *Extractor) extractSnippet(s *goquery.Selection) (crawler.AppRecord, bool) {
	title := s.Find("a.title").First()
	href, _ := title.Attr("href")
	uid := queryParam(href, "id")
	name := strings.TrimSpace(title.Text())
	if uid == "" || name == "" {
		// Promo tiles and non-app snippets carry no details link.
		return crawler.AppRecord{}, false
	}

	rec := crawler.AppRecord{
		UID:     uid,
		Name:    name,
		AppLink: e.absoluteURL("/details?id=" + url.QueryEscape(uid)),
	}

	dev := s.Find(".attribution a").First()
	rec.DevName = strings.TrimSpace(dev.Text())
	if devHref, ok := dev.Attr("href"); ok {
		rec.DevLink = e.absoluteURL(devHref)
	}

	if v, ok := s.Find("[itemprop=ratingValue]").Attr("content"); ok {
		rec.RatingValue = v
	}
	if countText := s.Find("[itemprop=ratingCount]").Text(); countText != "" {
		rec.RatingCount, _ = strconv.Atoi(nonDigits.ReplaceAllString(countText, ""))
	}
	rec.Category = strings.TrimSpace(s.Find(".category").First().Text())

	price := strings.TrimSpace(s.Find(".buy-button-price").First().Text())
	if m := priceValue.FindString(price); m != "" {
		rec.IsFree = false
		rec.Price = price
	} else {
		rec.IsFree = true
		rec.Price = "0"
	}

	if m := installs.FindStringSubmatch(s.Find("[itemprop=numDownloads]").Text()); m != nil {
		rec.InstallsMin, _ = strconv.Atoi(nonDigits.ReplaceAllString(m[1], ""))
		rec.InstallsMax, _ = strconv.Atoi(nonDigits.ReplaceAllString(m[2], ""))
	}

	return rec, true
}

// absoluteURL resolves href against the marketplace base URL.
func (e *Extractor) absoluteURL(href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return e.base.ResolveReference(ref).String()
}

// queryParam extracts one query parameter from a raw URL.
func queryParam(rawURL, key string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Query().Get(key)
}
