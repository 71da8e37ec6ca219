// Package scrape extracts job cards from listing-page snapshots and decides
// whether pagination can continue. Extraction is pure DOM work; driving the
// tab belongs to the page agent.
package scrape

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Job is one listing card: the unit a job session is created for.
type Job struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Company  string   `json:"company"`
	Location string   `json:"location"`
	URL      string   `json:"url"`
	Platform Platform `json:"platform"`
}

// PageResult is what one scrape of one listing page yields. An empty Jobs
// slice halts pagination regardless of HasNextPage: it means either
// end-of-results or broken selectors, and neither is worth looping on.
type PageResult struct {
	Platform    Platform `json:"platform"`
	CurrentPage int      `json:"current_page"`
	Jobs        []Job    `json:"jobs"`
	HasNextPage bool     `json:"has_next_page"`
}

// ExtractJobs parses a listing snapshot into job cards.
func ExtractJobs(html string, platform Platform, baseURL string, currentPage int) (*PageResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse listing snapshot: %w", err)
	}

	result := &PageResult{
		Platform:    platform,
		CurrentPage: currentPage,
		HasNextPage: hasNextControl(doc, platform),
	}

	cards := findCards(doc, platform)
	seen := make(map[string]bool, cards.Length())
	cards.Each(func(_ int, card *goquery.Selection) {
		job, ok := extractCard(card, platform, baseURL)
		if !ok || seen[job.ID] {
			return
		}
		seen[job.ID] = true
		result.Jobs = append(result.Jobs, job)
	})

	return result, nil
}

// findCards tries each card selector until one matches.
func findCards(doc *goquery.Document, platform Platform) *goquery.Selection {
	for _, selector := range CardSelectors(platform) {
		if cards := doc.Find(selector); cards.Length() > 0 {
			return cards
		}
	}
	return doc.Find("__none__")
}

// extractCard pulls the fields out of one card. A card without both an id
// and a resolvable URL is dropped: there is nothing to key a session on.
func extractCard(card *goquery.Selection, platform Platform, baseURL string) (Job, bool) {
	titleSel := firstMatch(card, TitleSelectors(platform))

	job := Job{
		Platform: platform,
		Title:    textOf(titleSel),
		Company:  textOf(firstMatch(card, CompanySelectors(platform))),
		Location: textOf(firstMatch(card, LocationSelectors(platform))),
	}

	if titleSel != nil {
		if href, ok := titleSel.Attr("href"); ok {
			job.URL = resolveURL(baseURL, href, platform)
		}
	}

	job.ID = cardID(card, titleSel)
	if job.ID == "" {
		job.ID = jobIDFromURL(job.URL)
	}
	if job.ID == "" {
		return Job{}, false
	}
	return job, true
}

// cardID reads the platform's job id attribute off the card or title link.
func cardID(card, titleSel *goquery.Selection) string {
	for _, attr := range []string{"data-occludable-job-id", "data-job-id", "data-jk"} {
		if v, ok := card.Attr(attr); ok && v != "" {
			return v
		}
	}
	if titleSel != nil {
		if v, ok := titleSel.Attr("data-jk"); ok && v != "" {
			return v
		}
	}
	return ""
}

// jobIDFromURL falls back to the jk query param or the last path segment.
func jobIDFromURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	if jk := parsed.Query().Get("jk"); jk != "" {
		return jk
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if segments[i] != "" {
			return segments[i]
		}
	}
	return ""
}

func hasNextControl(doc *goquery.Document, platform Platform) bool {
	for _, selector := range NextPageSelectors(platform) {
		if doc.Find(selector).Length() > 0 {
			return true
		}
	}
	return false
}

// firstMatch walks a fallback selector list, returning the first hit.
func firstMatch(scope *goquery.Selection, selectors []string) *goquery.Selection {
	for _, selector := range selectors {
		if m := scope.Find(selector); m.Length() > 0 {
			return m.First()
		}
	}
	return nil
}

func textOf(sel *goquery.Selection) string {
	if sel == nil {
		return ""
	}
	return strings.Join(strings.Fields(sel.Text()), " ")
}

func resolveURL(baseURL, href string, platform Platform) string {
	if href == "" {
		return ""
	}
	base, err := url.Parse(baseURL)
	if err != nil || base.Host == "" {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	resolved := base.ResolveReference(ref)
	// LinkedIn addresses jobs by path and carries only tracking params in
	// the query. Indeed keys the job on ?jk=, so its query must survive.
	if platform == PlatformLinkedIn {
		resolved.RawQuery = ""
	}
	resolved.Fragment = ""
	return resolved.String()
}
