package fetch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
)

// MinContentLength is the minimum body text length for a plain HTTP fetch to
// count as rendered. Below it the page is likely a JavaScript shell.
const MinContentLength = 500

// ShouldRender reports whether the fetched HTML looks like an unrendered SPA
// shell whose real content only appears after script execution. ATS vendors
// ship almost all of their application pages this way.
func ShouldRender(html string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return true
	}
	body := strings.TrimSpace(doc.Find("body").Text())
	return len(body) < MinContentLength
}

// Rendered loads a page in a throwaway headless browser and returns the HTML
// after scripts have run. One-shot: the browser context lives only for this
// call, unlike the engine's long-lived session in internal/browser.
// Requires Chrome/Chromium to be installed on the system.
func Rendered(ctx context.Context, url string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	allocCtx, cancel := chromedp.NewExecAllocator(ctx,
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)...,
	)
	defer cancel()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	browserCtx, cancel = context.WithTimeout(browserCtx, timeout)
	defer cancel()

	var html string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		// Give client-side routers a beat to paint the real page.
		chromedp.Sleep(3*time.Second),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return "", fmt.Errorf("browser rendering failed: %w", err)
	}

	return html, nil
}
