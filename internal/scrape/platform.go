// Package scrape - platform.go provides source-platform detection and
// platform-specific selectors for listing pages.
package scrape

import (
	"net/url"
	"strings"
)

// Platform represents a supported job listing platform.
type Platform string

const (
	// PlatformLinkedIn is the LinkedIn jobs search platform
	PlatformLinkedIn Platform = "linkedin"
	// PlatformIndeed is the Indeed jobs search platform
	PlatformIndeed Platform = "indeed"
	// PlatformUnknown is an unrecognized platform
	PlatformUnknown Platform = "unknown"
)

// KnownPlatforms lists the platforms the engine can drive, in stable order.
func KnownPlatforms() []Platform {
	return []Platform{PlatformLinkedIn, PlatformIndeed}
}

// ParsePlatform converts a config string into a Platform.
func ParsePlatform(name string) Platform {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "linkedin":
		return PlatformLinkedIn
	case "indeed":
		return PlatformIndeed
	default:
		return PlatformUnknown
	}
}

// DetectPlatform identifies the listing platform from a URL.
func DetectPlatform(urlStr string) Platform {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return PlatformUnknown
	}

	host := strings.ToLower(parsed.Host)

	if strings.Contains(host, "linkedin.com") {
		return PlatformLinkedIn
	}
	if strings.Contains(host, "indeed.com") {
		return PlatformIndeed
	}
	return PlatformUnknown
}

// CardSelectors returns the selectors locating one job card each, most
// specific first. Listing markup shifts often, so every lookup walks a
// fallback list.
func CardSelectors(platform Platform) []string {
	switch platform {
	case PlatformLinkedIn:
		return []string{
			"li[data-occludable-job-id]",
			"div[data-job-id]",
			".jobs-search-results__list-item",
			".job-card-container",
		}
	case PlatformIndeed:
		return []string{
			".job_seen_beacon",
			"div[data-testid='slider_item']",
			"td.resultContent",
			".jobsearch-SerpJobCard",
		}
	default:
		return []string{"[data-job-id]", ".job-card"}
	}
}

// TitleSelectors returns selectors for the job title link inside a card.
func TitleSelectors(platform Platform) []string {
	switch platform {
	case PlatformLinkedIn:
		return []string{
			".job-card-list__title--link",
			".job-card-list__title",
			"a.job-card-container__link",
			"a[href*='/jobs/view/']",
		}
	case PlatformIndeed:
		return []string{
			"a.jcs-JobTitle",
			"h2.jobTitle a",
			"a[data-jk]",
		}
	default:
		return []string{"a"}
	}
}

// CompanySelectors returns selectors for the company name inside a card.
func CompanySelectors(platform Platform) []string {
	switch platform {
	case PlatformLinkedIn:
		return []string{
			".artdeco-entity-lockup__subtitle",
			".job-card-container__primary-description",
			".job-card-container__company-name",
		}
	case PlatformIndeed:
		return []string{
			"span[data-testid='company-name']",
			".companyName",
		}
	default:
		return []string{".company"}
	}
}

// LocationSelectors returns selectors for the location inside a card.
func LocationSelectors(platform Platform) []string {
	switch platform {
	case PlatformLinkedIn:
		return []string{
			".job-card-container__metadata-item",
			".artdeco-entity-lockup__caption",
		}
	case PlatformIndeed:
		return []string{
			"div[data-testid='text-location']",
			".companyLocation",
		}
	default:
		return []string{".location"}
	}
}

// NextPageSelectors returns selectors for the enabled next-page control.
func NextPageSelectors(platform Platform) []string {
	switch platform {
	case PlatformLinkedIn:
		return []string{
			"button.jobs-search-pagination__button--next:not([disabled])",
			"button[aria-label='View next page']:not([disabled])",
			"button[aria-label='Next']:not([disabled])",
		}
	case PlatformIndeed:
		return []string{
			"a[data-testid='pagination-page-next']",
			"a[aria-label='Next Page']",
		}
	default:
		return []string{"a[rel='next']"}
	}
}

// ApplySelectors returns selectors for the apply button on a focused job.
func ApplySelectors(platform Platform) []string {
	switch platform {
	case PlatformLinkedIn:
		return []string{
			"button.jobs-apply-button",
			"div.jobs-apply-button--top-card button",
			"button[aria-label*='Apply']",
		}
	case PlatformIndeed:
		return []string{
			"button#indeedApplyButton",
			"button[data-testid='indeed-apply-button']",
			"a[aria-label*='Apply now']",
			"button.ia-IndeedApplyButton",
		}
	default:
		return []string{"button[aria-label*='Apply']"}
	}
}

// InlineModalSelectors returns selectors marking the platform's own inline
// application dialog, the short path that never opens an ATS tab.
func InlineModalSelectors(platform Platform) []string {
	switch platform {
	case PlatformLinkedIn:
		return []string{
			"div.jobs-easy-apply-modal",
			"div[data-test-modal][role='dialog']",
			"div[aria-labelledby='jobs-apply-header']",
		}
	case PlatformIndeed:
		return []string{
			"div.ia-Modal",
			"div[data-testid='ia-container']",
			"iframe[title*='apply']",
		}
	default:
		return []string{"div[role='dialog']"}
	}
}

// SignedInSelectors returns markers present only for authenticated users.
func SignedInSelectors(platform Platform) []string {
	switch platform {
	case PlatformLinkedIn:
		return []string{
			"img.global-nav__me-photo",
			"button.global-nav__primary-link-me-menu-trigger",
			"div.feed-identity-module",
		}
	case PlatformIndeed:
		return []string{
			"button[aria-label*='account']",
			"a[href*='myjobs.indeed.com']",
			"div[data-gnav-element-name='AccountMenu']",
		}
	default:
		return []string{"[data-signed-in]"}
	}
}

// SignedOutSelectors returns markers present only for anonymous visitors.
func SignedOutSelectors(platform Platform) []string {
	switch platform {
	case PlatformLinkedIn:
		return []string{
			"a[href*='linkedin.com/login']",
			"a.nav__button-secondary",
			"form.google-auth",
		}
	case PlatformIndeed:
		return []string{
			"a[href*='secure.indeed.com/account/login']",
			"a[data-gnav-element-name='SignIn']",
		}
	default:
		return []string{"a[href*='login']"}
	}
}
