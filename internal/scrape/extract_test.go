package scrape

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const linkedinListingHTML = `<html><body>
<div class="scaffold-layout__list">
  <li data-occludable-job-id="4012345678">
    <div class="job-card-container">
      <a class="job-card-list__title--link" href="/jobs/view/4012345678/?refId=r1&trackingId=t1">Senior Go Engineer</a>
      <div class="artdeco-entity-lockup__subtitle">Initech</div>
      <span class="job-card-container__metadata-item">Remote, United States</span>
    </div>
  </li>
  <li data-occludable-job-id="4012345679">
    <div class="job-card-container">
      <a class="job-card-list__title--link" href="/jobs/view/4012345679/">Platform Engineer</a>
      <div class="artdeco-entity-lockup__subtitle">Hooli</div>
      <span class="job-card-container__metadata-item">New York, NY</span>
    </div>
  </li>
</div>
<button class="jobs-search-pagination__button--next" aria-label="View next page">Next</button>
</body></html>`

const indeedListingHTML = `<html><body>
<div id="mosaic-jobResults">
  <div class="job_seen_beacon">
    <h2 class="jobTitle"><a class="jcs-JobTitle" data-jk="abc123def456" href="/rc/clk?jk=abc123def456&from=serp">Backend Engineer</a></h2>
    <span data-testid="company-name">Globex</span>
    <div data-testid="text-location">Austin, TX</div>
  </div>
  <div class="job_seen_beacon">
    <h2 class="jobTitle"><a class="jcs-JobTitle" data-jk="fed654cba321" href="/rc/clk?jk=fed654cba321&from=serp">Site Reliability Engineer</a></h2>
    <span data-testid="company-name">Initrode</span>
    <div data-testid="text-location">Remote</div>
  </div>
</div>
<a data-testid="pagination-page-next" href="/jobs?q=go&start=10">Next</a>
</body></html>`

func TestExtractJobs_LinkedIn(t *testing.T) {
	result, err := ExtractJobs(linkedinListingHTML, PlatformLinkedIn, "https://www.linkedin.com/jobs/search/?keywords=go", 3)
	require.NoError(t, err)

	require.Len(t, result.Jobs, 2)
	assert.Equal(t, PlatformLinkedIn, result.Platform)
	assert.Equal(t, 3, result.CurrentPage)
	assert.True(t, result.HasNextPage)

	first := result.Jobs[0]
	assert.Equal(t, "4012345678", first.ID)
	assert.Equal(t, "Senior Go Engineer", first.Title)
	assert.Equal(t, "Initech", first.Company)
	assert.Equal(t, "Remote, United States", first.Location)
	assert.Equal(t, "https://www.linkedin.com/jobs/view/4012345678/", first.URL,
		"tracking query params should be stripped")

	assert.Equal(t, "4012345679", result.Jobs[1].ID)
	assert.Equal(t, "Hooli", result.Jobs[1].Company)
}

func TestExtractJobs_Indeed(t *testing.T) {
	result, err := ExtractJobs(indeedListingHTML, PlatformIndeed, "https://www.indeed.com/jobs?q=go", 1)
	require.NoError(t, err)

	require.Len(t, result.Jobs, 2)
	assert.True(t, result.HasNextPage)

	first := result.Jobs[0]
	assert.Equal(t, "abc123def456", first.ID)
	assert.Equal(t, "Backend Engineer", first.Title)
	assert.Equal(t, "Globex", first.Company)
	assert.Equal(t, "Austin, TX", first.Location)
	assert.Equal(t, "https://www.indeed.com/rc/clk?jk=abc123def456&from=serp", first.URL,
		"indeed keys the job on the jk param, so the query must survive")
}

func TestExtractJobs_DeduplicatesRepeatedCards(t *testing.T) {
	html := `<html><body>
	<li data-occludable-job-id="111"><a class="job-card-list__title--link" href="/jobs/view/111/">Engineer</a></li>
	<li data-occludable-job-id="111"><a class="job-card-list__title--link" href="/jobs/view/111/">Engineer</a></li>
	<li data-occludable-job-id="222"><a class="job-card-list__title--link" href="/jobs/view/222/">Other</a></li>
	</body></html>`

	result, err := ExtractJobs(html, PlatformLinkedIn, "https://www.linkedin.com/jobs/search/", 1)
	require.NoError(t, err)

	require.Len(t, result.Jobs, 2)
	assert.Equal(t, "111", result.Jobs[0].ID)
	assert.Equal(t, "222", result.Jobs[1].ID)
}

func TestExtractJobs_DropsCardWithoutIdentity(t *testing.T) {
	html := `<html><body>
	<li data-occludable-job-id=""><div class="job-card-container">promoted placeholder</div></li>
	<li data-occludable-job-id="333"><a class="job-card-list__title--link" href="/jobs/view/333/">Real Job</a></li>
	</body></html>`

	result, err := ExtractJobs(html, PlatformLinkedIn, "https://www.linkedin.com/jobs/search/", 1)
	require.NoError(t, err)

	require.Len(t, result.Jobs, 1)
	assert.Equal(t, "333", result.Jobs[0].ID)
}

func TestExtractJobs_IDFallsBackToURL(t *testing.T) {
	html := `<html><body>
	<li class="jobs-search-results__list-item">
	  <a class="job-card-list__title--link" href="/jobs/view/987654/?refId=x">Fallback Job</a>
	</li>
	</body></html>`

	result, err := ExtractJobs(html, PlatformLinkedIn, "https://www.linkedin.com/jobs/search/", 1)
	require.NoError(t, err)

	require.Len(t, result.Jobs, 1)
	assert.Equal(t, "987654", result.Jobs[0].ID)
}

func TestExtractJobs_EmptyPageStillReportsNextControl(t *testing.T) {
	// Extraction reports both facts independently. Halting pagination on an
	// empty page is the caller's job.
	html := `<html><body>
	<div class="scaffold-layout__list"></div>
	<button class="jobs-search-pagination__button--next">Next</button>
	</body></html>`

	result, err := ExtractJobs(html, PlatformLinkedIn, "https://www.linkedin.com/jobs/search/", 7)
	require.NoError(t, err)

	assert.Empty(t, result.Jobs)
	assert.True(t, result.HasNextPage)
	assert.Equal(t, 7, result.CurrentPage)
}

func TestExtractJobs_DisabledNextControl(t *testing.T) {
	html := `<html><body>
	<li data-occludable-job-id="444"><a class="job-card-list__title--link" href="/jobs/view/444/">Last Page Job</a></li>
	<button class="jobs-search-pagination__button--next" disabled>Next</button>
	</body></html>`

	result, err := ExtractJobs(html, PlatformLinkedIn, "https://www.linkedin.com/jobs/search/", 40)
	require.NoError(t, err)

	require.Len(t, result.Jobs, 1)
	assert.False(t, result.HasNextPage)
}

func TestExtractJobs_CollapsesWhitespaceInFields(t *testing.T) {
	html := `<html><body>
	<li data-occludable-job-id="555">
	  <a class="job-card-list__title--link" href="/jobs/view/555/">
	    Staff
	    Engineer
	  </a>
	  <div class="artdeco-entity-lockup__subtitle">  Umbrella   Corp  </div>
	</li>
	</body></html>`

	result, err := ExtractJobs(html, PlatformLinkedIn, "https://www.linkedin.com/jobs/search/", 1)
	require.NoError(t, err)

	require.Len(t, result.Jobs, 1)
	assert.Equal(t, "Staff Engineer", result.Jobs[0].Title)
	assert.Equal(t, "Umbrella Corp", result.Jobs[0].Company)
}

func TestDetectPlatform(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want Platform
	}{
		{name: "linkedin jobs search", url: "https://www.linkedin.com/jobs/search/?keywords=go", want: PlatformLinkedIn},
		{name: "indeed search", url: "https://www.indeed.com/jobs?q=go", want: PlatformIndeed},
		{name: "indeed country domain", url: "https://uk.indeed.com/jobs?q=go", want: PlatformIndeed},
		{name: "external ats", url: "https://boards.greenhouse.io/initech/jobs/123", want: PlatformUnknown},
		{name: "garbage", url: "://not-a-url", want: PlatformUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectPlatform(tt.url))
		})
	}
}

func TestParsePlatform(t *testing.T) {
	assert.Equal(t, PlatformLinkedIn, ParsePlatform(" LinkedIn "))
	assert.Equal(t, PlatformIndeed, ParsePlatform("indeed"))
	assert.Equal(t, PlatformUnknown, ParsePlatform("monster"))
}

func TestJobIDFromURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{name: "jk param", url: "https://www.indeed.com/viewjob?jk=deadbeef01", want: "deadbeef01"},
		{name: "path segment", url: "https://www.linkedin.com/jobs/view/4012345678/", want: "4012345678"},
		{name: "empty", url: "", want: ""},
		{name: "bare host", url: "https://example.com", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, jobIDFromURL(tt.url))
		})
	}
}

func TestSelectorLists_CoverKnownPlatforms(t *testing.T) {
	for _, platform := range KnownPlatforms() {
		assert.NotEmpty(t, CardSelectors(platform), "card selectors for %s", platform)
		assert.NotEmpty(t, ApplySelectors(platform), "apply selectors for %s", platform)
		assert.NotEmpty(t, InlineModalSelectors(platform), "modal selectors for %s", platform)
		assert.NotEmpty(t, SignedInSelectors(platform), "signed-in selectors for %s", platform)
		assert.NotEmpty(t, SignedOutSelectors(platform), "signed-out selectors for %s", platform)
	}
}

func TestExtractJobs_UsesFallbackCardSelector(t *testing.T) {
	// Primary selectors miss; the legacy class-based one should still hit.
	html := strings.ReplaceAll(linkedinListingHTML, "data-occludable-job-id", "data-legacy-id")
	html = strings.ReplaceAll(html, "<li data-legacy-id=\"4012345678\">", "<li class=\"jobs-search-results__list-item\">")
	html = strings.ReplaceAll(html, "<li data-legacy-id=\"4012345679\">", "<li class=\"jobs-search-results__list-item\">")

	result, err := ExtractJobs(html, PlatformLinkedIn, "https://www.linkedin.com/jobs/search/", 1)
	require.NoError(t, err)

	require.Len(t, result.Jobs, 2)
	assert.Equal(t, "4012345678", result.Jobs[0].ID, "id derives from the view URL when the attr is gone")
}
