package fetch

import (
	"net/url"
	"strings"
)

// Vendor identifies the ATS family hosting a page, inferred from its URL.
// Distinct from scrape.Platform, which names the job board a listing came
// from; a LinkedIn job routinely hands off to a Greenhouse form.
type Vendor string

const (
	// VendorGreenhouse is the Greenhouse ATS
	VendorGreenhouse Vendor = "greenhouse"
	// VendorLever is the Lever ATS
	VendorLever Vendor = "lever"
	// VendorWorkday is the Workday ATS
	VendorWorkday Vendor = "workday"
	// VendorAshby is the Ashby ATS
	VendorAshby Vendor = "ashby"
	// VendorUnknown is an unrecognized host
	VendorUnknown Vendor = "unknown"
)

// DetectVendor identifies the ATS vendor from a URL host.
func DetectVendor(urlStr string) Vendor {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return VendorUnknown
	}

	host := strings.ToLower(parsed.Host)

	if strings.Contains(host, "greenhouse.io") {
		return VendorGreenhouse
	}
	if strings.Contains(host, "lever.co") {
		return VendorLever
	}
	if strings.Contains(host, "workday.com") ||
		strings.Contains(host, "myworkdayjobs.com") {
		return VendorWorkday
	}
	if strings.Contains(host, "ashbyhq.com") {
		return VendorAshby
	}

	return VendorUnknown
}
