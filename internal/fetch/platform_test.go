package fetch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectVendor(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want Vendor
	}{
		{"greenhouse board", "https://boards.greenhouse.io/acme/jobs/4001", VendorGreenhouse},
		{"greenhouse embed", "https://job-boards.greenhouse.io/acme", VendorGreenhouse},
		{"lever posting", "https://jobs.lever.co/acme/7b1e", VendorLever},
		{"workday", "https://acme.wd5.myworkdayjobs.com/en-US/careers", VendorWorkday},
		{"workday root", "https://www.workday.com/careers", VendorWorkday},
		{"ashby", "https://jobs.ashbyhq.com/acme/123", VendorAshby},
		{"company site", "https://careers.acme.example/apply", VendorUnknown},
		{"garbage", "://not a url", VendorUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectVendor(tt.url))
		})
	}
}
