package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		message string
		want    ErrorClass
	}{
		{"read tcp: connection timeout", ErrClassNetwork},
		{"dial tcp: connection refused", ErrClassNetwork},
		{"HTTP 403 Forbidden", ErrClassDenied},
		{"401 unauthorized", ErrClassDenied},
		{"HTTP 404 Not Found", ErrClassNotFound},
		{"502 bad gateway", ErrClassServer},
		{"captcha challenge presented", ErrClassCaptcha},
		{"please complete the verification", ErrClassCaptcha},
		{"failed to parse document", ErrClassParsing},
		{"selector matched nothing", ErrClassParsing},
		{"something inexplicable", ErrClassUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ClassifyError(tc.message), tc.message)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	t.Parallel()

	orig := CrawlTask{
		URL:      "https://example.org/a",
		Priority: 60,
		Metadata: map[string]string{"title": "original"},
	}
	cp := orig.Clone()
	cp.Metadata["title"] = "changed"
	cp.Priority = 10

	assert.Equal(t, "original", orig.Metadata["title"])
	assert.Equal(t, 60.0, orig.Priority)
}

func TestProtectionRank(t *testing.T) {
	t.Parallel()
	assert.Greater(t, ProtectionHigh.Rank(), ProtectionMedium.Rank())
	assert.Greater(t, ProtectionMedium.Rank(), ProtectionLow.Rank())
}
