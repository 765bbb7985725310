package httpd

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/syn2much/mantis/internal/model"
)

func TestIsNoiseAssetMatchesKnownAndSuffixedPaths(t *testing.T) {
	assert.True(t, isNoiseAsset("/favicon.ico"))
	assert.True(t, isNoiseAsset("/robots.txt"))
	assert.True(t, isNoiseAsset("/static/logo.png"))
	assert.False(t, isNoiseAsset("/login"))
}

func TestHttpCorpusJoinsStringFieldsOnly(t *testing.T) {
	corpus := httpCorpus(model.JSON{
		"path": "/admin' OR 1=1--",
		"body": "rockyou",
		"ua":   "curl/8.0",
		"query": map[string][]string{"x": {"y"}},
	})
	assert.Contains(t, corpus, "/admin' OR 1=1--")
	assert.Contains(t, corpus, "rockyou")
	assert.Contains(t, corpus, "curl/8.0")
}

func TestHeadersToJSONJoinsMultiValueHeaders(t *testing.T) {
	h := map[string][]string{"X-Forwarded-For": {"1.1.1.1", "2.2.2.2"}}
	out := headersToJSON(h)
	assert.Equal(t, "1.1.1.1, 2.2.2.2", out["X-Forwarded-For"])
}
