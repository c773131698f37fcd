package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractURLs(t *testing.T) {
	text := `Click https://evil.example/login now.
Also see http://other.example/path?q=1, or https://evil.example/login again.`

	urls := ExtractURLs(text)
	assert.Equal(t, []string{
		"https://evil.example/login",
		"http://other.example/path?q=1",
	}, urls)
}

func TestExtractURLsTrimsTrailingPunctuation(t *testing.T) {
	urls := ExtractURLs("Visit https://example.com/a. Then https://example.com/b;")
	assert.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, urls)
}

func TestExtractURLsEmpty(t *testing.T) {
	assert.Empty(t, ExtractURLs("no links here"))
}

func TestExtractDomains(t *testing.T) {
	urls := []string{
		"https://Evil.Example/login",
		"https://evil.example/other",
		"http://203.0.113.9/x",
		"https://second.example",
	}
	assert.Equal(t, []string{"evil.example", "second.example"}, ExtractDomains(urls))
}

func TestExtractIPs(t *testing.T) {
	urls := []string{
		"http://203.0.113.9/x",
		"https://example.com/y",
		"http://203.0.113.9:8080/z",
	}
	assert.Equal(t, []string{"203.0.113.9"}, ExtractIPs(urls))
}

func TestSenderDomain(t *testing.T) {
	assert.Equal(t, "example.com", SenderDomain("alice@example.com"))
	assert.Equal(t, "example.com", SenderDomain("alice@EXAMPLE.COM"))
	assert.Equal(t, "", SenderDomain("not-an-address"))
	assert.Equal(t, "", SenderDomain("trailing@"))
}
