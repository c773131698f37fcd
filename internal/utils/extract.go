package utils

import (
	"net"
	"net/url"
	"regexp"
	"strings"
)

var urlPattern = regexp.MustCompile(`https?://[^\s<>"')\]]+`)

// ExtractURLs returns the deduplicated URLs found in text, in order of
// first appearance
func ExtractURLs(text string) []string {
	matches := urlPattern.FindAllString(text, -1)
	seen := make(map[string]bool, len(matches))
	var urls []string
	for _, m := range matches {
		m = strings.TrimRight(m, ".,;:")
		if seen[m] {
			continue
		}
		seen[m] = true
		urls = append(urls, m)
	}
	return urls
}

// ExtractDomains returns the deduplicated lowercase hostnames of the given
// URLs, excluding raw IP hosts
func ExtractDomains(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	var domains []string
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil || u.Hostname() == "" {
			continue
		}
		host := strings.ToLower(u.Hostname())
		if net.ParseIP(host) != nil {
			continue
		}
		if seen[host] {
			continue
		}
		seen[host] = true
		domains = append(domains, host)
	}
	return domains
}

// ExtractIPs returns the deduplicated IP addresses appearing as URL hosts
func ExtractIPs(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	var ips []string
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		host := u.Hostname()
		if net.ParseIP(host) == nil {
			continue
		}
		if seen[host] {
			continue
		}
		seen[host] = true
		ips = append(ips, host)
	}
	return ips
}

// SenderDomain extracts the lowercase domain of an email address, or ""
// when the address has no domain part
func SenderDomain(address string) string {
	at := strings.LastIndex(address, "@")
	if at < 0 || at == len(address)-1 {
		return ""
	}
	domain := strings.ToLower(address[at+1:])
	return strings.Trim(domain, "<> ")
}
