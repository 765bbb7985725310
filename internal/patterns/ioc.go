package patterns

import (
	"net"
	"regexp"
	"sort"
	"strings"
)

const iocCap = 20

var (
	urlRe    = regexp.MustCompile(`(?i)\bhttps?://[^\s'"<>]+`)
	ipRe     = regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`)
	md5Re    = regexp.MustCompile(`\b[a-fA-F0-9]{32}\b`)
	sha1Re   = regexp.MustCompile(`\b[a-fA-F0-9]{40}\b`)
	sha256Re = regexp.MustCompile(`\b[a-fA-F0-9]{64}\b`)
	emailRe  = regexp.MustCompile(`(?i)\b[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}\b`)

	domainTLDs = []string{
		"com", "net", "org", "io", "ru", "cn", "tk", "top", "xyz", "cc",
		"onion", "info", "biz", "pw", "su", "to", "sh", "me",
	}
	domainRe = regexp.MustCompile(`(?i)\b[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)+\b`)
)

// IOCs is the extracted-indicator bundle built from a scanned corpus.
type IOCs struct {
	URLs    []string `json:"urls,omitempty"`
	IPs     []string `json:"ips,omitempty"`
	Domains []string `json:"domains,omitempty"`
	MD5     []string `json:"md5,omitempty"`
	SHA1    []string `json:"sha1,omitempty"`
	SHA256  []string `json:"sha256,omitempty"`
	Emails  []string `json:"emails,omitempty"`
}

// Any reports whether any extracted list is non-empty.
func (i IOCs) Any() bool {
	return len(i.URLs) > 0 || len(i.IPs) > 0 || len(i.Domains) > 0 ||
		len(i.MD5) > 0 || len(i.SHA1) > 0 || len(i.SHA256) > 0 || len(i.Emails) > 0
}

// Significant reports whether any of the "significant" categories per
// the payload_ioc rule (url, hash, domain, email) were found.
func (i IOCs) Significant() bool {
	return len(i.URLs) > 0 || len(i.Domains) > 0 || len(i.Emails) > 0 ||
		len(i.MD5) > 0 || len(i.SHA1) > 0 || len(i.SHA256) > 0
}

// ExtractIOCs scans corpus for URLs, non-private IPs, known-TLD
// domains, MD5/SHA1/SHA256 hashes, and emails, each capped at iocCap.
func ExtractIOCs(corpus string) IOCs {
	hashes := dedupCap(sha256Re.FindAllString(corpus, -1), iocCap)
	sha1s := dedupCap(excludeSubstrings(sha1Re.FindAllString(corpus, -1), hashes), iocCap)
	md5s := dedupCap(md5Re.FindAllString(corpus, -1), iocCap)

	var ips []string
	for _, ip := range ipRe.FindAllString(corpus, -1) {
		if parsed := net.ParseIP(ip); parsed != nil && !isPrivateIOC(parsed) {
			ips = append(ips, ip)
		}
	}

	var domains []string
	for _, d := range domainRe.FindAllString(corpus, -1) {
		if hasKnownTLD(d) {
			domains = append(domains, d)
		}
	}

	return IOCs{
		URLs:    dedupCap(urlRe.FindAllString(corpus, -1), iocCap),
		IPs:     dedupCap(ips, iocCap),
		Domains: dedupCap(domains, iocCap),
		MD5:     md5s,
		SHA1:    sha1s,
		SHA256:  hashes,
		Emails:  dedupCap(emailRe.FindAllString(corpus, -1), iocCap),
	}
}

func hasKnownTLD(domain string) bool {
	idx := -1
	for i := len(domain) - 1; i >= 0; i-- {
		if domain[i] == '.' {
			idx = i
			break
		}
	}
	if idx < 0 || idx == len(domain)-1 {
		return false
	}
	tld := domain[idx+1:]
	for _, known := range domainTLDs {
		if strings.EqualFold(tld, known) {
			return true
		}
	}
	return false
}

func isPrivateIOC(ip net.IP) bool {
	return ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast()
}

func dedupCap(items []string, limit int) []string {
	seen := make(map[string]struct{}, len(items))
	var out []string
	for _, item := range items {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
		if len(out) >= limit {
			break
		}
	}
	sort.Strings(out)
	return out
}

// excludeSubstrings drops any sha1 candidate that is itself a substring
// match already captured as a longer sha256 (40-char hex can otherwise
// double-count inside a 64-char hex run).
func excludeSubstrings(candidates, longer []string) []string {
	if len(longer) == 0 {
		return candidates
	}
	var out []string
	for _, c := range candidates {
		contained := false
		for _, l := range longer {
			if strings.Contains(l, c) {
				contained = true
				break
			}
		}
		if !contained {
			out = append(out, c)
		}
	}
	return out
}
