// Package patterns holds the compiled regex libraries the detection
// engine scans captured payloads against, plus the IOC extractors fed
// by the payload_ioc rule. Modeled on the teacher's pkg/masking
// pattern-table shape: a slice of named, pre-compiled regexes scanned
// in order, with a severity attached to each match.
package patterns

import (
	"regexp"

	"github.com/syn2much/mantis/internal/model"
)

// Match is one pattern hit against a scanned corpus.
type Match struct {
	Name     string
	Severity model.Severity
}

// Rule pairs a name and severity with its compiled matcher.
type Rule struct {
	Name     string
	Severity model.Severity
	re       *regexp.Regexp
}

func rule(name string, severity model.Severity, expr string) Rule {
	return Rule{Name: name, Severity: severity, re: regexp.MustCompile(expr)}
}

// HTTPThreats is the HTTP-specific threat library scanned by the
// http_threat rule against the concatenated path+body+user-agent+query+
// header-values corpus.
var HTTPThreats = []Rule{
	rule("log4shell", model.SeverityCritical, `(?i)\$\{jndi:`),
	rule("spring4shell", model.SeverityCritical, `(?i)class\.module\.classLoader|ClassLoader.*getURLs`),
	rule("shellshock", model.SeverityCritical, `\(\)\s*\{.*;\s*\}`),
	rule("php_rce", model.SeverityHigh, `(?i)\b(eval|assert|system|exec|passthru|shell_exec|popen|proc_open)\s*\(`),
	rule("command_injection", model.SeverityHigh, `[;|&` + "`" + `]\s*(cat|ls|id|whoami|uname|wget|curl|nc|bash|sh|python|perl|ruby)\b`),
	rule("sql_injection", model.SeverityHigh, `(?i)'\s*(OR|AND|UNION)\b|--\s*$|;\s*(DROP|DELETE|INSERT|UPDATE|SELECT)\b`),
	rule("path_traversal", model.SeverityMedium, `(\.\./){2,}|(?i)/etc/(passwd|shadow|hosts)`),
	rule("xss", model.SeverityMedium, `(?i)<script>|javascript:|on(error|load|mouseover)=`),
	rule("cve_path_probe", model.SeverityMedium, `(?i)/\.env|/wp-admin|/actuator|/\.git/|/phpmyadmin|/server-status|/solr/|/struts|/cgi-bin/`),
	rule("webshell_probe", model.SeverityHigh, `(?i)\b(c99|r57|wso|b374k|alfa|webshell)\b|cmd\.php|shell\.php`),
}

// PayloadIOCs is the cross-service payload library scanned by the
// payload_ioc rule against command/request/query/file_transfer text.
var PayloadIOCs = []Rule{
	rule("wget_download", model.SeverityCritical, `(?i)wget\s+https?://`),
	rule("curl_download", model.SeverityCritical, `(?i)curl\s+[^|]*https?://`),
	rule("curl_pipe_sh", model.SeverityCritical, `(?i)curl\s.*\|\s*(ba)?sh`),
	rule("tftp_get", model.SeverityCritical, `(?i)tftp\s+.*get`),
	rule("reverse_shell", model.SeverityCritical, `(?i)bash\s+-i\s*>&\s*/dev/tcp/|nc\s+-[elp]+\s.*\s/bin/(ba)?sh|python[23]?\s+-c\s.*socket.*connect|perl\s+-e\s.*socket.*INET|ruby\s+-[re]\s.*TCPSocket|php\s+-r\s.*fsockopen|mkfifo\s.*nc\s|socat\s.*exec.*\b(sh|bash)\b|/dev/tcp/[0-9.]+/[0-9]+`),
	rule("persistence", model.SeverityHigh, `(?i)crontab|/etc/rc\.local|/etc/systemd/|authorized_keys`),
	rule("miner", model.SeverityCritical, `(?i)xmrig|stratum\+tcp://|\b4[0-9AB][1-9A-HJ-NP-Za-km-z]{93}\b`),
	rule("privilege_escalation", model.SeverityHigh, `(?i)chmod\s+[ug]?\+?s|iptables\s+-F|/etc/(passwd|shadow)`),
	rule("encoded_payload", model.SeverityMedium, `(\\x[0-9a-fA-F]{2}){8,}|[0-9a-fA-F]{64,}|(?i)base64\s+-d\s*\|\s*(ba)?sh|echo\s+\S+\s*\|\s*base64\s+-d`),
	rule("tmp_execution", model.SeverityMedium, `(?i)(/tmp|/dev/shm|/var/tmp)/\S+`),
}

// ScanHTTPThreats returns every HTTPThreats rule that matches corpus.
func ScanHTTPThreats(corpus string) []Match {
	return scan(HTTPThreats, corpus)
}

// ScanPayloadIOCs returns every PayloadIOCs rule that matches corpus.
func ScanPayloadIOCs(corpus string) []Match {
	return scan(PayloadIOCs, corpus)
}

func scan(rules []Rule, corpus string) []Match {
	var out []Match
	for _, r := range rules {
		if r.re.MatchString(corpus) {
			out = append(out, Match{Name: r.Name, Severity: r.Severity})
		}
	}
	return out
}

// WorstSeverity returns the most severe match, or "" if matches is empty.
func WorstSeverity(matches []Match) model.Severity {
	var worst model.Severity
	for i, m := range matches {
		if i == 0 {
			worst = m.Severity
			continue
		}
		worst = model.Worse(worst, m.Severity)
	}
	return worst
}
