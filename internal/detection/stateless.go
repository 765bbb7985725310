package detection

import (
	"fmt"
	"time"

	"github.com/syn2much/mantis/internal/model"
	"github.com/syn2much/mantis/internal/patterns"
)

// statelessFn is a pure function of a single event; it returns a new,
// unsaved Alert when the rule fires, or nil.
type statelessFn func(ev *model.Event) *model.Alert

var statelessRules = []statelessFn{
	sshShellAccess,
	payloadCaptured,
	ntlmHashCaptured,
	mysqlQuery,
	httpThreat,
	payloadIOC,
}

func newAlert(ev *model.Event, rule string, severity model.Severity, message string, data model.JSON) *model.Alert {
	return &model.Alert{
		Rule:      rule,
		Severity:  severity,
		SrcIP:     ev.SrcIP,
		Service:   ev.Service,
		Message:   message,
		EventIDs:  []int64{ev.ID},
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

func sshShellAccess(ev *model.Event) *model.Alert {
	if ev.Service != "ssh" || ev.Kind != model.EventCommand {
		return nil
	}
	cmd, _ := ev.Payload["command"].(string)
	return newAlert(ev, "ssh_shell_access", model.SeverityCritical,
		fmt.Sprintf("shell command executed on ssh honeypot: %s", cmd), nil)
}

func payloadCaptured(ev *model.Event) *model.Alert {
	if ev.Kind != model.EventFileTransfer {
		return nil
	}
	return newAlert(ev, "payload_captured", model.SeverityCritical,
		fmt.Sprintf("file transfer captured on %s", ev.Service), nil)
}

func ntlmHashCaptured(ev *model.Event) *model.Alert {
	if ev.Service != "smb" || ev.Kind != model.EventNTLMAuth {
		return nil
	}
	return newAlert(ev, "ntlm_hash_captured", model.SeverityHigh,
		"NTLM credential material captured on smb honeypot", nil)
}

func mysqlQuery(ev *model.Event) *model.Alert {
	if ev.Service != "mysql" || ev.Kind != model.EventQuery {
		return nil
	}
	q, _ := ev.Payload["query"].(string)
	return newAlert(ev, "mysql_query", model.SeverityHigh,
		fmt.Sprintf("query executed on mysql honeypot: %s", q), nil)
}

func httpThreat(ev *model.Event) *model.Alert {
	if ev.Service != "http" || ev.Kind != model.EventRequest {
		return nil
	}
	matches := patterns.ScanHTTPThreats(httpCorpus(ev.Payload))
	if len(matches) == 0 {
		return nil
	}
	return newAlert(ev, "http_threat", patterns.WorstSeverity(matches),
		"HTTP threat pattern matched", model.JSON{"threats": matchesToJSON(matches)})
}

func payloadIOC(ev *model.Event) *model.Alert {
	switch ev.Kind {
	case model.EventCommand, model.EventRequest, model.EventQuery, model.EventFileTransfer:
	default:
		return nil
	}

	corpus := payloadCorpus(ev)
	matches := patterns.ScanPayloadIOCs(corpus)
	iocs := patterns.ExtractIOCs(corpus)

	if len(matches) == 0 && !iocs.Significant() {
		return nil
	}

	severity := patterns.WorstSeverity(matches)
	if severity == "" {
		severity = model.SeverityMedium
	}
	data := model.JSON{"threats": matchesToJSON(matches), "iocs": iocs}
	return newAlert(ev, "payload_ioc", severity, "payload IOC/pattern match", data)
}

func matchesToJSON(matches []patterns.Match) []model.JSON {
	out := make([]model.JSON, 0, len(matches))
	for _, m := range matches {
		out = append(out, model.JSON{"name": m.Name, "severity": string(m.Severity)})
	}
	return out
}
