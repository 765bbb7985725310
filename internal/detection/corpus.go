package detection

import (
	"fmt"
	"strings"

	"github.com/syn2much/mantis/internal/model"
)

// httpCorpus concatenates the fields spec'd for http_threat scanning:
// path, body, user-agent, query, and header values.
func httpCorpus(payload model.JSON) string {
	var b strings.Builder
	writeString(&b, payload["path"])
	writeString(&b, payload["body"])
	writeString(&b, payload["ua"])
	writeAny(&b, payload["query"])
	writeAny(&b, payload["headers"])
	return b.String()
}

// payloadCorpus flattens every text-bearing field of a command, query,
// request, or file_transfer event's payload for payload_ioc scanning.
func payloadCorpus(ev *model.Event) string {
	var b strings.Builder
	for _, key := range []string{"command", "query", "path", "body", "filename", "username", "password", "ua"} {
		writeString(&b, ev.Payload[key])
	}
	writeAny(&b, ev.Payload["headers"])
	return b.String()
}

func writeString(b *strings.Builder, v any) {
	if s, ok := v.(string); ok && s != "" {
		b.WriteString(s)
		b.WriteString(" ")
	}
}

func writeAny(b *strings.Builder, v any) {
	switch val := v.(type) {
	case string:
		writeString(b, val)
	case map[string]any:
		for _, inner := range val {
			writeAny(b, inner)
		}
	case []any:
		for _, inner := range val {
			writeAny(b, inner)
		}
	case nil:
	default:
		fmt.Fprintf(b, "%v ", val)
	}
}
