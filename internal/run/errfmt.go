package run

import (
	"encoding/json"
	"regexp"
	"strings"
)

// UnknownErrorText stands in when an error path carries no message at all.
const UnknownErrorText = "请求失败，未知错误"

const (
	httpBodyLimit = 200
	rawErrorLimit = 300
)

// Upstream HTTP failures arrive as "<status> <body>" or "HTTP <status> <body>",
// body possibly spanning lines.
var httpErrorPattern = regexp.MustCompile(`(?is)^(?:http\s*)?(\d{3})\s+(.+)$`)

type upstreamErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// upstreamError accepts both the wrapped form {"error":{...}} and bodies that
// put type/message at the top level.
type upstreamError struct {
	Error        *upstreamErrorDetail `json:"error"`
	Type         string               `json:"type"`
	Message      string               `json:"message"`
	RequestID    string               `json:"request_id"`
	RequestIDAlt string               `json:"requestId"`
}

// FormatErrorForUI renders a raw upstream error string into the short form
// shown in a reply slot. HTTP errors with a JSON body become
// "HTTP <status> <type>: <message> (request_id: <id>)"; a body with no usable
// message falls back to "HTTP <status>: <body>" truncated; non-HTTP raw text
// is truncated as-is.
func FormatErrorForUI(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return UnknownErrorText
	}

	m := httpErrorPattern.FindStringSubmatch(raw)
	if m == nil {
		return truncateRunes(raw, rawErrorLimit)
	}
	status, body := m[1], strings.TrimSpace(m[2])
	if !strings.HasPrefix(body, "{") {
		return "HTTP " + status + ": " + body
	}

	var parsed upstreamError
	if err := json.Unmarshal([]byte(body), &parsed); err == nil {
		typ, msg := parsed.Type, parsed.Message
		if parsed.Error != nil {
			if parsed.Error.Type != "" {
				typ = parsed.Error.Type
			}
			if parsed.Error.Message != "" {
				msg = parsed.Error.Message
			}
		}
		reqID := parsed.RequestID
		if reqID == "" {
			reqID = parsed.RequestIDAlt
		}
		if msg != "" {
			var b strings.Builder
			b.WriteString("HTTP ")
			b.WriteString(status)
			if typ != "" {
				b.WriteString(" ")
				b.WriteString(typ)
			}
			b.WriteString(": ")
			b.WriteString(msg)
			if reqID != "" {
				b.WriteString(" (request_id: ")
				b.WriteString(reqID)
				b.WriteString(")")
			}
			return b.String()
		}
	}
	return "HTTP " + status + ": " + truncateRunes(body, httpBodyLimit)
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}
