package audit

import (
	"fmt"
	"strings"
)

const (
	syslogAppName = "privd"
	syslogSDID    = "privd"

	// rfc5424Timestamp renders fixed 3-digit milliseconds in UTC.
	rfc5424Timestamp = "2006-01-02T15:04:05.000Z"
)

// formatRFC5424 serializes a record to RFC 5424 wire format, newline
// terminated for TCP transport (RFC 6587 non-transparent framing).
//
// When maxSize > 0 the message is shrunk to fit by truncating the detail
// text first. The event type, user, and timestamp always survive: if the
// envelope alone exceeds maxSize the envelope is sent as-is rather than
// mangled.
func formatRFC5424(facility, severity int, hostname string, maxSize int, rec Record) []byte {
	msg := buildRFC5424(facility, severity, hostname, rec, rec.Detail)

	if maxSize > 0 && len(msg) > maxSize {
		overrun := len(msg) - maxSize
		detail := rec.Detail
		if overrun < len(detail) {
			detail = detail[:len(detail)-overrun]
		} else {
			detail = ""
		}
		msg = buildRFC5424(facility, severity, hostname, rec, detail)
	}

	return append(msg, '\n')
}

func buildRFC5424(facility, severity int, hostname string, rec Record, detail string) []byte {
	var b strings.Builder
	b.Grow(256 + len(detail))

	fmt.Fprintf(&b, "<%d>1 ", facility*8+severity)
	b.WriteString(rec.Timestamp.UTC().Format(rfc5424Timestamp))

	writeSyslogField(&b, hostname, 255)
	writeSyslogField(&b, syslogAppName, 48)
	writeSyslogField(&b, "", 128) // PROCID
	writeSyslogField(&b, string(rec.EventType), 32)

	// STRUCTURED-DATA
	b.WriteString(" [")
	b.WriteString(syslogSDID)
	writeSDParam(&b, "user", rec.User)
	writeSDParam(&b, "record_id", rec.ID)
	if rec.Reason != "" {
		writeSDParam(&b, "reason", rec.Reason)
	}
	b.WriteByte(']')

	if detail != "" {
		b.WriteByte(' ')
		b.WriteString(detail)
	}

	return []byte(b.String())
}

// writeSyslogField writes a space then the field, "-" if empty, truncated
// to the RFC's per-field limit.
func writeSyslogField(b *strings.Builder, val string, maxLen int) {
	b.WriteByte(' ')
	if val == "" {
		b.WriteByte('-')
		return
	}
	if len(val) > maxLen {
		val = val[:maxLen]
	}
	b.WriteString(val)
}

// writeSDParam writes one structured-data parameter, escaping ", \ and ]
// per RFC 5424 section 6.3.3.
func writeSDParam(b *strings.Builder, name, val string) {
	b.WriteByte(' ')
	b.WriteString(name)
	b.WriteString(`="`)
	for i := 0; i < len(val); i++ {
		switch val[i] {
		case '"', '\\', ']':
			b.WriteByte('\\')
		}
		b.WriteByte(val[i])
	}
	b.WriteByte('"')
}
