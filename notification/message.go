package notification

import (
	"fmt"
	"html"
	"sort"
	"strings"

	"signflow/outbox"
)

// Subject returns the mail subject line for a notification kind.
func Subject(kind outbox.Kind, appName string) string {
	switch kind {
	case outbox.KindSigningRequest:
		return fmt.Sprintf("[%s] Signature requested", appName)
	case outbox.KindContractCompleted:
		return fmt.Sprintf("[%s] Contract completed", appName)
	case outbox.KindContractCancelled:
		return fmt.Sprintf("[%s] Contract cancelled", appName)
	case outbox.KindContractExpired:
		return fmt.Sprintf("[%s] Contract expired", appName)
	case outbox.KindExpirationWarning:
		return fmt.Sprintf("[%s] Contract expiring soon", appName)
	case outbox.KindAccountLocked:
		return fmt.Sprintf("[%s] Account locked", appName)
	}
	return appName
}

// Body renders a minimal HTML body from the entry variables. Rich template
// rendering lives outside this service; the outbox only needs something
// deliverable for every kind.
func Body(entry *outbox.Entry) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	fmt.Fprintf(&b, "<p>Hello %s,</p>", html.EscapeString(entry.RecipientName))

	if title, ok := entry.Variables["contractTitle"].(string); ok {
		fmt.Fprintf(&b, "<p><strong>%s</strong></p>", html.EscapeString(title))
	}
	if url, ok := entry.Variables["contractUrl"].(string); ok {
		fmt.Fprintf(&b, `<p><a href="%s">Open the contract</a></p>`, html.EscapeString(url))
	}

	keys := make([]string, 0, len(entry.Variables))
	for k := range entry.Variables {
		if k == "contractTitle" || k == "contractUrl" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if len(keys) > 0 {
		b.WriteString("<ul>")
		for _, k := range keys {
			fmt.Fprintf(&b, "<li>%s: %s</li>", html.EscapeString(k), html.EscapeString(fmt.Sprint(entry.Variables[k])))
		}
		b.WriteString("</ul>")
	}

	b.WriteString("</body></html>")
	return b.String()
}
