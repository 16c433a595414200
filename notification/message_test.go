package notification

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"signflow/outbox"
)

func TestSubject_CoversEveryKind(t *testing.T) {
	kinds := []outbox.Kind{
		outbox.KindSigningRequest,
		outbox.KindContractCompleted,
		outbox.KindContractCancelled,
		outbox.KindContractExpired,
		outbox.KindExpirationWarning,
		outbox.KindAccountLocked,
	}

	seen := make(map[string]bool)
	for _, kind := range kinds {
		subject := Subject(kind, "Signflow")
		assert.Contains(t, subject, "[Signflow]", "kind %s", kind)
		assert.False(t, seen[subject], "duplicate subject for kind %s", kind)
		seen[subject] = true
	}
}

func TestSubject_UnknownKindFallsBackToAppName(t *testing.T) {
	assert.Equal(t, "Signflow", Subject(outbox.Kind("MYSTERY"), "Signflow"))
}

func TestBody_RendersTitleAndLink(t *testing.T) {
	entry := &outbox.Entry{
		RecipientName: "Bob Second",
		Variables: map[string]any{
			"contractTitle": "Consulting Agreement",
			"contractUrl":   "https://sign.example.com/sign/tok",
			"companyName":   "Signflow",
		},
	}

	body := Body(entry)

	assert.Contains(t, body, "Hello Bob Second")
	assert.Contains(t, body, "<strong>Consulting Agreement</strong>")
	assert.Contains(t, body, `href="https://sign.example.com/sign/tok"`)
	assert.Contains(t, body, "<li>companyName: Signflow</li>")
}

func TestBody_EscapesVariables(t *testing.T) {
	entry := &outbox.Entry{
		RecipientName: `<script>alert("x")</script>`,
		Variables: map[string]any{
			"contractTitle": "<b>sneaky</b>",
		},
	}

	body := Body(entry)

	assert.NotContains(t, body, "<script>")
	assert.NotContains(t, body, "<b>sneaky</b>")
	assert.Contains(t, body, "&lt;b&gt;sneaky&lt;/b&gt;")
}

func TestBody_NoVariables(t *testing.T) {
	entry := &outbox.Entry{RecipientName: "Alice", Variables: map[string]any{}}

	body := Body(entry)

	assert.Contains(t, body, "Hello Alice")
	assert.NotContains(t, body, "<ul>")
}
