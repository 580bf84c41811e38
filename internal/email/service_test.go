package email

import (
	"strings"
	"testing"
)

func TestIsConfigured(t *testing.T) {
	cases := []struct {
		name   string
		config Config
		want   bool
	}{
		{"empty", Config{}, false},
		{"missing from", Config{Host: "smtp.example.com", Port: "587"}, false},
		{"missing host", Config{Port: "587", From: "noreply@example.com"}, false},
		{"complete", Config{Host: "smtp.example.com", Port: "587", From: "noreply@example.com"}, true},
	}
	for _, tc := range cases {
		service := NewService(tc.config)
		if got := service.IsConfigured(); got != tc.want {
			t.Errorf("%s: IsConfigured() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestSendFailsWhenNotConfigured(t *testing.T) {
	service := NewService(Config{})
	if err := service.SendHTMLEmail([]string{"a@b.com"}, "subject", "<p>body</p>"); err == nil {
		t.Error("expected error when SMTP is not configured")
	}
}

func TestVerificationTemplateRenders(t *testing.T) {
	html, err := renderTemplate(verificationEmailTemplate, verificationData{
		AppName:         "Scribe",
		UserName:        "Alice",
		VerificationURL: "https://scribe.example.com/verify?token=abc",
	})
	if err != nil {
		t.Fatalf("renderTemplate: %v", err)
	}
	for _, want := range []string{"Alice", "https://scribe.example.com/verify?token=abc", "24 hours"} {
		if !strings.Contains(html, want) {
			t.Errorf("verification email missing %q", want)
		}
	}
}

func TestMentionTemplateRenders(t *testing.T) {
	html, err := renderTemplate(mentionEmailTemplate, mentionData{
		AppName:       "Scribe",
		UserName:      "Bob",
		MentionedBy:   "Alice",
		DocumentTitle: "Launch Plan",
		DocumentURL:   "https://scribe.example.com/documents/doc_1",
	})
	if err != nil {
		t.Fatalf("renderTemplate: %v", err)
	}
	for _, want := range []string{"Bob", "Alice", "Launch Plan", "documents/doc_1"} {
		if !strings.Contains(html, want) {
			t.Errorf("mention email missing %q", want)
		}
	}
}

func TestMentionTemplateEscapesHTML(t *testing.T) {
	html, err := renderTemplate(mentionEmailTemplate, mentionData{
		AppName:       "Scribe",
		UserName:      "Bob",
		MentionedBy:   "<script>alert(1)</script>",
		DocumentTitle: "Plan",
		DocumentURL:   "https://scribe.example.com/documents/doc_1",
	})
	if err != nil {
		t.Fatalf("renderTemplate: %v", err)
	}
	if strings.Contains(html, "<script>") {
		t.Error("user-controlled fields must be escaped")
	}
}
