package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testScript = `
greeting: "Namaste! How can I help?"
fallback: "Tell me more."
follow_up: "Are you still there?"
rules:
  - name: pay
    keywords: ["Pay Now"]
    reply: "Here is your link."
    payment_link: "https://rzp.io/l/RegisterKaro-pay_test"
  - name: documents
    keywords: ["documents"]
    reply: "Please upload PAN and Aadhaar."
    document_upload: true
  - name: pricing
    keywords: ["pricing", "cost"]
    reply: "Plans start at Rs 6,999."
`

func TestScript_Match(t *testing.T) {
	sc, err := ParseScript([]byte(testScript))
	require.NoError(t, err)

	tests := []struct {
		message string
		rule    string
	}{
		{"What are your pricing plans?", "pricing"},
		{"how much does it COST", "pricing"},
		{"I want to pay now", "pay"},
		{"Which documents do I need?", "documents"},
		{"hello", "fallback"},
		{"   ", "fallback"},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			assert.Equal(t, tt.rule, sc.Match(tt.message).Name)
		})
	}
	assert.Equal(t, "Tell me more.", sc.Match("hello").Reply)
	assert.True(t, sc.Match("documents").DocumentUpload)
}

func TestParseScript_Errors(t *testing.T) {
	_, err := ParseScript([]byte("greeting: [unclosed"))
	assert.ErrorContains(t, err, "parse script")

	_, err = ParseScript([]byte(`greeting: hi`))
	assert.ErrorContains(t, err, "fallback reply is required")

	_, err = ParseScript([]byte("fallback: ok\nrules:\n  - name: empty\n    reply: x\n"))
	assert.ErrorContains(t, err, "has no keywords")
}

func TestLoadScript_BundledPrompt(t *testing.T) {
	sc, err := LoadScript("../../prompts/assistant.yaml")
	require.NoError(t, err)
	assert.NotEmpty(t, sc.Greeting)
	assert.NotEmpty(t, sc.FollowUp)

	for _, prompt := range []string{
		"Tell me about the registration process",
		"What documents are required?",
		"What are your pricing plans?",
		"How long does the process take?",
	} {
		assert.NotEqual(t, "fallback", sc.Match(prompt).Name, prompt)
	}
	assert.Equal(t, "timeline", sc.Match("How long does the process take?").Name)
	assert.NotEmpty(t, sc.Match("I'm ready to pay").PaymentLink)
	assert.Equal(t, "fallback", sc.Match("I'm proceeding to make the payment now.").Name)
}

func TestLoadScript_MissingFile(t *testing.T) {
	_, err := LoadScript("does-not-exist.yaml")
	assert.ErrorContains(t, err, "read script")
}
