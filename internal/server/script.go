package server

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Script is the canned conversation the stub follows. It is matched by
// keywords only; the stub never generates replies.
type Script struct {
	Greeting string `yaml:"greeting"`
	Fallback string `yaml:"fallback"`
	FollowUp string `yaml:"follow_up"`
	Rules    []Rule `yaml:"rules"`
}

// Rule answers a message containing any of its keywords. A rule may also
// offer a payment link or ask for documents.
type Rule struct {
	Name           string   `yaml:"name"`
	Keywords       []string `yaml:"keywords"`
	Reply          string   `yaml:"reply"`
	PaymentLink    string   `yaml:"payment_link"`
	DocumentUpload bool     `yaml:"document_upload"`
}

func LoadScript(path string) (*Script, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return ParseScript(b)
}

func ParseScript(b []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	if strings.TrimSpace(s.Fallback) == "" {
		return nil, fmt.Errorf("parse script: fallback reply is required")
	}
	for i, r := range s.Rules {
		if len(r.Keywords) == 0 {
			return nil, fmt.Errorf("parse script: rule %d (%s) has no keywords", i, r.Name)
		}
		for j, k := range r.Keywords {
			s.Rules[i].Keywords[j] = strings.ToLower(strings.TrimSpace(k))
		}
	}
	return &s, nil
}

// Match returns the first rule with a keyword in message, or a rule
// carrying the fallback reply.
func (s *Script) Match(message string) Rule {
	m := strings.ToLower(strings.TrimSpace(message))
	if m != "" {
		for _, r := range s.Rules {
			if containsAny(m, r.Keywords) {
				return r
			}
		}
	}
	return Rule{Name: "fallback", Reply: s.Fallback}
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(s, n) {
			return true
		}
	}
	return false
}
