package listing

import (
	"regexp"
	"strings"
)

type Contact struct {
	Name  string
	Phone string
}

var (
	phoneRe       = regexp.MustCompile(`(?:\+?1[\s.-]?)?\(?(\d{3})\)?[\s.-]?(\d{3})[\s.-]?(\d{4})\b`)
	contactNameRe = regexp.MustCompile(`\b(?i:contact|call|text|ask for)\s*:?\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)`)
)

// ExtractContact pulls a US phone number and a contact name out of free text.
// Either field may be empty.
func ExtractContact(text string) Contact {
	var c Contact
	text = strings.TrimSpace(text)
	if text == "" {
		return c
	}

	if m := phoneRe.FindStringSubmatch(text); m != nil {
		c.Phone = "(" + m[1] + ") " + m[2] + "-" + m[3]
	}
	if m := contactNameRe.FindStringSubmatch(text); m != nil {
		c.Name = strings.TrimSpace(m[1])
	}
	return c
}
