// Package redact strips identifying data from text before it leaves the
// process. Redact is idempotent: running it over its own output changes
// nothing and reports no findings.
package redact

import (
	"fmt"
	"os"
	"os/user"
	"regexp"
	"sort"
	"strings"
)

// Identity is the machine-specific data to mask in addition to the
// pattern rules.
type Identity struct {
	Hostname string
	Username string
	Home     string
}

// CurrentIdentity reads the identity of the running process. Lookups that
// fail leave the field empty.
func CurrentIdentity() Identity {
	var id Identity
	id.Hostname, _ = os.Hostname()
	if u, err := user.Current(); err == nil {
		id.Username = u.Username
	}
	id.Home, _ = os.UserHomeDir()
	return id
}

// Report counts replacements per category.
type Report struct {
	OriginalLength int            `json:"original_length"`
	RedactedLength int            `json:"redacted_length"`
	Replacements   map[string]int `json:"replacements,omitempty"`
}

func (r *Report) add(category string, n int) {
	if n == 0 {
		return
	}
	if r.Replacements == nil {
		r.Replacements = make(map[string]int)
	}
	r.Replacements[category] += n
}

// Total is the number of replacements across all categories.
func (r Report) Total() int {
	total := 0
	for _, n := range r.Replacements {
		total += n
	}
	return total
}

// Merge adds the counts of other to r.
func (r *Report) Merge(other Report) {
	r.OriginalLength += other.OriginalLength
	r.RedactedLength += other.RedactedLength
	for k, n := range other.Replacements {
		r.add(k, n)
	}
}

func (r Report) Summary() string {
	if len(r.Replacements) == 0 {
		return "  No sensitive data found."
	}
	cats := make([]string, 0, len(r.Replacements))
	for c := range r.Replacements {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	var b strings.Builder
	for i, c := range cats {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "  ✓ %s: %d occurrences", c, r.Replacements[c])
	}
	return b.String()
}

const (
	CategoryHostname   = "hostname"
	CategoryUsername   = "username"
	CategoryHomeDir    = "home directory"
	CategoryHomePaths  = "/home paths"
	CategoryIPv4       = "IPv4 addresses"
	CategoryMAC        = "MAC addresses"
	CategoryPrivateKey = "private keys"
	CategoryAPIToken   = "API tokens"
	CategorySecret     = "passwords and secrets"
	CategoryUUID       = "UUIDs"
	CategorySerial     = "serial numbers"
)

type rule struct {
	category    string
	pattern     *regexp.Regexp
	replacement string
}

// Placeholders never contain text a rule matches.
var rules = []rule{
	{CategoryHomePaths, regexp.MustCompile(`/home/[^\s/"':\[][^\s/"':]*`), "/home/[USER]"},
	{CategoryIPv4, regexp.MustCompile(`\b(\d{1,3}\.\d{1,3})\.\d{1,3}\.\d{1,3}\b`), "${1}.XXX.XXX"},
	{CategoryMAC, regexp.MustCompile(`\b(?:[0-9A-Fa-f]{2}[:-]){5}[0-9A-Fa-f]{2}\b`), "XX:XX:XX:XX:XX:XX"},
	{CategoryPrivateKey, regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`), "[PRIVATE_KEY_REDACTED]"},
	{CategoryAPIToken, regexp.MustCompile(`(^|[^A-Za-z0-9])((?:sk-|xai-|AIzaSy|gh[pousr]_|Bearer\s+)[A-Za-z0-9\-_.]{15,})`), "${1}[API_TOKEN_REDACTED]"},
	{CategorySecret, regexp.MustCompile(`(?i)(password|passwd|secret|token|api_key|apikey|auth)\s*[=:]\s*[^\s\[]\S*`), "${1}=[REDACTED]"},
	{CategoryUUID, regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`), "[UUID-REDACTED]"},
	{CategorySerial, regexp.MustCompile(`(?i)\b(?:S/N|Serial|SN)[\s:]+[A-Z0-9]{6,20}\b`), "Serial: [SERIAL-REDACTED]"},
}

var placeholders = []string{
	"[HOSTNAME]", "[USER]", "XXX", "XX:XX", "[API_TOKEN_REDACTED]", "[REDACTED]",
	"[UUID-REDACTED]", "[SERIAL-REDACTED]", "[PRIVATE_KEY_REDACTED]",
}

// Usernames too generic to identify anyone.
var genericUsers = map[string]struct{}{"root": {}, "user": {}, "admin": {}}

type Redactor struct {
	hostname string
	home     string
	username *regexp.Regexp
}

// New builds a redactor for id. Identity values that are empty or would
// match inside a placeholder are ignored.
func New(id Identity) *Redactor {
	r := &Redactor{}
	if usable(id.Hostname) && id.Hostname != "localhost" {
		r.hostname = id.Hostname
	}
	if usable(id.Home) && id.Home != "/" {
		r.home = strings.TrimSuffix(id.Home, "/")
	}
	if usable(id.Username) {
		if _, generic := genericUsers[strings.ToLower(id.Username)]; !generic {
			r.username = regexp.MustCompile(`\b` + regexp.QuoteMeta(id.Username) + `\b`)
		}
	}
	return r
}

// NewFromEnvironment builds a redactor for the running process.
func NewFromEnvironment() *Redactor {
	return New(CurrentIdentity())
}

func usable(v string) bool {
	if len(v) < 2 {
		return false
	}
	for _, p := range placeholders {
		if strings.Contains(strings.ToLower(p), strings.ToLower(v)) {
			return false
		}
	}
	return true
}

// Redact masks identity values first, then applies the pattern rules in order.
func (r *Redactor) Redact(text string) (string, Report) {
	rep := Report{OriginalLength: len(text)}

	if r.hostname != "" {
		if n := strings.Count(text, r.hostname); n > 0 {
			text = strings.ReplaceAll(text, r.hostname, "[HOSTNAME]")
			rep.add(CategoryHostname, n)
		}
	}
	if r.home != "" {
		if n := strings.Count(text, r.home); n > 0 {
			text = strings.ReplaceAll(text, r.home, "/home/[USER]")
			rep.add(CategoryHomeDir, n)
		}
	}
	if r.username != nil {
		if n := len(r.username.FindAllStringIndex(text, -1)); n > 0 {
			text = r.username.ReplaceAllLiteralString(text, "[USER]")
			rep.add(CategoryUsername, n)
		}
	}
	for _, rl := range rules {
		n := len(rl.pattern.FindAllStringIndex(text, -1))
		if n == 0 {
			continue
		}
		text = rl.pattern.ReplaceAllString(text, rl.replacement)
		rep.add(rl.category, n)
	}

	rep.RedactedLength = len(text)
	return text, rep
}

// Strings redacts every value in place order and returns the combined report.
func (r *Redactor) Strings(values ...string) ([]string, Report) {
	var total Report
	out := make([]string, len(values))
	for i, v := range values {
		var rep Report
		out[i], rep = r.Redact(v)
		total.Merge(rep)
	}
	return out, total
}
