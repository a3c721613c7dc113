package channel

import (
	"strings"

	"github.com/jsturma/launcher-plugin/internal/protocol"
)

// sensitiveConfigKeys names job-config/environment keys whose values must
// never reach a debug log line, per spec.md §7 ("Sensitive data (passwords,
// encrypted-password fields, initialization vectors) must be redacted from
// any log line").
var sensitiveConfigKeys = []string{
	"password", "encryptedpassword", "initializationvector", "secret", "token",
}

func isSensitiveKey(name string) bool {
	lower := strings.ToLower(name)
	for _, k := range sensitiveConfigKeys {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// redactRequest builds a short, log-safe summary of req, never including
// a raw job config/environment value that matches a sensitive key name.
func redactRequest(req protocol.Request) string {
	sj, ok := req.(protocol.SubmitJobRequest)
	if !ok || sj.Job == nil {
		return ""
	}

	var b strings.Builder
	b.WriteString("job=")
	b.WriteString(sj.Job.ID)

	for _, cfg := range sj.Job.JobConfig {
		b.WriteString(" ")
		b.WriteString(cfg.Name)
		b.WriteString("=")
		if isSensitiveKey(cfg.Name) {
			b.WriteString("[redacted]")
		} else {
			b.WriteString("<set>")
		}
	}
	for _, env := range sj.Job.Environment {
		if isSensitiveKey(env.Name) {
			b.WriteString(" env:")
			b.WriteString(env.Name)
			b.WriteString("=[redacted]")
		}
	}
	return b.String()
}
