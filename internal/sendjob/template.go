package sendjob

import (
	"strconv"
	"strings"

	"hermes/internal/roster"
)

// Render substitutes named placeholders ({{name}}, {{phone}}, {{id}}) in
// the operator's message template with the recipient's fields. Unknown
// placeholders pass through untouched.
func Render(tmpl string, rec roster.Recipient) string {
	r := strings.NewReplacer(
		"{{name}}", rec.Name,
		"{{phone}}", rec.Phone,
		"{{id}}", strconv.Itoa(rec.ID),
	)
	return r.Replace(tmpl)
}
