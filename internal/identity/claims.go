package identity

import "strings"

// Claims holds the verified identity attributes returned by the IdP userinfo
// endpoint after an IAL/2 proofing session.
type Claims struct {
	Subject              string   `mapstructure:"sub"`
	GivenName            string   `mapstructure:"given_name"`
	FamilyName           string   `mapstructure:"family_name"`
	Email                string   `mapstructure:"email"`
	AllEmails            []string `mapstructure:"all_emails"`
	Phone                string   `mapstructure:"phone"`
	SocialSecurityNumber string   `mapstructure:"social_security_number"`
}

// KnownEmails returns the primary email plus every address the IdP has on
// file for the account, deduplicated case-insensitively.
func (c *Claims) KnownEmails() []string {
	seen := make(map[string]struct{}, len(c.AllEmails)+1)
	out := make([]string, 0, len(c.AllEmails)+1)
	for _, email := range append([]string{c.Email}, c.AllEmails...) {
		email = strings.TrimSpace(email)
		if email == "" {
			continue
		}
		key := strings.ToLower(email)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, email)
	}
	return out
}

// FullName joins the given and family names for display.
func (c *Claims) FullName() string {
	return strings.TrimSpace(c.GivenName + " " + c.FamilyName)
}
