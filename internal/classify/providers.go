package classify

import (
	"regexp"
	"strings"
)

// providerRule pairs one provider identity with a predicate over normalized
// hostnames. Rules are evaluated in order, first match wins, so new providers
// are added by appending rows, not by editing control flow.
type providerRule struct {
	organization string
	match        func(host string) bool
}

func regexpMatcher(pattern string) func(string) bool {
	re := regexp.MustCompile(pattern)
	return re.MatchString
}

var (
	googleDomainRe  = regexp.MustCompile(`(^|\.)google\.[a-z.]+$`)
	gmailRe         = regexp.MustCompile(`(^|\.)(gmail|googlemail)\.com$`)
	aspmxRe         = regexp.MustCompile(`^aspmx`)
	outlookRe       = regexp.MustCompile(`(^|\.)outlook\.com$`)
	legacyMSRe      = regexp.MustCompile(`(^|\.)(hotmail|live|msn|microsoft)\.com$`)
	yahooDomainRe   = regexp.MustCompile(`(^|\.)yahoo\.[a-z.]+$`)
	yahooDNSRe      = regexp.MustCompile(`yahoodns`)
	aolRe           = regexp.MustCompile(`(^|\.)aol\.com$`)
	mailishTokenRe  = regexp.MustCompile(`(^|[.-])(mx\d*|mail|smtp|mta\d*)([.-]|$)`)
	protectionTokRe = regexp.MustCompile(`(^|[.-])(protection|mail|eo)([.-]|$)`)
)

var providerRules = []providerRule{
	{
		organization: "google",
		match: func(host string) bool {
			if googleDomainRe.MatchString(host) || gmailRe.MatchString(host) {
				return true
			}
			return aspmxRe.MatchString(host) && strings.Contains(host, "google")
		},
	},
	{
		organization: "microsoft",
		match: func(host string) bool {
			if m := eoTenantRe.FindStringSubmatch(host); m != nil && strings.Contains(m[1], "-") {
				// Hyphenated tenant hosts belong to the customer, not to
				// Microsoft's own budget; the fallback reconstructs them.
				return false
			}
			if outlookRe.MatchString(host) && protectionTokRe.MatchString(host) {
				return true
			}
			if legacyMSRe.MatchString(host) {
				return true
			}
			return strings.Contains(host, "outlook") && strings.Contains(host, "exchange")
		},
	},
	{
		organization: "yahoo",
		match: func(host string) bool {
			if yahooDomainRe.MatchString(host) && mailishTokenRe.MatchString(host) {
				return true
			}
			if yahooDNSRe.MatchString(host) {
				return true
			}
			return aolRe.MatchString(host) && mailishTokenRe.MatchString(host)
		},
	},
	{organization: "apple", match: regexpMatcher(`(^|\.)(icloud\.com|me\.com|mail\.icloud\.com)$`)},
	{organization: "proton", match: regexpMatcher(`(^|\.)(protonmail\.ch|proton\.me|protonmail\.com)$`)},
	{organization: "fastmail", match: regexpMatcher(`(^|\.)(fastmail\.com|messagingengine\.com)$`)},
	{organization: "zoho", match: regexpMatcher(`(^|\.)zoho(mail)?\.(com|eu|in)$`)},
	{organization: "yandex", match: regexpMatcher(`(^|\.)(yandex\.(ru|net|com)|mx\.yandex\.net)$`)},
	{organization: "mailru", match: regexpMatcher(`(^|\.)(mail\.ru|mxs\.mail\.ru)$`)},
	{organization: "gmx", match: regexpMatcher(`(^|\.)gmx\.(net|com|de)$`)},
	{organization: "mailgun", match: regexpMatcher(`(^|\.)(mailgun\.(org|com|info)|mxa\.mailgun\.org)$`)},
	{organization: "sendgrid", match: regexpMatcher(`(^|\.)sendgrid\.(net|com)$`)},
	{organization: "amazon_ses", match: regexpMatcher(`((^|\.)amazonses\.com|^inbound-smtp\.[a-z0-9-]+\.amazonaws\.com)$`)},
}

// profileByOrganization maps each recognized provider to the named policy
// the dispatcher uses to size that organization's probe budget.
var profileByOrganization = map[string]string{
	"google":     "google_workspace_smtp",
	"microsoft":  "microsoft_365_smtp",
	"yahoo":      "consumer_smtp_careful",
	"apple":      "consumer_smtp_careful",
	"proton":     "consumer_smtp_careful",
	"fastmail":   "business_smtp_standard",
	"zoho":       "business_smtp_standard",
	"yandex":     "consumer_smtp_careful",
	"mailru":     "consumer_smtp_careful",
	"gmx":        "consumer_smtp_careful",
	"mailgun":    "business_smtp_standard",
	"sendgrid":   "business_smtp_standard",
	"amazon_ses": "business_smtp_standard",
}

func profileFor(organization string) string {
	if p, ok := profileByOrganization[organization]; ok {
		return p
	}
	return "standard_smtp"
}

// hostedServiceDomains maps base domains of hosted mail services to the
// service identity. An unknown hostname whose base domain lands here is
// really pointed at that provider's shared infrastructure.
var hostedServiceDomains = map[string]string{
	"mailgun.org":          "mailgun",
	"mailgun.com":          "mailgun",
	"sendgrid.net":         "sendgrid",
	"amazonses.com":        "amazon_ses",
	"amazonaws.com":        "amazon_ses",
	"fastmail.com":         "fastmail",
	"messagingengine.com":  "fastmail",
	"zoho.com":             "zoho",
	"zoho.eu":              "zoho",
	"protonmail.ch":        "proton",
	"proton.me":            "proton",
	"yandex.net":           "yandex",
	"yandex.ru":            "yandex",
	"mail.ru":              "mailru",
	"gmx.net":              "gmx",
	"gmx.com":              "gmx",
	"icloud.com":           "apple",
}
