package classify

import (
	"regexp"
	"strings"
)

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

type Source string

const (
	SourceAdaptiveLearning Source = "adaptive_learning"
	SourceMXPattern        Source = "mx_pattern"
	SourceFallback         Source = "fallback"
	SourceErrorFallback    Source = "error_fallback"
)

// Classification maps an MX hostname to the organization used as the
// rate-limiting partition key and the processing profile that governs how
// aggressively that organization may be probed.
type Classification struct {
	Organization      string     `json:"organization"`
	ProcessingProfile string     `json:"processing_profile"`
	Confidence        Confidence `json:"confidence"`
	Source            Source     `json:"source"`
}

// OverrideSource is consulted before pattern matching. The adaptive learning
// store implements it; a nil return means no learned override exists.
type OverrideSource interface {
	GetImprovedClassification(mxDomain string) *Classification
}

// Classifier resolves MX hostnames to classifications. It performs no I/O
// and is safe for concurrent use.
type Classifier struct {
	overrides OverrideSource
}

func NewClassifier(overrides OverrideSource) *Classifier {
	return &Classifier{overrides: overrides}
}

// DefaultClassification is the ultra-conservative identity assigned when a
// hostname cannot be classified at all. An unclassifiable host is treated as
// maximally risky, never skipped.
func DefaultClassification() Classification {
	return Classification{
		Organization:      "unknown_default",
		ProcessingProfile: "unknown_mx_ultra_conservative",
		Confidence:        ConfidenceLow,
		Source:            SourceErrorFallback,
	}
}

// Classify is total: every input yields a classification. Priority order is
// learned override, known-provider pattern, then the base-domain fallback.
func (c *Classifier) Classify(mxHostname string) Classification {
	host := strings.ToLower(strings.TrimSpace(mxHostname))
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return DefaultClassification()
	}

	if c.overrides != nil {
		if learned := c.overrides.GetImprovedClassification(BaseDomain(host)); learned != nil {
			return *learned
		}
	}

	for _, rule := range providerRules {
		if rule.match(host) {
			return Classification{
				Organization:      rule.organization,
				ProcessingProfile: profileFor(rule.organization),
				Confidence:        ConfidenceHigh,
				Source:            SourceMXPattern,
			}
		}
	}

	return classifyUnknown(host)
}

var (
	rolePrefixRe    = regexp.MustCompile(`^(mx\d*|mail|smtp|aspmx\d*|alt\d+|mta\d*|inbound-smtp|in\d*-smtp|protection|eo)\.`)
	eoTenantRe      = regexp.MustCompile(`^([a-z0-9-]+)\.mail\.protection\.outlook\.com$`)
	orgSanitizerRe  = regexp.MustCompile(`[^a-z0-9._-]+`)
	businessTokens  = []string{"corp", "company", "enterprise", "business", "mail."}
	validHostnameRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9.-]*[a-z0-9])?$`)
)

// classifyUnknown derives a business identity from a hostname no provider
// pattern recognized. Confidence is always low here: the profile is a guess
// until the learning loop has seen real outcomes for the domain.
func classifyUnknown(host string) Classification {
	if !validHostnameRe.MatchString(host) {
		return Classification{
			Organization:      sanitizedUnknownOrg(host),
			ProcessingProfile: "unknown_mx_ultra_conservative",
			Confidence:        ConfidenceLow,
			Source:            SourceFallback,
		}
	}

	// Exchange Online tenant hosts encode the customer domain with dashes.
	if m := eoTenantRe.FindStringSubmatch(host); m != nil {
		tenant := strings.ReplaceAll(m[1], "-", ".")
		return Classification{
			Organization:      tenant,
			ProcessingProfile: "business_smtp_standard",
			Confidence:        ConfidenceLow,
			Source:            SourceFallback,
		}
	}

	base := BaseDomain(host)
	if base == "" {
		return Classification{
			Organization:      sanitizedUnknownOrg(host),
			ProcessingProfile: "unknown_mx_ultra_conservative",
			Confidence:        ConfidenceLow,
			Source:            SourceFallback,
		}
	}

	if svc, ok := hostedServiceDomains[base]; ok {
		return Classification{
			Organization:      svc,
			ProcessingProfile: "business_smtp_standard",
			Confidence:        ConfidenceLow,
			Source:            SourceFallback,
		}
	}

	profile := "unknown_mx_conservative"
	for _, token := range businessTokens {
		if strings.Contains(host, token) {
			profile = "business_smtp_conservative"
			break
		}
	}

	return Classification{
		Organization:      base,
		ProcessingProfile: profile,
		Confidence:        ConfidenceLow,
		Source:            SourceFallback,
	}
}

// BaseDomain strips MX-role prefixes and returns the last two labels of the
// hostname. It is also the ledger key used by the adaptive learning store, so
// every hostname of one provider aggregates into one entry.
func BaseDomain(host string) string {
	host = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(host), "."))
	for {
		stripped := rolePrefixRe.ReplaceAllString(host, "")
		if stripped == host {
			break
		}
		host = stripped
	}

	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return ""
	}
	base := labels[len(labels)-2] + "." + labels[len(labels)-1]
	if labels[len(labels)-2] == "" || labels[len(labels)-1] == "" {
		return ""
	}
	return base
}

func sanitizedUnknownOrg(host string) string {
	s := orgSanitizerRe.ReplaceAllString(host, "_")
	s = strings.Trim(s, "_")
	if s == "" {
		s = "default"
	}
	return "unknown_" + s
}
