package access

import (
	"fmt"
	"regexp"
	"strings"
)

// Domain is the closed set of capability namespaces.
type Domain string

const (
	DomainSystem      Domain = "system"
	DomainUsers       Domain = "users"
	DomainCourses     Domain = "courses"
	DomainContent     Domain = "content"
	DomainEnrollments Domain = "enrollments"
	DomainDepartments Domain = "departments"
	DomainRoles       Domain = "roles"
	DomainReports     Domain = "reports"
	DomainTemplates   Domain = "templates"
)

// Domains lists every valid domain in catalog order.
var Domains = []Domain{
	DomainSystem,
	DomainUsers,
	DomainCourses,
	DomainContent,
	DomainEnrollments,
	DomainDepartments,
	DomainRoles,
	DomainReports,
	DomainTemplates,
}

// ValidDomain reports whether d belongs to the closed domain set.
func ValidDomain(d Domain) bool {
	for _, known := range Domains {
		if d == known {
			return true
		}
	}
	return false
}

// ParseDomain normalizes and validates a raw domain string.
func ParseDomain(raw string) (Domain, error) {
	d := Domain(strings.TrimSpace(strings.ToLower(raw)))
	if !ValidDomain(d) {
		return "", fmt.Errorf("%w: unknown domain %q", ErrInvalidInput, raw)
	}
	return d, nil
}

var (
	exactRightPattern    = regexp.MustCompile(`^[a-z]+:[a-z-]+:[a-z-]+$`)
	wildcardRightPattern = regexp.MustCompile(`^[a-z]+:\*$`)
)

// Right is the parsed form of an access-right string. The wire format is
// parsed once at the boundary; all engine logic operates on this variant.
type Right struct {
	Domain   Domain
	Resource string
	Action   string
	Wildcard bool
}

// ParseRight parses a `domain:resource:action` or `domain:*` string.
// Only the shape is validated here; callers that require the domain to be in
// the closed set check ValidDomain separately.
func ParseRight(raw string) (Right, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case wildcardRightPattern.MatchString(raw):
		domain := Domain(strings.TrimSuffix(raw, ":*"))
		return Right{Domain: domain, Wildcard: true}, nil
	case exactRightPattern.MatchString(raw):
		parts := strings.SplitN(raw, ":", 3)
		return Right{Domain: Domain(parts[0]), Resource: parts[1], Action: parts[2]}, nil
	default:
		return Right{}, fmt.Errorf("%w: malformed access right %q", ErrInvalidInput, raw)
	}
}

// String renders the canonical wire form.
func (r Right) String() string {
	if r.Wildcard {
		return string(r.Domain) + ":*"
	}
	return string(r.Domain) + ":" + r.Resource + ":" + r.Action
}

// ValidRightName reports whether raw matches either right form.
func ValidRightName(raw string) bool {
	raw = strings.TrimSpace(raw)
	return exactRightPattern.MatchString(raw) || wildcardRightPattern.MatchString(raw)
}
