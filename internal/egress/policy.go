// Package egress decides which targets the relay may reach and cleans the
// headers it forwards. Everything here is pure: no DNS, no network I/O.
package egress

import (
	"errors"
	"net/url"
	"sort"
	"strings"

	"apirelay/internal/errdef"
)

// Messages returned to relay callers. Policy failures share one message so
// a probing caller learns nothing about which rule fired.
const (
	MsgInvalidURL     = "Invalid url"
	MsgHostNotAllowed = "Host not allowed"
)

var (
	DefaultRelativePrefixes = []string{"/api/mock/"}
	DefaultExternalHosts    = []string{"api.github.com", "dorar.net"}
)

// TargetKind distinguishes same-origin paths from external URLs.
type TargetKind int

const (
	Relative TargetKind = iota + 1
	External
)

func (k TargetKind) String() string {
	switch k {
	case Relative:
		return "relative"
	case External:
		return "external"
	default:
		return "unknown"
	}
}

// Target is a resolved, allowlisted destination.
type Target struct {
	Kind TargetKind
	// Path is the request URI (path plus query) of a Relative target.
	Path string
	// URL is the fully-qualified URL of an External target.
	URL *url.URL
}

// Host returns the external host, or "" for relative targets.
func (t Target) Host() string {
	if t.URL == nil {
		return ""
	}
	return t.URL.Hostname()
}

// On returns the absolute URL to dial. Relative targets are joined onto
// base, the relay's own origin.
func (t Target) On(base *url.URL) *url.URL {
	if t.Kind == External {
		u := *t.URL
		return &u
	}
	ref, _ := url.Parse(t.Path)
	return base.ResolveReference(ref)
}

// Policy is the immutable egress allowlist.
type Policy struct {
	prefixes []string
	hosts    map[string]struct{}
}

// NewPolicy builds a policy. Prefixes must start and end with "/".
func NewPolicy(relativePrefixes, externalHosts []string) (*Policy, error) {
	p := &Policy{hosts: make(map[string]struct{}, len(externalHosts))}
	for _, pre := range relativePrefixes {
		pre = strings.TrimSpace(pre)
		if !strings.HasPrefix(pre, "/") || !strings.HasSuffix(pre, "/") || strings.HasPrefix(pre, "//") {
			return nil, errdef.Newf(errdef.CodeConfig, "relative prefix %q must start and end with /", pre)
		}
		p.prefixes = append(p.prefixes, pre)
	}
	for _, h := range externalHosts {
		h = normalizeHost(h)
		if h == "" {
			continue
		}
		if IsPrivateLiteral(h) || isLocalhostName(h) {
			return nil, errdef.Newf(errdef.CodeConfig, "external host %q is a private address", h)
		}
		p.hosts[h] = struct{}{}
	}
	return p, nil
}

// DefaultPolicy returns the built-in allowlist.
func DefaultPolicy() *Policy {
	p, err := NewPolicy(DefaultRelativePrefixes, DefaultExternalHosts)
	if err != nil {
		panic(err)
	}
	return p
}

// RelativePrefixes returns a copy of the relative allowlist.
func (p *Policy) RelativePrefixes() []string {
	return append([]string(nil), p.prefixes...)
}

// ExternalHosts returns the host allowlist, sorted.
func (p *Policy) ExternalHosts() []string {
	out := make([]string, 0, len(p.hosts))
	for h := range p.hosts {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// ValidateURL checks candidate against the policy without resolving it.
// The error is an *errdef.Error coded INVALID_URL or HOST_NOT_ALLOWED; its
// cause names the rule that fired.
func (p *Policy) ValidateURL(candidate string) error {
	_, err := p.Resolve(candidate)
	return err
}

// Resolve classifies raw as a Relative or External target.
func (p *Policy) Resolve(raw string) (Target, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Target{}, malformed("url is empty")
	}
	if strings.ContainsAny(s, "\\\r\n\t") {
		return Target{}, malformed("url contains forbidden characters")
	}
	if strings.HasPrefix(s, "/") {
		return p.resolveRelative(s)
	}
	return p.resolveExternal(s)
}

func (p *Policy) resolveRelative(s string) (Target, error) {
	if strings.HasPrefix(s, "//") {
		return Target{}, notAllowed("protocol-relative urls are not allowed")
	}
	u, err := url.Parse(s)
	if err != nil {
		return Target{}, malformedErr(err)
	}
	if u.Scheme != "" || u.Host != "" || u.User != nil {
		return Target{}, notAllowed("relative url carries an authority")
	}
	if hasDotSegment(u.Path) || strings.Contains(u.Path, "//") {
		return Target{}, notAllowed("relative path is not canonical")
	}
	escaped := u.EscapedPath()
	for _, pre := range p.prefixes {
		if strings.HasPrefix(escaped, pre) && strings.HasPrefix(u.Path, pre) {
			return Target{Kind: Relative, Path: u.RequestURI()}, nil
		}
	}
	return Target{}, notAllowed("relative path is not allowlisted")
}

func (p *Policy) resolveExternal(s string) (Target, error) {
	u, err := url.Parse(s)
	if err != nil {
		return Target{}, malformedErr(err)
	}
	if u.Scheme == "" || u.Opaque != "" {
		return Target{}, malformed("url must be absolute or start with /")
	}
	if !strings.EqualFold(u.Scheme, "https") {
		return Target{}, notAllowed("scheme must be https")
	}
	if u.Host == "" {
		return Target{}, malformed("url has no host")
	}
	if u.User != nil {
		return Target{}, notAllowed("credentials in url are not allowed")
	}
	if port := u.Port(); port != "" && port != "443" {
		return Target{}, notAllowed("only the default https port is allowed")
	}
	host := normalizeHost(u.Hostname())
	if host == "" {
		return Target{}, malformed("url has no host")
	}
	if isLocalhostName(host) {
		return Target{}, notAllowed("localhost is not allowed")
	}
	if IsPrivateLiteral(host) {
		return Target{}, notAllowed("private address literal")
	}
	if _, ok := p.hosts[host]; !ok {
		return Target{}, notAllowed("host is not allowlisted")
	}
	u.Scheme = "https"
	return Target{Kind: External, URL: u}, nil
}

func normalizeHost(h string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(h)), ".")
}

func hasDotSegment(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

func malformed(reason string) error {
	return errdef.Wrap(errors.New(reason), errdef.CodeInvalidURL, MsgInvalidURL)
}

func malformedErr(err error) error {
	return errdef.Wrap(err, errdef.CodeInvalidURL, MsgInvalidURL)
}

func notAllowed(reason string) error {
	return errdef.Wrap(errors.New(reason), errdef.CodeHostNotAllowed, MsgHostNotAllowed)
}

// Reason returns the rule that rejected a URL, for local diagnostics only.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	if cause := errors.Unwrap(err); cause != nil {
		return cause.Error()
	}
	return err.Error()
}
