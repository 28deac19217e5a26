package vfskit

import (
	"fmt"
	"maps"
	"net/url"
	"path"
	"strconv"
	"strings"
)

// Credentials are the login and password embedded in a FileURL.
type Credentials struct {
	Login    string
	Password string
}

// Equal reports whether c and o hold the same login and password. Two nil
// credentials are equal.
func (c *Credentials) Equal(o *Credentials) bool {
	if c == nil || o == nil {
		return c == o
	}
	return c.Login == o.Login && c.Password == o.Password
}

// CredentialPolicy selects which credentials Format writes out.
type CredentialPolicy int

const (
	// CredentialsNone omits login and password.
	CredentialsNone CredentialPolicy = iota
	// CredentialsLogin writes the login only.
	CredentialsLogin
	// CredentialsFull writes login and password.
	CredentialsFull
)

// FileURL is the address of a file: scheme, optional host and port, an
// absolute slash-separated path, an optional query, optional credentials
// and a bag of protocol-specific properties.
//
// Derived addresses (Parent, Child) are clones; a FileURL shared between
// handles must not be mutated.
type FileURL struct {
	Scheme      string
	Host        string
	Port        int // -1 when absent
	Path        string
	Query       string
	Credentials *Credentials

	props map[string]string
}

// NewURL returns a FileURL with no port, query or credentials.
func NewURL(scheme, host, p string) *FileURL {
	return &FileURL{
		Scheme: strings.ToLower(scheme),
		Host:   host,
		Port:   -1,
		Path:   cleanURLPath(p),
	}
}

func malformed(s, reason string) error {
	return fmt.Errorf("%w: %q: %s", ErrMalformedURL, s, reason)
}

// ParseURL parses s in the form scheme://[login[:password]@]host[:port]/path[?query].
func ParseURL(s string) (*FileURL, error) {
	i := strings.Index(s, "://")
	if i < 0 {
		return nil, malformed(s, "missing scheme")
	}
	scheme := s[:i]
	if !validScheme(scheme) {
		return nil, malformed(s, "invalid scheme")
	}

	u := &FileURL{Scheme: strings.ToLower(scheme), Port: -1}

	rest := s[i+3:]
	authority, remainder := rest, ""
	if end := strings.IndexAny(rest, "/?"); end >= 0 {
		authority, remainder = rest[:end], rest[end:]
	}

	if at := strings.LastIndex(authority, "@"); at >= 0 {
		userinfo := authority[:at]
		authority = authority[at+1:]
		login, password, _ := strings.Cut(userinfo, ":")
		var err error
		creds := &Credentials{}
		if creds.Login, err = url.PathUnescape(login); err != nil {
			return nil, malformed(s, "invalid login escape")
		}
		if creds.Password, err = url.PathUnescape(password); err != nil {
			return nil, malformed(s, "invalid password escape")
		}
		u.Credentials = creds
	}

	host, port, err := splitHostPort(authority)
	if err != nil {
		return nil, malformed(s, err.Error())
	}
	u.Host, u.Port = host, port

	p, q, _ := strings.Cut(remainder, "?")
	u.Path = cleanURLPath(p)
	u.Query = q
	return u, nil
}

// MustParseURL is like ParseURL but panics on error.
func MustParseURL(s string) *FileURL {
	u, err := ParseURL(s)
	if err != nil {
		panic(err)
	}
	return u
}

func validScheme(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case i > 0 && (c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.'):
		default:
			return false
		}
	}
	return true
}

func splitHostPort(authority string) (string, int, error) {
	host, portStr := authority, ""
	if strings.HasPrefix(authority, "[") {
		end := strings.Index(authority, "]")
		if end < 0 {
			return "", -1, fmt.Errorf("unterminated IPv6 host")
		}
		host = authority[1:end]
		tail := authority[end+1:]
		if tail != "" {
			if !strings.HasPrefix(tail, ":") {
				return "", -1, fmt.Errorf("unexpected characters after host")
			}
			portStr = tail[1:]
		}
	} else if i := strings.LastIndex(authority, ":"); i >= 0 {
		host, portStr = authority[:i], authority[i+1:]
	}
	if portStr == "" {
		return host, -1, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", -1, fmt.Errorf("invalid port %q", portStr)
	}
	return host, port, nil
}

func cleanURLPath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

var userinfoEscaper = strings.NewReplacer("%", "%25", "@", "%40", ":", "%3A", "/", "%2F", "?", "%3F")

// String returns the URL with its login but without the password.
func (u *FileURL) String() string {
	return u.Format(CredentialsLogin)
}

// Format serializes the URL, writing credentials according to policy.
func (u *FileURL) Format(policy CredentialPolicy) string {
	var b strings.Builder
	b.WriteString(u.Scheme)
	b.WriteString("://")
	if c := u.Credentials; c != nil && policy != CredentialsNone && (c.Login != "" || (policy == CredentialsFull && c.Password != "")) {
		b.WriteString(userinfoEscaper.Replace(c.Login))
		if policy == CredentialsFull && c.Password != "" {
			b.WriteByte(':')
			b.WriteString(userinfoEscaper.Replace(c.Password))
		}
		b.WriteByte('@')
	}
	if strings.Contains(u.Host, ":") {
		b.WriteString("[" + u.Host + "]")
	} else {
		b.WriteString(u.Host)
	}
	if u.Port > 0 {
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(u.Port))
	}
	b.WriteString(u.Path)
	if u.Query != "" {
		b.WriteByte('?')
		b.WriteString(u.Query)
	}
	return b.String()
}

// Clone returns a fully independent copy of u.
func (u *FileURL) Clone() *FileURL {
	c := *u
	if u.Credentials != nil {
		creds := *u.Credentials
		c.Credentials = &creds
	}
	c.props = maps.Clone(u.props)
	return &c
}

// IsRoot reports whether the path is "/".
func (u *FileURL) IsRoot() bool {
	return u.Path == "/"
}

// Parent returns the address with the last path segment removed, or nil
// for the root.
func (u *FileURL) Parent() *FileURL {
	if u.IsRoot() {
		return nil
	}
	p := u.Clone()
	p.Path = path.Dir(u.Path)
	p.Query = ""
	return p
}

// Child returns the address of name below u.
func (u *FileURL) Child(name string) *FileURL {
	c := u.Clone()
	c.Path = cleanURLPath(path.Join(u.Path, name))
	c.Query = ""
	return c
}

// Filename returns the last path segment, or "" for the root.
func (u *FileURL) Filename() string {
	if u.IsRoot() {
		return ""
	}
	return path.Base(u.Path)
}

// Segments returns the path split on "/", without empty segments.
func (u *FileURL) Segments() []string {
	if u.IsRoot() {
		return nil
	}
	return strings.Split(strings.TrimPrefix(u.Path, "/"), "/")
}

// Realm returns the root of the server u lives on: scheme, host and port
// with path "/" and no query, credentials or properties.
func (u *FileURL) Realm() *FileURL {
	return &FileURL{Scheme: u.Scheme, Host: u.Host, Port: u.Port, Path: "/"}
}

// Property returns the named protocol property.
func (u *FileURL) Property(name string) string {
	return u.props[name]
}

// SetProperty sets a protocol property; an empty value removes it.
func (u *FileURL) SetProperty(name, value string) {
	if value == "" {
		delete(u.props, name)
		return
	}
	if u.props == nil {
		u.props = make(map[string]string)
	}
	u.props[name] = value
}

// Properties returns a copy of the property bag.
func (u *FileURL) Properties() map[string]string {
	return maps.Clone(u.props)
}

type equalOptions struct {
	credentials bool
	properties  bool
	ignoreCase  bool
}

// EqualOption tunes FileURL.Equals.
type EqualOption func(*equalOptions)

// CompareCredentials makes Equals compare login and password.
func CompareCredentials() EqualOption {
	return func(o *equalOptions) { o.credentials = true }
}

// CompareProperties makes Equals compare the property bags.
func CompareProperties() EqualOption {
	return func(o *equalOptions) { o.properties = true }
}

// IgnoreCase makes Equals compare paths case-insensitively.
func IgnoreCase() EqualOption {
	return func(o *equalOptions) { o.ignoreCase = true }
}

// Equals reports whether u and other address the same location. Scheme and
// host always compare case-insensitively.
func (u *FileURL) Equals(other *FileURL, opts ...EqualOption) bool {
	if u == nil || other == nil {
		return u == other
	}
	var o equalOptions
	for _, opt := range opts {
		opt(&o)
	}
	if !strings.EqualFold(u.Scheme, other.Scheme) ||
		!strings.EqualFold(u.Host, other.Host) ||
		u.Port != other.Port ||
		u.Query != other.Query {
		return false
	}
	if o.ignoreCase {
		if !strings.EqualFold(u.Path, other.Path) {
			return false
		}
	} else if u.Path != other.Path {
		return false
	}
	if o.credentials && !u.Credentials.Equal(other.Credentials) {
		return false
	}
	if o.properties && !maps.Equal(u.props, other.props) {
		return false
	}
	return true
}
