package classify

import (
	"net"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/net/idna"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/sift/internal/model"
)

// trackingParams are query keys removed during normalization, in addition
// to any key starting with "utm_".
var trackingParams = map[string]bool{
	"fbclid":         true,
	"gclid":          true,
	"igshid":         true,
	"igsh":           true,
	"si":             true,
	"feature":        true,
	"ref":            true,
	"ref_src":        true,
	"mc_cid":         true,
	"mc_eid":         true,
	"_r":             true,
	"is_from_webapp": true,
	"sender_device":  true,
}

// idnaProfile maps hosts for lookup without STD3 rules, so labels such as
// "my_blog" that url.Parse and net/http accept stay valid.
var idnaProfile = idna.New(idna.MapForLookup(), idna.Transitional(false), idna.StrictDomainName(false))

func isTrackingParam(key string) bool {
	k := strings.ToLower(key)
	return strings.HasPrefix(k, "utm_") || trackingParams[k]
}

// parse validates raw as an absolute http(s) URL with a host.
func parse(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, eris.Wrap(model.ErrInvalidURL, "classify: empty url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, eris.Wrapf(model.ErrInvalidURL, "classify: parse %q: %v", raw, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, eris.Wrapf(model.ErrInvalidURL, "classify: unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, eris.Wrapf(model.ErrInvalidURL, "classify: missing host in %q", raw)
	}
	return u, nil
}

// Normalize returns the canonical dedup key for raw. It is deterministic and
// has no side effects.
func Normalize(raw string) (string, error) {
	u, err := parse(raw)
	if err != nil {
		return "", err
	}
	n, err := normalizeURL(u)
	if err != nil {
		return "", err
	}
	return n.String(), nil
}

func normalizeURL(src *url.URL) (*url.URL, error) {
	u := &url.URL{
		Scheme: strings.ToLower(src.Scheme),
		User:   src.User,
	}

	host, err := normalizeHost(src.Hostname())
	if err != nil {
		return nil, err
	}
	port := src.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}

	path := strings.TrimRight(normalizePath(src.EscapedPath()), "/")

	query := url.Values{}
	for k, vs := range src.Query() {
		if isTrackingParam(k) {
			continue
		}
		query[k] = vs
	}

	host, path, query = collapseYouTube(host, path, query)

	if port != "" {
		if strings.Contains(host, ":") {
			u.Host = "[" + host + "]:" + port
		} else {
			u.Host = host + ":" + port
		}
	} else if strings.Contains(host, ":") {
		u.Host = "[" + host + "]"
	} else {
		u.Host = host
	}
	u.RawPath = path
	if u.Path, err = url.PathUnescape(path); err != nil {
		return nil, eris.Wrapf(model.ErrInvalidURL, "classify: path %q: %v", path, err)
	}
	u.RawQuery = query.Encode()
	return u, nil
}

// normalizePath canonicalizes an escaped path. Only unreserved and non-ASCII
// escapes are decoded, so "/a%2Fb" stays distinct from "/a/b". The result is
// NFC-normalized with upper-case escapes.
func normalizePath(escaped string) string {
	var b strings.Builder
	for i := 0; i < len(escaped); i++ {
		c := escaped[i]
		if c == '%' && i+2 < len(escaped) && isHex(escaped[i+1]) && isHex(escaped[i+2]) {
			v := unhex(escaped[i+1])<<4 | unhex(escaped[i+2])
			if v >= 0x80 || isUnreserved(v) {
				b.WriteByte(v)
			} else {
				b.WriteString(strings.ToUpper(escaped[i : i+3]))
			}
			i += 2
			continue
		}
		b.WriteByte(c)
	}

	decoded := norm.NFC.String(b.String())
	b.Reset()
	for i := 0; i < len(decoded); i++ {
		c := decoded[i]
		if c >= 0x80 {
			b.WriteByte('%')
			b.WriteByte(upperHex[c>>4])
			b.WriteByte(upperHex[c&0x0f])
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

const upperHex = "0123456789ABCDEF"

func isUnreserved(c byte) bool {
	return 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9' ||
		c == '-' || c == '.' || c == '_' || c == '~'
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

func normalizeHost(host string) (string, error) {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if ip := net.ParseIP(host); ip != nil {
		return host, nil
	}
	ascii, err := idnaProfile.ToASCII(host)
	if err != nil {
		return "", eris.Wrapf(model.ErrInvalidURL, "classify: host %q: %v", host, err)
	}
	return strings.TrimPrefix(ascii, "www."), nil
}

// collapseYouTube rewrites short and shorts links to the canonical watch URL.
func collapseYouTube(host, path string, query url.Values) (string, string, url.Values) {
	var id string
	switch host {
	case "youtu.be":
		id = strings.Trim(path, "/")
	case "youtube.com", "m.youtube.com":
		if rest, ok := strings.CutPrefix(path, "/shorts/"); ok {
			id = strings.Trim(rest, "/")
		} else {
			host = "youtube.com"
		}
	default:
		return host, path, query
	}
	if id == "" || strings.Contains(id, "/") {
		return host, path, query
	}
	query.Set("v", id)
	return "youtube.com", "/watch", query
}
