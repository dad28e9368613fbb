package session

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	// DefaultChunkSize keeps every Set-Cookie comfortably below the 4096
	// byte limit browsers apply per cookie.
	DefaultChunkSize = 3800

	chunkPrefix = "chunks-"
	maxChunks   = 32
)

// CookieJar reads and writes one logical cookie. Values longer than the
// chunk size are split over <name>C1..<name>CN with the base cookie holding
// "chunks-N".
type CookieJar struct {
	name      string
	path      string
	domain    string
	secure    bool
	sameSite  http.SameSite
	chunkSize int
	clock     clockwork.Clock
}

type JarOption func(*CookieJar)

// WithSecure controls the Secure attribute. It is only turned off for local
// development over plain http.
func WithSecure(secure bool) JarOption {
	return func(j *CookieJar) {
		j.secure = secure
	}
}

// WithSameSite accepts Lax or Strict; anything weaker is ignored.
func WithSameSite(mode http.SameSite) JarOption {
	return func(j *CookieJar) {
		if mode == http.SameSiteLaxMode || mode == http.SameSiteStrictMode {
			j.sameSite = mode
		}
	}
}

func WithDomain(domain string) JarOption {
	return func(j *CookieJar) {
		j.domain = domain
	}
}

func WithPath(path string) JarOption {
	return func(j *CookieJar) {
		if path != "" {
			j.path = path
		}
	}
}

func WithChunkSize(size int) JarOption {
	return func(j *CookieJar) {
		if size > 0 {
			j.chunkSize = size
		}
	}
}

func WithJarClock(clock clockwork.Clock) JarOption {
	return func(j *CookieJar) {
		j.clock = clock
	}
}

func NewCookieJar(name string, opts ...JarOption) *CookieJar {
	j := &CookieJar{
		name:      name,
		path:      "/",
		secure:    true,
		sameSite:  http.SameSiteLaxMode,
		chunkSize: DefaultChunkSize,
		clock:     clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

func (j *CookieJar) Name() string {
	return j.name
}

// Read returns the reassembled value. present is true whenever the base
// cookie was sent, even if a chunk is missing; the caller then fails to
// decode the (empty) value and treats the session as invalid.
func (j *CookieJar) Read(r *http.Request) (value string, present bool) {
	base, err := r.Cookie(j.name)
	if err != nil {
		return "", false
	}
	n, chunked := chunkCount(base.Value)
	if !chunked {
		return base.Value, true
	}

	var sb strings.Builder
	for i := 1; i <= n; i++ {
		c, err := r.Cookie(j.chunkName(i))
		if err != nil {
			return "", true
		}
		sb.WriteString(c.Value)
	}
	return sb.String(), true
}

// Write sets value with an absolute expiry. Chunks left over from a larger
// previous value are removed.
func (j *CookieJar) Write(w http.ResponseWriter, r *http.Request, value string, expiresAt time.Time) {
	maxAge := int(expiresAt.Sub(j.clock.Now()).Seconds())
	if maxAge <= 0 {
		maxAge = 1
	}

	if len(value) <= j.chunkSize {
		http.SetCookie(w, j.cookie(j.name, value, maxAge, expiresAt))
		j.clearChunks(w, r, 1)
		return
	}

	chunks := split(value, j.chunkSize)
	http.SetCookie(w, j.cookie(j.name, fmt.Sprintf("%s%d", chunkPrefix, len(chunks)), maxAge, expiresAt))
	for i, chunk := range chunks {
		http.SetCookie(w, j.cookie(j.chunkName(i+1), chunk, maxAge, expiresAt))
	}
	j.clearChunks(w, r, len(chunks)+1)
}

// Clear expires the base cookie and every chunk the browser sent.
func (j *CookieJar) Clear(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, j.cookie(j.name, "", -1, time.Unix(0, 0)))
	j.clearChunks(w, r, 1)
}

func (j *CookieJar) clearChunks(w http.ResponseWriter, r *http.Request, from int) {
	if r == nil {
		return
	}
	for i := from; i <= maxChunks; i++ {
		if _, err := r.Cookie(j.chunkName(i)); err != nil {
			continue
		}
		http.SetCookie(w, j.cookie(j.chunkName(i), "", -1, time.Unix(0, 0)))
	}
}

func (j *CookieJar) cookie(name, value string, maxAge int, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     j.path,
		Domain:   j.domain,
		Expires:  expires.UTC(),
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   j.secure,
		SameSite: j.sameSite,
	}
}

func (j *CookieJar) chunkName(i int) string {
	return j.name + "C" + strconv.Itoa(i)
}

func chunkCount(v string) (int, bool) {
	if !strings.HasPrefix(v, chunkPrefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(v, chunkPrefix))
	if err != nil || n < 1 || n > maxChunks {
		return 0, true
	}
	return n, true
}

func split(v string, size int) []string {
	chunks := make([]string, 0, len(v)/size+1)
	for len(v) > size {
		chunks = append(chunks, v[:size])
		v = v[size:]
	}
	return append(chunks, v)
}
