package jetstream

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// Limits enforced by the upstream service on a subscribe request.
const (
	MaxWantedCollections = 100
	MaxWantedDIDs        = 10_000
)

var nsidPattern = regexp.MustCompile(`^[a-zA-Z]([a-zA-Z0-9-]{0,62})?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,62})?)+$`)

// Filter selects which events the server sends. An empty dimension means
// no filtering on it. A Filter is fixed for the lifetime of a session.
type Filter struct {
	Collections []string `koanf:"wanted_collections"`
	DIDs        []string `koanf:"wanted_dids"`
}

// Validate checks NSID/DID syntax and the server limits.
func (f Filter) Validate() error {
	if len(f.Collections) > MaxWantedCollections {
		return fatalf("filter", "%d collections exceeds limit of %d", len(f.Collections), MaxWantedCollections)
	}
	if len(f.DIDs) > MaxWantedDIDs {
		return fatalf("filter", "%d dids exceeds limit of %d", len(f.DIDs), MaxWantedDIDs)
	}
	for _, c := range f.Collections {
		if !validCollection(c) {
			return fatalf("filter", "collection %q is not an NSID or NSID prefix", c)
		}
	}
	for _, d := range f.DIDs {
		if !strings.HasPrefix(d, "did:") || len(d) <= len("did:") {
			return fatalf("filter", "did %q", d)
		}
	}
	return nil
}

func validCollection(c string) bool {
	if prefix, ok := strings.CutSuffix(c, ".*"); ok {
		// "app.*" is accepted upstream, so a single segment is enough here.
		return prefix != "" && (nsidPattern.MatchString(prefix) || nsidPattern.MatchString(prefix+".x"))
	}
	return nsidPattern.MatchString(c)
}

// Matches reports whether the server would send an event for did and
// collection under this filter. Filtering happens upstream; the read loop
// only counts events that fall outside it.
func (f Filter) Matches(did, collection string) bool {
	if len(f.DIDs) > 0 && !contains(f.DIDs, did) {
		return false
	}
	if len(f.Collections) == 0 || collection == "" {
		return true
	}
	for _, c := range f.Collections {
		if prefix, ok := strings.CutSuffix(c, "*"); ok {
			if strings.HasPrefix(collection, prefix) {
				return true
			}
			continue
		}
		if c == collection {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

type subscribeParams struct {
	filter         Filter
	cursor         int64
	hasCursor      bool
	compress       bool
	maxMessageSize int64
}

// subscribeURL encodes the filter and cursor as query parameters on base.
func subscribeURL(base string, p subscribeParams) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for _, c := range dedupe(p.filter.Collections) {
		q.Add("wantedCollections", c)
	}
	for _, d := range dedupe(p.filter.DIDs) {
		q.Add("wantedDids", d)
	}
	if p.hasCursor {
		q.Set("cursor", strconv.FormatInt(p.cursor, 10))
	}
	if p.compress {
		q.Set("compress", "true")
	}
	if p.maxMessageSize > 0 {
		q.Set("maxMessageSizeBytes", strconv.FormatInt(p.maxMessageSize, 10))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
