// ABOUTME: Opaque page tokens carrying the last sort key and id of a page
// ABOUTME: A token is bound to the kind, scope, filter, order and direction that produced it

package query

import (
	"encoding/base64"
	"encoding/json"
	"hash/fnv"
	"strconv"

	"github.com/nainya/modelregistry/pkg/errdefs"
)

// PageToken is the decoded form of a next-page token
type PageToken struct {
	Order       OrderField `json:"o"`
	Direction   Direction  `json:"d"`
	Fingerprint string     `json:"f"`
	SortKey     int64      `json:"k"`
	LastID      int64      `json:"i"`
}

// Fingerprint identifies the listing a token belongs to
func Fingerprint(kind string, scopeID int64, f *Filter) string {
	h := fnv.New64a()
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(scopeID, 10)))
	h.Write([]byte{0})
	h.Write([]byte(f.Canonical()))
	return strconv.FormatUint(h.Sum64(), 36)
}

// Encode returns the opaque string form
func (t PageToken) Encode() string {
	data, _ := json.Marshal(t)
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodePageToken parses a token and checks that it belongs to q
func DecodePageToken(s string, q Query, fingerprint string) (PageToken, error) {
	var t PageToken

	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return t, errdefs.InvalidPageToken("malformed token")
	}
	if err := json.Unmarshal(data, &t); err != nil {
		return t, errdefs.InvalidPageToken("malformed token")
	}

	if t.Order != q.OrderBy || t.Direction != q.Direction {
		return t, errdefs.InvalidPageToken("token was issued for %s %s, not %s %s",
			t.Order, t.Direction, q.OrderBy, q.Direction)
	}
	if t.Fingerprint != fingerprint {
		return t, errdefs.InvalidPageToken("token was issued for a different filter or kind")
	}
	return t, nil
}
