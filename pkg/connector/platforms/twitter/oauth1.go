package twitter

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// oauth1Signer produces OAuth 1.0a Authorization headers, the user-context
// signing scheme the post and media endpoints require.
type oauth1Signer struct {
	consumerKey    string
	consumerSecret string
	token          string
	tokenSecret    string
}

// header signs one request. Form parameters participate in the signature
// base string; JSON bodies do not.
func (s *oauth1Signer) header(method, rawURL string, form url.Values) string {
	params := map[string]string{
		"oauth_consumer_key":     s.consumerKey,
		"oauth_nonce":            nonce(),
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        strconv.FormatInt(time.Now().Unix(), 10),
		"oauth_token":            s.token,
		"oauth_version":          "1.0",
	}

	params["oauth_signature"] = s.sign(method, rawURL, form, params)

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("OAuth ")
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%q", percentEncode(k), percentEncode(params[k]))
	}
	return b.String()
}

func (s *oauth1Signer) sign(method, rawURL string, form url.Values, oauthParams map[string]string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	all := make([]string, 0, len(oauthParams)+len(form)+4)
	for k, v := range oauthParams {
		all = append(all, percentEncode(k)+"="+percentEncode(v))
	}
	for k, vs := range u.Query() {
		for _, v := range vs {
			all = append(all, percentEncode(k)+"="+percentEncode(v))
		}
	}
	for k, vs := range form {
		for _, v := range vs {
			all = append(all, percentEncode(k)+"="+percentEncode(v))
		}
	}
	sort.Strings(all)

	baseURL := u.Scheme + "://" + u.Host + u.Path
	base := strings.ToUpper(method) + "&" + percentEncode(baseURL) + "&" +
		percentEncode(strings.Join(all, "&"))

	key := percentEncode(s.consumerSecret) + "&" + percentEncode(s.tokenSecret)
	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func nonce() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// percentEncode implements RFC 3986 encoding, which differs from
// url.QueryEscape in its treatment of space and tilde.
func percentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') ||
			(c >= '0' && c <= '9') || c == '-' || c == '.' || c == '_' || c == '~' {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}
