package twitter

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Known-answer vector from the OAuth 1.0a HMAC-SHA1 signing example
// published in the platform's developer documentation.
func TestOAuth1SignKnownVector(t *testing.T) {
	s := &oauth1Signer{
		consumerKey:    "xvz1evFS4wEEPTGEFPHBog",
		consumerSecret: "kAcSOqF21Fu85e7zjz7ZN2U4ZRhfV3WpwPAoE3Z7kBw",
		token:          "370773112-GmHxMAgYyLbNEtIKZeRNFsMKPR9EyMZeS9weJAEb",
		tokenSecret:    "LswwdoUaIvS8ltyTt5jkRh4J50vUPVVHtR2YPi5kE",
	}

	form := url.Values{}
	form.Set("status", "Hello Ladies + Gentlemen, a signed OAuth request!")
	form.Set("include_entities", "true")

	oauthParams := map[string]string{
		"oauth_consumer_key":     s.consumerKey,
		"oauth_nonce":            "kYjzVBB8Y0ZFabxSWbWovY3uYSQ2pTgmZeNu2VS4cg",
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        "1318622958",
		"oauth_token":            s.token,
		"oauth_version":          "1.0",
	}

	sig := s.sign("POST", "https://api.twitter.com/1.1/statuses/update.json", form, oauthParams)
	assert.Equal(t, "hCtSmYh+iHYCEqBWrE7C7hYmtUk=", sig)
}

func TestOAuth1HeaderShape(t *testing.T) {
	s := &oauth1Signer{
		consumerKey:    "ck",
		consumerSecret: "cs",
		token:          "tk",
		tokenSecret:    "ts",
	}

	h := s.header("POST", "https://api.twitter.com/2/tweets", nil)
	assert.True(t, strings.HasPrefix(h, "OAuth "))
	assert.Contains(t, h, `oauth_consumer_key="ck"`)
	assert.Contains(t, h, `oauth_token="tk"`)
	assert.Contains(t, h, `oauth_signature_method="HMAC-SHA1"`)
	assert.Contains(t, h, "oauth_signature=")
	assert.Contains(t, h, "oauth_nonce=")

	h2 := s.header("POST", "https://api.twitter.com/2/tweets", nil)
	assert.NotEqual(t, h, h2, "nonce must differ between requests")
}

func TestPercentEncode(t *testing.T) {
	assert.Equal(t, "Ladies%20%2B%20Gentlemen", percentEncode("Ladies + Gentlemen"))
	assert.Equal(t, "An%20encoded%20string%21", percentEncode("An encoded string!"))
	assert.Equal(t, "Dogs%2C%20Cats%20%26%20Mice", percentEncode("Dogs, Cats & Mice"))
	assert.Equal(t, "%E2%98%83", percentEncode("☃"))
	assert.Equal(t, "unreserved.-_~", percentEncode("unreserved.-_~"))
}
