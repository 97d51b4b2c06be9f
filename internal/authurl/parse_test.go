package authurl

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sakif/crewcall/internal/apperror"
)

func TestParse_CodeOnly(t *testing.T) {
	codes := []string{"xyz", "8f1c2d3e-aaaa-bbbb", "a%2Bb"}
	for _, code := range codes {
		t.Run(code, func(t *testing.T) {
			res := Parse("https://host/auth/confirm?code=" + code)
			p := res.Payload()

			assert.Equal(t, KindPKCECode, p.Kind)
			assert.Equal(t, unescape(code), p.Code)
			assert.Empty(t, p.AccessToken)
			assert.NoError(t, res.Err)
		})
	}
}

func TestParse_FragmentTokens(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"plain fragment", "https://host/reset-password#access_token=AT&refresh_token=RT&type=recovery"},
		{"query noise before fragment", "https://host/x?utm_source=mail&ref=a%20b&type=signup#access_token=AT&refresh_token=RT&type=recovery"},
		{"native scheme", "crewcall://reset-password#access_token=AT&expires_in=3600&refresh_token=RT&type=recovery"},
		{"hash router prefix", "https://host/#/reset-password?access_token=AT&refresh_token=RT&type=recovery"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Parse(tt.raw).Payload()

			assert.Equal(t, KindLegacyTokens, p.Kind)
			assert.Equal(t, "AT", p.AccessToken)
			assert.Equal(t, "RT", p.RefreshToken)
			assert.Equal(t, "recovery", p.FlowType, "fragment type must win over query type")
		})
	}
}

func TestParse_CodeWinsOverTokens(t *testing.T) {
	res := Parse("https://host/cb?code=xyz#access_token=AT&refresh_token=RT")

	// Both values stay visible on the result; the payload picks the code.
	assert.Equal(t, "AT", res.AccessToken)
	assert.Equal(t, "RT", res.RefreshToken)
	assert.Equal(t, KindPKCECode, res.Payload().Kind)
}

func TestParse_ErrorDescription(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"crewcall://callback?error_description=Email+link+is+invalid", "Email link is invalid"},
		{"https://host/#error=access_denied&error_code=otp_expired&error_description=Link%20expired", "Link expired"},
		{"https://host/?error=access_denied", "access_denied"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			p := Parse(tt.raw).Payload()
			assert.Equal(t, KindError, p.Kind)
			assert.Equal(t, tt.want, p.Description)
		})
	}
}

func TestParse_None(t *testing.T) {
	for _, raw := range []string{"", "https://host/signin", "crewcall://", "not a url at all", "https://host/#/jobs"} {
		assert.Equal(t, KindNone, Parse(raw).Payload().Kind, raw)
	}
}

func TestParse_MalformedFallsBack(t *testing.T) {
	// The bad escape in the path makes net/url reject the whole URL.
	raw := "https://host/%zz/reset?code=abc#access_token=AT&refresh_token=RT&type=recovery"

	res := Parse(raw)

	assert.True(t, errors.Is(res.Err, apperror.ErrURLParse))
	assert.NotContains(t, res.Err.Error(), "access_token", "tokens never reach the error text")
	assert.Equal(t, "abc", res.Code)
	assert.Equal(t, "AT", res.AccessToken)
	assert.Equal(t, "recovery", res.Type)
	assert.Equal(t, "/%zz/reset", res.Path)
}

func TestParse_Idempotent(t *testing.T) {
	inputs := []string{
		"https://host/auth/confirm?code=xyz",
		"https://host/%zz#access_token=a&refresh_token=b",
		"crewcall://reset-password?type=recovery&token_hash=abc",
		"",
	}
	for _, raw := range inputs {
		assert.Equal(t, Parse(raw), Parse(raw), raw)
	}
}

func TestParse_NativePath(t *testing.T) {
	assert.Equal(t, "/reset-password", Parse("crewcall://reset-password?x=1").Path)
	assert.Equal(t, "/chats/42", Parse("crewcall://chats/42").Path)
	assert.Equal(t, "/u/7", Parse("https://host/u/7").Path)
}
