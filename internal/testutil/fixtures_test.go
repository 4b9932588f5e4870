package testutil

import "testing"

func TestFakePartnersAPI_ExpireRotatesAccessToken(t *testing.T) {
	f := NewFakePartnersAPI()
	defer f.Close()

	before := f.AccessToken
	f.ExpireAccessToken()

	if f.AccessToken == before {
		t.Fatalf("ExpireAccessToken left the valid token unchanged: %q", before)
	}
}

func TestFakePartnersAPI_InstancesDoNotShareTokens(t *testing.T) {
	first := NewFakePartnersAPI()
	defer first.Close()
	second := NewFakePartnersAPI()
	defer second.Close()

	if first.AccessToken == second.AccessToken {
		t.Fatalf("two fakes seeded the same access token %q", first.AccessToken)
	}
	if first.RefreshToken == second.RefreshToken {
		t.Fatalf("two fakes seeded the same refresh token %q", first.RefreshToken)
	}
}
