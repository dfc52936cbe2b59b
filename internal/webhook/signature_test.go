package webhook

import "testing"

func TestVerifySignatureRoundTrip(t *testing.T) {
	body := []byte(`{"object":"whatsapp_business_account"}`)
	secret := "app-secret"

	sig := SignBody(body, secret)
	if !VerifySignature(body, sig, secret) {
		t.Error("signature over raw body should verify")
	}
}

func TestVerifySignatureBarePrefix(t *testing.T) {
	body := []byte("payload")
	secret := "s"

	withPrefix := SignBody(body, secret)
	bare := withPrefix[len("sha256="):]
	if !VerifySignature(body, bare, secret) {
		t.Error("bare hex digest should verify")
	}
}

func TestVerifySignatureRejects(t *testing.T) {
	body := []byte("payload")
	secret := "s"
	good := SignBody(body, secret)

	cases := []struct {
		name      string
		body      []byte
		signature string
		secret    string
	}{
		{"wrong secret", body, good, "other"},
		{"tampered body", []byte("payload2"), good, secret},
		{"empty signature", body, "", secret},
		{"empty secret", body, good, ""},
		{"not hex", body, "sha256=zzzz", secret},
		{"truncated", body, good[:len(good)-2], secret},
	}
	for _, tc := range cases {
		if VerifySignature(tc.body, tc.signature, tc.secret) {
			t.Errorf("%s: verification should fail", tc.name)
		}
	}
}

func TestVerifySignatureNeedsRawBody(t *testing.T) {
	secret := "s"
	raw := []byte(`{"a": 1, "b": 2}`)
	reserialized := []byte(`{"a":1,"b":2}`)

	sig := SignBody(raw, secret)
	if VerifySignature(reserialized, sig, secret) {
		t.Error("re-serialized body must not verify against the raw signature")
	}
}
