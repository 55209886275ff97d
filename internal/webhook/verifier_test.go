package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const paidBody = `{"orderCode":"X","amount":100000,"status":"PAID"}`

func TestCanonicalize_SortsKeysAndEscapes(t *testing.T) {
	v, err := ParseValue([]byte(paidBody))
	require.NoError(t, err)
	assert.Equal(t, "amount=100000&orderCode=X&status=PAID", Canonicalize(v))

	v, err = ParseValue([]byte(`{"desc":"Chuyến xe","b":{"y":1,"x":"a b"},"a":null,"c":[3,{"z":true,"k":"<&>"}]}`))
	require.NoError(t, err)
	assert.Equal(t,
		"a=&b=%7B%22x%22%3A%22a%20b%22%2C%22y%22%3A1%7D"+
			"&c=%5B3%2C%7B%22k%22%3A%22%3C%26%3E%22%2C%22z%22%3Atrue%7D%5D"+
			"&desc=Chuy%E1%BA%BFn%20xe",
		Canonicalize(v))
}

func TestJSNumber(t *testing.T) {
	cases := map[string]string{
		"100000":    "100000",
		"1.50":      "1.5",
		"-0":        "0",
		"0.000001":  "0.000001",
		"0.0000001": "1e-7",
		"1e21":      "1e+21",
		"123e18":    "123000000000000000000",
		"2.5E-3":    "0.0025",
		"-12.75":    "-12.75",
	}
	for lit, want := range cases {
		assert.Equal(t, want, jsNumber(lit), lit)
	}
}

func TestVerify_RoundTrip(t *testing.T) {
	// scenario: payload signed with "k" verifies with "k" only
	sig := "e5fa7e82e103f55d66bf9a6917bd5886bf114d0c9439820b3752dbf00ced021f"

	v, err := ParseValue([]byte(paidBody))
	require.NoError(t, err)
	assert.Equal(t, sig, NewVerifier("k").Sign(v))

	assert.True(t, NewVerifier("k").Verify(sig, []byte(paidBody)))
	assert.False(t, NewVerifier("k2").Verify(sig, []byte(paidBody)))
}

func TestVerify_SignatureInBody(t *testing.T) {
	ver := NewVerifier("secret")
	payload := Object(map[string]Value{
		"orderCode":     String("BKABCD2345"),
		"amount":        Int(250000),
		"status":        String("PAID"),
		"transactionId": String("FT123"),
		"meta":          Object(map[string]Value{"channel": String("qr"), "retries": Int(0)}),
	})
	sig := ver.Sign(payload)

	withSig := payload.Without("none")
	withSig.obj["signature"] = String(sig)
	body := []byte(`{"signature":"` + sig + `","status":"PAID","orderCode":"BKABCD2345","amount":250000,"transactionId":"FT123","meta":{"retries":0,"channel":"qr"}}`)

	assert.Equal(t, sig, ver.Sign(withSig), "signature member is excluded from signing")
	assert.True(t, ver.Verify("", body))
}

func TestVerify_Rejects(t *testing.T) {
	ver := NewVerifier("k")
	sig := ver.Sign(Object(map[string]Value{
		"orderCode": String("X"),
		"amount":    Int(100000),
		"status":    String("PAID"),
	}))

	cases := map[string]struct {
		header string
		body   string
	}{
		"stripped signature": {"", paidBody},
		"changed amount":     {sig, `{"orderCode":"X","amount":100001,"status":"PAID"}`},
		"changed status":     {sig, `{"orderCode":"X","amount":100000,"status":"CANCELLED"}`},
		"added field":        {sig, `{"orderCode":"X","amount":100000,"status":"PAID","extra":1}`},
		"not hex":            {"zz" + sig[2:], paidBody},
		"truncated":          {sig[:10], paidBody},
		"not an object":      {sig, `["orderCode","X"]`},
		"malformed":          {sig, `{"orderCode":`},
	}
	for name, tc := range cases {
		assert.False(t, ver.Verify(tc.header, []byte(tc.body)), name)
	}
	assert.True(t, ver.Verify(sig, []byte(paidBody)))
}

func TestVerify_UsesHMACSHA256(t *testing.T) {
	m := hmac.New(sha256.New, []byte("k"))
	m.Write([]byte("amount=100000&orderCode=X&status=PAID"))
	want := hex.EncodeToString(m.Sum(nil))

	assert.True(t, NewVerifier("k").Verify(want, []byte(paidBody)))
}

func TestExtractEvent(t *testing.T) {
	ev, err := ExtractEvent([]byte(`{"orderCode":"BKABCD2345","status":"paid","amount":200000,"transactionId":"FT9"}`))
	require.NoError(t, err)
	assert.Equal(t, "BKABCD2345", ev.OrderCode)
	assert.Equal(t, "PAID", ev.Status)
	assert.Equal(t, int64(200000), ev.Amount)
	assert.Equal(t, "FT9", ev.TransactionID)

	ev, err = ExtractEvent([]byte(`{"code":"00","data":{"orderCode":123,"status":"CANCELLED","amount":5,"reference":"R1"},"signature":"ab"}`))
	require.NoError(t, err)
	assert.Equal(t, "123", ev.OrderCode)
	assert.Equal(t, "CANCELLED", ev.Status)
	assert.Equal(t, "R1", ev.TransactionID)

	_, err = ExtractEvent([]byte(`{"status":"PAID"}`))
	assert.ErrorIs(t, err, ErrMissingField)

	_, err = ExtractEvent([]byte(`{"orderCode":"X","status":"PAID","amount":1.5}`))
	assert.ErrorIs(t, err, ErrMalformedPayload)
}
