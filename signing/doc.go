// Package signing authenticates outbound exchange requests.
//
// Two signers are provided: HMACSigner appends a timestamp and an
// HMAC-SHA256 signature to the query string, and JWTSigner attaches a
// short-lived bearer token bound to the request's method and path.
// Secrets may be stored sealed with ChaCha20-Poly1305 and are opened once
// when the signer is built.
//
// # Usage
//
//	signer, err := signing.New(cfg.Signing, clock.New())
//	req, _ := http.NewRequest(http.MethodGet, "https://api.example.com/api/v3/account", nil)
//	err = signer.Sign(req)
package signing
