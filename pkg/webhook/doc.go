// Package webhook signs and verifies webhook payloads and delivers outbound
// webhooks with retries.
//
// The signature scheme is carried in the Payment-Signature header:
//
//	Payment-Signature: t=1700000000,v1=5257a869e7ec...
//
// where v1 is hex(HMAC-SHA256(secret, "<t>.<raw body>")). Several v1 entries
// may be present while a secret is being rotated; any match is accepted.
//
// Verifying an inbound request:
//
//	body, _ := io.ReadAll(r.Body)
//	err := webhook.Verify(secret, r.Header.Get(webhook.SignatureHeader), body, time.Now(), webhook.DefaultTolerance)
//	switch {
//	case webhook.IsAuthError(err):
//		// 401
//	case errors.Is(err, webhook.ErrTimestampSkew):
//		// 400
//	}
//
// Sending:
//
//	s := webhook.NewSender(webhook.WithSigningSecret(secret), webhook.WithMaxRetries(2))
//	err := s.Send(ctx, "https://hooks.example.com/ops", payload)
package webhook
