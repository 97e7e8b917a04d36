package common

// MaskSecret redacts secret-shaped config values for logging: "<not set>"
// for empty strings, "***" for anything too short to mask usefully, else
// the first/last 4 characters with the middle elided.
func MaskSecret(secret string) string {
	if secret == "" {
		return "<not set>"
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}
