package reliability

// IsRetryableHTTPStatus classifies upstream statuses that may succeed on a
// later attempt (rate limits and transient server errors).
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsClientHTTPStatus reports 4xx statuses; these point at the request or the
// credentials rather than the upstream service.
func IsClientHTTPStatus(code int) bool {
	return code >= 400 && code < 500
}
