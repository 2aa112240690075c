package privacy

import (
	"net/url"
	"strings"
)

// MaskWebhookURL hides the key portion of a webhook URL while keeping the host
// visible for debugging.
// Example: "https://hooks.example.com/send?key=abcd1234" -> "https://hooks.example.com/send?key=****1234"
func MaskWebhookURL(raw string) string {
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil {
		return maskTail(raw)
	}

	q := u.Query()
	for name, values := range q {
		for i, v := range values {
			values[i] = maskTail(v)
		}
		q[name] = values
	}
	u.RawQuery = q.Encode()

	// Mask path segments that look like opaque keys (long last segment)
	segments := strings.Split(u.Path, "/")
	if len(segments) > 0 {
		last := segments[len(segments)-1]
		if len(last) > 12 {
			segments[len(segments)-1] = maskTail(last)
			u.Path = strings.Join(segments, "/")
		}
	}

	return u.String()
}

// MaskContactName masks a personal contact name, keeping only the first rune.
// Example: "Alice Zhang" -> "A****"
func MaskContactName(name string) string {
	if name == "" {
		return ""
	}
	runes := []rune(name)
	if len(runes) == 1 {
		return "*"
	}
	return string(runes[0]) + strings.Repeat("*", 4)
}

// MaskMessageID keeps the last 4 characters of an identifier.
func MaskMessageID(id string) string {
	return maskTail(id)
}

func maskTail(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", 4) + s[len(s)-4:]
}
