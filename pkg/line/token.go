package line

import "strings"

const minTokenLength = 50

// TokenInfo describes an access token without revealing it.
type TokenInfo struct {
	Length         int  `json:"length"`
	StartsWithPlus bool `json:"startsWithPlus"`
	Valid          bool `json:"valid"`
}

// InspectToken checks the shape long-lived channel tokens have: a leading
// '+' and at least 50 characters.
func InspectToken(token string) TokenInfo {
	token = strings.TrimSpace(token)
	info := TokenInfo{
		Length:         len(token),
		StartsWithPlus: strings.HasPrefix(token, "+"),
	}
	info.Valid = info.StartsWithPlus && info.Length >= minTokenLength
	return info
}

// Help returns operator guidance for an upstream status, or empty strings.
func Help(status int) (help, solution string) {
	switch status {
	case 401:
		return "Authentication failed: the access token is invalid or expired",
			"Check LINE_CHANNEL_ACCESS_TOKEN and issue a new long-lived channel access token in the LINE Developers Console"
	case 400:
		return "Bad Request: the payload was rejected",
			"Check that userId is a valid LINE user id and the message is well formed"
	case 403:
		return "Forbidden: the bot may not message this user",
			"Check that the bot is enabled and the user has added it as a friend"
	}
	return "", ""
}
