package domain

import "strings"

type InfoHash string

// NormalizeInfoHash lowercases a 40 char hex info-hash. It returns "" for
// anything else.
func NormalizeInfoHash(raw string) InfoHash {
	v := strings.ToLower(strings.TrimSpace(raw))
	if len(v) != 40 {
		return ""
	}
	for _, c := range v {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return ""
		}
	}
	return InfoHash(v)
}

func (h InfoHash) Valid() bool {
	return h != "" && NormalizeInfoHash(string(h)) == h
}

func (h InfoHash) String() string { return string(h) }
