package grid

import "github.com/cespare/xxhash/v2"

// userColors is the palette user colours are picked from.
var userColors = []string{
	"#2563eb", "#dc2626", "#16a34a", "#9333ea",
	"#ea580c", "#0891b2", "#c026d3", "#ca8a04",
	"#4f46e5", "#059669", "#e11d48", "#0d9488",
}

// ColorForUser returns the display colour for a user id. The same id always
// maps to the same colour; stores persist it on first contact.
func ColorForUser(userID string) string {
	return userColors[xxhash.Sum64String(userID)%uint64(len(userColors))]
}
