package server

// ANSI escapes for the development route table.
const (
	ansiGreen = "\033[32m"
	ansiBlue  = "\033[34m"
	ansiGray  = "\033[90m"
	ansiReset = "\033[0m"
)

// methodColour picks the colour a route's method is printed in. Reads are
// green, the session-changing verbs blue, anything else gray.
func methodColour(method string) string {
	switch method {
	case "GET", "HEAD":
		return ansiGreen
	case "POST":
		return ansiBlue
	default:
		return ansiGray
	}
}
