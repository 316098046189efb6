package server

// ANSI colours for the DEV route log.
const (
	green      = "\033[32m"
	blue       = "\033[34m"
	cyan       = "\033[36m"
	yellow     = "\033[33m"
	magenta    = "\033[35m"
	gray       = "\033[90m"
	resetColor = "\033[0m"
)

var methodColors = map[string]string{
	"GET":     green,
	"POST":    blue,
	"PUT":     cyan,
	"DELETE":  yellow,
	"PATCH":   magenta,
	"OPTIONS": gray,
}

// colourMethod pads method to a fixed width and wraps it in its colour.
func colourMethod(method string) string {
	colour, ok := methodColors[method]
	if !ok {
		colour = gray
	}
	return colour + " " + padRight(method, 7) + resetColor
}

func padRight(s string, width int) string {
	for len(s) < width {
		s += " "
	}
	return s
}
