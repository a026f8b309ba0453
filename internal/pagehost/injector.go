package pagehost

import (
	"bytes"
	_ "embed"
	"strings"
)

// RuntimePath serves the page runtime for pages that load it themselves.
const RuntimePath = "/__wvbridge/bridge.js"

// SocketPath is where the page runtime connects back to the host.
const SocketPath = "/__wvbridge"

//go:embed bridge.js
var runtimeJS string

// RuntimeScript returns the page runtime source.
func RuntimeScript() string {
	return runtimeJS
}

var runtimeTag = []byte("<script data-wvbridge-runtime>\n" + runtimeJS + "</script>\n")

// InjectRuntime adds the page runtime to an HTML document: before </head>,
// else after <head>, <body ...> or <html ...>, else at the very start.
func InjectRuntime(body []byte) []byte {
	if idx := bytes.Index(body, []byte("</head>")); idx != -1 {
		return insertAt(body, idx)
	}
	if idx := bytes.Index(body, []byte("<head>")); idx != -1 {
		return insertAt(body, idx+len("<head>"))
	}
	for _, open := range []string{"<body", "<html"} {
		if idx := bytes.Index(body, []byte(open)); idx != -1 {
			if end := bytes.IndexByte(body[idx:], '>'); end != -1 {
				return insertAt(body, idx+end+1)
			}
		}
	}
	return insertAt(body, 0)
}

func insertAt(body []byte, at int) []byte {
	out := make([]byte, 0, len(body)+len(runtimeTag))
	out = append(out, body[:at]...)
	out = append(out, runtimeTag...)
	return append(out, body[at:]...)
}

// ShouldInject reports whether a response with contentType is an HTML page.
func ShouldInject(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "text/html")
}
