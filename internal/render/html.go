package render

import (
	"fmt"
	"html"
	"strings"

	"github.com/russross/blackfriday/v2"

	"github.com/MikeSquared-Agency/persona/internal/persona"
)

const htmlStyle = `body{font-family:-apple-system,Segoe UI,Helvetica,Arial,sans-serif;max-width:860px;margin:2em auto;padding:0 1em;color:#1c1c1c;line-height:1.5}
h1{border-bottom:3px solid #ff4500;padding-bottom:.3em}
h2{color:#ff4500;margin-top:1.6em}
code{background:#f3f3f3;padding:0 .25em;border-radius:3px}
a{color:#0079d3}`

// HTML renders the markdown report through blackfriday into a standalone
// page. Raw HTML in model output is dropped.
func HTML(r *persona.Report) string {
	renderer := blackfriday.NewHTMLRenderer(blackfriday.HTMLRendererParameters{
		Flags: blackfriday.CommonHTMLFlags | blackfriday.SkipHTML | blackfriday.Safelink | blackfriday.HrefTargetBlank,
	})
	body := blackfriday.Run([]byte(Markdown(r)),
		blackfriday.WithExtensions(blackfriday.CommonExtensions),
		blackfriday.WithRenderer(renderer),
	)

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&b, "<title>Persona: u/%s</title>\n", html.EscapeString(r.Username))
	fmt.Fprintf(&b, "<style>\n%s\n</style>\n</head>\n<body>\n", htmlStyle)
	b.Write(body)
	b.WriteString("</body>\n</html>\n")
	return b.String()
}
