package generator

import (
	"fmt"
	"html"
	"strings"
)

func renderReadme(title, brief string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# %s\n\n", title))
	sb.WriteString(fmt.Sprintf("**Brief:** %s\n\n", brief))
	sb.WriteString("## Setup\n")
	sb.WriteString("- This site was auto-generated from the brief above.\n")
	sb.WriteString("- Open `index.html` in a browser, no build step is needed.\n\n")
	sb.WriteString("## Usage\n")
	sb.WriteString("The page renders the brief and, when a sample CSV attachment is supplied, the total of its `sales` column in `#total-sales`.\n\n")
	sb.WriteString("## Deployment\n")
	sb.WriteString("Served as a static site from the repository root.\n\n")
	sb.WriteString("## License\n")
	sb.WriteString("MIT, see `LICENSE`.\n")
	return sb.String()
}

const mitLicense = `MIT License

Copyright (c) %d %s

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in all
copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
SOFTWARE.
`

func renderLicense(year int, holder string) string {
	return fmt.Sprintf(mitLicense, year, holder)
}

// renderFallback is the self-contained page used when the template is unusable
func renderFallback(title, brief string) string {
	return fmt.Sprintf(`<!doctype html><html><head><meta charset="utf-8"/><title>%s</title></head><body><h1 id="brief">%s</h1></body></html>`,
		html.EscapeString(title), html.EscapeString(brief))
}
