package generator

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/jonathan/site-deployer/internal/types"
)

// AttachmentDir holds decoded attachments inside the generated site
const AttachmentDir = "attachments"

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// addAttachments decodes data URI attachments into files under AttachmentDir.
// Remote URLs are left for the page to fetch. It returns the names that
// looked like data URIs but could not be decoded.
func addAttachments(files types.Files, attachments []types.Attachment) []string {
	var skipped []string
	for i, a := range attachments {
		if !strings.HasPrefix(a.URL, "data:") {
			continue
		}
		content, err := decodeDataURI(a.URL)
		if err != nil {
			skipped = append(skipped, a.Name)
			continue
		}
		name := safeFileName(a.Name)
		if name == "" {
			name = fmt.Sprintf("attachment-%d", i+1)
		}
		files[path.Join(AttachmentDir, name)] = content
	}
	return skipped
}

// decodeDataURI decodes an RFC 2397 data URI: data:[<mediatype>][;base64],<data>
func decodeDataURI(uri string) ([]byte, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return nil, fmt.Errorf("not a data URI")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, fmt.Errorf("data URI has no payload separator")
	}

	if strings.HasSuffix(strings.ToLower(meta), ";base64") {
		payload = strings.TrimSpace(payload)
		content, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			// some clients strip padding
			content, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
			if err != nil {
				return nil, fmt.Errorf("invalid base64 payload: %w", err)
			}
		}
		return content, nil
	}

	content, err := url.PathUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid percent-encoded payload: %w", err)
	}
	return []byte(content), nil
}

func safeFileName(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == ".." {
		return ""
	}
	base = unsafeFileChars.ReplaceAllString(base, "_")
	return strings.TrimLeft(base, ".")
}
