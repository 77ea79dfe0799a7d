package process

import (
	"mime"
	"net/url"
	"path"
	"strings"
)

// downloadableMIMEPrefixes are content types treated as data artifacts
var downloadableMIMEPrefixes = []string{
	"text/csv",
	"application/json",
	"application/pdf",
	"application/zip",
	"application/x-zip-compressed",
	"application/vnd.ms-excel",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"text/plain",
	"application/xml",
	"application/x-tar",
	"application/gzip",
	"application/octet-stream",
}

// downloadableExtensions is the suffix fallback used when no content type matches
var downloadableExtensions = []string{
	".csv", ".xlsx", ".xls", ".json", ".zip", ".pdf", ".xml", ".parquet", ".txt", ".gz", ".tar",
}

// IsDownloadable reports whether rawURL should be fetched as a file rather than
// crawled as a page. contentTypeHint, when non-empty, takes precedence over the
// type guessed from the URL's extension. No signal at all means "page".
func IsDownloadable(rawURL, contentTypeHint string) bool {
	contentType := strings.ToLower(strings.TrimSpace(contentTypeHint))
	if contentType == "" {
		contentType = GuessMIME(rawURL)
	}
	if contentType != "" {
		for _, prefix := range downloadableMIMEPrefixes {
			if strings.HasPrefix(contentType, prefix) {
				return true
			}
		}
	}

	lowered := strings.ToLower(rawURL)
	lowerPath := lowered
	if u, err := url.Parse(rawURL); err == nil {
		lowerPath = strings.ToLower(u.Path)
	}
	for _, ext := range downloadableExtensions {
		if strings.HasSuffix(lowerPath, ext) || strings.HasSuffix(lowered, ext) {
			return true
		}
	}
	return false
}

// GuessMIME returns the MIME type registered for the extension of rawURL's
// path, or "" when the extension is unknown.
func GuessMIME(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	ext := path.Ext(p)
	if ext == "" {
		return ""
	}
	return strings.ToLower(mime.TypeByExtension(strings.ToLower(ext)))
}

// SplitLinks partitions links into artifacts to download and pages to crawl,
// preserving order within each group.
func SplitLinks(links []string) (downloads, pages []string) {
	for _, link := range links {
		if IsDownloadable(link, "") {
			downloads = append(downloads, link)
		} else {
			pages = append(pages, link)
		}
	}
	return downloads, pages
}
