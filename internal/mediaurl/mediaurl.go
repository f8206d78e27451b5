package mediaurl

import "strings"

const PathPrefix = "/api/media/"

// Blob builds the public URL of a stored attachment. An empty baseURL yields
// a server-relative path.
func Blob(baseURL, blobID string) string {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	return baseURL + PathPrefix + blobID
}
