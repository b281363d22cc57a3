// Package webdav implements the change feed client: a minimal WebDAV consumer
// that lists one directory level with PROPFIND and fetches file bodies.
//
// Only the pieces the ingester needs are implemented. Listing requests the
// etag, last-modified, content-length and resource-type properties and
// tolerates servers that omit any of them; the etag/last-modified pair is the
// opaque change token the sync loop diffs against persisted state, so it is
// surfaced verbatim rather than parsed.
package webdav

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrTransport is returned for listing or fetch failures: network errors,
// non-success status codes, and unparsable listing responses. Check with
// errors.Is.
var ErrTransport = errors.New("transport error")

// DefaultTimeout bounds every request issued by the client.
const DefaultTimeout = 30 * time.Second

// Entry is one resource from a directory listing.
type Entry struct {
	// Path is the server-reported href, unique within one listing. It is the
	// key under which processing state is persisted.
	Path string

	// ETag and LastModified form the opaque change token. Either may be
	// empty when the server omits the property.
	ETag         string
	LastModified string

	Size         int64
	IsCollection bool
}

// IsJSON reports whether the entry names a .json file (case-insensitive).
// Only such entries are ingestion candidates.
func (e Entry) IsJSON() bool {
	return !e.IsCollection && strings.HasSuffix(strings.ToLower(e.Path), ".json")
}

// Client lists and fetches resources below a WebDAV base URL.
type Client struct {
	base     *url.URL
	target   string
	username string
	password string
	httpc    *http.Client
}

// NewClient creates a client for the directory root below baseURL.
//
// baseURL is the files endpoint (a trailing slash is added if missing), root
// the remote folder to scan beneath it. Credentials are sent as basic auth on
// every request.
func NewClient(baseURL, root, username, password string) (*Client, error) {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid WebDAV URL %q: %w", baseURL, err)
	}
	if !base.IsAbs() {
		return nil, fmt.Errorf("WebDAV URL %q is not absolute", baseURL)
	}

	target := base.String()
	if root = strings.Trim(root, "/"); root != "" {
		ref, err := url.Parse(root + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid WebDAV root %q: %w", root, err)
		}
		target = base.ResolveReference(ref).String()
	}

	return &Client{
		base:     base,
		target:   target,
		username: username,
		password: password,
		httpc:    &http.Client{Timeout: DefaultTimeout},
	}, nil
}

// Target returns the directory URL listed by List.
func (c *Client) Target() string {
	return c.target
}

// propfindBody requests the properties the change detector needs, one level
// deep.
const propfindBody = `<d:propfind xmlns:d="DAV:">
  <d:prop>
    <d:getetag />
    <d:getlastmodified />
    <d:getcontentlength />
    <d:resourcetype />
  </d:prop>
</d:propfind>`

// List enumerates the target directory one level deep, including
// sub-collections (flagged via IsCollection). Fails with ErrTransport on
// request failure, non-success status, or an unparsable response body.
func (c *Client) List(ctx context.Context) ([]Entry, error) {
	req, err := http.NewRequestWithContext(ctx, "PROPFIND", c.target, strings.NewReader(propfindBody))
	if err != nil {
		return nil, fmt.Errorf("%w: PROPFIND %s: %v", ErrTransport, c.target, err)
	}
	req.Header.Set("Depth", "1")
	req.Header.Set("Content-Type", "application/xml")
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: PROPFIND %s: %v", ErrTransport, c.target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: PROPFIND %s: status %d", ErrTransport, c.target, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: PROPFIND %s: %v", ErrTransport, c.target, err)
	}

	entries, err := parseMultistatus(body)
	if err != nil {
		return nil, fmt.Errorf("%w: PROPFIND %s: %v", ErrTransport, c.target, err)
	}
	return entries, nil
}

// Fetch downloads the body of the resource at href.
// Fails with ErrTransport on request failure or non-success status.
func (c *Client) Fetch(ctx context.Context, href string) ([]byte, error) {
	fileURL := c.URL(href)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %v", ErrTransport, fileURL, err)
	}
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %v", ErrTransport, fileURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: GET %s: status %d", ErrTransport, fileURL, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %v", ErrTransport, fileURL, err)
	}
	return body, nil
}

// URL resolves a listing href into a fetchable URL. Servers return either
// absolute paths (rooted at the host) or hrefs relative to the base URL; both
// forms normalize against the configured base.
func (c *Client) URL(href string) string {
	if ref, err := url.Parse(href); err == nil && ref.IsAbs() {
		return href
	}
	if strings.HasPrefix(href, c.base.Path) {
		return c.base.Scheme + "://" + c.base.Host + href
	}
	ref, err := url.Parse(strings.TrimPrefix(href, "/"))
	if err != nil {
		return href
	}
	return c.base.ResolveReference(ref).String()
}

// multistatus mirrors the DAV:multistatus response shape.
type multistatus struct {
	XMLName   xml.Name      `xml:"DAV: multistatus"`
	Responses []davResponse `xml:"DAV: response"`
}

type davResponse struct {
	Href     string        `xml:"DAV: href"`
	Propstat []davPropstat `xml:"DAV: propstat"`
}

type davPropstat struct {
	Prop davProp `xml:"DAV: prop"`
}

type davProp struct {
	ETag          string          `xml:"DAV: getetag"`
	LastModified  string          `xml:"DAV: getlastmodified"`
	ContentLength string          `xml:"DAV: getcontentlength"`
	ResourceType  davResourceType `xml:"DAV: resourcetype"`
}

type davResourceType struct {
	Collection *struct{} `xml:"DAV: collection"`
}

// parseMultistatus extracts entries from a PROPFIND response. Missing
// optional properties become empty strings.
func parseMultistatus(body []byte) ([]Entry, error) {
	var ms multistatus
	if err := xml.Unmarshal(body, &ms); err != nil {
		return nil, fmt.Errorf("failed to parse multistatus: %w", err)
	}

	entries := make([]Entry, 0, len(ms.Responses))
	for _, resp := range ms.Responses {
		if resp.Href == "" || len(resp.Propstat) == 0 {
			continue
		}

		var entry Entry
		entry.Path = resp.Href
		for _, ps := range resp.Propstat {
			prop := ps.Prop
			if entry.ETag == "" {
				entry.ETag = strings.TrimSpace(prop.ETag)
			}
			if entry.LastModified == "" {
				entry.LastModified = strings.TrimSpace(prop.LastModified)
			}
			if entry.Size == 0 && prop.ContentLength != "" {
				if n, err := strconv.ParseInt(strings.TrimSpace(prop.ContentLength), 10, 64); err == nil {
					entry.Size = n
				}
			}
			if prop.ResourceType.Collection != nil {
				entry.IsCollection = true
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
