package har

// HAR is an HTTP Archive document (HAR 1.2). Only the fields probe
// generation reads are decoded.
type HAR struct {
	Log *Log `json:"log"`
}

// Log contains the recorded entries.
type Log struct {
	Version string   `json:"version"`
	Creator *Creator `json:"creator"`
	Entries []*Entry `json:"entries"`
}

// Creator names the tool that produced the archive.
type Creator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Entry is one recorded request/response pair.
type Entry struct {
	StartedDateTime string    `json:"startedDateTime"`
	Time            float64   `json:"time"`
	Request         *Request  `json:"request"`
	Response        *Response `json:"response"`
}

// Request is the recorded request.
type Request struct {
	Method      string         `json:"method"`
	URL         string         `json:"url"`
	HTTPVersion string         `json:"httpVersion"`
	Headers     []*Header      `json:"headers"`
	QueryString []*QueryString `json:"queryString"`
	PostData    *PostData      `json:"postData,omitempty"`
}

// Response is the recorded response. Its status becomes the expected status
// of the generated probe.
type Response struct {
	Status     int       `json:"status"`
	StatusText string    `json:"statusText"`
	Headers    []*Header `json:"headers"`
	Content    *Content  `json:"content"`
}

// Header is an HTTP header name-value pair.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// QueryString is a URL query parameter.
type QueryString struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// PostData is the recorded request body.
type PostData struct {
	MimeType string `json:"mimeType"`
	Text     string `json:"text,omitempty"`
}

// Content describes the response body.
type Content struct {
	Size     int    `json:"size"`
	MimeType string `json:"mimeType"`
}
