package message

import "encoding/json"

// Response is the structured reply a consumer publishes back to the
// caller. Status follows HTTP semantics.
type Response struct {
	Status  int               `json:"status"`
	Body    any               `json:"body"`
	Headers map[string]string `json:"headers,omitempty"`
}

// DecodeResponse parses the reply bytes received on the direct reply
// queue into a Response.
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// BodyMap returns the response body as a map when it is one, or nil.
func (r *Response) BodyMap() map[string]any {
	m, _ := r.Body.(map[string]any)
	return m
}

// Success reports whether the status is in the 2xx range.
func (r *Response) Success() bool {
	return r.Status >= 200 && r.Status < 300
}
