package message

import "fmt"

// statusNames maps the symbolic HTTP status names accepted by
// Controller.Render to their numeric codes.
var statusNames = map[string]int{
	"continue":              100,
	"ok":                    200,
	"created":               201,
	"accepted":              202,
	"no_content":            204,
	"moved_permanently":     301,
	"found":                 302,
	"not_modified":          304,
	"bad_request":           400,
	"unauthorized":          401,
	"forbidden":             403,
	"not_found":             404,
	"method_not_allowed":    405,
	"not_acceptable":        406,
	"request_timeout":       408,
	"conflict":              409,
	"gone":                  410,
	"unprocessable_entity":  422,
	"too_many_requests":     429,
	"internal_server_error": 500,
	"not_implemented":       501,
	"bad_gateway":           502,
	"service_unavailable":   503,
	"gateway_timeout":       504,
}

// StatusCode resolves a render status given either as an integer or as
// a symbolic name ("ok", "unprocessable_entity", ...).
func StatusCode(status any) (int, error) {
	switch s := status.(type) {
	case int:
		return s, nil
	case string:
		if code, ok := statusNames[s]; ok {
			return code, nil
		}
		return 0, fmt.Errorf("unknown status name %q", s)
	default:
		return 0, fmt.Errorf("unsupported status type %T", status)
	}
}
