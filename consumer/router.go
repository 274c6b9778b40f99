package consumer

import (
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/warren-mq/warren/controller"
	"github.com/warren-mq/warren/internal/urlx"
)

// route extracts the controller headers from a delivery. The virtual
// URL travels in the type property as path[?query]; up to three path
// segments mean controller, id and action. The verb travels in the
// headers table under "method" and defaults to GET.
func route(d *amqp.Delivery) (controller.Headers, error) {
	if d.Type == "" {
		return controller.Headers{}, fmt.Errorf("delivery has no type property")
	}

	path, _ := urlx.Split(d.Type)
	segments := urlx.Segments(path)
	if len(segments) == 0 || len(segments) > 3 {
		return controller.Headers{}, fmt.Errorf("unroutable type %q", d.Type)
	}

	h := controller.Headers{
		Method:        "GET",
		Type:          d.Type,
		Controller:    urlx.Camelize(segments[0]),
		CorrelationID: d.CorrelationId,
		ReplyTo:       d.ReplyTo,
		ContentType:   d.ContentType,
	}
	if m, ok := d.Headers["method"].(string); ok && m != "" {
		h.Method = strings.ToUpper(m)
	}
	if len(segments) > 1 {
		h.ID = segments[1]
	}
	if len(segments) > 2 {
		h.Action = segments[2]
	}
	if h.Action == "" {
		h.Action = defaultAction(h.Method, h.ID)
	}
	return h, nil
}

// defaultAction maps the REST verb to the conventional action when the
// path names none.
func defaultAction(method, id string) string {
	switch method {
	case "POST":
		return "create"
	case "PUT", "PATCH":
		return "update"
	case "DELETE":
		return "destroy"
	default:
		if id != "" {
			return "show"
		}
		return "index"
	}
}
