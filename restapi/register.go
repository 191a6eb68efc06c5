package restapi

import (
	"fmt"

	"github.com/gin-gonic/gin"
)

type HTTPVerb int

const (
	Unknown HTTPVerb = iota
	GET
	DELETE
	POST
	PUT
	PATCH
)

// RestMethod is one admin endpoint.
type RestMethod struct {
	Verb    HTTPVerb
	Path    string
	Handler gin.HandlerFunc
	// Public endpoints skip the bearer token check (health checks and scrapers).
	Public bool
}

// methods is an ordered set of RestMethods keyed by verb and path.
type methods struct {
	keys  map[string]bool
	items []RestMethod
}

// Register adds m. Registering the same verb and path twice is an error.
func (ms *methods) Register(m RestMethod) error {
	if ms.keys == nil {
		ms.keys = make(map[string]bool)
	}
	key := fmt.Sprintf("%d_%s", m.Verb, m.Path)
	if ms.keys[key] {
		return fmt.Errorf("can't add %s, an existing handler in REST method map exists", key)
	}
	ms.keys[key] = true
	ms.items = append(ms.items, m)
	return nil
}

func (ms *methods) mount(r gin.IRoutes, guard func(gin.HandlerFunc) gin.HandlerFunc) {
	for _, m := range ms.items {
		h := m.Handler
		if !m.Public {
			h = guard(h)
		}
		switch m.Verb {
		case GET:
			r.GET(m.Path, h)
		case DELETE:
			r.DELETE(m.Path, h)
		case POST:
			r.POST(m.Path, h)
		case PUT:
			r.PUT(m.Path, h)
		case PATCH:
			r.PATCH(m.Path, h)
		default:
			panic(fmt.Sprintf("HTTP verb %d not supported", m.Verb))
		}
	}
}
