// Package router assembles the gin engine and its route groups.
package router

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Access is the gate a route sits behind
type Access int

const (
	// Public routes are open
	Public Access = iota
	// Throttled routes are rate limited by client address
	Throttled
	// Session routes need a bearer session
	Session
)

func (a Access) String() string {
	switch a {
	case Public:
		return "public"
	case Throttled:
		return "throttled"
	case Session:
		return "session"
	default:
		return fmt.Sprintf("access(%d)", int(a))
	}
}

// Route is one endpoint of a Group
type Route struct {
	Method  string
	Path    string
	Access  Access
	Handler gin.HandlerFunc
}

// Group is a set of routes sharing a path prefix
type Group struct {
	Prefix string
	Routes []Route
}

func (g *Group) add(method, path string, access Access, h gin.HandlerFunc) *Group {
	g.Routes = append(g.Routes, Route{Method: method, Path: path, Access: access, Handler: h})
	return g
}

func (g *Group) GET(path string, access Access, h gin.HandlerFunc) *Group {
	return g.add(http.MethodGet, path, access, h)
}

func (g *Group) POST(path string, access Access, h gin.HandlerFunc) *Group {
	return g.add(http.MethodPost, path, access, h)
}

func (g *Group) PUT(path string, access Access, h gin.HandlerFunc) *Group {
	return g.add(http.MethodPut, path, access, h)
}

// Guards are the middleware behind each Access level. A nil guard lets the
// request through, except Session, which must be set for Session routes.
type Guards struct {
	Throttle gin.HandlerFunc
	Session  gin.HandlerFunc
}

func (g Guards) chain(r Route) ([]gin.HandlerFunc, error) {
	switch r.Access {
	case Public:
		return []gin.HandlerFunc{r.Handler}, nil
	case Throttled:
		if g.Throttle == nil {
			return []gin.HandlerFunc{r.Handler}, nil
		}
		return []gin.HandlerFunc{g.Throttle, r.Handler}, nil
	case Session:
		if g.Session == nil {
			return nil, fmt.Errorf("route %s %s needs a session guard", r.Method, r.Path)
		}
		return []gin.HandlerFunc{g.Session, r.Handler}, nil
	default:
		return nil, fmt.Errorf("route %s %s: unknown %s", r.Method, r.Path, r.Access)
	}
}

// Mount registers groups under /api/<version> with mw in front of every
// versioned route.
func Mount(engine *gin.Engine, version string, guards Guards, groups []*Group, mw ...gin.HandlerFunc) error {
	api := engine.Group("/api/"+version, mw...)
	for _, g := range groups {
		rg := api.Group(g.Prefix)
		for _, r := range g.Routes {
			handlers, err := guards.chain(r)
			if err != nil {
				return err
			}
			rg.Handle(r.Method, r.Path, handlers...)
		}
	}
	return nil
}
