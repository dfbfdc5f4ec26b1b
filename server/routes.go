package server

import (
	"sort"
	"strings"

	"github.com/kbukum/stepflow/server/endpoint"
)

var methodRank = map[string]int{"GET": 0, "POST": 1, "PUT": 2, "PATCH": 3, "DELETE": 4}

// Route is a registered HTTP route.
type Route struct {
	Method  string `json:"method"`
	Path    string `json:"path"`
	Handler string `json:"handler"`
}

// Routes lists API routes by path, then method, followed by the probes.
func (s *Server) Routes() []Route {
	probe := make(map[string]bool, len(endpoint.Paths))
	for _, p := range endpoint.Paths {
		probe[p] = true
	}
	rank := func(m string) int {
		if r, ok := methodRank[m]; ok {
			return r
		}
		return len(methodRank)
	}

	infos := s.engine.Routes()
	sort.SliceStable(infos, func(i, j int) bool {
		a, b := infos[i], infos[j]
		switch {
		case probe[a.Path] != probe[b.Path]:
			return probe[b.Path]
		case a.Path != b.Path:
			return a.Path < b.Path
		}
		return rank(a.Method) < rank(b.Method)
	})

	routes := make([]Route, len(infos))
	for i, r := range infos {
		routes[i] = Route{Method: r.Method, Path: r.Path, Handler: handlerName(r.Handler)}
	}
	return routes
}

// handlerName shortens the runtime name gin reports for a handler:
// "github.com/kbukum/stepflow/api.(*Handler).GetRun-fm" is "Handler.GetRun"
// and a closure such as "api.stream.func1" is named after its enclosing
// function, "stream".
func handlerName(full string) string {
	name := strings.TrimSuffix(full, "-fm")
	name = name[strings.LastIndex(name, "/")+1:]
	name = strings.NewReplacer("(*", "", ")", "").Replace(name)

	parts := strings.Split(name, ".")
	for i := 1; i < len(parts); i++ {
		if closure(parts[i]) {
			return strings.ToLower(parts[i-1])
		}
	}
	if len(parts) > 1 && strings.ToLower(parts[0]) == parts[0] {
		parts = parts[1:]
	}
	return strings.Join(parts, ".")
}

func closure(part string) bool {
	n := strings.TrimPrefix(part, "func")
	if n == part || n == "" {
		return false
	}
	return strings.Trim(n, "0123456789") == ""
}
