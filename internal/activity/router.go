package activity

type Route int

const (
	RouteQueue Route = iota
	RouteBypass
)

func (r Route) String() string {
	switch r {
	case RouteBypass:
		return "bypass"
	default:
		return "queue"
	}
}

// PriorityRouter decides which records skip batching.
type PriorityRouter struct {
	categories map[Category]struct{}
	actions    map[Action]struct{}
}

// DefaultRouter bypasses SECURITY records and LOGIN/LOGOUT actions.
func DefaultRouter() PriorityRouter {
	return NewPriorityRouter(
		[]Category{CategorySecurity},
		[]Action{ActionLogin, ActionLogout},
	)
}

func NewPriorityRouter(categories []Category, actions []Action) PriorityRouter {
	r := PriorityRouter{
		categories: make(map[Category]struct{}, len(categories)),
		actions:    make(map[Action]struct{}, len(actions)),
	}
	for _, c := range categories {
		r.categories[c] = struct{}{}
	}
	for _, a := range actions {
		r.actions[a] = struct{}{}
	}
	return r
}

func (r PriorityRouter) Classify(rec LogRecord) Route {
	if _, ok := r.categories[rec.Category]; ok {
		return RouteBypass
	}
	if _, ok := r.actions[rec.Action]; ok {
		return RouteBypass
	}
	return RouteQueue
}
