package storeauth

import "strings"

// RouteAction is the outcome of [Decide].
type RouteAction uint8

const (
	// RouteRender renders the requested page unchanged.
	RouteRender RouteAction = iota
	// RouteRedirect navigates to RouteDecision.Target.
	RouteRedirect
	// RouteLoading shows a neutral loading indicator; used until the first check completes.
	RouteLoading
)

// RouteDecision is a routing outcome. From is set on login redirects and holds
// the path to return to after sign-in.
type RouteDecision struct {
	Action RouteAction
	Target string
	From   string
}

// Redirect reports whether the decision is a redirect.
func (d RouteDecision) Redirect() bool {
	return d.Action == RouteRedirect
}

// RoutesConfig names the paths used by the routing policy.
type RoutesConfig struct {
	Root         string
	AuthPrefix   string
	AdminPrefix  string
	ShopPrefix   string
	Login        string
	Unauthorized string
	AdminHome    string
	UserHome     string
}

func defaultRoutes() RoutesConfig {
	return RoutesConfig{
		Root:         "/",
		AuthPrefix:   "/auth",
		AdminPrefix:  "/admin",
		ShopPrefix:   "/shop",
		Login:        "/auth/login",
		Unauthorized: "/unauthorized",
		AdminHome:    "/admin/dashboard",
		UserHome:     "/shop/home",
	}
}

// Home returns the role-based landing page for user.
func (r RoutesConfig) Home(user *SessionUser) string {
	if user.IsAdmin() {
		return r.AdminHome
	}
	return r.UserHome
}

// Decide applies the routing table to a settled status. The first matching
// row wins, which makes the table total: every (path, status) pair maps to
// exactly one decision.
func (r RoutesConfig) Decide(path string, status AuthStatus) RouteDecision {
	authenticated := status.Authenticated && status.User != nil
	admin := authenticated && status.User.IsAdmin()

	switch {
	case path == r.Root:
		if !authenticated {
			return RouteDecision{Action: RouteRedirect, Target: r.Login}
		}
		return RouteDecision{Action: RouteRedirect, Target: r.Home(status.User)}
	case authenticated && underPrefix(path, r.AuthPrefix):
		return RouteDecision{Action: RouteRedirect, Target: r.Home(status.User)}
	case authenticated && !admin && underPrefix(path, r.AdminPrefix):
		return RouteDecision{Action: RouteRedirect, Target: r.Unauthorized}
	case admin && underPrefix(path, r.ShopPrefix):
		return RouteDecision{Action: RouteRedirect, Target: r.AdminHome}
	case !authenticated && !underPrefix(path, r.AuthPrefix):
		return RouteDecision{Action: RouteRedirect, Target: r.Login, From: path}
	default:
		return RouteDecision{Action: RouteRender}
	}
}

// Render is [RoutesConfig.Decide] gated on Checked: before the first check
// completes it always returns [RouteLoading].
func (r RoutesConfig) Render(path string, status AuthStatus) RouteDecision {
	if !status.Checked {
		return RouteDecision{Action: RouteLoading}
	}
	return r.Decide(path, status)
}

// Decide applies the default routing table.
func Decide(path string, status AuthStatus) RouteDecision {
	return defaultRoutes().Decide(path, status)
}

// underPrefix matches whole path segments, so "/auth" covers "/auth" and
// "/auth/login" but not "/authors".
func underPrefix(path, prefix string) bool {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return false
	}
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?")
}
