package auth

import "context"

type userKey struct{}
type adminKey struct{}

// AuthContext identifies a request in the ordinary-user trust domain:
// who is acting, for which company, with which membership role.
type AuthContext struct {
	UserID    int64
	CompanyID int64
	Role      string
	SessionID int64
}

// AdminContext identifies a request in the administrator trust domain.
// It carries no company: administrators act on the platform, not within
// a tenant.
type AdminContext struct {
	UserID    int64
	SessionID int64
}

func WithUser(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, userKey{}, ac)
}

func UserFromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(userKey{}).(AuthContext)
	return ac, ok
}

func WithAdmin(ctx context.Context, ac AdminContext) context.Context {
	return context.WithValue(ctx, adminKey{}, ac)
}

func AdminFromContext(ctx context.Context) (AdminContext, bool) {
	ac, ok := ctx.Value(adminKey{}).(AdminContext)
	return ac, ok
}

func UserID(ctx context.Context) int64 {
	ac, ok := UserFromContext(ctx)
	if !ok {
		return 0
	}
	return ac.UserID
}

func CompanyID(ctx context.Context) int64 {
	ac, ok := UserFromContext(ctx)
	if !ok {
		return 0
	}
	return ac.CompanyID
}
