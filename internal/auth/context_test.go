package auth

import (
	"context"
	"testing"
)

func TestUserContextRoundTrip(t *testing.T) {
	ctx := context.Background()

	if _, ok := UserFromContext(ctx); ok {
		t.Error("empty context should carry no user")
	}
	if UserID(ctx) != 0 || CompanyID(ctx) != 0 {
		t.Error("helpers should return zero on empty context")
	}

	ac := AuthContext{UserID: 7, CompanyID: 3, Role: "owner", SessionID: 11}
	ctx = WithUser(ctx, ac)

	got, ok := UserFromContext(ctx)
	if !ok {
		t.Fatal("expected user in context")
	}
	if got != ac {
		t.Errorf("got %+v, want %+v", got, ac)
	}
	if UserID(ctx) != 7 || CompanyID(ctx) != 3 {
		t.Error("helpers should read the stored context")
	}
}

func TestAdminContextIsSeparate(t *testing.T) {
	ctx := WithUser(context.Background(), AuthContext{UserID: 7})

	// A user context does not leak into the admin accessor.
	if _, ok := AdminFromContext(ctx); ok {
		t.Error("user context must not satisfy admin lookup")
	}

	ctx = WithAdmin(ctx, AdminContext{UserID: 9, SessionID: 2})
	got, ok := AdminFromContext(ctx)
	if !ok || got.UserID != 9 {
		t.Errorf("admin context = %+v, %v", got, ok)
	}

	// Both can coexist; each accessor sees its own.
	if UserID(ctx) != 7 {
		t.Error("user context should survive adding an admin context")
	}
}
