package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"barstock/backend/internal/domain"
	"barstock/backend/internal/store"
	"barstock/backend/internal/store/memory"
)

// testEnv wires a service over an empty in-memory store with one
// registered organization so every test starts from a clean slate.
type testEnv struct {
	svc   *Service
	repo  *memory.Store
	admin domain.User
	ctx   context.Context
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repo := memory.New()
	svc := New(repo, nil)

	admin, err := svc.Register(context.Background(), domain.RegisterRequest{
		OrgName:  "Test Bar",
		Name:     "Test Admin",
		Email:    "admin@test.bar",
		Password: "correct-horse",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	ctx := WithActor(context.Background(), domain.Actor{
		UserID: admin.ID,
		Name:   admin.Name,
		Role:   admin.Role,
		OrgID:  admin.OrgID,
	})

	return &testEnv{svc: svc, repo: repo, admin: admin, ctx: ctx}
}

// addProduct creates a product with a price and an initial stock level.
func (e *testEnv) addProduct(t *testing.T, name string, ml int, price string, stock int) domain.Product {
	t.Helper()

	volume, err := e.repo.GetOrCreateVolume(e.ctx, ml)
	if err != nil {
		t.Fatalf("volume: %v", err)
	}
	amount, err := decimal.NewFromString(price)
	if err != nil {
		t.Fatalf("price %q: %v", price, err)
	}

	product, err := e.svc.CreateProduct(e.ctx, domain.ProductCreateRequest{
		Name:        name,
		NewBrand:    name,
		NewCategory: "Whiskey",
		VolumeID:    volume.ID,
		Price:       amount,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	if stock > 0 {
		resp, err := e.svc.AdjustStock(e.ctx, domain.AdjustStockRequest{
			Updates: map[string]int{product.ID: stock},
		})
		if err != nil {
			t.Fatalf("adjust stock: %v", err)
		}
		if resp.Applied != 1 {
			t.Fatalf("expected 1 stock adjustment, got %d", resp.Applied)
		}
	}
	return product
}

func (e *testEnv) stockQty(t *testing.T, productID string) int {
	t.Helper()
	stock, err := e.svc.GetStock(e.ctx, productID)
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	return stock.Quantity
}

func TestReconcileMovesStockByDelta(t *testing.T) {
	env := newTestEnv(t)
	product := env.addProduct(t, "Jameson", 750, "32.99", 10)

	result, err := env.svc.ReconcileSales(env.ctx, domain.ReconcileRequest{
		SaleDate: "2026-08-27",
		Items:    map[string]int{product.ID: 5},
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(result.Applied) != 1 || len(result.Rejected) != 0 {
		t.Fatalf("expected 1 applied, got %+v", result)
	}
	if got := env.stockQty(t, product.ID); got != 5 {
		t.Fatalf("expected stock 5 after first reconcile, got %d", got)
	}

	// Raising the day's quantity from 5 to 8 moves stock by the delta of 3.
	result, err = env.svc.ReconcileSales(env.ctx, domain.ReconcileRequest{
		SaleDate: "2026-08-27",
		Items:    map[string]int{product.ID: 8},
	})
	if err != nil {
		t.Fatalf("re-reconcile: %v", err)
	}
	if len(result.Applied) != 1 {
		t.Fatalf("expected re-reconcile to apply, got %+v", result)
	}
	if got := env.stockQty(t, product.ID); got != 2 {
		t.Fatalf("expected stock 2 after delta of 3, got %d", got)
	}
}

func TestReconcileLowersSaleRestoresStock(t *testing.T) {
	env := newTestEnv(t)
	product := env.addProduct(t, "Bombay Sapphire", 750, "27.50", 10)

	for _, qty := range []int{8, 3} {
		_, err := env.svc.ReconcileSales(env.ctx, domain.ReconcileRequest{
			SaleDate: "2026-08-27",
			Items:    map[string]int{product.ID: qty},
		})
		if err != nil {
			t.Fatalf("reconcile qty=%d: %v", qty, err)
		}
	}

	// 10 - 8 = 2, then delta -5 restores stock to 7.
	if got := env.stockQty(t, product.ID); got != 7 {
		t.Fatalf("expected stock 7 after lowering sale, got %d", got)
	}
}

func TestReconcileRejectsInsufficientStock(t *testing.T) {
	env := newTestEnv(t)
	product := env.addProduct(t, "Corona Extra", 355, "2.50", 4)

	result, err := env.svc.ReconcileSales(env.ctx, domain.ReconcileRequest{
		SaleDate: "2026-08-27",
		Items:    map[string]int{product.ID: 9},
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(result.Applied) != 0 || len(result.Rejected) != 1 {
		t.Fatalf("expected rejection, got %+v", result)
	}
	rejection := result.Rejected[0]
	if rejection.ProductID != product.ID {
		t.Fatalf("rejection names wrong product: %s", rejection.ProductID)
	}
	if rejection.Reason != "insufficient stock, available=4, requested_delta=9" {
		t.Fatalf("unexpected rejection reason: %q", rejection.Reason)
	}

	// A rejected line leaves stock and sales untouched.
	if got := env.stockQty(t, product.ID); got != 4 {
		t.Fatalf("expected stock unchanged at 4, got %d", got)
	}
	sales, err := env.svc.ListSales(env.ctx, "2026-08-27")
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if len(sales) != 0 {
		t.Fatalf("expected no sale rows after rejection, got %d", len(sales))
	}
}

func TestReconcilePartialBatch(t *testing.T) {
	env := newTestEnv(t)
	good := env.addProduct(t, "Tito's Handmade", 750, "24.99", 20)
	bad := env.addProduct(t, "Guinness Draught", 440, "3.25", 2)

	result, err := env.svc.ReconcileSales(env.ctx, domain.ReconcileRequest{
		SaleDate: "2026-08-27",
		Items: map[string]int{
			good.ID: 5,
			bad.ID:  10,
		},
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(result.Applied) != 1 || result.Applied[0] != good.ID {
		t.Fatalf("expected only the in-stock line applied, got %+v", result)
	}
	if len(result.Rejected) != 1 || result.Rejected[0].ProductID != bad.ID {
		t.Fatalf("expected the oversized line rejected, got %+v", result)
	}
	if got := env.stockQty(t, good.ID); got != 15 {
		t.Fatalf("expected applied line to move stock to 15, got %d", got)
	}
	if got := env.stockQty(t, bad.ID); got != 2 {
		t.Fatalf("expected rejected line to leave stock at 2, got %d", got)
	}
}

func TestReconcileResubmissionIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	product := env.addProduct(t, "Bacardi Superior", 1000, "22.00", 12)

	for i := 0; i < 2; i++ {
		result, err := env.svc.ReconcileSales(env.ctx, domain.ReconcileRequest{
			SaleDate: "2026-08-27",
			Items:    map[string]int{product.ID: 4},
		})
		if err != nil {
			t.Fatalf("reconcile run %d: %v", i, err)
		}
		if len(result.Applied) != 1 {
			t.Fatalf("run %d: expected line applied, got %+v", i, result)
		}
	}

	if got := env.stockQty(t, product.ID); got != 8 {
		t.Fatalf("expected stock 8 after identical resubmission, got %d", got)
	}

	// The zero-delta rerun still leaves an audit row: initial adjustment
	// plus one row per reconcile run.
	history, err := env.svc.StockHistory(env.ctx, product.ID, 10)
	if err != nil {
		t.Fatalf("stock history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 audit rows, got %d", len(history))
	}
	if history[0].PreviousQuantity != 8 || history[0].NewQuantity != 8 {
		t.Fatalf("expected zero-delta audit row 8->8, got %d->%d",
			history[0].PreviousQuantity, history[0].NewQuantity)
	}
}

func TestReconcileTotalsUseEffectivePrice(t *testing.T) {
	env := newTestEnv(t)
	product := env.addProduct(t, "Corona Extra", 355, "2.50", 10)

	_, err := env.svc.ReconcileSales(env.ctx, domain.ReconcileRequest{
		SaleDate: "2026-08-27",
		Items:    map[string]int{product.ID: 4},
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	sales, err := env.svc.ListSales(env.ctx, "2026-08-27")
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if len(sales) != 1 {
		t.Fatalf("expected one sale row, got %d", len(sales))
	}
	if sales[0].QuantitySold != 4 || sales[0].TotalPrice.StringFixed(2) != "10.00" {
		t.Fatalf("expected qty=4 total=10.00, got qty=%d total=%s",
			sales[0].QuantitySold, sales[0].TotalPrice.StringFixed(2))
	}
	if got := env.stockQty(t, product.ID); got != 6 {
		t.Fatalf("expected stock 6, got %d", got)
	}

	// Raising the day's sale to 6 reprices the whole quantity.
	_, err = env.svc.ReconcileSales(env.ctx, domain.ReconcileRequest{
		SaleDate: "2026-08-27",
		Items:    map[string]int{product.ID: 6},
	})
	if err != nil {
		t.Fatalf("re-reconcile: %v", err)
	}
	sales, err = env.svc.ListSales(env.ctx, "2026-08-27")
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if sales[0].QuantitySold != 6 || sales[0].TotalPrice.StringFixed(2) != "15.00" {
		t.Fatalf("expected qty=6 total=15.00, got qty=%d total=%s",
			sales[0].QuantitySold, sales[0].TotalPrice.StringFixed(2))
	}
	if got := env.stockQty(t, product.ID); got != 4 {
		t.Fatalf("expected stock 4, got %d", got)
	}
}

func TestReconcileSkipsUnknownAndForeignProducts(t *testing.T) {
	env := newTestEnv(t)
	mine := env.addProduct(t, "Jameson", 750, "32.99", 10)

	// Second organization with its own product.
	other := newTestEnv(t)
	foreign := other.addProduct(t, "Campo Viejo Rioja", 750, "13.75", 10)

	result, err := env.svc.ReconcileSales(env.ctx, domain.ReconcileRequest{
		SaleDate: "2026-08-27",
		Items: map[string]int{
			mine.ID:       2,
			foreign.ID:    2,
			"no-such-id":  2,
			"":            2,
		},
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(result.Applied) != 1 || result.Applied[0] != mine.ID {
		t.Fatalf("expected only own product applied, got %+v", result)
	}
	if len(result.Rejected) != 0 {
		t.Fatalf("skipped lines must not surface as rejections, got %+v", result.Rejected)
	}
	if got := other.stockQty(t, foreign.ID); got != 10 {
		t.Fatalf("foreign stock must be untouched, got %d", got)
	}
}

func TestReconcileSkipsNegativeQuantities(t *testing.T) {
	env := newTestEnv(t)
	product := env.addProduct(t, "Guinness Draught", 440, "3.25", 10)

	result, err := env.svc.ReconcileSales(env.ctx, domain.ReconcileRequest{
		SaleDate: "2026-08-27",
		Items:    map[string]int{product.ID: -3},
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(result.Applied) != 0 || len(result.Rejected) != 0 {
		t.Fatalf("negative quantity must be silently skipped, got %+v", result)
	}
	if got := env.stockQty(t, product.ID); got != 10 {
		t.Fatalf("expected stock unchanged, got %d", got)
	}
}

func TestReconcileRejectsBadDate(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.ReconcileSales(env.ctx, domain.ReconcileRequest{
		SaleDate: "27-08-2026",
		Items:    map[string]int{},
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for malformed date, got %v", err)
	}
}

func TestReconcileRequiresManagerOrAdmin(t *testing.T) {
	env := newTestEnv(t)
	staffCtx := WithActor(context.Background(), domain.Actor{
		UserID: "usr-staff", Name: "Staff", Role: domain.RoleStaff, OrgID: env.admin.OrgID,
	})

	_, err := env.svc.ReconcileSales(staffCtx, domain.ReconcileRequest{
		SaleDate: "2026-08-27",
		Items:    map[string]int{},
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for staff, got %v", err)
	}
}

func TestAdjustStockSkipsNoopAssignments(t *testing.T) {
	env := newTestEnv(t)
	product := env.addProduct(t, "Tito's Handmade", 750, "24.99", 30)

	// Same value again: nothing applied, no audit row added.
	resp, err := env.svc.AdjustStock(env.ctx, domain.AdjustStockRequest{
		Updates: map[string]int{product.ID: 30},
	})
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if resp.Applied != 0 {
		t.Fatalf("expected no-op assignment skipped, applied=%d", resp.Applied)
	}

	history, err := env.svc.StockHistory(env.ctx, product.ID, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected only the initial audit row, got %d", len(history))
	}

	// A real change is applied and audited.
	resp, err = env.svc.AdjustStock(env.ctx, domain.AdjustStockRequest{
		Updates: map[string]int{product.ID: 25, "no-such-id": 5},
	})
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if resp.Applied != 1 {
		t.Fatalf("expected exactly the changed product applied, got %d", resp.Applied)
	}
	if got := env.stockQty(t, product.ID); got != 25 {
		t.Fatalf("expected stock 25, got %d", got)
	}
}

func TestStockHistoryReconstructsQuantity(t *testing.T) {
	env := newTestEnv(t)
	product := env.addProduct(t, "Bacardi Superior", 1000, "22.00", 12)

	steps := []map[string]int{
		{product.ID: 3},
		{product.ID: 7},
		{product.ID: 5},
	}
	for _, items := range steps {
		if _, err := env.svc.ReconcileSales(env.ctx, domain.ReconcileRequest{
			SaleDate: "2026-08-27",
			Items:    items,
		}); err != nil {
			t.Fatalf("reconcile: %v", err)
		}
	}

	history, err := env.svc.StockHistory(env.ctx, product.ID, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) == 0 {
		t.Fatal("expected audit rows")
	}
	// Newest-first: the latest row's NewQuantity is the current stock.
	if history[0].NewQuantity != env.stockQty(t, product.ID) {
		t.Fatalf("latest audit row %d does not match stock %d",
			history[0].NewQuantity, env.stockQty(t, product.ID))
	}
	// Each row chains onto the previous one.
	for i := 0; i+1 < len(history); i++ {
		if history[i].PreviousQuantity != history[i+1].NewQuantity {
			t.Fatalf("audit chain broken at %d: prev=%d, older new=%d",
				i, history[i].PreviousQuantity, history[i+1].NewQuantity)
		}
	}
}

func TestAuthenticateLockout(t *testing.T) {
	env := newTestEnv(t)

	var lastErr error
	for i := 0; i < 5; i++ {
		_, lastErr = env.svc.Authenticate(context.Background(), "admin@test.bar", "wrong-password")
	}
	if !errors.Is(lastErr, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked after 5 failures, got %v", lastErr)
	}

	// Even the correct password is refused while locked.
	_, err := env.svc.Authenticate(context.Background(), "admin@test.bar", "correct-horse")
	if !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected lockout to block valid credentials, got %v", err)
	}
}

func TestRegisterDuplicateEmailLeavesNoOrphanOrg(t *testing.T) {
	env := newTestEnv(t)

	// Re-using the admin email must fail without consuming the new
	// organization name.
	_, err := env.svc.Register(context.Background(), domain.RegisterRequest{
		OrgName:  "Second Bar",
		Name:     "Second Admin",
		Email:    "admin@test.bar",
		Password: "correct-horse",
	})
	if !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for reused email, got %v", err)
	}

	if _, err := env.svc.Register(context.Background(), domain.RegisterRequest{
		OrgName:  "Second Bar",
		Name:     "Second Admin",
		Email:    "admin2@test.bar",
		Password: "correct-horse",
	}); err != nil {
		t.Fatalf("org name must stay available after a rejected registration: %v", err)
	}
}

func TestAuthenticateUnknownUser(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Authenticate(context.Background(), "ghost@test.bar", "whatever")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestResetUserPasswordIsOrgScoped(t *testing.T) {
	env := newTestEnv(t)
	other := newTestEnv(t)

	// env's admin must not be able to reset other org's admin password.
	err := env.svc.ResetUserPassword(env.ctx, other.admin.ID, domain.ResetPasswordRequest{
		NewPassword: "new-password-1",
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for cross-org reset, got %v", err)
	}
}

func TestCreateUserForcesPasswordChange(t *testing.T) {
	env := newTestEnv(t)

	user, err := env.svc.CreateUser(env.ctx, domain.UserCreateRequest{
		Name:     "Bar Manager",
		Email:    "manager@test.bar",
		Password: "provisional1",
		Role:     "manager",
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if !user.NeedsPasswordChange {
		t.Fatal("expected NeedsPasswordChange on provisioned accounts")
	}

	authed, err := env.svc.Authenticate(context.Background(), "manager@test.bar", "provisional1")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	managerCtx := WithActor(context.Background(), domain.Actor{
		UserID: authed.ID, Name: authed.Name, Role: authed.Role, OrgID: authed.OrgID,
	})
	if err := env.svc.ChangePassword(managerCtx, domain.ChangePasswordRequest{
		OldPassword: "provisional1",
		NewPassword: "final-password",
	}); err != nil {
		t.Fatalf("change password: %v", err)
	}

	refreshed, err := env.svc.Authenticate(context.Background(), "manager@test.bar", "final-password")
	if err != nil {
		t.Fatalf("authenticate after change: %v", err)
	}
	if refreshed.NeedsPasswordChange {
		t.Fatal("expected NeedsPasswordChange cleared after change")
	}
}

func TestChangePasswordRejectsReuse(t *testing.T) {
	env := newTestEnv(t)

	err := env.svc.ChangePassword(env.ctx, domain.ChangePasswordRequest{
		OldPassword: "correct-horse",
		NewPassword: "correct-horse",
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for reused password, got %v", err)
	}
}

func TestDeleteUser(t *testing.T) {
	env := newTestEnv(t)

	user, err := env.svc.CreateUser(env.ctx, domain.UserCreateRequest{
		Name:     "Night Staff",
		Email:    "staff@test.bar",
		Password: "provisional1",
		Role:     "staff",
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	// The admin cannot remove their own account while others remain.
	if err := env.svc.DeleteUser(env.ctx, env.admin.ID); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for self-delete, got %v", err)
	}

	if err := env.svc.DeleteUser(env.ctx, user.ID); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	if _, err := env.svc.Authenticate(context.Background(), "staff@test.bar", "provisional1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected deleted account to fail auth, got %v", err)
	}

	users, err := env.svc.ListUsers(env.ctx)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected only the admin to remain, got %d users", len(users))
	}
}

func TestDeleteUserIsOrgScoped(t *testing.T) {
	env := newTestEnv(t)
	other := newTestEnv(t)

	if err := env.svc.DeleteUser(env.ctx, other.admin.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for cross-org delete, got %v", err)
	}
}

func TestActionLogRecordsReconcile(t *testing.T) {
	env := newTestEnv(t)
	product := env.addProduct(t, "Jameson", 750, "32.99", 10)

	if _, err := env.svc.ReconcileSales(env.ctx, domain.ReconcileRequest{
		SaleDate: "2026-08-27",
		Items:    map[string]int{product.ID: 5},
	}); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	logs, err := env.svc.ListActionLogs(env.ctx, 10)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	found := false
	for _, entry := range logs {
		if strings.Contains(entry.Action, "reconciled sales for 2026-08-27") {
			found = true
			if entry.UserID != env.admin.ID {
				t.Fatalf("log attributed to wrong user: %s", entry.UserID)
			}
		}
	}
	if !found {
		t.Fatalf("expected a reconcile action log, got %+v", logs)
	}
}
