package dao

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"cnop-core/internal/apperrors"
	"cnop-core/internal/models"
)

func createTestBalance(t *testing.T, d *testDAOs, username string, amount decimal.Decimal) {
	t.Helper()
	_, err := d.balances.CreateBalance(context.Background(), models.Balance{
		Username:       username,
		CurrentBalance: amount,
	})
	if err != nil {
		t.Fatalf("CreateBalance failed: %v", err)
	}
}

func TestBalanceCreateAndGet(t *testing.T) {
	d, cleanup := setupTestDAOs(t)
	defer cleanup()

	ctx := context.Background()
	createTestBalance(t, d, "alice", decimal.Zero)

	balance, err := d.balances.GetBalance(ctx, "alice")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if !balance.CurrentBalance.Equal(decimal.Zero) {
		t.Errorf("Expected zero balance, got %s", balance.CurrentBalance.String())
	}

	// The balance row is created exactly once per user.
	_, err = d.balances.CreateBalance(ctx, models.Balance{Username: "alice"})
	if !errors.Is(err, apperrors.ErrAlreadyExists) {
		t.Errorf("Expected ErrAlreadyExists, got %v", err)
	}
}

func TestBalanceCreateNegative(t *testing.T) {
	d, cleanup := setupTestDAOs(t)
	defer cleanup()

	_, err := d.balances.CreateBalance(context.Background(), models.Balance{
		Username:       "bob",
		CurrentBalance: decimal.NewFromInt(-1),
	})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Expected ErrValidation for negative initial balance, got %v", err)
	}
}

func TestApplyTransactionFoldsAmount(t *testing.T) {
	d, cleanup := setupTestDAOs(t)
	defer cleanup()

	ctx := context.Background()
	createTestBalance(t, d, "carol", decimal.Zero)

	tx, err := d.balances.CreateTransaction(ctx, models.BalanceTransaction{
		Username: "carol",
		Type:     models.TxDeposit,
		Amount:   decimal.NewFromFloat(100.50),
		Status:   models.TxStatusCompleted,
	})
	if err != nil {
		t.Fatalf("CreateTransaction failed: %v", err)
	}
	if tx.TransactionID == "" {
		t.Errorf("Expected a generated transaction id")
	}

	balance, err := d.balances.ApplyTransaction(ctx, *tx)
	if err != nil {
		t.Fatalf("ApplyTransaction failed: %v", err)
	}
	expected := decimal.NewFromFloat(100.50)
	if !balance.CurrentBalance.Equal(expected) {
		t.Errorf("Expected balance %s, got %s", expected.String(), balance.CurrentBalance.String())
	}
}

func TestApplyTransactionNegativeGuard(t *testing.T) {
	d, cleanup := setupTestDAOs(t)
	defer cleanup()

	ctx := context.Background()
	createTestBalance(t, d, "dave", decimal.NewFromInt(10))

	_, err := d.balances.ApplyTransaction(ctx, models.BalanceTransaction{
		Username: "dave",
		Type:     models.TxWithdraw,
		Amount:   decimal.NewFromFloat(-10.01),
	})
	if !errors.Is(err, apperrors.ErrInvariantViolation) {
		t.Errorf("Expected ErrInvariantViolation, got %v", err)
	}

	// The balance row must be unchanged.
	balance, err := d.balances.GetBalance(ctx, "dave")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if !balance.CurrentBalance.Equal(decimal.NewFromInt(10)) {
		t.Errorf("Expected balance 10 after rejected apply, got %s", balance.CurrentBalance.String())
	}
}

func TestListTransactionsNewestFirstWithCursor(t *testing.T) {
	d, cleanup := setupTestDAOs(t)
	defer cleanup()

	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := d.balances.CreateTransaction(ctx, models.BalanceTransaction{
			Username:  "erin",
			Type:      models.TxDeposit,
			Amount:    decimal.NewFromInt(int64(i + 1)),
			Status:    models.TxStatusCompleted,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("CreateTransaction failed: %v", err)
		}
	}

	page, next, err := d.balances.ListTransactions(ctx, "erin", 2, "")
	if err != nil {
		t.Fatalf("ListTransactions failed: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(page))
	}
	if !page[0].Amount.Equal(decimal.NewFromInt(3)) {
		t.Errorf("Expected newest row first, got amount %s", page[0].Amount.String())
	}
	if next == "" {
		t.Fatalf("Expected a next cursor")
	}

	rest, next, err := d.balances.ListTransactions(ctx, "erin", 2, next)
	if err != nil {
		t.Fatalf("ListTransactions page 2 failed: %v", err)
	}
	if len(rest) != 1 {
		t.Fatalf("Expected 1 remaining row, got %d", len(rest))
	}
	if !rest[0].Amount.Equal(decimal.NewFromInt(1)) {
		t.Errorf("Expected oldest row last, got amount %s", rest[0].Amount.String())
	}
	if next != "" {
		t.Errorf("Expected exhausted listing to return empty cursor, got %q", next)
	}
}

func TestCreateTransactionSameInstant(t *testing.T) {
	d, cleanup := setupTestDAOs(t)
	defer cleanup()

	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 500, time.UTC)
	for i := 0; i < 2; i++ {
		_, err := d.balances.CreateTransaction(ctx, models.BalanceTransaction{
			Username:  "frank",
			Type:      models.TxDeposit,
			Amount:    decimal.NewFromInt(1),
			Status:    models.TxStatusCompleted,
			CreatedAt: at,
		})
		if err != nil {
			t.Fatalf("CreateTransaction %d failed: %v", i, err)
		}
	}

	txs, _, err := d.balances.ListTransactions(ctx, "frank", 10, "")
	if err != nil {
		t.Fatalf("ListTransactions failed: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("Expected both same-instant rows to survive, got %d", len(txs))
	}
}

func TestCleanupFailedTransaction(t *testing.T) {
	d, cleanup := setupTestDAOs(t)
	defer cleanup()

	ctx := context.Background()
	tx, err := d.balances.CreateTransaction(ctx, models.BalanceTransaction{
		Username: "grace",
		Type:     models.TxDeposit,
		Amount:   decimal.NewFromInt(5),
		Status:   models.TxStatusCompleted,
	})
	if err != nil {
		t.Fatalf("CreateTransaction failed: %v", err)
	}

	if err := d.balances.CleanupFailedTransaction(ctx, "grace", tx.TransactionID); err != nil {
		t.Fatalf("CleanupFailedTransaction failed: %v", err)
	}

	txs, _, err := d.balances.ListTransactions(ctx, "grace", 10, "")
	if err != nil {
		t.Fatalf("ListTransactions failed: %v", err)
	}
	if len(txs) != 0 {
		t.Errorf("Expected ledger empty after cleanup, got %d rows", len(txs))
	}

	// Cleaning an unknown id is a no-op.
	if err := d.balances.CleanupFailedTransaction(ctx, "grace", "no-such-id"); err != nil {
		t.Errorf("Expected cleanup of unknown id to succeed, got %v", err)
	}
}
