package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/odyssey-erp/stockledger/internal/inventory"
)

// Ledger is the subset of the inventory service the CLI drives.
type Ledger interface {
	Reconcile(ctx context.Context, tenantID string) ([]inventory.Discrepancy, error)
	GetOnHand(ctx context.Context, scope inventory.Scope) (inventory.OnHand, error)
}

// LedgerCLI exposes read-only ledger checks.
type LedgerCLI struct {
	ledger Ledger
}

// NewLedgerCLI constructs the helper over ledger.
func NewLedgerCLI(ledger Ledger) (*LedgerCLI, error) {
	if ledger == nil {
		return nil, errors.New("ledger cli: service required")
	}
	return &LedgerCLI{ledger: ledger}, nil
}

// ReconcileOptions configures the reconcile command.
type ReconcileOptions struct {
	TenantID   string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// DiscrepancyView is the JSON form of a finding.
type DiscrepancyView struct {
	Kind        string `json:"kind"`
	ItemID      string `json:"item_id"`
	TenantID    string `json:"tenant_id"`
	WarehouseID string `json:"warehouse_id"`
	ProductID   string `json:"product_id"`
	VariantID   string `json:"variant_id,omitempty"`
	LocationID  string `json:"location_id,omitempty"`
	LotID       string `json:"lot_id,omitempty"`
	Expected    string `json:"expected"`
	Actual      string `json:"actual"`
}

// ReconcileSummary is printed with --json.
type ReconcileSummary struct {
	OK            bool              `json:"ok"`
	Discrepancies []DiscrepancyView `json:"discrepancies"`
}

// ReconcileCommand runs reconciliation in-process. It exits 10 when
// discrepancies were found.
func (c *LedgerCLI) ReconcileCommand(ctx context.Context, opts ReconcileOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	found, err := c.ledger.Reconcile(ctx, opts.TenantID)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "reconcile: %v\n", err)
		return 1
	}
	views := make([]DiscrepancyView, 0, len(found))
	for _, d := range found {
		views = append(views, DiscrepancyView{
			Kind:        string(d.Kind),
			ItemID:      d.ItemID.String(),
			TenantID:    d.Key.TenantID,
			WarehouseID: d.Key.WarehouseID,
			ProductID:   d.Key.ProductID,
			VariantID:   d.Key.VariantID,
			LocationID:  d.Key.LocationID,
			LotID:       d.Key.LotID,
			Expected:    d.Expected.String(),
			Actual:      d.Actual.String(),
		})
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(ReconcileSummary{OK: len(views) == 0, Discrepancies: views}); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "reconcile: encode json: %v\n", err)
			return 1
		}
	} else {
		renderDiscrepancies(opts.Stdout, views)
	}
	if len(views) > 0 {
		return 10
	}
	return 0
}

func renderDiscrepancies(w io.Writer, views []DiscrepancyView) {
	if len(views) == 0 {
		_, _ = fmt.Fprintln(w, "ledger consistent")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "KIND\tWAREHOUSE\tPRODUCT\tLOCATION\tLOT\tEXPECTED\tACTUAL")
	for _, v := range views {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", v.Kind, v.WarehouseID, v.ProductID, v.LocationID, v.LotID, v.Expected, v.Actual)
	}
	_ = tw.Flush()
}

// OnHandOptions configures the onhand command.
type OnHandOptions struct {
	Scope      inventory.Scope
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// OnHandView is the JSON form of an aggregate.
type OnHandView struct {
	Qty      string `json:"qty"`
	Reserved string `json:"reserved"`
	OnHand   string `json:"on_hand"`
	Rows     int    `json:"rows"`
}

// OnHandCommand prints the on-hand aggregate of a scope.
func (c *LedgerCLI) OnHandCommand(ctx context.Context, opts OnHandOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	result, err := c.ledger.GetOnHand(ctx, opts.Scope)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "onhand: %v\n", err)
		return 1
	}
	view := OnHandView{
		Qty:      result.Qty.String(),
		Reserved: result.Reserved.String(),
		OnHand:   result.OnHand.String(),
		Rows:     len(result.Rows),
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(view); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "onhand: encode json: %v\n", err)
			return 1
		}
		return 0
	}
	_, _ = fmt.Fprintf(opts.Stdout, "qty=%s reserved=%s on_hand=%s rows=%d\n", view.Qty, view.Reserved, view.OnHand, view.Rows)
	return 0
}
