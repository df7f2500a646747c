package inventory

import (
	"encoding/json"
	"fmt"
)

// ledgerFormatVersion is bumped whenever the export layout changes.
const ledgerFormatVersion = 1

type ledgerExport struct {
	FormatVersion int        `json:"format_version"`
	Item          *StockItem `json:"item"`
}

// ExportLedger serialises an item with its full batch ledger, usage
// history and write-offs. Decimals are written as strings, so the export
// is exact.
func ExportLedger(item *StockItem) ([]byte, error) {
	return json.MarshalIndent(ledgerExport{FormatVersion: ledgerFormatVersion, Item: item}, "", "  ")
}

// ImportLedger reads an export back. The cached aggregates are kept as
// exported (so weighted-average history round-trips unchanged) but must
// agree with the batches.
func ImportLedger(data []byte) (*StockItem, error) {
	var exp ledgerExport
	if err := json.Unmarshal(data, &exp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExport, err)
	}
	if exp.FormatVersion != ledgerFormatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrInvalidExport, exp.FormatVersion)
	}
	if exp.Item == nil || exp.Item.ID == "" {
		return nil, fmt.Errorf("%w: export has no stock item", ErrLedgerMismatch)
	}
	if err := CheckInvariants(exp.Item); err != nil {
		return nil, err
	}
	return exp.Item, nil
}
