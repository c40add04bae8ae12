package invoices

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SourceType tags where an invoice item originated.
type SourceType string

const (
	SourceFee       SourceType = "FEE"
	SourceTransport SourceType = "TRANSPORT"
	SourceHostel    SourceType = "HOSTEL"
	SourceFine      SourceType = "FINE"
	SourceMisc      SourceType = "MISC"
)

// ParseSourceType validates a source type string.
func ParseSourceType(raw string) (SourceType, error) {
	switch t := SourceType(strings.ToUpper(strings.TrimSpace(raw))); t {
	case SourceFee, SourceTransport, SourceHostel, SourceFine, SourceMisc:
		return t, nil
	default:
		return "", fmt.Errorf("%w: unknown item source type %q", ErrInvalidInput, raw)
	}
}

// Snapshot is the frozen copy of an item's source taken when it was attached. It is never
// re-resolved, so later edits to the source do not alter issued invoices.
type Snapshot interface {
	Kind() SourceType
}

// FeeSnapshot freezes a fee structure.
type FeeSnapshot struct {
	FeeStructureID int64           `json:"fee_structure_id"`
	Name           string          `json:"name"`
	Category       string          `json:"category"`
	Amount         decimal.Decimal `json:"amount"`
	Frequency      string          `json:"frequency"`
	ClassID        *int64          `json:"class_id,omitempty"`
}

// Kind implements Snapshot.
func (FeeSnapshot) Kind() SourceType { return SourceFee }

// TransportSnapshot freezes a route plan.
type TransportSnapshot struct {
	RoutePlanID int64           `json:"route_plan_id"`
	RouteName   string          `json:"route_name"`
	PlanName    string          `json:"plan_name"`
	Amount      decimal.Decimal `json:"amount"`
}

// Kind implements Snapshot.
func (TransportSnapshot) Kind() SourceType { return SourceTransport }

// HostelSnapshot freezes a hostel charge.
type HostelSnapshot struct {
	HostelChargeID int64           `json:"hostel_charge_id"`
	Hostel         string          `json:"hostel"`
	Room           string          `json:"room"`
	Amount         decimal.Decimal `json:"amount"`
}

// Kind implements Snapshot.
func (HostelSnapshot) Kind() SourceType { return SourceHostel }

// FineSnapshot freezes a fine.
type FineSnapshot struct {
	FineID   int64           `json:"fine_id"`
	Reason   string          `json:"reason"`
	Amount   decimal.Decimal `json:"amount"`
	IssuedOn time.Time       `json:"issued_on"`
}

// Kind implements Snapshot.
func (FineSnapshot) Kind() SourceType { return SourceFine }

// MiscSnapshot records a free-form charge.
type MiscSnapshot struct {
	Label string `json:"label"`
}

// Kind implements Snapshot.
func (MiscSnapshot) Kind() SourceType { return SourceMisc }

// EncodeSnapshot renders a snapshot for the source_metadata column.
func EncodeSnapshot(s Snapshot) ([]byte, error) {
	if s == nil {
		return []byte(`{}`), nil
	}
	return json.Marshal(s)
}

// DecodeSnapshot restores the snapshot variant for t.
func DecodeSnapshot(t SourceType, raw []byte) (Snapshot, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var target Snapshot
	switch t {
	case SourceFee:
		var s FeeSnapshot
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		target = s
	case SourceTransport:
		var s TransportSnapshot
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		target = s
	case SourceHostel:
		var s HostelSnapshot
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		target = s
	case SourceFine:
		var s FineSnapshot
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		target = s
	case SourceMisc:
		var s MiscSnapshot
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		target = s
	default:
		return nil, fmt.Errorf("invoices: unknown source type %q", t)
	}
	return target, nil
}
