package core

import "strings"

// Recognized spreadsheet columns. All header heterogeneity is absorbed here.
var (
	FieldOrderNumber = FieldSpec{
		Exact: []string{"Order", "PO", "Order Number", "PO Number", "Purchase Order", "Bon de commande", "Commande", "BC", "N° BC"},
		AnyOf: []string{"order", "po", "bon", "commande", "bc"},
		Exclude: []string{
			"quantity", "description", "date", "amount", "montant", "total", "type",
			"status", "line", "item", "schedule", "price", "prix", "terms",
		},
	}
	FieldOrderedQuantity  = FieldSpec{Exact: []string{"Ordered Quantity"}, Tokens: []string{"ordered", "quantity"}}
	FieldReceivedQuantity = FieldSpec{Exact: []string{"Received Quantity"}, Tokens: []string{"received", "quantity"}}
	FieldUnitPrice        = FieldSpec{Exact: []string{"Price", "Prix", "Unit Price", "Prix Unitaire"}}
	FieldSupplier         = FieldSpec{
		Exact:   []string{"Supplier", "Fournisseur", "Vendor", "Vendeur"},
		AnyOf:   []string{"supplier", "fournisseur", "vendor", "vendeur"},
		Exclude: []string{"number", "site", "code"},
	}
	FieldCurrency           = FieldSpec{Exact: []string{"Currency"}}
	FieldLineDescription    = FieldSpec{Tokens: []string{"line", "description"}}
	FieldLineNumber         = FieldSpec{Exact: []string{"Line"}, Tokens: []string{"line"}, Exclude: []string{"description", "type"}}
	FieldItemNumber         = FieldSpec{Tokens: []string{"item"}, Exclude: []string{"description"}}
	FieldSchedule           = FieldSpec{Tokens: []string{"schedule"}}
	FieldCPU                = FieldSpec{Exact: []string{"CPU"}}
	FieldProjectCoordinator = FieldSpec{Tokens: []string{"project", "coordinator"}}
	FieldProjectManager     = FieldSpec{Tokens: []string{"project", "manager"}}
	FieldPIPEndDate         = FieldSpec{Exact: []string{"PIP END DATE"}, Tokens: []string{"pip", "end"}}
	FieldActualEndDate      = FieldSpec{Exact: []string{"ACTUAL END DATE"}, Tokens: []string{"actual", "end"}}
	FieldCreationDate       = FieldSpec{Exact: []string{"Creation Date"}, Tokens: []string{"creation", "date"}}
	FieldOrderDescription   = FieldSpec{Exact: []string{"Order Description"}, Tokens: []string{"order", "description"}}
	FieldPOAmount           = FieldSpec{Exact: []string{"Total", "PO Amount", "PO AMOUNT/MONTANT BC"}}
	FieldPaymentTerms       = FieldSpec{Exact: []string{"Payment Terms "}, Tokens: []string{"payment", "terms"}}
)

// CPUValue extracts the service tag from a CPU column: "DEPT - NETWORKS"
// yields "NETWORKS".
func CPUValue(rec Record) string {
	v := FieldCPU.Value(rec)
	if v == "" {
		return ""
	}
	if i := strings.LastIndex(v, " - "); i >= 0 {
		v = v[i+len(" - "):]
	}
	return strings.TrimSpace(v)
}
