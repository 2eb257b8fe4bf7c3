package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jojopeligroso/MyCastle/internal/auth"
	"github.com/jojopeligroso/MyCastle/internal/mcp"
	"github.com/jojopeligroso/MyCastle/internal/store"
)

// accommodationRatePerWeek is the flat weekly homestay surcharge applied when
// a booking includes accommodation.
const accommodationRatePerWeek = 150.0

type financeServer struct {
	db  store.Store
	now func() time.Time
}

// NewFinanceServer builds the finance domain server: bookings, invoicing,
// discounts, refunds, and receivables reporting.
func NewFinanceServer(db store.Store, logger zerolog.Logger) (*mcp.Server, error) {
	return newFinanceServer(db, logger, time.Now)
}

func newFinanceServer(db store.Store, logger zerolog.Logger, now func() time.Time) (*mcp.Server, error) {
	f := &financeServer{db: db, now: now}
	srv := mcp.NewServer("finance-mcp", serverVersion, auth.ScopeFinance, logger)
	reg := newRegistrar(srv)

	reg.tool(mcp.Tool{
		Name:        "create_booking",
		Description: "Create a new student booking for a course",
		Scope:       "finance:write",
		Capability:  "write",
		InputSchema: schema(map[string]any{
			"student_id":    prop("string", map[string]any{"format": "uuid"}),
			"course_id":     prop("string", map[string]any{"format": "uuid"}),
			"start_date":    prop("string", map[string]any{"format": "date"}),
			"weeks":         prop("integer", map[string]any{"minimum": 1}),
			"accommodation": prop("boolean"),
		}, "student_id", "course_id", "start_date", "weeks"),
	}, f.createBooking)

	reg.tool(mcp.Tool{
		Name:        "edit_booking",
		Description: "Modify an existing student booking",
		Scope:       "finance:write",
		Capability:  "write",
		InputSchema: schema(map[string]any{
			"booking_id":    prop("string", map[string]any{"format": "uuid"}),
			"start_date":    prop("string", map[string]any{"format": "date"}),
			"weeks":         prop("integer", map[string]any{"minimum": 1}),
			"accommodation": prop("boolean"),
		}, "booking_id"),
	}, f.editBooking)

	reg.tool(mcp.Tool{
		Name:        "issue_invoice",
		Description: "Generate an invoice for a booking",
		Scope:       "finance:write",
		Capability:  "write",
		InputSchema: schema(map[string]any{
			"booking_id":            prop("string", map[string]any{"format": "uuid"}),
			"include_accommodation": prop("boolean"),
			"payment_terms_days":    prop("integer", map[string]any{"default": 30}),
		}, "booking_id"),
	}, f.issueInvoice)

	reg.tool(mcp.Tool{
		Name:        "apply_discount",
		Description: "Apply a discount code to a booking",
		Scope:       "finance:write",
		Capability:  "write",
		InputSchema: schema(map[string]any{
			"booking_id":    prop("string", map[string]any{"format": "uuid"}),
			"discount_code": prop("string"),
		}, "booking_id", "discount_code"),
	}, f.applyDiscount)

	reg.tool(mcp.Tool{
		Name:        "refund_payment",
		Description: "Process a refund for a payment",
		Scope:       "finance:write",
		Capability:  "write",
		InputSchema: schema(map[string]any{
			"payment_id": prop("string", map[string]any{"format": "uuid"}),
			"amount":     prop("number", map[string]any{"minimum": 0}),
			"reason":     prop("string"),
		}, "payment_id", "amount", "reason"),
	}, f.refundPayment)

	reg.tool(mcp.Tool{
		Name:        "reconcile_payouts",
		Description: "Match payments to invoices and reconcile accounts",
		Scope:       "finance:write",
		Capability:  "write",
		InputSchema: schema(map[string]any{
			"date_from": prop("string", map[string]any{"format": "date"}),
			"date_to":   prop("string", map[string]any{"format": "date"}),
		}, "date_from", "date_to"),
	}, f.reconcilePayouts)

	reg.tool(mcp.Tool{
		Name:        "ledger_export",
		Description: "Export financial data to accounting software (QuickBooks/Xero)",
		Scope:       "finance:read",
		Capability:  "read",
		InputSchema: schema(map[string]any{
			"format":    prop("string", map[string]any{"enum": []string{"quickbooks", "xero", "csv"}}),
			"date_from": prop("string", map[string]any{"format": "date"}),
			"date_to":   prop("string", map[string]any{"format": "date"}),
		}, "format", "date_from", "date_to"),
	}, f.ledgerExport)

	reg.tool(mcp.Tool{
		Name:        "aging_report",
		Description: "Generate accounts receivable aging report",
		Scope:       "finance:read",
		Capability:  "read",
		InputSchema: schema(map[string]any{
			"as_of_date": prop("string", map[string]any{"format": "date"}),
			"aging_buckets": map[string]any{
				"type":    "array",
				"items":   prop("integer"),
				"default": []int{30, 60, 90},
			},
		}, "as_of_date"),
	}, f.agingReport)

	reg.tool(mcp.Tool{
		Name:        "confirm_intake",
		Description: "Confirm student intake and finalize enrollment",
		Scope:       "finance:write",
		Capability:  "write",
		InputSchema: schema(map[string]any{
			"booking_id":           prop("string", map[string]any{"format": "uuid"}),
			"confirmed_start_date": prop("string", map[string]any{"format": "date"}),
		}, "booking_id", "confirmed_start_date"),
	}, f.confirmIntake)

	reg.resource(mcp.Resource{
		URI:         "mycastle://finance/invoices",
		Name:        "Invoices",
		Description: "List of all invoices",
	}, f.invoicesResource)

	reg.resource(mcp.Resource{
		URI:         "mycastle://finance/outstanding",
		Name:        "Outstanding Payments",
		Description: "List of outstanding payments",
	}, f.outstandingResource)

	reg.prompt(mcp.Prompt{
		Name:        "invoice_review",
		Description: "Prompt for reviewing invoice details",
		Arguments: []mcp.PromptArgument{
			{Name: "booking_id", Description: "Booking ID", Required: true},
		},
	}, f.invoiceReviewPrompt)

	return srv, reg.err()
}

func (f *financeServer) createBooking(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	studentID, err := requireString(args, "student_id")
	if err != nil {
		return nil, err
	}
	courseID, err := requireString(args, "course_id")
	if err != nil {
		return nil, err
	}
	start, err := requireDate(args, "start_date")
	if err != nil {
		return nil, err
	}
	weeks, err := requireInt(args, "weeks")
	if err != nil {
		return nil, err
	}
	if weeks < 1 {
		return failure("weeks must be at least 1"), nil
	}

	course, err := f.db.SelectOne(ctx, "course", store.Query{Filters: []store.Filter{store.Eq("id", courseID)}})
	if errors.Is(err, store.ErrNotFound) {
		return failure("course not found"), nil
	}
	if err != nil {
		return nil, err
	}

	end := start.AddDate(0, 0, weeks*7)
	booking, err := f.db.Insert(ctx, "booking", store.Row{
		"student_id":     studentID,
		"course_id":      courseID,
		"start_date":     start.Format(dateLayout),
		"end_date":       end.Format(dateLayout),
		"weeks":          weeks,
		"status":         "pending",
		"price_per_week": rowFloat(course, "price_per_week"),
		"accommodation":  argBool(args, "accommodation", false),
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"success":    true,
		"booking_id": booking["id"],
		"message":    fmt.Sprintf("Booking created for %d weeks starting %s", weeks, start.Format(dateLayout)),
		"booking":    booking,
	}, nil
}

func (f *financeServer) editBooking(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	bookingID, err := requireString(args, "booking_id")
	if err != nil {
		return nil, err
	}

	booking, err := f.db.SelectOne(ctx, "booking", store.Query{Filters: []store.Filter{store.Eq("id", bookingID)}})
	if errors.Is(err, store.ErrNotFound) {
		return failure("booking not found"), nil
	}
	if err != nil {
		return nil, err
	}

	set := store.Row{"updated_at": f.now().UTC()}
	start, haveStart := booking["start_date"].(time.Time)
	weeks := rowInt(booking, "weeks")

	if _, ok := argString(args, "start_date"); ok {
		parsed, err := requireDate(args, "start_date")
		if err != nil {
			return nil, err
		}
		start, haveStart = parsed, true
		set["start_date"] = parsed.Format(dateLayout)
	}
	if n, ok := argInt(args, "weeks"); ok {
		if n < 1 {
			return failure("weeks must be at least 1"), nil
		}
		weeks = n
		set["weeks"] = n
	}
	if _, ok := args["accommodation"]; ok {
		set["accommodation"] = argBool(args, "accommodation", false)
	}
	if haveStart && (set["start_date"] != nil || set["weeks"] != nil) {
		set["end_date"] = start.AddDate(0, 0, weeks*7).Format(dateLayout)
	}

	updated, err := f.db.Update(ctx, "booking", set, store.Eq("id", bookingID))
	if err != nil {
		return nil, err
	}
	if len(updated) == 0 {
		return failure("booking not found"), nil
	}

	return map[string]any{
		"success": true,
		"message": "Booking updated successfully",
		"booking": updated[0],
	}, nil
}

func (f *financeServer) issueInvoice(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	bookingID, err := requireString(args, "booking_id")
	if err != nil {
		return nil, err
	}

	booking, err := f.db.SelectOne(ctx, "booking", store.Query{Filters: []store.Filter{store.Eq("id", bookingID)}})
	if errors.Is(err, store.ErrNotFound) {
		return failure("booking not found"), nil
	}
	if err != nil {
		return nil, err
	}

	weeks := rowInt(booking, "weeks")
	courseFee := rowFloat(booking, "price_per_week") * float64(weeks)
	lineItems := []map[string]any{
		{"description": fmt.Sprintf("Tuition, %d weeks", weeks), "amount": courseFee},
	}

	total := courseFee
	if argBool(args, "include_accommodation", rowBool(booking, "accommodation")) {
		accommodationFee := accommodationRatePerWeek * float64(weeks)
		total += accommodationFee
		lineItems = append(lineItems, map[string]any{
			"description": fmt.Sprintf("Accommodation, %d weeks", weeks),
			"amount":      accommodationFee,
		})
	}

	terms := 30
	if n, ok := argInt(args, "payment_terms_days"); ok && n > 0 {
		terms = n
	}

	today := f.now().UTC()
	invoice, err := f.db.Insert(ctx, "invoice", store.Row{
		"booking_id": bookingID,
		"student_id": rowString(booking, "student_id"),
		"amount":     total,
		"currency":   "EUR",
		"status":     "issued",
		"issue_date": today.Format(dateLayout),
		"due_date":   today.AddDate(0, 0, terms).Format(dateLayout),
		"line_items": lineItems,
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"success":    true,
		"invoice_id": invoice["id"],
		"amount":     total,
		"message":    fmt.Sprintf("Invoice issued for €%.2f", total),
		"invoice":    invoice,
	}, nil
}

func (f *financeServer) applyDiscount(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	bookingID, err := requireString(args, "booking_id")
	if err != nil {
		return nil, err
	}
	code, err := requireString(args, "discount_code")
	if err != nil {
		return nil, err
	}

	discount, err := f.db.SelectOne(ctx, "discount_code", store.Query{
		Filters: []store.Filter{store.Eq("code", code), store.Eq("active", true)},
	})
	if errors.Is(err, store.ErrNotFound) {
		return failure("invalid or inactive discount code"), nil
	}
	if err != nil {
		return nil, err
	}
	if expires, ok := rowTime(discount, "expires_at"); ok && expires.Before(f.now().UTC().Truncate(24*time.Hour)) {
		return failure("discount code has expired"), nil
	}

	booking, err := f.db.SelectOne(ctx, "booking", store.Query{Filters: []store.Filter{store.Eq("id", bookingID)}})
	if errors.Is(err, store.ErrNotFound) {
		return failure("booking not found"), nil
	}
	if err != nil {
		return nil, err
	}

	percent := rowFloat(discount, "percentage")
	discounted := rowFloat(booking, "price_per_week") * (1 - percent/100)

	updated, err := f.db.Update(ctx, "booking",
		store.Row{"price_per_week": discounted, "updated_at": f.now().UTC()},
		store.Eq("id", bookingID))
	if err != nil {
		return nil, err
	}
	if len(updated) == 0 {
		return failure("booking not found"), nil
	}

	return map[string]any{
		"success":  true,
		"message":  fmt.Sprintf("Discount %.0f%% applied", percent),
		"discount": discount,
		"booking":  updated[0],
	}, nil
}

func (f *financeServer) refundPayment(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	paymentID, err := requireString(args, "payment_id")
	if err != nil {
		return nil, err
	}
	amount, err := requireFloat(args, "amount")
	if err != nil {
		return nil, err
	}
	reason, err := requireString(args, "reason")
	if err != nil {
		return nil, err
	}

	payment, err := f.db.SelectOne(ctx, "payment", store.Query{Filters: []store.Filter{store.Eq("id", paymentID)}})
	if errors.Is(err, store.ErrNotFound) {
		return failure("payment not found"), nil
	}
	if err != nil {
		return nil, err
	}
	if amount > rowFloat(payment, "amount") {
		return failure("refund amount exceeds the original payment"), nil
	}

	refund, err := f.db.Insert(ctx, "refund", store.Row{
		"payment_id": paymentID,
		"amount":     amount,
		"reason":     reason,
		"status":     "pending",
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"success":   true,
		"refund_id": refund["id"],
		"message":   fmt.Sprintf("Refund of €%.2f initiated", amount),
		"refund":    refund,
	}, nil
}

func (f *financeServer) reconcilePayouts(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	from, err := requireDate(args, "date_from")
	if err != nil {
		return nil, err
	}
	to, err := requireDate(args, "date_to")
	if err != nil {
		return nil, err
	}

	payments, err := f.db.Select(ctx, "payment", store.Query{
		Filters: []store.Filter{
			store.Eq("reconciled", false),
			store.Gte("received_at", from),
			store.Lt("received_at", to.AddDate(0, 0, 1)),
		},
	})
	if err != nil {
		return nil, err
	}

	reconciled := 0
	for _, payment := range payments {
		invoice, err := f.db.SelectOne(ctx, "invoice", store.Query{
			Filters: []store.Filter{
				store.Eq("student_id", rowString(payment, "student_id")),
				store.Eq("status", "issued"),
			},
		})
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}

		_, err = f.db.Update(ctx, "payment",
			store.Row{"reconciled": true, "reconciled_invoice_id": rowString(invoice, "id")},
			store.Eq("id", rowString(payment, "id")))
		if err != nil {
			return nil, err
		}
		reconciled++
	}

	return map[string]any{
		"success":          true,
		"reconciled_count": reconciled,
		"total_payments":   len(payments),
		"message":          fmt.Sprintf("Reconciled %d of %d payments", reconciled, len(payments)),
	}, nil
}

func (f *financeServer) ledgerExport(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	format, err := requireString(args, "format")
	if err != nil {
		return nil, err
	}
	switch format {
	case "quickbooks", "xero", "csv":
	default:
		return failure("unsupported export format %q", format), nil
	}
	from, err := requireDate(args, "date_from")
	if err != nil {
		return nil, err
	}
	to, err := requireDate(args, "date_to")
	if err != nil {
		return nil, err
	}

	invoices, err := f.db.Select(ctx, "invoice", store.Query{
		Filters: []store.Filter{
			store.Gte("issue_date", from.Format(dateLayout)),
			store.Lte("issue_date", to.Format(dateLayout)),
		},
		OrderBy: []string{"issue_date"},
	})
	if err != nil {
		return nil, err
	}

	records := make([]map[string]any, 0, len(invoices))
	for _, invoice := range invoices {
		records = append(records, map[string]any{
			"date":       invoice["issue_date"],
			"invoice_id": invoice["id"],
			"student_id": invoice["student_id"],
			"amount":     rowFloat(invoice, "amount"),
			"status":     invoice["status"],
		})
	}

	return map[string]any{
		"success":      true,
		"format":       format,
		"record_count": len(records),
		"data":         records,
		"message":      fmt.Sprintf("Exported %d records in %s format", len(records), format),
	}, nil
}

func (f *financeServer) agingReport(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	asOf, err := requireDate(args, "as_of_date")
	if err != nil {
		return nil, err
	}
	buckets := []int{30, 60, 90}
	if raw, ok := args["aging_buckets"].([]any); ok && len(raw) > 0 {
		buckets = buckets[:0]
		for _, item := range raw {
			if n, ok := item.(float64); ok {
				buckets = append(buckets, int(n))
			}
		}
		if len(buckets) == 0 {
			return failure("aging_buckets must contain integers"), nil
		}
	}

	invoices, err := f.db.Select(ctx, "invoice", store.Query{
		Filters: []store.Filter{
			store.In("status", []string{"issued", "overdue"}),
			store.Lte("issue_date", asOf.Format(dateLayout)),
		},
	})
	if err != nil {
		return nil, err
	}

	overKey := fmt.Sprintf("over_%d_days", buckets[len(buckets)-1])
	details := map[string][]store.Row{"current": {}}
	for _, bucket := range buckets {
		details[fmt.Sprintf("%d_days", bucket)] = []store.Row{}
	}
	details[overKey] = []store.Row{}

	for _, invoice := range invoices {
		issued, ok := rowTime(invoice, "issue_date")
		if !ok {
			continue
		}
		daysOld := int(asOf.Sub(issued).Hours() / 24)

		key := overKey
		if daysOld <= buckets[0] {
			key = "current"
		} else {
			for _, bucket := range buckets {
				if daysOld <= bucket {
					key = fmt.Sprintf("%d_days", bucket)
					break
				}
			}
		}
		details[key] = append(details[key], invoice)
	}

	totals := map[string]float64{}
	totalOutstanding := 0.0
	for key, rows := range details {
		sum := 0.0
		for _, row := range rows {
			sum += rowFloat(row, "amount")
		}
		totals[key] = sum
		totalOutstanding += sum
	}

	return map[string]any{
		"success":           true,
		"as_of_date":        asOf.Format(dateLayout),
		"aging_buckets":     buckets,
		"totals":            totals,
		"total_outstanding": totalOutstanding,
		"details":           details,
	}, nil
}

func (f *financeServer) confirmIntake(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	bookingID, err := requireString(args, "booking_id")
	if err != nil {
		return nil, err
	}
	confirmedStart, err := requireDate(args, "confirmed_start_date")
	if err != nil {
		return nil, err
	}

	updated, err := f.db.Update(ctx, "booking", store.Row{
		"status":     "confirmed",
		"start_date": confirmedStart.Format(dateLayout),
		"updated_at": f.now().UTC(),
	}, store.Eq("id", bookingID))
	if err != nil {
		return nil, err
	}
	if len(updated) == 0 {
		return failure("booking not found"), nil
	}

	return map[string]any{
		"success": true,
		"message": "Student intake confirmed",
		"booking": updated[0],
	}, nil
}

func (f *financeServer) invoicesResource(ctx context.Context, caller *auth.Context) (any, error) {
	return f.db.Select(ctx, "invoice", store.Query{
		OrderBy: []string{"issue_date DESC"},
		Limit:   100,
	})
}

func (f *financeServer) outstandingResource(ctx context.Context, caller *auth.Context) (any, error) {
	return f.db.Select(ctx, "invoice", store.Query{
		Filters: []store.Filter{store.In("status", []string{"issued", "overdue"})},
	})
}

func (f *financeServer) invoiceReviewPrompt(ctx context.Context, caller *auth.Context, args map[string]any) ([]mcp.PromptMessage, error) {
	bookingID, err := requireString(args, "booking_id")
	if err != nil {
		return nil, err
	}

	invoice, err := f.db.SelectOne(ctx, "invoice", store.Query{Filters: []store.Filter{store.Eq("booking_id", bookingID)}})
	if errors.Is(err, store.ErrNotFound) {
		return []mcp.PromptMessage{userMessage("No invoice found for this booking")}, nil
	}
	if err != nil {
		return nil, err
	}

	return []mcp.PromptMessage{
		systemMessage("You are a financial analyst reviewing invoice details."),
		userMessage("Please review this invoice:\n" + indentJSON(invoice)),
	}, nil
}
