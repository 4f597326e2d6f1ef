package services

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/phpdave11/gofpdf"

	"github.com/tourlink/booking-backend/internal/models"
)

// BuildVoucherPDF renders the booking voucher handed to the customer
// alongside the supplier tickets
func BuildVoucherPDF(b *models.Booking, tickets []models.SupplierTicket, issuedAt time.Time) ([]byte, string, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Booking Voucher", false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, "BOOKING VOUCHER")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 12)
	header := []string{
		fmt.Sprintf("Reference        : %s", b.Reference),
		fmt.Sprintf("Supplier Booking : %s", safe(derefString(b.SupplierBookingID), "-")),
		fmt.Sprintf("Status           : %s", b.Status),
		fmt.Sprintf("Issued           : %s", issuedAt.UTC().Format("2006-01-02 15:04")),
	}
	if lead, ok := b.Passengers.Lead(); ok {
		header = append(header,
			fmt.Sprintf("Lead Passenger   : %s", lead.FullName()),
			fmt.Sprintf("Contact          : %s / %s", safe(lead.Email, "-"), safe(lead.Mobile, "-")),
		)
	}
	for _, line := range header {
		pdf.Cell(0, 7, line)
		pdf.Ln(7)
	}

	pdf.Ln(4)
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 7, "Tours:")
	pdf.Ln(8)

	pdf.SetFont("Helvetica", "", 11)
	for i, t := range b.TourItems {
		desc := fmt.Sprintf("%d) Tour %d / Option %d on %s %s - %d adult, %d child, %d infant",
			i+1, t.TourID, t.OptionID, safe(t.TourDate, "-"), safe(t.StartTime, ""), t.Adult, t.Child, t.Infant)
		pdf.MultiCell(0, 6, desc, "", "", false)
		if t.Pickup != "" {
			pdf.MultiCell(0, 6, "   Pickup: "+t.Pickup, "", "", false)
		}
		pdf.Ln(1)
	}

	pdf.Ln(4)
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, fmt.Sprintf("Total: %s %.2f", b.Currency, b.TotalGross))
	pdf.Ln(10)

	if len(tickets) > 0 {
		pdf.SetFont("Helvetica", "B", 12)
		pdf.Cell(0, 7, "Tickets:")
		pdf.Ln(8)
		pdf.SetFont("Helvetica", "", 10)
		for _, tk := range tickets {
			link := tk.TicketPDFURL
			if link == "" {
				link = tk.TicketURL
			}
			pdf.MultiCell(0, 6, fmt.Sprintf("- %s: %s", safe(tk.ServiceUniqueID, "ticket"), safe(link, "pending")), "", "", false)
		}
		pdf.Ln(4)
	}

	pdf.SetFont("Helvetica", "I", 10)
	pdf.MultiCell(0, 6, "Please present this voucher together with your tickets at the meeting point.", "", "", false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, "", fmt.Errorf("failed to render voucher: %w", err)
	}

	filename := fmt.Sprintf("VOUCHER_%s.pdf", safeFilenamePart(b.Reference))
	return buf.Bytes(), filename, nil
}

func safe(v, fallback string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback
	}
	return v
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func safeFilenamePart(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "NA"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "_", "\\", "_", ":", "_", "*", "_", "?", "_", "\"", "_", "<", "_", ">", "_", "|", "_")
	s = replacer.Replace(s)
	if len(s) > 40 {
		s = s[:40]
	}
	return s
}
