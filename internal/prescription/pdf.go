package prescription

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"

	"github.com/hackgods/telehealth-consult/internal/appointment"
)

const pdfFooter = "Follow the dosage instructions exactly. Contact your doctor if symptoms persist."

// Render lays out a prescription on a single A4 page.
func Render(p Prescription, detail *appointment.AppointmentDetail) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 10, 10)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 14)
	pdf.CellFormat(0, 10, "Prescription", "", 1, "C", false, 0, "")

	doctor, specialty, patient := "", "", ""
	if detail != nil {
		if detail.Doctor != nil {
			doctor = detail.Doctor.Name
			specialty = deref(detail.Doctor.Specialty)
		}
		if detail.Patient != nil {
			patient = detail.Patient.Name
		}
	}

	detailRow(pdf, "Prescription ID", p.ID.String())
	detailRow(pdf, "Date", p.CreatedAt.Format("2006-01-02"))
	detailRow(pdf, "Doctor", doctor)
	if specialty != "" {
		detailRow(pdf, "Specialty", specialty)
	}
	detailRow(pdf, "Patient", patient)
	detailRow(pdf, "Diagnosis", p.Diagnosis)

	pdf.SetY(pdf.GetY() + 5)
	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(0, 10, "Medications", "1", 1, "C", false, 0, "")

	pdf.SetFont("Arial", "B", 10)
	widths := []float64{60, 40, 50, 40}
	for i, h := range []string{"Name", "Dosage", "Frequency", "Duration"} {
		pdf.CellFormat(widths[i], 8, h, "1", 0, "", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 10)
	for _, m := range p.Medications {
		for i, v := range []string{m.Name, m.Dosage, m.Frequency, m.Duration} {
			pdf.CellFormat(widths[i], 8, v, "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}

	if p.Notes != nil && *p.Notes != "" {
		pdf.SetY(pdf.GetY() + 5)
		pdf.SetFont("Arial", "B", 12)
		pdf.CellFormat(0, 8, "Notes", "", 1, "", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		pdf.MultiCell(0, 5, *p.Notes, "", "", false)
	}

	pdf.SetY(pdf.GetY() + 10)
	pdf.SetFont("Arial", "I", 9)
	pdf.MultiCell(0, 5, pdfFooter, "", "C", false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render prescription pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func detailRow(pdf *gofpdf.Fpdf, label, value string) {
	pdf.SetFont("Arial", "B", 11)
	pdf.CellFormat(45, 8, label+":", "", 0, "", false, 0, "")
	pdf.SetFont("Arial", "", 11)
	pdf.CellFormat(0, 8, value, "", 1, "", false, 0, "")
}
