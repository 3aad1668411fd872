package export

import (
	"fmt"
	"time"
)

// GlobalFileName names an aggregate export after local wall-clock time
// at export start: Informe_Global_2024-05-17_14-32.pdf.
func GlobalFileName(now time.Time) string {
	return "Informe_Global_" + now.Format("2006-01-02_15-04") + ".pdf"
}

// ReportFileName names an individual report export:
// Informe_Reporte_42_20240517_1432.pdf.
func ReportFileName(id int64, now time.Time) string {
	return fmt.Sprintf("Informe_Reporte_%d_%s.pdf", id, now.Format("20060102_1504"))
}
