package httpapi

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/tm2bridge/tm2bridge/internal/models"
)

func writeMappingsNDJSON(c *echo.Context, mappings []models.Mapping) error {
	c.Response().Header().Set(echo.HeaderContentType, "application/x-ndjson")
	c.Response().WriteHeader(http.StatusOK)
	enc := json.NewEncoder(c.Response())
	for _, m := range mappings {
		if err := enc.Encode(m); err != nil {
			return err
		}
	}
	return nil
}

func writeMappingsCSV(c *echo.Context, mappings []models.Mapping) error {
	c.Response().Header().Set(echo.HeaderContentType, "text/csv")
	c.Response().WriteHeader(http.StatusOK)

	buf := bufio.NewWriter(c.Response())
	w := csv.NewWriter(buf)

	_ = w.Write([]string{"source_ref", "target_ref", "equivalence", "confidence", "mapping_source", "validation_status", "created_at"})
	for _, m := range mappings {
		_ = w.Write([]string{
			m.SourceRef,
			m.TargetRef,
			string(m.Equivalence),
			strconv.FormatFloat(m.Confidence, 'f', 4, 64),
			string(m.MappingSource),
			string(m.ValidationStatus),
			m.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	w.Flush()
	return buf.Flush()
}
