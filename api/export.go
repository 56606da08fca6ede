package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/safemap/safemap_backend/config"
	"github.com/safemap/safemap_backend/models"
	"github.com/safemap/safemap_backend/utils"
	"github.com/xuri/excelize/v2"
)

const exportLimit = 10000

// ExportHandler streams the filtered record set as an xlsx attachment.
// Accepts the same status/days filters as the list endpoint.
func ExportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := models.MissingPersonFilter{
			Status: c.Query("status"),
			Days:   intQuery(c, "days", 0),
			Limit:  exportLimit,
		}

		persons, _, err := models.ListMissingPersons(c.Request.Context(), filter)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		f := excelize.NewFile()
		defer func() {
			if closeErr := f.Close(); closeErr != nil {
				config.LogError(config.GetLogger(), "api", "ExportHandler", "close workbook", nil, closeErr)
			}
		}()

		sheet := "Sheet1"
		if _, err := f.NewSheet(sheet); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		// Add headers
		f.SetCellValue(sheet, "A1", "ExternalId")
		f.SetCellValue(sheet, "B1", "Name")
		f.SetCellValue(sheet, "C1", "MissingDate")
		f.SetCellValue(sheet, "D1", "Age")
		f.SetCellValue(sheet, "E1", "Gender")
		f.SetCellValue(sheet, "F1", "Location")
		f.SetCellValue(sheet, "G1", "Latitude")
		f.SetCellValue(sheet, "H1", "Longitude")
		f.SetCellValue(sheet, "I1", "Status")
		f.SetCellValue(sheet, "J1", "PhotoCount")

		// Add data
		for i, person := range persons {
			row := fmt.Sprint(i + 2)
			f.SetCellValue(sheet, "A"+row, person.ExternalId)
			f.SetCellValue(sheet, "B"+row, person.Name)
			if person.MissingDate != nil {
				f.SetCellValue(sheet, "C"+row, person.MissingDate.Format("2006-01-02"))
			}
			f.SetCellValue(sheet, "D"+row, utils.DereferencePtr(person.Age, 0))
			f.SetCellValue(sheet, "E"+row, string(utils.DereferencePtr(person.Gender, "")))
			f.SetCellValue(sheet, "F"+row, person.LocationAddress)
			if person.Latitude != nil {
				f.SetCellValue(sheet, "G"+row, *person.Latitude)
			}
			if person.Longitude != nil {
				f.SetCellValue(sheet, "H"+row, *person.Longitude)
			}
			f.SetCellValue(sheet, "I"+row, string(person.Status))
			f.SetCellValue(sheet, "J"+row, person.PhotoCount)
		}

		filename := "missing_persons_" + time.Now().Format("20060102") + ".xlsx"
		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", "attachment; filename="+filename)
		if err := f.Write(c.Writer); err != nil {
			config.LogError(config.GetLogger(), "api", "ExportHandler", "write workbook", nil, err)
		}
	}
}
