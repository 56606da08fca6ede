package safedream

import (
	"strconv"
	"strings"
	"time"
)

// Normalize maps one raw upstream record onto the canonical shape. It returns
// nil only when the record carries no usable identifier; every other parse
// failure degrades to a nil field and never to an error.
func Normalize(raw RawPerson) *Person {
	externalId := strings.TrimSpace(raw.MsspsnIdntfccd.String())
	if externalId == "" {
		return nil
	}

	return &Person{
		ExternalId:          externalId,
		Name:                strings.TrimSpace(raw.Nm),
		MissingDate:         parseDate(raw.Occrde.String()),
		Age:                 parseInt(raw.Age.String()),
		AgeNow:              parseInt(raw.AgeNow.String()),
		Gender:              parseGender(raw.SexdstnDscd),
		LocationAddress:     strings.TrimSpace(raw.OccrAdres),
		LocationDetail:      strings.TrimSpace(raw.AlldressingDscd),
		Height:              parseInt(raw.Height.String()),
		Weight:              parseInt(raw.Bdwgh.String()),
		BodyType:            strings.TrimSpace(raw.FrmDscd),
		FaceShape:           strings.TrimSpace(raw.FaceshpeDscd),
		HairStyle:           strings.TrimSpace(raw.HairshpeDscd),
		HairColor:           strings.TrimSpace(raw.HaircolrDscd),
		ClothingDescription: strings.TrimSpace(raw.DressngDscd),
		SpecialFeatures:     strings.TrimSpace(raw.EtcSpfeatr),
	}
}

// parseDate accepts 8-digit YYYYMMDD or ISO-8601 and returns nil otherwise.
func parseDate(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	if len(value) == 8 {
		if t, err := time.Parse("20060102", value); err == nil {
			return &t
		}
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return &t
		}
	}
	return nil
}

func parseInt(value string) *int {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return nil
	}
	return &n
}

// parseGender maps the upstream free-text code via substring match on the
// localized tokens for male and female.
func parseGender(value string) *string {
	if strings.Contains(value, "남") {
		g := "M"
		return &g
	}
	if strings.Contains(value, "여") {
		g := "F"
		return &g
	}
	return nil
}
