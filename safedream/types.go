package safedream

import (
	"bytes"
	"encoding/json"
	"time"
)

// FlexString tolerates upstream fields that arrive as either JSON strings or
// bare numbers. The feed is not consistent about which it sends.
type FlexString string

func (s *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*s = FlexString(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return err
	}
	*s = FlexString(num.String())
	return nil
}

func (s FlexString) String() string { return string(s) }

// RawPerson is one record of the upstream listing payload, field names as the
// feed sends them.
type RawPerson struct {
	MsspsnIdntfccd  FlexString `json:"msspsnIdntfccd"`
	Nm              string     `json:"nm"`
	Occrde          FlexString `json:"occrde"`
	OccrAdres       string     `json:"occrAdres"`
	AlldressingDscd string     `json:"alldressingDscd"`
	Age             FlexString `json:"age"`
	AgeNow          FlexString `json:"ageNow"`
	SexdstnDscd     string     `json:"sexdstnDscd"`
	Height          FlexString `json:"height"`
	Bdwgh           FlexString `json:"bdwgh"`
	FrmDscd         string     `json:"frmDscd"`
	FaceshpeDscd    string     `json:"faceshpeDscd"`
	HairshpeDscd    string     `json:"hairshpeDscd"`
	HaircolrDscd    string     `json:"haircolrDscd"`
	DressngDscd     string     `json:"dressngDscd"`
	EtcSpfeatr      string     `json:"etcSpfeatr"`
}

// PageResult is one page of the upstream listing.
type PageResult struct {
	TotalCount int
	Records    []RawPerson
}

// Person is the canonical normalized record. Optional fields are pointers so
// that null and zero stay distinguishable all the way to the store.
type Person struct {
	ExternalId          string
	Name                string
	MissingDate         *time.Time
	Age                 *int
	AgeNow              *int
	Gender              *string // "M" or "F"
	LocationAddress     string
	LocationDetail      string
	Height              *int
	Weight              *int
	BodyType            string
	FaceShape           string
	HairStyle           string
	HairColor           string
	ClothingDescription string
	SpecialFeatures     string
}
