package safedream

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNormalizeFullRecord(t *testing.T) {
	raw := RawPerson{
		MsspsnIdntfccd: "20240001",
		Nm:             " 홍길동 ",
		Occrde:         "20240115",
		OccrAdres:      "서울특별시 강남구",
		Age:            "12",
		AgeNow:         "13",
		SexdstnDscd:    "남자",
		Height:         "150",
		Bdwgh:          "45",
		FrmDscd:        "보통",
		EtcSpfeatr:     "안경 착용",
	}

	person := Normalize(raw)
	if person == nil {
		t.Fatal("expected a person, got nil")
	}
	if person.ExternalId != "20240001" {
		t.Errorf("ExternalId = %q, want %q", person.ExternalId, "20240001")
	}
	if person.Name != "홍길동" {
		t.Errorf("Name = %q, want trimmed %q", person.Name, "홍길동")
	}
	if person.MissingDate == nil {
		t.Fatal("MissingDate is nil")
	}
	want := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	if !person.MissingDate.Equal(want) {
		t.Errorf("MissingDate = %v, want %v", person.MissingDate, want)
	}
	if person.Age == nil || *person.Age != 12 {
		t.Errorf("Age = %v, want 12", person.Age)
	}
	if person.AgeNow == nil || *person.AgeNow != 13 {
		t.Errorf("AgeNow = %v, want 13", person.AgeNow)
	}
	if person.Gender == nil || *person.Gender != "M" {
		t.Errorf("Gender = %v, want M", person.Gender)
	}
	if person.Height == nil || *person.Height != 150 {
		t.Errorf("Height = %v, want 150", person.Height)
	}
	if person.Weight == nil || *person.Weight != 45 {
		t.Errorf("Weight = %v, want 45", person.Weight)
	}
}

func TestNormalizeWithoutIdentifier(t *testing.T) {
	if got := Normalize(RawPerson{Nm: "이름만"}); got != nil {
		t.Errorf("expected nil for record without identifier, got %+v", got)
	}
	if got := Normalize(RawPerson{MsspsnIdntfccd: "   "}); got != nil {
		t.Errorf("expected nil for blank identifier, got %+v", got)
	}
}

func TestNormalizeNullSafety(t *testing.T) {
	person := Normalize(RawPerson{MsspsnIdntfccd: "1"})
	if person == nil {
		t.Fatal("expected a person, got nil")
	}
	if person.MissingDate != nil {
		t.Errorf("MissingDate = %v, want nil", person.MissingDate)
	}
	if person.Age != nil || person.AgeNow != nil || person.Height != nil || person.Weight != nil {
		t.Error("numeric fields should be nil when the source fields are empty")
	}
	if person.Gender != nil {
		t.Errorf("Gender = %v, want nil", person.Gender)
	}
}

func TestNormalizeBadValuesDegradeToNil(t *testing.T) {
	person := Normalize(RawPerson{
		MsspsnIdntfccd: "2",
		Occrde:         "not-a-date",
		Age:            "twelve",
		Height:         "tall",
		SexdstnDscd:    "unknown",
	})
	if person == nil {
		t.Fatal("expected a person, got nil")
	}
	if person.MissingDate != nil {
		t.Errorf("MissingDate = %v, want nil for unparseable date", person.MissingDate)
	}
	if person.Age != nil {
		t.Errorf("Age = %v, want nil for unparseable age", person.Age)
	}
	if person.Height != nil {
		t.Errorf("Height = %v, want nil", person.Height)
	}
	if person.Gender != nil {
		t.Errorf("Gender = %v, want nil for unknown code", person.Gender)
	}
}

func TestParseDateFormats(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"20231231", "2023-12-31"},
		{"2023-12-31", "2023-12-31"},
		{"2023-12-31T10:20:30", "2023-12-31"},
		{"2023-12-31T10:20:30Z", "2023-12-31"},
	}
	for _, tc := range cases {
		got := parseDate(tc.in)
		if got == nil {
			t.Errorf("parseDate(%q) = nil", tc.in)
			continue
		}
		if got.Format("2006-01-02") != tc.want {
			t.Errorf("parseDate(%q) = %v, want %s", tc.in, got, tc.want)
		}
	}

	for _, bad := range []string{"", "  ", "99999999", "yesterday"} {
		if got := parseDate(bad); got != nil {
			t.Errorf("parseDate(%q) = %v, want nil", bad, got)
		}
	}
}

func TestParseGender(t *testing.T) {
	if g := parseGender("남자어린이"); g == nil || *g != "M" {
		t.Errorf("parseGender male = %v, want M", g)
	}
	if g := parseGender("여자"); g == nil || *g != "F" {
		t.Errorf("parseGender female = %v, want F", g)
	}
	if g := parseGender(""); g != nil {
		t.Errorf("parseGender empty = %v, want nil", g)
	}
}

func TestFlexStringToleratesNumbers(t *testing.T) {
	var raw RawPerson
	payload := `{"msspsnIdntfccd": 12345, "age": "7", "height": null, "nm": "테스트"}`
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if raw.MsspsnIdntfccd.String() != "12345" {
		t.Errorf("numeric id = %q, want %q", raw.MsspsnIdntfccd.String(), "12345")
	}
	if raw.Age.String() != "7" {
		t.Errorf("string age = %q, want %q", raw.Age.String(), "7")
	}
	if raw.Height.String() != "" {
		t.Errorf("null height = %q, want empty", raw.Height.String())
	}
}
