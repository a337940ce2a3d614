package importer

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/lukeboustridge-prog/Worldskills-sub002/internal/descriptor"
)

// Record is one descriptor in an import file. Older exports name the level
// descriptions score3 (excellent) down to score0 (below pass) and carry a
// single skillName; both forms are accepted and the named fields win.
type Record struct {
	ID               string   `json:"id"`
	Code             string   `json:"code"`
	CriterionName    string   `json:"criterionName"`
	Excellent        string   `json:"excellent"`
	Good             string   `json:"good"`
	Pass             string   `json:"pass"`
	BelowPass        string   `json:"belowPass"`
	Score3           string   `json:"score3"`
	Score2           string   `json:"score2"`
	Score1           string   `json:"score1"`
	Score0           string   `json:"score0"`
	SkillNames       []string `json:"skillNames"`
	SkillName        string   `json:"skillName"`
	Sector           *string  `json:"sector"`
	Category         *string  `json:"category"`
	QualityIndicator string   `json:"qualityIndicator"`
	Tags             []string `json:"tags"`
	AuthorID         *string  `json:"authorId"`
}

// Descriptor converts the record, resolving legacy keys.
func (r Record) Descriptor() *descriptor.Descriptor {
	skills := r.SkillNames
	if len(skills) == 0 && strings.TrimSpace(r.SkillName) != "" {
		skills = []string{r.SkillName}
	}
	return &descriptor.Descriptor{
		ID:               r.ID,
		Code:             r.Code,
		CriterionName:    r.CriterionName,
		Excellent:        firstNonBlank(r.Excellent, r.Score3),
		Good:             firstNonBlank(r.Good, r.Score2),
		Pass:             firstNonBlank(r.Pass, r.Score1),
		BelowPass:        firstNonBlank(r.BelowPass, r.Score0),
		SkillNames:       skills,
		Sector:           r.Sector,
		Category:         r.Category,
		QualityIndicator: descriptor.QualityIndicator(strings.ToUpper(strings.TrimSpace(r.QualityIndicator))),
		Tags:             r.Tags,
		AuthorID:         r.AuthorID,
	}
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// Decode reads a JSON array of records.
func Decode(r io.Reader) ([]Record, error) {
	var records []Record
	dec := json.NewDecoder(r)
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("decode import file: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("decode import file: unexpected data after the record array")
	}
	return records, nil
}
