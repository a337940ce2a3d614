// Package descriptor provides the descriptor (assessment criterion) model and
// its repositories. Both repositories keep a weighted text index and a trigram
// index current on every write, so search and similarity queries never see a
// stale corpus.
package descriptor

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lukeboustridge-prog/Worldskills-sub002/internal/textindex"
)

// QualityIndicator is the editorial quality label of a descriptor.
type QualityIndicator string

const (
	QualityNeedsReview QualityIndicator = "NEEDS_REVIEW"
	QualityReference   QualityIndicator = "REFERENCE"
	QualityGood        QualityIndicator = "GOOD"
	QualityExcellent   QualityIndicator = "EXCELLENT"
)

// QualityIndicators returns every known quality indicator.
func QualityIndicators() []QualityIndicator {
	return []QualityIndicator{QualityNeedsReview, QualityReference, QualityGood, QualityExcellent}
}

// Valid reports whether q is a known quality indicator.
func (q QualityIndicator) Valid() bool {
	switch q {
	case QualityNeedsReview, QualityReference, QualityGood, QualityExcellent:
		return true
	}
	return false
}

// Descriptor is a reusable assessment criterion with four performance level descriptions.
type Descriptor struct {
	ID               string           `json:"id"`
	Code             string           `json:"code"`
	CriterionName    string           `json:"criterionName"`
	Excellent        string           `json:"excellent"`
	Good             string           `json:"good"`
	Pass             string           `json:"pass"`
	BelowPass        string           `json:"belowPass"`
	SkillNames       []string         `json:"skillNames"`
	Sector           *string          `json:"sector,omitempty"`
	Category         *string          `json:"category,omitempty"`
	QualityIndicator QualityIndicator `json:"qualityIndicator"`
	Tags             []string         `json:"tags"`
	Version          int              `json:"version"`
	AuthorID         *string          `json:"authorId,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
	DeletedAt        *time.Time       `json:"deletedAt,omitempty"`
}

// IsDeleted reports whether the descriptor carries the soft delete marker.
func (d *Descriptor) IsDeleted() bool {
	return d.DeletedAt != nil
}

// GroupingLabel is the human-readable skill grouping shown next to duplicate warnings.
func (d *Descriptor) GroupingLabel() string {
	return strings.Join(d.SkillNames, ", ")
}

// LevelText joins the four performance level descriptions in display order.
func (d *Descriptor) LevelText() string {
	return strings.Join([]string{d.Excellent, d.Good, d.Pass, d.BelowPass}, " ")
}

// Document returns the weighted search document: the criterion name at weight A
// and the level descriptions at weight B.
func (d *Descriptor) Document() textindex.Document {
	return textindex.NewDocument(
		textindex.Field{Text: d.CriterionName, Weight: textindex.WeightA},
		textindex.Field{Text: d.LevelText(), Weight: textindex.WeightB},
	)
}

// HasSkill reports whether the descriptor is listed under skill.
func (d *Descriptor) HasSkill(skill string) bool {
	for _, s := range d.SkillNames {
		if s == skill {
			return true
		}
	}
	return false
}

// SharesSkill reports whether two descriptors are listed under a common skill.
func (d *Descriptor) SharesSkill(other *Descriptor) bool {
	for _, s := range other.SkillNames {
		if d.HasSkill(s) {
			return true
		}
	}
	return false
}

// Normalize trims text fields, drops blank and repeated skills and tags, turns
// blank optional fields into nil and defaults the quality indicator.
func (d *Descriptor) Normalize() {
	d.Code = strings.TrimSpace(d.Code)
	d.CriterionName = strings.TrimSpace(d.CriterionName)
	d.Excellent = strings.TrimSpace(d.Excellent)
	d.Good = strings.TrimSpace(d.Good)
	d.Pass = strings.TrimSpace(d.Pass)
	d.BelowPass = strings.TrimSpace(d.BelowPass)
	d.SkillNames = compact(d.SkillNames)
	d.Tags = compact(d.Tags)
	d.Sector = trimOptional(d.Sector)
	d.Category = trimOptional(d.Category)
	d.AuthorID = trimOptional(d.AuthorID)
	if d.QualityIndicator == "" {
		d.QualityIndicator = QualityNeedsReview
	}
}

// Validate checks the fields every stored descriptor must have. An empty id
// is allowed and assigned on create.
func (d *Descriptor) Validate() error {
	if d.ID != "" {
		if _, err := uuid.Parse(d.ID); err != nil {
			return ErrInvalidID
		}
	}
	if d.CriterionName == "" {
		return ErrInvalidName
	}
	if d.Code == "" {
		return ErrInvalidCode
	}
	if len(d.SkillNames) == 0 {
		return ErrInvalidSkills
	}
	if !d.QualityIndicator.Valid() {
		return ErrInvalidQuality
	}
	return nil
}

// Clone returns a deep copy.
func (d *Descriptor) Clone() *Descriptor {
	c := *d
	c.SkillNames = append([]string(nil), d.SkillNames...)
	c.Tags = append([]string(nil), d.Tags...)
	c.Sector = copyString(d.Sector)
	c.Category = copyString(d.Category)
	c.AuthorID = copyString(d.AuthorID)
	if d.DeletedAt != nil {
		t := *d.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func trimOptional(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
