package model

import (
	"fmt"
	"sort"
	"strings"
)

// Dimension is one of the fixed classification categories. The value is the
// exact key the model is asked to emit.
type Dimension string

const (
	DimNegativity     Dimension = "消极程度"
	DimOrganic        Dimension = "器质性（包括症状性）精神障碍"
	DimSubstanceUse   Dimension = "因使用精神活性物质导致的精神和行为障碍"
	DimSchizophrenia  Dimension = "精神分裂症、分裂型和妄想症"
	DimMood           Dimension = "心境[情感]障碍"
	DimNeurotic       Dimension = "神经性、应激性及躯体形式障碍"
	DimPhysiological  Dimension = "与生理紊乱和身体因素相关的行为综合征"
	DimPersonality    Dimension = "成年人的人格和行为障碍"
	DimIntellectual   Dimension = "智力迟钝"
	DimDevelopmental  Dimension = "心理发育障碍"
	DimChildhoodOnset Dimension = "通常在儿童和青少年时期发病的行为和情绪障碍"
)

// Score bounds. 0 means "no signal", 1..5 increasing likelihood.
const (
	MinScore = 0
	MaxScore = 5
)

var clinical = []Dimension{
	DimOrganic,
	DimSubstanceUse,
	DimSchizophrenia,
	DimMood,
	DimNeurotic,
	DimPhysiological,
	DimPersonality,
	DimIntellectual,
	DimDevelopmental,
	DimChildhoodOnset,
}

// Dimensions returns all eleven dimensions, negativity first.
func Dimensions() []Dimension {
	return append([]Dimension{DimNegativity}, clinical...)
}

// ClinicalDimensions returns the ten dimensions persisted as their own rows.
func ClinicalDimensions() []Dimension {
	return append([]Dimension(nil), clinical...)
}

// IsKnown reports whether d is part of the fixed schema.
func (d Dimension) IsKnown() bool {
	if d == DimNegativity {
		return true
	}
	for _, c := range clinical {
		if c == d {
			return true
		}
	}
	return false
}

// Scores maps every dimension to its integer score.
type Scores map[Dimension]int

// Negativity returns the negativity score, or 0 when absent.
func (s Scores) Negativity() int {
	return s[DimNegativity]
}

// Validate checks that s carries exactly the fixed keyset with every value
// inside [MinScore, MaxScore].
func (s Scores) Validate() error {
	var missing []string
	for _, d := range Dimensions() {
		if _, ok := s[d]; !ok {
			missing = append(missing, string(d))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing dimensions: %s", strings.Join(missing, ", "))
	}

	var unknown []string
	for d := range s {
		if !d.IsKnown() {
			unknown = append(unknown, string(d))
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("unknown dimensions: %s", strings.Join(unknown, ", "))
	}

	for _, d := range Dimensions() {
		if v := s[d]; v < MinScore || v > MaxScore {
			return fmt.Errorf("dimension %s: score %d outside [%d,%d]", d, v, MinScore, MaxScore)
		}
	}
	return nil
}
