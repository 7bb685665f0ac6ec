package core

// DocumentPatch is a module-scoped partial update to a UserDataDocument.
// Nil fields are left untouched when the patch is applied; slice fields use
// pointers so an explicit empty list can be told apart from "not included".
type DocumentPatch struct {
	HeroProfile   *HeroProfile   `json:"heroProfile,omitempty"`
	StatusModule  *StatusModule  `json:"statusModule,omitempty"`
	LookModule    *LookModule    `json:"lookModule,omitempty"`
	FinanceModule *FinanceModule `json:"financeModule,omitempty"`
	StatusItems   *[]StatusItem  `json:"statusItems,omitempty"`
	Skills        *[]Skill       `json:"skills,omitempty"`
}

func (p DocumentPatch) IsZero() bool {
	return p.HeroProfile == nil && p.StatusModule == nil && p.LookModule == nil &&
		p.FinanceModule == nil && p.StatusItems == nil && p.Skills == nil
}

// Apply copies the populated fields of the patch onto doc.
func (p DocumentPatch) Apply(doc *UserDataDocument) {
	if p.HeroProfile != nil {
		doc.HeroProfile = *p.HeroProfile
	}
	if p.StatusModule != nil {
		doc.StatusModule = *p.StatusModule
	}
	if p.LookModule != nil {
		doc.LookModule = *p.LookModule
	}
	if p.FinanceModule != nil {
		doc.FinanceModule = *p.FinanceModule
	}
	if p.StatusItems != nil {
		doc.StatusItems = append([]StatusItem(nil), (*p.StatusItems)...)
	}
	if p.Skills != nil {
		doc.Skills = append([]Skill(nil), (*p.Skills)...)
	}
}
