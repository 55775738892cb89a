package models

import "slices"

// Attribute names a personal data field an organization can be granted.
type Attribute struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	// Sensitivity runs from 1 (directory data) to 5 (special category data).
	Sensitivity int `json:"sensitivity"`
}

var vocabulary = []Attribute{
	{Name: "full_name", Description: "Legal full name", Sensitivity: 1},
	{Name: "date_of_birth", Description: "Date of birth", Sensitivity: 2},
	{Name: "gender", Description: "Registered gender", Sensitivity: 2},
	{Name: "nationality", Description: "Nationality", Sensitivity: 2},
	{Name: "email", Description: "Contact email address", Sensitivity: 2},
	{Name: "phone_number", Description: "Contact phone number", Sensitivity: 2},
	{Name: "address", Description: "Residential address", Sensitivity: 3},
	{Name: "photo", Description: "Identity photograph", Sensitivity: 3},
	{Name: "national_id_number", Description: "National identity number", Sensitivity: 4},
	{Name: "tax_records", Description: "Tax filing summary", Sensitivity: 4},
	{Name: "income", Description: "Declared annual income", Sensitivity: 4},
	{Name: "blood_group", Description: "Blood group", Sensitivity: 4},
	{Name: "allergies", Description: "Known allergies", Sensitivity: 4},
	{Name: "medical_history", Description: "Medical history summary", Sensitivity: 5},
	{Name: "criminal_record", Description: "Criminal record extract", Sensitivity: 5},
}

var byName = func() map[string]Attribute {
	m := make(map[string]Attribute, len(vocabulary))
	for _, a := range vocabulary {
		m[a.Name] = a
	}
	return m
}()

// Vocabulary returns the known attributes in a stable order.
func Vocabulary() []Attribute {
	return slices.Clone(vocabulary)
}

func IsKnownAttribute(name string) bool {
	_, ok := byName[name]
	return ok
}

// Sensitivity returns the weight of name, or 0 for unknown names.
func Sensitivity(name string) int {
	return byName[name].Sensitivity
}

// UnknownAttributes returns the names not in the vocabulary, in input order.
func UnknownAttributes(names []string) []string {
	var unknown []string
	for _, n := range names {
		if !IsKnownAttribute(n) {
			unknown = append(unknown, n)
		}
	}
	return unknown
}
